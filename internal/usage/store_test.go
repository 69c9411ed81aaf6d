package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/farrosalferro/fashion-recommender/internal/config"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// testPricing returns a pricing table for tests.
func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"gpt-4o":      {InputPerMillion: 2.5, OutputPerMillion: 10.0},
		"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	}
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{
			Timestamp:    now,
			RequestID:    "r_001",
			SessionID:    "sess-1",
			Model:        "gpt-4o",
			Provider:     "openai",
			InputTokens:  1000,
			OutputTokens: 500,
			CostUSD:      0.0075, // 1000/1M*2.5 + 500/1M*10
			Purpose:      "reasoning",
		},
		{
			Timestamp:    now,
			RequestID:    "r_001",
			SessionID:    "sess-1",
			Model:        "gpt-4o-mini",
			Provider:     "openai",
			InputTokens:  2000,
			OutputTokens: 1000,
			CostUSD:      0.0009, // 2000/1M*0.15 + 1000/1M*0.6
			Purpose:      "recommend",
		},
	}

	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3000 {
		t.Errorf("TotalInputTokens = %d, want 3000", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 1500 {
		t.Errorf("TotalOutputTokens = %d, want 1500", sum.TotalOutputTokens)
	}
	if diff := sum.TotalCostUSD - 0.0084; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("TotalCostUSD = %f, want ~0.0084", sum.TotalCostUSD)
	}
}

func TestSummaryByModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", Model: "gpt-4o", Provider: "openai", InputTokens: 100, OutputTokens: 50, CostUSD: 1.0, Purpose: "reasoning"},
		{Timestamp: now, RequestID: "r2", Model: "gpt-4o", Provider: "openai", InputTokens: 200, OutputTokens: 100, CostUSD: 2.0, Purpose: "describe"},
		{Timestamp: now, RequestID: "r3", Model: "llava", Provider: "ollama", InputTokens: 50, OutputTokens: 25, CostUSD: 0, Purpose: "describe"},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := s.SummaryByModel(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d groups, want 2", len(result))
	}
	gpt := result["gpt-4o"]
	if gpt == nil {
		t.Fatal("missing 'gpt-4o' group")
	}
	if gpt.TotalRecords != 2 {
		t.Errorf("gpt-4o.TotalRecords = %d, want 2", gpt.TotalRecords)
	}
	if gpt.TotalInputTokens != 300 {
		t.Errorf("gpt-4o.TotalInputTokens = %d, want 300", gpt.TotalInputTokens)
	}
	if gpt.TotalCostUSD != 3.0 {
		t.Errorf("gpt-4o.TotalCostUSD = %f, want 3.0", gpt.TotalCostUSD)
	}
	if result["llava"] == nil || result["llava"].TotalRecords != 1 {
		t.Errorf("llava group = %+v, want 1 record", result["llava"])
	}
}

func TestSummaryByPurpose(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", Model: "m", Provider: "p", CostUSD: 1.0, Purpose: "reasoning"},
		{Timestamp: now, RequestID: "r1", Model: "m", Provider: "p", CostUSD: 2.0, Purpose: "reasoning"},
		{Timestamp: now, RequestID: "r1", Model: "m", Provider: "p", CostUSD: 3.0, Purpose: "describe"},
		{Timestamp: now, RequestID: "r2", Model: "m", Provider: "p", CostUSD: 0.5, Purpose: "recommend"},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := s.SummaryByPurpose(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByPurpose: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("got %d groups, want 3", len(result))
	}
	if r := result["reasoning"]; r == nil || r.TotalRecords != 2 || r.TotalCostUSD != 3.0 {
		t.Errorf("reasoning group = %+v", r)
	}
}

func TestSummaryBySession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", SessionID: "a", Model: "m", Provider: "p", CostUSD: 1.0, Purpose: "reasoning"},
		{Timestamp: now, RequestID: "r2", SessionID: "a", Model: "m", Provider: "p", CostUSD: 1.0, Purpose: "reasoning"},
		{Timestamp: now, RequestID: "r3", Model: "m", Provider: "p", CostUSD: 1.0, Purpose: "describe"},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := s.SummaryBySession(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryBySession: %v", err)
	}
	if result["a"] == nil || result["a"].TotalRecords != 2 {
		t.Errorf("session a = %+v, want 2 records", result["a"])
	}
	// Records with no session are grouped under "".
	if result[""] == nil || result[""].TotalRecords != 1 {
		t.Errorf("empty session group = %+v, want 1 record", result[""])
	}
}

func TestQueryByPeriod_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Timestamp: base.Add(-2 * time.Hour), RequestID: "old", Model: "m", Provider: "p", Purpose: "reasoning", CostUSD: 1.0},
		{Timestamp: base, RequestID: "in-range", Model: "m", Provider: "p", Purpose: "reasoning", CostUSD: 2.0},
		{Timestamp: base.Add(2 * time.Hour), RequestID: "future", Model: "m", Provider: "p", Purpose: "reasoning", CostUSD: 3.0},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1 (only in-range)", sum.TotalRecords)
	}
	if sum.TotalCostUSD != 2.0 {
		t.Errorf("TotalCostUSD = %f, want 2.0", sum.TotalCostUSD)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)

	sum, err := s.Summary(time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum == nil {
		t.Fatal("Summary returned nil, want non-nil zero-value Summary")
	}
	if sum.TotalRecords != 0 || sum.TotalCostUSD != 0 {
		t.Errorf("Summary = %+v, want zero", sum)
	}

	byModel, err := s.SummaryByModel(time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if byModel == nil || len(byModel) != 0 {
		t.Errorf("SummaryByModel = %v, want empty map", byModel)
	}
}

func TestComputeCost(t *testing.T) {
	pricing := testPricing()

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{"gpt4o_normal", "gpt-4o", 1_000_000, 100_000, 3.5},     // 2.5 + 1.0
		{"mini_normal", "gpt-4o-mini", 1_000_000, 100_000, 0.21}, // 0.15 + 0.06
		{"unknown_model", "llava:13b", 1_000_000, 1_000_000, 0},  // not in pricing
		{"zero_tokens", "gpt-4o", 0, 0, 0},
		{"small_usage", "gpt-4o", 1000, 500, 0.0075},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCost(tt.model, tt.input, tt.output, pricing)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("ComputeCost(%q, %d, %d) = %f, want %f", tt.model, tt.input, tt.output, got, tt.want)
			}
		})
	}
}

func TestComputeCost_NilPricing(t *testing.T) {
	if got := ComputeCost("gpt-4o", 1000, 500, nil); got != 0 {
		t.Errorf("ComputeCost with nil pricing = %f, want 0", got)
	}
}

func TestRecord_AutoID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, Record{RequestID: "r_test", Model: "m", Provider: "p", Purpose: "reasoning"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
}

func TestHook_AttributesFromContext(t *testing.T) {
	s := testStore(t)
	hook := Hook(s, testPricing(), func(string) string { return "openai" }, nil)

	ctx := tools.WithSessionID(tools.WithRequestID(context.Background(), "r_abcd1234"), "sess-9")
	hook(ctx,
		llm.Request{Model: "gpt-4o", Purpose: "reasoning"},
		&llm.Response{Model: "gpt-4o-2024-08-06", InputTokens: 1000, OutputTokens: 500},
	)

	bySession, err := s.SummaryBySession(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	got := bySession["sess-9"]
	if got == nil || got.TotalRecords != 1 {
		t.Fatalf("session group = %+v, want 1 record", got)
	}
	if diff := got.TotalCostUSD - 0.0075; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("cost = %f, want priced by requested model", got.TotalCostUSD)
	}

	byModel, _ := s.SummaryByModel(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if byModel["gpt-4o-2024-08-06"] == nil {
		t.Errorf("record should carry the served model name, got %v", byModel)
	}
}
