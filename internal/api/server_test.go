package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/farrosalferro/fashion-recommender/internal/agent"
	"github.com/farrosalferro/fashion-recommender/internal/connwatch"
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/metrics"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
	"github.com/farrosalferro/fashion-recommender/internal/session"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
	"github.com/farrosalferro/fashion-recommender/internal/usage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedReasoner calls retrieve once, then answers.
type scriptedReasoner struct {
	mu         sync.Mutex
	requestIDs []string
}

func (r *scriptedReasoner) Step(ctx context.Context, _ string, messages []agent.Message) (*agent.Step, error) {
	r.mu.Lock()
	r.requestIDs = append(r.requestIDs, tools.RequestIDFromContext(ctx))
	r.mu.Unlock()

	if last := messages[len(messages)-1]; last.Kind == agent.KindToolResult {
		return &agent.Step{Answer: "Here is a black jacket.", FinalAnswer: true, Images: last.Images}, nil
	}
	return &agent.Step{ToolCalls: []llm.ToolCall{{Name: tools.NameRetrieve, Arguments: map[string]any{"item_list": []any{"black jacket"}}}}}, nil
}

// wardrobeDispatcher answers every call with one stored jacket.
type wardrobeDispatcher struct {
	store *session.Store
}

func (d *wardrobeDispatcher) Dispatch(_ context.Context, sessionID string, calls []llm.ToolCall) []tools.Result {
	out := make([]tools.Result, len(calls))
	for i, c := range calls {
		id, _ := d.store.StoreImage(sessionID, imageref.Source{Path: "https://cdn.test/jacket.jpg"}, false)
		out[i] = tools.Result{
			Call:    c,
			Text:    id + ": black jacket",
			Group:   &imageref.Group{Kind: imageref.KindRetrieved, ImageIDs: []string{id}},
			Outcome: tools.OutcomeOK,
		}
	}
	return out
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	store    *session.Store
	reasoner *scriptedReasoner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := session.NewStore(nil, quietLogger())
	asm, err := agent.NewAssembler(prompts.Defaults(), tools.Catalog())
	if err != nil {
		t.Fatal(err)
	}
	r := &scriptedReasoner{}
	orch := agent.NewOrchestrator(r, &wardrobeDispatcher{store: store}, asm, agent.OrchestratorConfig{}, quietLogger())
	srv := NewServer("", 0, agent.NewService(store, orch, quietLogger()), quietLogger())
	return &testEnv{server: srv, handler: srv.Handler(), store: store, reasoner: r}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestChat(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/chat", `{"query": "find me a black jacket"}`, RequestIDHeader, "r_client01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "r_client01" {
		t.Errorf("X-Request-Id = %q, want echo of client id", got)
	}

	resp := decode[agent.ChatResponse](t, rec)
	if resp.Answer != "Here is a black jacket." || resp.SessionID == "" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Images) != 1 || resp.Images[0].Kind != imageref.KindRetrieved || resp.Images[0].URL != "https://cdn.test/jacket.jpg" {
		t.Errorf("images = %+v", resp.Images)
	}
	for _, id := range e.reasoner.requestIDs {
		if id != "r_client01" {
			t.Errorf("reasoner saw request id %q", id)
		}
	}
}

func TestChat_GeneratesRequestID(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "POST", "/chat", `{"query": "hi"}`)
	if got := rec.Header().Get(RequestIDHeader); !strings.HasPrefix(got, "r_") {
		t.Errorf("X-Request-Id = %q, want generated r_ id", got)
	}
}

func TestChat_Errors(t *testing.T) {
	e := newTestEnv(t)
	gone, _ := e.store.GetOrCreate("")
	e.store.Cleanup(gone)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"query":`, http.StatusBadRequest},
		{"empty query", `{"query": ""}`, http.StatusBadRequest},
		{"bad image", `{"query": "hi", "images": ["ftp://x/y.jpg"]}`, http.StatusBadRequest},
		{"missing local file", `{"query": "hi", "model_image": "/no/such/me.jpg"}`, http.StatusBadRequest},
		{"cleaned up session", `{"query": "hi", "session_id": "` + gone + `"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, "POST", "/chat", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
	if e.store.Len() != 0 {
		t.Errorf("rejected requests created %d sessions", e.store.Len())
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	resp := decode[agent.ChatResponse](t, e.do(t, "POST", "/chat", `{"query": "find me a black jacket"}`))

	rec := e.do(t, "GET", "/session/"+resp.SessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET session status = %d", rec.Code)
	}
	snap := decode[session.Snapshot](t, rec)
	if snap.SessionID != resp.SessionID || len(snap.Messages) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Messages[0].Role != session.RoleUser || snap.Messages[1].Role != session.RoleAssistant {
		t.Errorf("roles = %s, %s", snap.Messages[0].Role, snap.Messages[1].Role)
	}

	if rec := e.do(t, "DELETE", "/session/"+resp.SessionID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if rec := e.do(t, "GET", "/session/"+resp.SessionID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
	if rec := e.do(t, "DELETE", "/session/"+resp.SessionID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", rec.Code)
	}
}

func TestTranscript(t *testing.T) {
	e := newTestEnv(t)
	resp := decode[agent.ChatResponse](t, e.do(t, "POST", "/chat", `{"query": "find me a **black** jacket"}`))

	rec := e.do(t, "GET", "/session/"+resp.SessionID+"/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<h2>User</h2>",
		"<h2>Assistant</h2>",
		"<strong>black</strong>",
		`<img src="https://cdn.test/jacket.jpg"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("transcript missing %q", want)
		}
	}

	if rec := e.do(t, "GET", "/session/nope/transcript", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session transcript status = %d", rec.Code)
	}
}

func TestTranscriptMarkdown_LocalImage(t *testing.T) {
	md := transcriptMarkdown(session.Snapshot{
		SessionID: "s1",
		Messages: []session.Message{{
			Role:    session.RoleUser,
			Content: "what goes with this?",
			Images:  []imageref.Reference{{ImageID: "abc123", URL: "/home/me/shirt.jpg", Kind: imageref.KindUserProvided}},
		}},
	})
	if strings.Contains(md, "/home/me/shirt.jpg") {
		t.Error("local paths should not be linked")
	}
	if !strings.Contains(md, "`abc123`") {
		t.Errorf("image id missing from markdown:\n%s", md)
	}
}

func TestHealthAndVersion(t *testing.T) {
	e := newTestEnv(t)

	if rec := e.do(t, "GET", "/health", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
	info := decode[map[string]string](t, e.do(t, "GET", "/v1/version", ""))
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("version info = %v", info)
	}
}

type fakeHealth struct{ status []connwatch.Status }

func (f fakeHealth) Status() []connwatch.Status { return f.status }

func (f fakeHealth) Ready() bool {
	for _, s := range f.status {
		if !s.Ready {
			return false
		}
	}
	return true
}

func TestHealth_Backends(t *testing.T) {
	e := newTestEnv(t)
	e.server.SetHealthReporter(fakeHealth{status: []connwatch.Status{
		{Name: "llm", Ready: false, Checked: true, LastError: "connection refused", Failures: 3},
		{Name: "wardrobe", Ready: true, Checked: true},
	}})

	rec := e.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[HealthResponse](t, rec)
	if got.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", got.Status)
	}
	if len(got.Backends) != 2 || got.Backends[0].LastError != "connection refused" {
		t.Errorf("Backends = %+v", got.Backends)
	}

	e.server.SetHealthReporter(fakeHealth{status: []connwatch.Status{{Name: "llm", Ready: true, Checked: true}}})
	if got := decode[HealthResponse](t, e.do(t, "GET", "/health", "")); got.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", got.Status)
	}
}

func TestUsage(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(t, "GET", "/v1/usage", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("usage without store status = %d, want 503", rec.Code)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	u, err := usage.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	u.Record(context.Background(), usage.Record{RequestID: "r1", SessionID: "sess-a", Model: "gpt-4o", Provider: "openai", InputTokens: 10, OutputTokens: 5, Purpose: "reasoning", Timestamp: time.Now().Add(-time.Hour)})
	u.Record(context.Background(), usage.Record{RequestID: "r2", SessionID: "sess-a", Model: "gpt-4o", Provider: "openai", InputTokens: 20, OutputTokens: 5, Purpose: "describe", Timestamp: time.Now().Add(-time.Hour)})
	e.server.SetUsageStore(u)
	e.handler = e.server.Handler()

	rec := e.do(t, "GET", "/v1/usage?hours=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decode[UsageResponse](t, rec)
	if got.Total.TotalRecords != 2 || got.ByPurpose["reasoning"] == nil || got.ByModel["gpt-4o"] == nil {
		t.Errorf("usage = %+v", got)
	}
	if got.BySession != nil {
		t.Errorf("by_session present without ?by=session: %+v", got.BySession)
	}

	rec = e.do(t, "GET", "/v1/usage?hours=2&by=session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("by=session status = %d, body = %s", rec.Code, rec.Body)
	}
	got = decode[UsageResponse](t, rec)
	if s := got.BySession["sess-a"]; s == nil || s.TotalRecords != 2 || s.TotalInputTokens != 30 {
		t.Errorf("by_session = %+v, want sess-a with 2 records", got.BySession)
	}

	if rec := e.do(t, "GET", "/v1/usage?by=planet", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad grouping status = %d, want 400", rec.Code)
	}

	if rec := e.do(t, "GET", "/v1/usage?hours=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad hours status = %d, want 400", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(t, "GET", "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler status = %d, want 404", rec.Code)
	}

	e.server.SetMetricsHandler(metrics.New().Handler())
	e.handler = e.server.Handler()
	rec := e.do(t, "GET", "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestChatWebSocket(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/chat/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(agent.ChatRequest{Query: "find me a black jacket"}); err != nil {
		t.Fatal(err)
	}

	var types []agent.EventType
	var final Frame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type == FrameEvent {
			types = append(types, f.Event.Type)
			continue
		}
		final = f
		break
	}

	if final.Type != FrameResponse || final.Response.Answer != "Here is a black jacket." {
		t.Fatalf("final frame = %+v", final)
	}
	want := []agent.EventType{agent.EventReasoning, agent.EventToolStart, agent.EventToolDone, agent.EventReasoning, agent.EventDone}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	// A second turn on the same connection reports errors in-band.
	if err := conn.WriteJSON(agent.ChatRequest{Query: ""}); err != nil {
		t.Fatal(err)
	}
	var errFrame Frame
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatal(err)
	}
	if errFrame.Type != FrameError || errFrame.Code != http.StatusBadRequest {
		t.Errorf("error frame = %+v", errFrame)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&imageref.ValidationError{Path: "x", Reason: "bad"}, http.StatusBadRequest},
		{agent.ErrEmptyQuery, http.StatusBadRequest},
		{session.ErrNotFound, http.StatusNotFound},
		{context.Canceled, http.StatusServiceUnavailable},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
