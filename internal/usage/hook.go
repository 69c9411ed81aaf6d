package usage

import (
	"context"
	"log/slog"

	"github.com/farrosalferro/fashion-recommender/internal/config"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

// Hook returns an llm.UsageHook that records every completion,
// attributing it to the session and request carried by ctx. provider
// maps a model name to its backend. Write failures are logged and
// never fail the call.
func Hook(s *Store, pricing map[string]config.PricingEntry, provider func(model string) string, logger *slog.Logger) llm.UsageHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req llm.Request, resp *llm.Response) {
		model := resp.Model
		if model == "" {
			model = req.Model
		}
		rec := Record{
			RequestID:    tools.RequestIDFromContext(ctx),
			SessionID:    tools.SessionIDFromContext(ctx),
			Model:        model,
			Provider:     provider(req.Model),
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CostUSD:      ComputeCost(req.Model, resp.InputTokens, resp.OutputTokens, pricing),
			Purpose:      req.Purpose,
		}
		if err := s.Record(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("failed to record usage", "model", model, "purpose", req.Purpose, "error", err)
		}
	}
}
