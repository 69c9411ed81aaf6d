package tools

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/farrosalferro/fashion-recommender/internal/search"
)

const maxSearchResults = 20

func runSearch(ctx context.Context, env *Env, _ string, args map[string]any) (Output, error) {
	items, err := stringList(args, "items")
	if err != nil {
		return Output{}, err
	}
	if len(items) == 0 {
		return Output{}, invalidArgs("items is empty")
	}
	limit, err := intArg(args, "max_results", search.DefaultCount)
	if err != nil {
		return Output{}, err
	}
	if limit <= 0 {
		limit = search.DefaultCount
	}
	limit = min(limit, maxSearchResults)
	if env.Search == nil || !env.Search.Configured() {
		return Output{}, precondition("web search is not configured")
	}

	results := make([]search.ItemResults, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, item := range items {
		g.Go(func() error {
			res, err := env.Search.Search(gctx, item, search.Options{Count: limit})
			results[i] = search.ItemResults{Item: item, Results: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	return Output{Text: search.FormatItems(results)}, nil
}
