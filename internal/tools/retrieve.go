package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

func runRetrieve(ctx context.Context, env *Env, sessionID string, args map[string]any) (Output, error) {
	items, err := stringList(args, "item_list")
	if err != nil {
		return Output{}, err
	}
	if len(items) == 0 {
		return Output{}, invalidArgs("item_list is empty")
	}
	if env.Embedder == nil || env.Index == nil {
		return Output{}, precondition("wardrobe retrieval is not configured")
	}

	vectors, err := env.Embedder.EmbedText(ctx, items)
	if err != nil {
		return Output{}, fmt.Errorf("embed items: %w", err)
	}
	if len(vectors) != len(items) {
		return Output{}, fmt.Errorf("embed items: got %d vectors for %d items", len(vectors), len(items))
	}

	group := &imageref.Group{Kind: imageref.KindRetrieved}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		matches, err := env.Index.Query(ctx, vectors[i], env.topK())
		if err != nil {
			return Output{}, fmt.Errorf("query wardrobe for %q: %w", item, err)
		}
		if len(matches) == 0 {
			lines = append(lines, item+": no match found")
			continue
		}
		for _, m := range matches {
			id, err := env.Images.StoreImage(sessionID, m.Item.Source(), false)
			if err != nil {
				return Output{}, fmt.Errorf("store retrieved image: %w", err)
			}
			group.ImageIDs = append(group.ImageIDs, id)
			lines = append(lines, id+": "+item)
		}
	}

	out := Output{Text: strings.Join(lines, "\n")}
	if !group.Empty() {
		out.Group = group
	}
	return out, nil
}
