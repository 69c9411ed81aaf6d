package tools

import (
	"context"
	"sort"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/llm"
)

// FashionSet is one recommended outfit.
type FashionSet struct {
	Items  []string `json:"items" jsonschema:"description=Fashion items in this set."`
	Reason string   `json:"reason" jsonschema:"description=Why the set works together."`
}

type recommendResult struct {
	Recommendations map[string]FashionSet `json:"recommendations" jsonschema:"description=Outfit name to its details."`
}

var recommendSchema = llm.GenerateSchema[recommendResult]("recommendations", "Recommended outfits.")

func runRecommend(ctx context.Context, env *Env, _ string, args map[string]any) (Output, error) {
	intention, err := stringArg(args, "user_intention")
	if err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(intention) == "" {
		return Output{}, invalidArgs("user_intention is empty")
	}
	items, err := itemMap(args, "item_list")
	if err != nil {
		return Output{}, err
	}
	if env.LLM == nil {
		return Output{}, precondition("no language model configured")
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.Name+": "+it.Description)
	}
	prompt, err := env.Prompts.RecommenderPrompt(intention, strings.Join(lines, "\n"))
	if err != nil {
		return Output{}, err
	}

	resp, err := env.LLM.Chat(ctx, llm.Request{
		Model:       env.TextModel,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Schema:      recommendSchema,
		Temperature: llm.Temperature(0.5),
		Purpose:     NameRecommend,
	})
	if err != nil {
		return Output{}, err
	}
	result, err := llm.Decode[recommendResult](resp.Content)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: formatRecommendations(result.Recommendations)}, nil
}

func formatRecommendations(recs map[string]FashionSet) string {
	if len(recs) == 0 {
		return "No recommendations."
	}
	names := make([]string, 0, len(recs))
	for name := range recs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		set := recs[name]
		parts = append(parts, name+":\n"+
			"\tItems: "+strings.Join(set.Items, ", ")+"\n"+
			"\tReason: "+set.Reason+"\n")
	}
	return strings.Join(parts, "\n")
}
