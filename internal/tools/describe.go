package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/llm"
)

// ItemDescription is one item found in an image.
type ItemDescription struct {
	ItemName        string `json:"item_name" jsonschema:"description=Name of the item."`
	ItemDescription string `json:"item_description" jsonschema:"description=Description of the item."`
}

type describeResult struct {
	ItemDescriptions map[string][]ItemDescription `json:"item_descriptions" jsonschema:"description=Image id to the items found in that image."`
}

var describeSchema = llm.GenerateSchema[describeResult]("item_descriptions", "Items found in each image.")

func runDescribe(ctx context.Context, env *Env, sessionID string, args map[string]any) (Output, error) {
	ids, err := stringList(args, "image_id_list")
	if err != nil {
		return Output{}, err
	}
	if len(ids) == 0 {
		return Output{}, invalidArgs("image_id_list is empty")
	}
	if env.LLM == nil {
		return Output{}, precondition("no vision model configured")
	}

	prompt, err := env.Prompts.DescriptorPrompt()
	if err != nil {
		return Output{}, err
	}

	images := make([]string, 0, len(ids))
	var content strings.Builder
	content.WriteString(prompt)
	content.WriteString("\n\nImages, in the order attached:\n")
	for i, id := range ids {
		src, err := env.sessionImage(sessionID, id)
		if err != nil {
			return Output{}, err
		}
		url, err := env.Loader.DataURL(ctx, src)
		if err != nil {
			return Output{}, fmt.Errorf("load image %s: %w", id, err)
		}
		images = append(images, url)
		content.WriteString(strconv.Itoa(i + 1))
		content.WriteString(". ")
		content.WriteString(id)
		content.WriteString("\n")
	}

	resp, err := env.LLM.Chat(ctx, llm.Request{
		Model:       env.VisionModel,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: content.String(), Images: images}},
		Schema:      describeSchema,
		Temperature: llm.Temperature(0.5),
		Purpose:     NameDescribe,
	})
	if err != nil {
		return Output{}, err
	}
	result, err := llm.Decode[describeResult](resp.Content)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: formatDescriptions(ids, result.ItemDescriptions)}, nil
}

// formatDescriptions lists requested ids first, in request order, then
// any extra ids the model returned.
func formatDescriptions(order []string, desc map[string][]ItemDescription) string {
	seen := make(map[string]bool, len(order))
	keys := make([]string, 0, len(desc))
	for _, id := range order {
		if _, ok := desc[id]; ok && !seen[id] {
			keys = append(keys, id)
			seen[id] = true
		}
	}
	var extra []string
	for id := range desc {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	if len(keys) == 0 {
		return "No items found."
	}
	parts := make([]string, 0, len(keys))
	for _, id := range keys {
		var sb strings.Builder
		sb.WriteString(id + ":\n")
		for _, d := range desc[id] {
			sb.WriteString("\t" + d.ItemName + ": " + d.ItemDescription + "\n")
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n")
}
