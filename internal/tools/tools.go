// Package tools defines the fixed set of capabilities the agent can
// call during a turn and the dispatcher that runs them.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/embeddings"
	"github.com/farrosalferro/fashion-recommender/internal/imagegen"
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
	"github.com/farrosalferro/fashion-recommender/internal/search"
	"github.com/farrosalferro/fashion-recommender/internal/wardrobe"
)

// Tool names.
const (
	NameDescribe  = "describe"
	NameRecommend = "recommend"
	NameRetrieve  = "retrieve"
	NameSearch    = "search"
	NameTryOn     = "try_on"
)

// Param describes one tool argument.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Output is what a successful tool execution produces. Group is set
// by tools that store new images in the session.
type Output struct {
	Text  string
	Group *imageref.Group
}

type runFunc func(ctx context.Context, env *Env, sessionID string, args map[string]any) (Output, error)

// Tool is one entry of the catalog.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`

	run runFunc
}

// Schema returns the tool's arguments as a JSON schema object.
func (t *Tool) Schema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := []string{}
	for _, p := range t.Params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// catalog is the closed set of tools, in the order they are presented
// to the model.
var catalog = []*Tool{
	{
		Name:        NameDescribe,
		Description: "Describe the fashion items visible in one or more images. Returns, for each image id, the items found and a description of each.",
		Params: []Param{
			{Name: "image_id_list", Type: "array", Description: "Ids of the images to describe.", Required: true},
		},
		run: runDescribe,
	},
	{
		Name:        NameRecommend,
		Description: "Ask a stylist for outfit recommendations that match the user's intention, optionally built around items the user already has.",
		Params: []Param{
			{Name: "user_intention", Type: "string", Description: "What the user wants to achieve, e.g. the occasion, style or season.", Required: true},
			{Name: "item_list", Type: "object", Description: "Items to build around: item name as key, description as value."},
		},
		run: runRecommend,
	},
	{
		Name:        NameRetrieve,
		Description: "Find the closest matching item in the wardrobe catalog for each item name. Returns one image id per item.",
		Params: []Param{
			{Name: "item_list", Type: "array", Description: "Names of the items to look up, e.g. \"black leather jacket\".", Required: true},
		},
		run: runRetrieve,
	},
	{
		Name:        NameSearch,
		Description: "Search the web for fashion items. Returns titles, links and snippets for each item.",
		Params: []Param{
			{Name: "items", Type: "array", Description: "Items to search for.", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum results per item (default 5)."},
		},
		run: runSearch,
	},
	{
		Name:        NameTryOn,
		Description: "Generate an image of the user wearing the given items. Requires the user to have uploaded their photo. Returns the id of the generated image.",
		Params: []Param{
			{Name: "item_image_ids", Type: "array", Description: "Image ids of the items to try on.", Required: true},
		},
		run: runTryOn,
	},
}

// Catalog returns every tool in presentation order.
func Catalog() []*Tool {
	return append([]*Tool(nil), catalog...)
}

// Lookup returns the tool with the given name.
func Lookup(name string) (*Tool, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Describe renders tools as the plain-text list embedded in the agent
// prompt.
func Describe(tools []*Tool) string {
	var sb strings.Builder
	for _, t := range tools {
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		sb.WriteString(": ")
		sb.WriteString(t.Description)
		sb.WriteString("\n")
		for _, p := range t.Params {
			sb.WriteString("    ")
			sb.WriteString(p.Name)
			sb.WriteString(" (")
			sb.WriteString(p.Type)
			if p.Required {
				sb.WriteString(", required")
			}
			sb.WriteString("): ")
			sb.WriteString(p.Description)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ImageStore is the slice of the session store tools need.
type ImageStore interface {
	Image(sessionID, imageID string) (imageref.Source, error)
	StoreImage(sessionID string, src imageref.Source, isModel bool) (string, error)
	ModelImage(sessionID string) (imageref.Source, bool, error)
}

// Env carries the providers tools execute against. Nil providers make
// the tools that need them fail with a precondition diagnostic.
type Env struct {
	Images ImageStore
	Loader *imageref.Loader

	LLM         llm.Client
	VisionModel string
	TextModel   string

	Embedder embeddings.Embedder
	Index    wardrobe.Index
	TopK     int

	Search *search.Manager

	Generator imagegen.Generator

	Prompts *prompts.Set
	Logger  *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) topK() int {
	if e.TopK <= 0 {
		return 1
	}
	return e.TopK
}

// checkRequired verifies every required parameter of t is present.
func checkRequired(t *Tool, args map[string]any) error {
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			return invalidArgs("missing required argument %q", p.Name)
		}
	}
	return nil
}

// stringList reads a list of strings. A bare string is accepted as a
// one-element list since models often send one.
func stringList(args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, el := range v {
			s, ok := el.(string)
			if !ok {
				return nil, invalidArgs("%s[%d] must be a string, got %T", key, i, el)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalidArgs("%s must be a list of strings, got %T", key, v)
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	switch v := args[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", invalidArgs("%s must be a string, got %T", key, v)
	}
}

func intArg(args map[string]any, key string, def int) (int, error) {
	switch v := args[key].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, invalidArgs("%s must be an integer, got %q", key, v)
		}
		return n, nil
	default:
		return 0, invalidArgs("%s must be an integer, got %T", key, v)
	}
}

// namedItem is one entry of an item-name to description mapping.
type namedItem struct {
	Name        string
	Description string
}

// itemMap reads an object of item name to description, sorted by name.
// A list of names is accepted with empty descriptions.
func itemMap(args map[string]any, key string) ([]namedItem, error) {
	var out []namedItem
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		for name, desc := range v {
			out = append(out, namedItem{Name: name, Description: fmt.Sprint(desc)})
		}
	case map[string]string:
		for name, desc := range v {
			out = append(out, namedItem{Name: name, Description: desc})
		}
	default:
		names, err := stringList(args, key)
		if err != nil {
			return nil, invalidArgs("%s must be an object of item name to description", key)
		}
		for _, n := range names {
			out = append(out, namedItem{Name: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// sessionImage resolves an image id, turning unknown ids into argument
// errors the model can correct.
func (e *Env) sessionImage(sessionID, imageID string) (imageref.Source, error) {
	src, err := e.Images.Image(sessionID, imageID)
	if err != nil {
		return imageref.Source{}, invalidArgs("unknown image id %q", imageID)
	}
	return src, nil
}
