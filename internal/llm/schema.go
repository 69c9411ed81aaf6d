package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// Schema names a JSON schema for structured output.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// GenerateSchema reflects T into a closed JSON schema with every
// definition inlined.
func GenerateSchema[T any](name, description string) *Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("llm: reflect schema %s: %v", name, err))
	}
	var def map[string]any
	if err := json.Unmarshal(raw, &def); err != nil {
		panic(fmt.Sprintf("llm: decode schema %s: %v", name, err))
	}
	delete(def, "$schema")
	delete(def, "$id")
	return &Schema{Name: name, Description: description, Definition: def}
}

// Decode parses a structured response into T. Models occasionally wrap
// the object in a code fence or emit trailing commas and unquoted keys;
// those are repaired before giving up.
func Decode[T any](content string) (T, error) {
	var out T
	content = stripFence(content)
	if content == "" {
		return out, fmt.Errorf("empty response")
	}

	err := json.Unmarshal([]byte(content), &out)
	if err == nil {
		return out, nil
	}

	repaired, rerr := jsonrepair.JSONRepair(content)
	if rerr != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	var fixed T
	if err := json.Unmarshal([]byte(repaired), &fixed); err != nil {
		return out, fmt.Errorf("decode repaired response: %w", err)
	}
	return fixed, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
