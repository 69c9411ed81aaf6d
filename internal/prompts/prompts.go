package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"
)

// Name identifies a prompt template.
type Name string

const (
	Agent       Name = "agent"
	Descriptor  Name = "descriptor"
	Recommender Name = "recommender"
	TryOn       Name = "vton"
)

var defaults = map[Name]string{
	Agent:       agentTemplate,
	Descriptor:  descriptorTemplate,
	Recommender: recommenderTemplate,
	TryOn:       tryOnTemplate,
}

// Set is a parsed collection of prompt templates. Safe for concurrent
// use once built.
type Set struct {
	templates map[Name]*template.Template
}

// Defaults returns the built-in prompts.
func Defaults() *Set {
	s := &Set{templates: make(map[Name]*template.Template, len(defaults))}
	for name, text := range defaults {
		s.templates[name] = template.Must(template.New(string(name)).Option("missingkey=error").Parse(text))
	}
	return s
}

// Load returns the built-in prompts with any <name>.tmpl files found in
// dir parsed over them. An empty dir returns the defaults.
func Load(dir string, logger *slog.Logger) (*Set, error) {
	s := Defaults()
	if dir == "" {
		return s, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	for name := range defaults {
		path := filepath.Join(dir, string(name)+".tmpl")
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Option("missingkey=error").Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", path, err)
		}
		s.templates[name] = tmpl
		logger.Info("prompt override loaded", "prompt", name, "path", path)
	}
	return s, nil
}

// Render executes the named template with data.
func (s *Set) Render(name Name, data any) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// AgentData is the data for the Agent template.
type AgentData struct {
	Tools string
}

// RecommenderData is the data for the Recommender template.
type RecommenderData struct {
	UserIntention string
	ItemList      string
}

// AgentPrompt renders the agent system prompt.
func (s *Set) AgentPrompt(tools string) (string, error) {
	return s.Render(Agent, AgentData{Tools: tools})
}

// DescriptorPrompt renders the item description prompt.
func (s *Set) DescriptorPrompt() (string, error) {
	return s.Render(Descriptor, nil)
}

// RecommenderPrompt renders the styling prompt.
func (s *Set) RecommenderPrompt(intention, items string) (string, error) {
	return s.Render(Recommender, RecommenderData{UserIntention: intention, ItemList: items})
}

// TryOnPrompt renders the virtual try-on prompt.
func (s *Set) TryOnPrompt() (string, error) {
	return s.Render(TryOn, nil)
}

// Names returns every prompt name in a stable order.
func Names() []Name {
	return []Name{Agent, Descriptor, Recommender, TryOn}
}

// Source returns the built-in template text for name.
func Source(name Name) (string, bool) {
	text, ok := defaults[name]
	return text, ok
}
