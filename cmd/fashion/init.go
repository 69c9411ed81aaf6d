package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/farrosalferro/fashion-recommender/examples"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
)

// runInit initializes a working directory: the example config, the data
// directory, and editable copies of the built-in prompts. Existing
// files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing fashion workspace in %s\n", dir)

	for _, sub := range []string{"data", "prompts"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config holds API keys.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	for _, name := range prompts.Names() {
		text, ok := prompts.Source(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, "prompts", string(name)+".tmpl")
		if err := writeIfMissing(w, path, []byte(text), 0o644); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to set your API keys, then index a catalog:")
	fmt.Fprintln(w, "  fashion index catalog.jsonl")
	return nil
}

// writeIfMissing writes data to path with mode unless the file exists,
// reporting either outcome to w.
func writeIfMissing(w io.Writer, path string, data []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
