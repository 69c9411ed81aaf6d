package imageref

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidationError reports a user-supplied image reference that is not
// an http(s) URL, an existing local file or an inline image data URL.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid image source %q: %s", truncate(e.Path, 80), e.Reason)
}

// Validate checks a path at the request boundary. Stored sources are
// never re-validated.
func Validate(path string) error {
	switch {
	case path == "":
		return &ValidationError{Path: path, Reason: "empty path"}
	case strings.HasPrefix(path, "data:image"):
		if !strings.Contains(path, ",") {
			return &ValidationError{Path: path, Reason: "data URL has no payload"}
		}
		return nil
	}

	if u, err := url.Parse(path); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if u.Host == "" {
			return &ValidationError{Path: path, Reason: "URL has no host"}
		}
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: "must be an http(s) URL, an existing file or a data:image URL"}
	}
	if info.IsDir() {
		return &ValidationError{Path: path, Reason: "is a directory"}
	}
	return nil
}

// ValidateSource validates the path and, when present, the crop box.
func ValidateSource(src Source) error {
	if err := Validate(src.Path); err != nil {
		return err
	}
	if src.BBox != nil && !src.BBox.Valid() {
		return &ValidationError{Path: src.Path, Reason: fmt.Sprintf("bbox %s has no area", src.BBox)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
