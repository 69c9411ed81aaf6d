// Package imageref defines image sources, their content-addressed ids,
// and the typed image groups exchanged between tools, the agent loop
// and the HTTP layer.
//
// An image is identified by its (path, bbox) pair. Two sources with the
// same path and crop box always resolve to the same id, in any session
// and in any process, so a wardrobe item retrieved twice or a photo
// uploaded twice is stored once.
package imageref

import (
	"encoding/hex"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// IDLength is the number of hex characters kept from the digest.
// 48 bits keeps the birthday bound around 2e-7 for ten thousand images
// in one session while staying short enough for a model to copy.
const IDLength = 12

// BBox is a crop box as (left, upper, right, lower) in pixels.
type BBox [4]float64

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool {
	return b[2] > b[0] && b[3] > b[1]
}

// String renders the box the way the canonical key expects:
// "(l, u, r, b)" with every value carrying a decimal point or exponent.
func (b BBox) String() string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = formatFloat(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// formatFloat mirrors the shortest round-trip float repr used by the
// catalog tooling, so ids match across the indexer and the service.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Source is a reference to an image: an http(s) URL, a local file path
// or an inline data URL, optionally cropped by BBox. Sources are
// immutable once stored in a session.
type Source struct {
	Path string `json:"path"`
	BBox *BBox  `json:"bbox,omitempty"`
}

// Canonical returns the "{path}:{bbox}" key the id is derived from.
// An absent box renders as the literal None.
func (s Source) Canonical() string {
	if s.BBox == nil {
		return s.Path + ":None"
	}
	return s.Path + ":" + s.BBox.String()
}

// ID returns the content-addressed id of src. It is a pure function of
// the canonical key.
func ID(src Source) string {
	sum := blake2b.Sum256([]byte(src.Canonical()))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// Kind discriminates where an image came from.
type Kind string

const (
	KindUserProvided Kind = "user_provided"
	KindRetrieved    Kind = "retrieved"
	KindVirtualTryOn Kind = "virtual_try_on"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUserProvided, KindRetrieved, KindVirtualTryOn:
		return true
	}
	return false
}

// Label is the heading used when listing ids of this kind in
// conversation text.
func (k Kind) Label() string {
	switch k {
	case KindUserProvided:
		return "User provided fashion item images"
	case KindRetrieved:
		return "Retrieved image ids"
	case KindVirtualTryOn:
		return "Virtual try-on image ids"
	}
	return "Image ids"
}

// Reference is a resolved image exposed to callers. It is always
// derived from a stored Source and never persisted on its own.
type Reference struct {
	ImageID string `json:"image_id"`
	URL     string `json:"url"`
	BBox    *BBox  `json:"bbox,omitempty"`
	Kind    Kind   `json:"type"`
}

// NewReference builds the reference for src with the given kind.
func NewReference(src Source, kind Kind) Reference {
	return Reference{
		ImageID: ID(src),
		URL:     src.Path,
		BBox:    src.BBox,
		Kind:    kind,
	}
}

// Group is an ordered gallery of image ids sharing one kind.
type Group struct {
	Kind     Kind     `json:"type"`
	ImageIDs []string `json:"image_ids"`
}

// Empty reports whether the group carries no ids.
func (g Group) Empty() bool { return len(g.ImageIDs) == 0 }

// Equal reports whether g and o have the same kind and the same ids in
// the same order.
func (g Group) Equal(o Group) bool {
	return g.Kind == o.Kind && slices.Equal(g.ImageIDs, o.ImageIDs)
}

// Text renders the group as a heading followed by one tab-indented id
// per line.
func (g Group) Text() string {
	var sb strings.Builder
	sb.WriteString(g.Kind.Label())
	sb.WriteString(":\n")
	for _, id := range g.ImageIDs {
		sb.WriteString("\t")
		sb.WriteString(id)
		sb.WriteString("\n")
	}
	return sb.String()
}
