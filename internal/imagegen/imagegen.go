// Package imagegen produces virtual try-on images: a photo of the user
// wearing a set of catalog items.
package imagegen

import (
	"context"
	"errors"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

// ErrNoImage is returned when the model answered without an image part.
var ErrNoImage = errors.New("no image in response")

// Image is raw encoded image bytes plus their MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURL renders the image as a data: URL suitable for storing as an
// [imageref.Source] path.
func (i Image) DataURL() string {
	return imageref.EncodeDataURL(i.Data, i.MIMEType)
}

// Generator renders the person in model wearing items.
type Generator interface {
	Generate(ctx context.Context, model Image, items []Image) (*Image, error)
}
