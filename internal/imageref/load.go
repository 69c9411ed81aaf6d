package imageref

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

// maxImageBytes caps remote downloads.
const maxImageBytes = 20 << 20

// Loader fetches and decodes image sources for tools that need pixels
// (item description, virtual try-on).
type Loader struct {
	client *http.Client
}

// NewLoader returns a Loader that downloads remote images with client.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = httpkit.NewClient()
	}
	return &Loader{client: client}
}

// Load decodes src and applies its crop box.
func (l *Loader) Load(ctx context.Context, src Source) (image.Image, error) {
	raw, err := l.read(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if src.BBox == nil {
		return img, nil
	}
	return imaging.Crop(img, src.BBox.Rect()), nil
}

// LoadPNG loads src and re-encodes it as PNG.
func (l *Loader) LoadPNG(ctx context.Context, src Source) ([]byte, error) {
	img, err := l.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL loads src and returns it as an inline data URL. Uncropped
// data URLs are returned unchanged; everything else is re-encoded as
// PNG so every model backend receives pixels rather than a link.
func (l *Loader) DataURL(ctx context.Context, src Source) (string, error) {
	if src.BBox == nil && strings.HasPrefix(src.Path, "data:image") {
		return src.Path, nil
	}
	png, err := l.LoadPNG(ctx, src)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(png, "image/png"), nil
}

func (l *Loader) read(ctx context.Context, path string) ([]byte, error) {
	switch {
	case strings.HasPrefix(path, "data:image"):
		data, _, err := DecodeDataURL(path)
		return data, err
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			body := httpkit.ReadErrorBody(resp.Body, 256)
			return nil, fmt.Errorf("fetch image: status %d: %s", resp.StatusCode, body)
		}
		defer resp.Body.Close()
		return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open image: %w", err)
		}
		return data, nil
	}
}

// Rect converts the box to integer pixel bounds, rounding outward.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b[0])), int(math.Floor(b[1])),
		int(math.Ceil(b[2])), int(math.Ceil(b[3])),
	)
}

// EncodeDataURL returns data as a base64 data URL.
func EncodeDataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URL into its payload and MIME type.
func DecodeDataURL(s string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, "", fmt.Errorf("malformed data URL")
	}
	mimeType := strings.TrimPrefix(header, "data:")
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if !strings.HasSuffix(header, ";base64") {
		return []byte(payload), mimeType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URL: %w", err)
	}
	return data, mimeType, nil
}
