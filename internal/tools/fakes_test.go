package tools

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/imagegen"
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/search"
	"github.com/farrosalferro/fashion-recommender/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLLM returns a fixed response and records requests.
type fakeLLM struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content, Model: req.Model}, nil
}

// fakeEmbedder maps each text to a fixed vector; unknown texts get the
// zero vector.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) EmbedText(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

// fakeGenerator returns a fixed image, or panics when asked to.
type fakeGenerator struct {
	panics bool
	model  imagegen.Image
	items  []imagegen.Image
}

func (f *fakeGenerator) Generate(_ context.Context, model imagegen.Image, items []imagegen.Image) (*imagegen.Image, error) {
	if f.panics {
		panic("generator exploded")
	}
	f.model = model
	f.items = items
	return &imagegen.Image{Data: []byte("tryon-result"), MIMEType: "image/png"}, nil
}

// mockProvider is a search provider whose behavior depends on the
// query.
type mockProvider struct {
	search func(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

func (m *mockProvider) Name() string { return "mock" }
func (m *mockProvider) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return m.search(ctx, query, opts)
}

// fakeRecorder counts outcomes per tool.
type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (f *fakeRecorder) ObserveTool(name, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]string)
	}
	f.outcomes[name] = outcome
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return imageref.EncodeDataURL(buf.Bytes(), "image/png")
}

type testEnv struct {
	env       *Env
	store     *session.Store
	sessionID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := session.NewStore(nil, quietLogger())
	id, err := store.GetOrCreate("")
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{
		env: &Env{
			Images:      store,
			VisionModel: "vision",
			TextModel:   "text",
			Logger:      quietLogger(),
		},
		store:     store,
		sessionID: id,
	}
}

func (te *testEnv) dispatcher(cfg DispatcherConfig) *Dispatcher {
	return NewDispatcher(te.env, cfg)
}

func (te *testEnv) storeImage(t *testing.T, src imageref.Source, isModel bool) string {
	t.Helper()
	id, err := te.store.StoreImage(te.sessionID, src, isModel)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func call(name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{Name: name, Arguments: args}
}

func mustContain(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(got, w) {
			t.Errorf("output missing %q:\n%s", w, got)
		}
	}
}
