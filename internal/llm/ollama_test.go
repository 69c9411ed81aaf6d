package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llava:13b",
			"message":           map[string]any{"role": "assistant", "content": `{"ok":true}`},
			"done":              true,
			"prompt_eval_count": 42,
			"eval_count":        7,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	resp, err := c.Chat(context.Background(), Request{
		Model:  "llava:13b",
		System: "describe the items",
		Messages: []Message{{
			Role:    RoleUser,
			Content: "image 1",
			Images:  []string{"data:image/png;base64,AAAA"},
		}},
		Schema:      &Schema{Name: "x", Definition: map[string]any{"type": "object"}},
		Temperature: Temperature(0.1),
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != `{"ok":true}` || resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Errorf("response = %+v", resp)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Fatalf("messages = %+v, want system then user", got.Messages)
	}
	if len(got.Messages[1].Images) != 1 || got.Messages[1].Images[0] != "AAAA" {
		t.Errorf("images = %v, want raw base64 payload", got.Messages[1].Images)
	}
	if got.Format == nil {
		t.Error("format should carry the schema")
	}
	if got.Stream {
		t.Error("stream should be false")
	}
	if got.Options == nil || got.Options.Temperature != 0.1 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestOllamaClient_RejectsRemoteImage(t *testing.T) {
	c := NewOllamaClient("http://127.0.0.1:1", nil)
	_, err := c.Chat(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Images: []string{"https://cdn.example.com/a.jpg"}}},
	})
	if err == nil || !strings.Contains(err.Error(), "data URL") {
		t.Errorf("err = %v, want data URL error", err)
	}
}

func TestOllamaClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), Request{Model: "missing"})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("err = %v, want model not found", err)
	}
}
