package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "tinyllama" {
			t.Errorf("unexpected model %s", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "What is 2+2?" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "4"}},
			},
			"usage":      map[string]int{"prompt_tokens": 8, "completion_tokens": 1, "total_tokens": 9},
			"confidence": 0.95,
		})
	}))
	defer srv.Close()

	be, err := NewHTTP(srv.URL, "sk-test")
	if err != nil {
		t.Fatal(err)
	}

	result, err := be.Generate(context.Background(), GenerateRequest{
		Model:     "tinyllama",
		Prompt:    "What is 2+2?",
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "4" {
		t.Errorf("expected text 4, got %q", result.Text)
	}
	if result.Confidence != 0.95 {
		t.Errorf("expected native confidence 0.95, got %v", result.Confidence)
	}
	if result.TokensUsed != 9 {
		t.Errorf("expected 9 tokens, got %d", result.TokensUsed)
	}
}

func TestGenerateNoNativeConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
		})
	}))
	defer srv.Close()

	be, _ := NewHTTP(srv.URL, "")
	result, err := be.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Confidence >= 0 {
		t.Errorf("expected negative confidence when backend reports none, got %v", result.Confidence)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	be, _ := NewHTTP(srv.URL, "")
	if _, err := be.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"}); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	be, _ := NewHTTP(srv.URL, "")
	if _, err := be.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestGenerateHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	be, _ := NewHTTP(srv.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := be.Generate(ctx, GenerateRequest{Model: "m", Prompt: "p"}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2 tokens for 8 chars, got %d", got)
	}
}
