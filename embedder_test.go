package counsel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestOpenAIEmbedderConfiguration(t *testing.T) {
	t.Run("defaults to dashscope", func(t *testing.T) {
		e := NewOpenAIEmbedder("test-key")
		if e.Dimensions() != DimensionsDashScopeV3 {
			t.Errorf("expected dimensions %d, got %d", DimensionsDashScopeV3, e.Dimensions())
		}
		if e.model != ModelDashScopeV3 || e.baseURL != DashScopeBaseURL {
			t.Errorf("unexpected configuration %s %s", e.model, e.baseURL)
		}
	})

	t.Run("openai", func(t *testing.T) {
		e := NewOpenAIEmbedder("test-key",
			WithEmbedderBaseURL(OpenAIBaseURL+"/"),
			WithEmbeddingModel(ModelTextEmbedding3Large, DimensionsTextEmbedding3L))
		if e.Dimensions() != DimensionsTextEmbedding3L {
			t.Errorf("expected dimensions %d, got %d", DimensionsTextEmbedding3L, e.Dimensions())
		}
		if e.baseURL != OpenAIBaseURL {
			t.Errorf("expected trailing slash trimmed, got %s", e.baseURL)
		}
	})
}

func TestOpenAIEmbedderEmbed(t *testing.T) {
	var got embeddingPayload
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3],"index":0}],"usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder("sk-test",
		WithEmbedderBaseURL(server.URL),
		WithEmbeddingModel(ModelTextEmbedding3Small, 3),
		WithEmbedderHTTPClient(server.Client()))

	v, err := e.Embed(context.Background(), "单身")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 3 || v[2] != 0.3 {
		t.Errorf("unexpected vector %v", v)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("unexpected authorization %q", auth)
	}
	if got.Input != "单身" || got.Model != ModelTextEmbedding3Small || got.Dimensions != 3 || got.EncodingFormat != "float" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestOpenAIEmbedderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		message  string
		endpoint bool
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"error":{"message":"invalid key","type":"auth"}}`, message: "status 401 (auth): invalid key", endpoint: true},
		{name: "bare status", status: http.StatusBadGateway, body: `bad gateway`, message: "status 502: bad gateway", endpoint: true},
		{name: "no data", status: http.StatusOK, body: `{"data":[]}`, message: "returned no embedding"},
		{name: "wrong size", status: http.StatusOK, body: `{"data":[{"embedding":[1,0],"index":0}]}`, message: "returned 2 dimensions, want 1024"},
		{name: "malformed", status: http.StatusOK, body: `not json`, message: "decode embedding response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			e := NewOpenAIEmbedder("k", WithEmbedderBaseURL(server.URL))
			_, err := e.Embed(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("expected error containing %q, got %v", tt.message, err)
			}
			if errors.Is(err, ErrEndpoint) != tt.endpoint {
				t.Errorf("errors.Is(err, ErrEndpoint) = %v, want %v", !tt.endpoint, tt.endpoint)
			}
		})
	}
}

func TestOpenAIEmbedderBlankText(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	e := NewOpenAIEmbedder("k", WithEmbedderBaseURL(server.URL))
	if _, err := e.Embed(context.Background(), "  \n"); err == nil {
		t.Fatal("expected an error for blank text")
	}
	if calls.Load() != 0 {
		t.Errorf("expected no request, got %d", calls.Load())
	}
}
