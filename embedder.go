package counsel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Embedder turns text into vectors for similarity search. Documents and
// queries must be embedded by the same Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)

	// Dimensions is the length of every vector Embed returns.
	Dimensions() int
}

// Embedding models with a configurable output size.
const (
	ModelDashScopeV3          = "text-embedding-v3"
	ModelTextEmbedding3Small  = "text-embedding-3-small"
	ModelTextEmbedding3Large  = "text-embedding-3-large"
	DimensionsDashScopeV3     = 1024
	DimensionsTextEmbedding3S = 1536
	DimensionsTextEmbedding3L = 3072
)

// Base URLs of OpenAI-compatible APIs.
const (
	OpenAIBaseURL    = "https://api.openai.com/v1"
	DashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// OpenAIEmbedder calls the /embeddings route of an OpenAI-compatible API.
// It defaults to DashScope's text-embedding-v3, the model the knowledge base
// is indexed with.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

// OpenAIEmbedderOption configures an OpenAIEmbedder.
type OpenAIEmbedderOption func(*OpenAIEmbedder)

// WithEmbeddingModel sets the model and the vector size requested from it.
func WithEmbeddingModel(model string, dimensions int) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.model = model
		e.dimensions = dimensions
	}
}

// WithEmbedderBaseURL points the embedder at another compatible API.
func WithEmbedderBaseURL(url string) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.baseURL = strings.TrimRight(url, "/")
	}
}

// WithEmbedderHTTPClient sets the HTTP client.
func WithEmbedderHTTPClient(client *http.Client) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.client = client
	}
}

// NewOpenAIEmbedder creates an embedder authenticated with apiKey.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIEmbedderOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      ModelDashScopeV3,
		dimensions: DimensionsDashScopeV3,
		baseURL:    DashScopeBaseURL,
		client:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingPayload struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Dimensions     int    `json:"dimensions,omitempty"`
	EncodingFormat string `json:"encoding_format"`
}

type embeddingResult struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder. Blank text is rejected before any request is
// made, and a vector of the wrong size is an error.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("cannot embed empty text")
	}

	body, err := json.Marshal(embeddingPayload{
		Model:          e.model,
		Input:          text,
		Dimensions:     e.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct embedding request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding request: %w", ErrEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %w", ErrEndpoint, parseAPIError(resp))
	}

	var result embeddingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	for _, d := range result.Data {
		if d.Index != 0 {
			continue
		}
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("model %s returned %d dimensions, want %d", e.model, len(d.Embedding), e.dimensions)
		}
		return Vector(d.Embedding), nil
	}
	return nil, fmt.Errorf("model %s returned no embedding", e.model)
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

var _ Embedder = (*OpenAIEmbedder)(nil)
