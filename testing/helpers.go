// Package counseltest provides test utilities for counsel.
package counseltest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/zoobzio/counsel"
)

// MockEndpoint implements counsel.Endpoint for testing without a model. It
// records every request and answers from a script of replies, repeating the
// last reply once the script is exhausted.
type MockEndpoint struct {
	replies  []string
	err      error
	chunk    int
	requests []counsel.Request
	mu       sync.Mutex
}

// NewMockEndpoint creates an endpoint answering with replies in order.
func NewMockEndpoint(replies ...string) *MockEndpoint {
	if len(replies) == 0 {
		replies = []string{"mock response"}
	}
	return &MockEndpoint{replies: replies, chunk: 4}
}

// WithError makes every call fail with err.
func (m *MockEndpoint) WithError(err error) *MockEndpoint {
	m.err = err
	return m
}

// WithChunkSize sets the number of runes per stream fragment.
func (m *MockEndpoint) WithChunkSize(n int) *MockEndpoint {
	m.chunk = n
	return m
}

func (m *MockEndpoint) next(req counsel.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.requests) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

// Call implements counsel.Endpoint.
func (m *MockEndpoint) Call(_ context.Context, req counsel.Request) (counsel.Response, error) {
	text, err := m.next(req)
	if err != nil {
		return counsel.Response{}, err
	}
	return counsel.Response{
		Text:         text,
		FinishReason: "stop",
		Usage:        counsel.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// Stream implements counsel.Endpoint, splitting the reply into fragments.
func (m *MockEndpoint) Stream(_ context.Context, req counsel.Request) counsel.Stream {
	text, err := m.next(req)
	if err != nil {
		return counsel.ErrorStream(err)
	}
	return counsel.StreamOf(Fragments(text, m.chunk)...)
}

// Requests returns the requests received so far.
func (m *MockEndpoint) Requests() []counsel.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]counsel.Request(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockEndpoint) LastRequest() (counsel.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return counsel.Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Fragments splits text into responses of at most size runes.
func Fragments(text string, size int) []counsel.Response {
	if size <= 0 {
		size = 1
	}
	runes := []rune(text)
	var frags []counsel.Response
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		frags = append(frags, counsel.Response{Text: string(runes[start:end])})
	}
	if len(frags) > 0 {
		frags[len(frags)-1].FinishReason = "stop"
	}
	return frags
}

// FakeEmbedder returns fixed vectors for known texts and a deterministic
// hash-derived unit vector for anything else.
type FakeEmbedder struct {
	vectors    map[string]counsel.Vector
	dimensions int
	mu         sync.RWMutex
}

// NewFakeEmbedder creates an embedder producing vectors of the given size.
func NewFakeEmbedder(dimensions int) *FakeEmbedder {
	return &FakeEmbedder{vectors: make(map[string]counsel.Vector), dimensions: dimensions}
}

// Set fixes the vector returned for text.
func (f *FakeEmbedder) Set(text string, v counsel.Vector) *FakeEmbedder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = v
	return f
}

// Embed implements counsel.Embedder.
func (f *FakeEmbedder) Embed(_ context.Context, text string) (counsel.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	f.mu.RLock()
	v, ok := f.vectors[text]
	f.mu.RUnlock()
	if ok {
		return v, nil
	}
	return hashVector(text, f.dimensions), nil
}

// Dimensions implements counsel.Embedder.
func (f *FakeEmbedder) Dimensions() int {
	return f.dimensions
}

func hashVector(text string, dimensions int) counsel.Vector {
	v := make(counsel.Vector, dimensions)
	var norm float64
	for i := range v {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000) / 1000
		norm += float64(v[i]) * float64(v[i])
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// ScoredVector returns a unit vector whose cosine similarity with Axis is
// score, for building retrieval fixtures with exact scores.
func ScoredVector(score float32) counsel.Vector {
	s := float64(score)
	return counsel.Vector{float32(s), float32(math.Sqrt(1 - s*s))}
}

// Axis is the query vector paired with ScoredVector.
var Axis = counsel.Vector{1, 0}

// NewTestMemory returns a FileMemory rooted in a temporary directory.
func NewTestMemory(t testing.TB) *counsel.FileMemory {
	t.Helper()
	mem, err := counsel.NewFileMemory(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create memory: %v", err)
	}
	return mem
}

// AssertHistoryLen fails the test unless req carries n history messages.
func AssertHistoryLen(t testing.TB, req counsel.Request, n int) {
	t.Helper()
	if len(req.Messages) != n {
		t.Errorf("expected %d history messages, got %d", n, len(req.Messages))
	}
}
