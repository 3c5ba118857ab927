package counsel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/zoobzio/zyn"
)

// mockMemory wraps InMemory and can be told to fail.
type mockMemory struct {
	*InMemory
	loadErr   error
	appendErr error
	appends   int
	mu        sync.Mutex
}

func newMockMemory() *mockMemory {
	return &mockMemory{InMemory: NewInMemory()}
}

func (m *mockMemory) Load(ctx context.Context, conversationID string, lastN int) ([]Message, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.InMemory.Load(ctx, conversationID, lastN)
}

func (m *mockMemory) Append(ctx context.Context, conversationID string, messages ...Message) error {
	m.mu.Lock()
	m.appends++
	m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	return m.InMemory.Append(ctx, conversationID, messages...)
}

func (m *mockMemory) appendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

// mockEndpoint records requests and replies with a fixed text.
type mockEndpoint struct {
	reply    string
	err      error
	chunks   []string
	requests []Request
	mu       sync.Mutex
}

func newMockEndpoint(reply string) *mockEndpoint {
	return &mockEndpoint{reply: reply}
}

func (m *mockEndpoint) record(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *mockEndpoint) Call(_ context.Context, req Request) (Response, error) {
	m.record(req)
	if m.err != nil {
		return Response{}, m.err
	}
	return Response{
		Text:         m.reply,
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *mockEndpoint) Stream(_ context.Context, req Request) Stream {
	m.record(req)
	if m.err != nil {
		return ErrorStream(m.err)
	}
	chunks := m.chunks
	if chunks == nil {
		chunks = []string{m.reply}
	}
	frags := make([]Response, len(chunks))
	for i, c := range chunks {
		frags[i] = Response{Text: c}
	}
	return StreamOf(frags...)
}

func (m *mockEndpoint) received() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *mockEndpoint) last() Request {
	reqs := m.received()
	if len(reqs) == 0 {
		return Request{}
	}
	return reqs[len(reqs)-1]
}

// traceAdvisor appends "<name>:before" and "<name>:after" to a shared trace.
type traceAdvisor struct {
	name      string
	order     int
	trace     *[]string
	beforeErr error
	afterErr  error
	mutate    func(Request) Request
}

func (a *traceAdvisor) Name() string { return a.name }
func (a *traceAdvisor) Order() int   { return a.order }

func (a *traceAdvisor) BeforeCall(_ context.Context, req Request) (Request, error) {
	*a.trace = append(*a.trace, a.name+":before")
	if a.beforeErr != nil {
		return req, a.beforeErr
	}
	if a.mutate != nil {
		req = a.mutate(req)
	}
	return req, nil
}

func (a *traceAdvisor) AfterCall(_ context.Context, resp Response) (Response, error) {
	*a.trace = append(*a.trace, a.name+":after")
	if a.afterErr != nil {
		return Response{Text: "discarded"}, a.afterErr
	}
	return resp, nil
}

// mockProvider answers zyn Transform prompts with transform and Extract
// prompts with extract.
type mockProvider struct {
	transform string
	extract   string
	err       error
	calls     int
	mu        sync.Mutex
}

func (m *mockProvider) Call(_ context.Context, messages []zyn.Message, _ float32) (*zyn.ProviderResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if len(messages) == 0 {
		return nil, errors.New("no messages provided")
	}

	last := messages[len(messages)-1]
	usage := zyn.TokenUsage{Prompt: 10, Completion: 5, Total: 15}

	if strings.Contains(last.Content, "Transform:") {
		return &zyn.ProviderResponse{
			Content: fmt.Sprintf(`{"output": %q, "confidence": 0.9, "changes": ["rewrote query"], "reasoning": ["removed filler"]}`, m.transform),
			Usage:   usage,
		}, nil
	}
	if strings.Contains(last.Content, "Task: Extract ") {
		return &zyn.ProviderResponse{Content: m.extract, Usage: usage}, nil
	}
	return &zyn.ProviderResponse{Content: "mock response", Usage: usage}, nil
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mapEmbedder returns fixed vectors and fails for unknown text.
type mapEmbedder map[string]Vector

func (m mapEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	v, ok := m[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (m mapEmbedder) Dimensions() int { return 2 }

// queryAxis is the query vector paired with scoredVector.
var queryAxis = Vector{1, 0}

// scoredVector returns a unit vector whose cosine with queryAxis is score.
func scoredVector(score float32) Vector {
	s := float64(score)
	return Vector{float32(s), float32(math.Sqrt(1 - s*s))}
}
