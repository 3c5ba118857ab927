package counsel

import (
	"context"
	"strings"

	"github.com/zoobzio/zyn"
)

// Provider matches zyn.Provider. Auxiliary model calls (query rewriting,
// expansion, keyword extraction) run through zyn synapses on a Provider.
type Provider interface {
	Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error)
	Name() string
}

// EndpointProvider runs zyn synapses on an Endpoint. Calls go straight to the
// endpoint and never pass through an advisor chain.
type EndpointProvider struct {
	endpoint Endpoint
	name     string
}

// NewEndpointProvider adapts an endpoint to the zyn provider interface.
func NewEndpointProvider(endpoint Endpoint, name string) *EndpointProvider {
	if name == "" {
		name = "endpoint"
	}
	return &EndpointProvider{endpoint: endpoint, name: name}
}

// Call implements zyn.Provider. System messages become the system prompt, the
// final message becomes the user turn and everything between is history.
func (p *EndpointProvider) Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error) {
	var system []string
	var rest []Message
	for _, m := range messages {
		role := Role(m.Role)
		if role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, Message{Role: role, Text: m.Content})
	}

	req := Request{
		SystemPrompt: strings.Join(system, "\n\n"),
		Temperature:  temperature,
	}
	if n := len(rest); n > 0 {
		req.UserText = rest[n-1].Text
		req.Messages = rest[:n-1]
	}

	resp, err := p.endpoint.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return &zyn.ProviderResponse{
		Content: resp.Text,
		Usage: zyn.TokenUsage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Name implements zyn.Provider.
func (p *EndpointProvider) Name() string {
	return p.name
}

var _ Provider = (*EndpointProvider)(nil)
