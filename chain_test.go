package counsel

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	chain := NewChain(newMockEndpoint("answer"),
		&traceAdvisor{name: "c", order: 30, trace: &trace},
		&traceAdvisor{name: "a", order: 10, trace: &trace},
		&traceAdvisor{name: "b", order: 20, trace: &trace},
		&traceAdvisor{name: "d", order: 20, trace: &trace},
	)

	resp, err := chain.Call(context.Background(), NewRequest("hi", "chat-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "answer" {
		t.Errorf("expected %q, got %q", "answer", resp.Text)
	}

	expected := []string{
		"a:before", "b:before", "d:before", "c:before",
		"c:after", "d:after", "b:after", "a:after",
	}
	if !slices.Equal(trace, expected) {
		t.Errorf("expected %v, got %v", expected, trace)
	}

	names := make([]string, 0, 4)
	for _, a := range chain.Advisors() {
		names = append(names, a.Name())
	}
	if !slices.Equal(names, []string{"a", "b", "d", "c"}) {
		t.Errorf("unexpected advisor order %v", names)
	}
}

func TestChainExtremeOrders(t *testing.T) {
	var trace []string
	chain := NewChain(newMockEndpoint("answer"),
		&traceAdvisor{name: "max", order: math.MaxInt, trace: &trace},
		&traceAdvisor{name: "zero", order: 0, trace: &trace},
		&traceAdvisor{name: "min", order: math.MinInt, trace: &trace},
		&traceAdvisor{name: "neg", order: -1, trace: &trace},
	)

	if _, err := chain.Call(context.Background(), NewRequest("hi", "c")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{
		"min:before", "neg:before", "zero:before", "max:before",
		"max:after", "zero:after", "neg:after", "min:after",
	}
	if !slices.Equal(trace, expected) {
		t.Errorf("expected %v, got %v", expected, trace)
	}
}

func TestChainDeterministic(t *testing.T) {
	run := func() []string {
		var trace []string
		chain := NewChain(newMockEndpoint("answer"),
			&traceAdvisor{name: "x", order: 5, trace: &trace},
			&traceAdvisor{name: "y", order: 5, trace: &trace},
		)
		_, _ = chain.Call(context.Background(), NewRequest("hi", "c"))
		return trace
	}
	first := run()
	for i := 0; i < 10; i++ {
		if got := run(); !slices.Equal(first, got) {
			t.Fatalf("hook order changed: %v vs %v", first, got)
		}
	}
}

func TestChainBeforeRejects(t *testing.T) {
	var trace []string
	veto := errors.New("not allowed")
	endpoint := newMockEndpoint("answer")
	chain := NewChain(endpoint,
		&traceAdvisor{name: "first", order: 1, trace: &trace},
		&traceAdvisor{name: "gate", order: 2, trace: &trace, beforeErr: veto},
		&traceAdvisor{name: "last", order: 3, trace: &trace},
	)

	_, err := chain.Call(context.Background(), NewRequest("hi", "chat-1"))
	if !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("expected ErrRequestRejected, got %v", err)
	}
	if !errors.Is(err, veto) {
		t.Errorf("expected wrapped veto error, got %v", err)
	}

	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Advisor != "gate" {
		t.Errorf("expected rejection by gate, got %v", err)
	}

	if len(endpoint.received()) != 0 {
		t.Error("endpoint must not be called after rejection")
	}
	if !slices.Equal(trace, []string{"first:before", "gate:before"}) {
		t.Errorf("unexpected trace %v", trace)
	}
}

func TestChainConversationChangeRejected(t *testing.T) {
	var trace []string
	endpoint := newMockEndpoint("answer")
	chain := NewChain(endpoint, &traceAdvisor{
		name:  "hijack",
		trace: &trace,
		mutate: func(r Request) Request {
			r.ConversationID = "other"
			return r
		},
	})

	_, err := chain.Call(context.Background(), NewRequest("hi", "chat-1"))
	if !errors.Is(err, ErrConversationChanged) || !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("expected conversation change rejection, got %v", err)
	}
	if len(endpoint.received()) != 0 {
		t.Error("endpoint must not be called")
	}
}

func TestChainEndpointError(t *testing.T) {
	var trace []string
	boom := errors.New("timeout")
	endpoint := newMockEndpoint("")
	endpoint.err = boom
	chain := NewChain(endpoint, &traceAdvisor{name: "a", trace: &trace})

	_, err := chain.Call(context.Background(), NewRequest("hi", "c"))
	if !errors.Is(err, ErrEndpoint) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped endpoint error, got %v", err)
	}
	if errors.Is(err, ErrRequestRejected) {
		t.Error("endpoint failure is not a rejection")
	}
	if len(endpoint.received()) != 1 {
		t.Errorf("expected exactly one endpoint call, got %d", len(endpoint.received()))
	}
	if !slices.Equal(trace, []string{"a:before"}) {
		t.Errorf("after hooks must not run on endpoint failure, got %v", trace)
	}
}

func TestChainAfterErrorSwallowed(t *testing.T) {
	var trace []string
	chain := NewChain(newMockEndpoint("answer"),
		&traceAdvisor{name: "outer", order: 1, trace: &trace},
		&traceAdvisor{name: "broken", order: 2, trace: &trace, afterErr: errors.New("log sink down")},
	)

	resp, err := chain.Call(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("after hook errors must be swallowed, got %v", err)
	}
	if resp.Text != "answer" {
		t.Errorf("expected previous response to be kept, got %q", resp.Text)
	}
	if !slices.Contains(trace, "outer:after") {
		t.Error("expected remaining after hooks to run")
	}
}

func TestChainNoEndpoint(t *testing.T) {
	chain := NewChain(nil)
	if _, err := chain.Call(context.Background(), NewRequest("hi", "c")); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("expected ErrNoEndpoint, got %v", err)
	}
	if _, err := chain.Stream(context.Background(), NewRequest("hi", "c")); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestChainResponseCarriesAdvisedRequest(t *testing.T) {
	endpoint := newMockEndpoint("answer")
	chain := NewChain(endpoint, NewReReadingAdvisor())

	req := NewRequest("why?", "c")
	resp, err := chain.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Request.UserText != ReRead("why?") {
		t.Errorf("expected advised request on response, got %q", resp.Request.UserText)
	}
	if req.UserParams != nil || req.UserText != "why?" {
		t.Error("caller's request must not be mutated")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected usage to pass through, got %+v", resp.Usage)
	}
}

func TestChainWith(t *testing.T) {
	var trace []string
	base := NewChain(newMockEndpoint("answer"), &traceAdvisor{name: "base", order: 10, trace: &trace})
	extended := base.With(&traceAdvisor{name: "extra", order: 5, trace: &trace})

	if len(base.Advisors()) != 1 {
		t.Errorf("base chain must be unchanged, got %d advisors", len(base.Advisors()))
	}
	if len(extended.Advisors()) != 2 || extended.Advisors()[0].Name() != "extra" {
		t.Errorf("expected extra advisor first, got %v", extended.Advisors())
	}

	if _, err := extended.Call(context.Background(), NewRequest("hi", "c")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(trace, []string{"extra:before", "base:before", "base:after", "extra:after"}) {
		t.Errorf("unexpected trace %v", trace)
	}
}

func TestChainStream(t *testing.T) {
	var trace []string
	endpoint := newMockEndpoint("Hello, world")
	endpoint.chunks = []string{"Hel", "lo, ", "world"}
	chain := NewChain(endpoint,
		&traceAdvisor{name: "a", order: 1, trace: &trace},
		&traceAdvisor{name: "b", order: 2, trace: &trace},
	)

	s, err := chain.Stream(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var texts []string
	for frag, err := range s {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		if slices.Contains(trace, "b:after") {
			t.Fatal("after hooks must wait for the end of the stream")
		}
		texts = append(texts, frag.Text)
	}

	if !slices.Equal(texts, []string{"Hel", "lo, ", "world"}) {
		t.Errorf("fragments must be forwarded unchanged, got %v", texts)
	}
	expected := []string{"a:before", "b:before", "b:after", "a:after"}
	if !slices.Equal(trace, expected) {
		t.Errorf("expected %v, got %v", expected, trace)
	}
}

func TestChainStreamMatchesCall(t *testing.T) {
	endpoint := newMockEndpoint("我是单身，不知道怎么认识新朋友")
	endpoint.chunks = []string{"我是单身，", "不知道怎么", "认识新朋友"}
	chain := NewChain(endpoint)

	called, err := chain.Call(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := chain.Stream(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	streamed, err := Collect(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamed.Text != called.Text {
		t.Errorf("aggregated stream %q differs from call %q", streamed.Text, called.Text)
	}
}

func TestChainStreamEarlyStop(t *testing.T) {
	var trace []string
	mem := newMockMemory()
	endpoint := newMockEndpoint("abc")
	endpoint.chunks = []string{"a", "b", "c"}
	chain := NewChain(endpoint,
		NewMemoryAdvisor(mem),
		&traceAdvisor{name: "t", order: 500, trace: &trace},
	)

	s, err := chain.Stream(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range s {
		break
	}

	if slices.Contains(trace, "t:after") {
		t.Error("after hooks must not run when the consumer stops early")
	}
	if mem.appendCount() != 0 {
		t.Error("a partial turn must not be remembered")
	}
}

func TestChainStreamEndpointError(t *testing.T) {
	var trace []string
	boom := errors.New("connection reset")
	endpoint := newMockEndpoint("")
	endpoint.err = boom
	chain := NewChain(endpoint, &traceAdvisor{name: "a", trace: &trace})

	s, err := chain.Stream(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = Collect(s)
	if !errors.Is(err, ErrEndpoint) || !errors.Is(err, boom) {
		t.Errorf("expected wrapped endpoint error, got %v", err)
	}
	if slices.Contains(trace, "a:after") {
		t.Error("after hooks must not run on stream failure")
	}
}

func TestChainStreamRejected(t *testing.T) {
	var trace []string
	chain := NewChain(newMockEndpoint("x"), &traceAdvisor{name: "gate", trace: &trace, beforeErr: errors.New("no")})

	if _, err := chain.Stream(context.Background(), NewRequest("hi", "c")); !errors.Is(err, ErrRequestRejected) {
		t.Errorf("expected rejection, got %v", err)
	}
}

func TestChainStreamSinglePass(t *testing.T) {
	chain := NewChain(newMockEndpoint("once"))
	s, err := chain.Stream(context.Background(), NewRequest("hi", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Collect(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Collect(s); !errors.Is(err, ErrStreamConsumed) {
		t.Errorf("expected ErrStreamConsumed, got %v", err)
	}
}
