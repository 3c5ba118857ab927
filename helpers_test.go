package counsel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/pipz"
)

func TestStage(t *testing.T) {
	stage := Stage("upper", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
		r.Augmented = "[" + r.Original + "]"
		return r, nil
	})

	got, err := stage.Process(context.Background(), &Retrieval{Original: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Augmented != "[q]" {
		t.Errorf("unexpected augmented text %q", got.Augmented)
	}

	failing := Stage("fail", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
		return r, errors.New("boom")
	})
	if _, err := failing.Process(context.Background(), &Retrieval{}); err == nil {
		t.Error("expected error")
	}
}

func TestObserve(t *testing.T) {
	var seen string
	observe := Observe("trace", func(_ context.Context, r *Retrieval) error {
		seen = r.Query.Text
		return nil
	})

	in := &Retrieval{Query: Query{Text: "look"}}
	got, err := observe.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "look" || got.Query.Text != "look" {
		t.Errorf("observer must see the retrieval unchanged, saw %q", seen)
	}
}

func TestEnrich(t *testing.T) {
	t.Run("applies on success", func(t *testing.T) {
		enrich := Enrich("tag", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
			r.Query.Text += " extra"
			return r, nil
		})
		got, err := enrich.Process(context.Background(), &Retrieval{Query: Query{Text: "q"}})
		if err != nil || got.Query.Text != "q extra" {
			t.Errorf("unexpected result %q, %v", got.Query.Text, err)
		}
	})

	t.Run("passes through on failure", func(t *testing.T) {
		enrich := Enrich("tag", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
			return r, errors.New("unavailable")
		})
		got, err := enrich.Process(context.Background(), &Retrieval{Query: Query{Text: "q"}})
		if err != nil {
			t.Fatalf("enrichment failures must be ignored, got %v", err)
		}
		if got == nil || got.Query.Text != "q" {
			t.Errorf("expected original retrieval, got %+v", got)
		}
	})
}

func TestSequence(t *testing.T) {
	var order []string
	step := func(name string) func(context.Context, *Retrieval) (*Retrieval, error) {
		return func(_ context.Context, r *Retrieval) (*Retrieval, error) {
			order = append(order, name)
			return r, nil
		}
	}

	seq := Sequence("rag", Stage("a", step("a")), Stage("b", step("b")), Stage("c", step("c")))
	if _, err := seq.Process(context.Background(), &Retrieval{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Errorf("unexpected order %v", order)
	}

	stop := Sequence("stop",
		Stage("fail", func(_ context.Context, r *Retrieval) (*Retrieval, error) { return r, errors.New("stop") }),
		Stage("never", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
			t.Error("stage after a failure must not run")
			return r, nil
		}),
	)
	if _, err := stop.Process(context.Background(), &Retrieval{}); err == nil {
		t.Error("expected error")
	}
}

func TestRetry(t *testing.T) {
	attempts := 0
	stage := Stage("flaky", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
		attempts++
		if attempts < 3 {
			return r, errors.New("transient")
		}
		return r, nil
	})

	if _, err := Retry("retry", stage, 5).Process(context.Background(), &Retrieval{}); err != nil {
		t.Fatalf("expected success within 5 attempts, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	attempts = -10
	if _, err := Backoff("backoff", stage, 2, time.Millisecond).Process(context.Background(), &Retrieval{}); err == nil {
		t.Error("expected failure after exhausting attempts")
	}
}

func TestTimeout(t *testing.T) {
	slow := Stage("slow", func(ctx context.Context, r *Retrieval) (*Retrieval, error) {
		select {
		case <-time.After(time.Second):
			return r, nil
		case <-ctx.Done():
			return r, ctx.Err()
		}
	})

	t.Run("completes within timeout", func(t *testing.T) {
		fast := Stage("fast", func(_ context.Context, r *Retrieval) (*Retrieval, error) { return r, nil })
		if _, err := Timeout("t", fast, time.Second).Process(context.Background(), &Retrieval{}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("fails on timeout", func(t *testing.T) {
		if _, err := Timeout("t", slow, 10*time.Millisecond).Process(context.Background(), &Retrieval{}); err == nil {
			t.Error("expected timeout error")
		}
	})
}

func TestFallback(t *testing.T) {
	primary := Stage("primary", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
		return r, errors.New("pgvector unavailable")
	})
	secondary := Stage("secondary", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
		r.Documents = []RetrievedDocument{{ID: "local"}}
		return r, nil
	})

	got, err := Fallback("retrieve", primary, secondary).Process(context.Background(), &Retrieval{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Documents) != 1 || got.Documents[0].ID != "local" {
		t.Errorf("expected secondary result, got %+v", got.Documents)
	}
}

func TestHelperIdentity(t *testing.T) {
	pass := Stage("stage", func(_ context.Context, r *Retrieval) (*Retrieval, error) {
		return r, nil
	})

	tests := []struct {
		name      string
		processor pipz.Chainable[*Retrieval]
	}{
		{"stage", pass},
		{"observe", Observe("observe", func(context.Context, *Retrieval) error { return nil })},
		{"enrich", Enrich("enrich", func(_ context.Context, r *Retrieval) (*Retrieval, error) { return r, nil })},
		{"sequence", Sequence("sequence", pass)},
		{"retry", Retry("retry", pass, 2)},
		{"backoff", Backoff("backoff", pass, 2, time.Millisecond)},
		{"timeout", Timeout("timeout", pass, time.Second)},
		{"fallback", Fallback("fallback", pass)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.processor.Identity()
			if id.Name() != tt.name {
				t.Errorf("expected name %q, got %q", tt.name, id.Name())
			}
			if id.Description() == "" {
				t.Error("expected a description")
			}
		})
	}
}
