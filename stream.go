package counsel

import (
	"iter"
	"strings"
	"sync/atomic"
)

// Stream is a lazy, single-pass sequence of response fragments. The sequence
// ends when the model has finished; a non-nil error ends it early. Ranging over
// a Stream a second time yields ErrStreamConsumed.
type Stream iter.Seq2[Response, error]

// NewStream wraps a fragment sequence in a single-pass guard.
func NewStream(seq iter.Seq2[Response, error]) Stream {
	var used atomic.Bool
	return func(yield func(Response, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(Response{}, ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// StreamOf returns a stream over fixed fragments. It is mostly useful for tests
// and for endpoints that cannot stream natively.
func StreamOf(fragments ...Response) Stream {
	return NewStream(func(yield func(Response, error) bool) {
		for _, f := range fragments {
			if !yield(f, nil) {
				return
			}
		}
	})
}

// ErrorStream returns a stream that yields a single error.
func ErrorStream(err error) Stream {
	return NewStream(func(yield func(Response, error) bool) {
		yield(Response{}, err)
	})
}

// Aggregate forwards every fragment of s unchanged and, once s is exhausted
// without error, calls observe with the aggregated response. A consumer that
// stops early, or a stream that fails, never reaches observe.
func Aggregate(s Stream, observe func(Response)) Stream {
	return NewStream(func(yield func(Response, error) bool) {
		agg := aggregator{}
		for frag, err := range s {
			if err != nil {
				yield(Response{}, err)
				return
			}
			agg.add(frag)
			if !yield(frag, nil) {
				return
			}
		}
		observe(agg.response())
	})
}

// Collect drains a stream and returns the aggregated response.
func Collect(s Stream) (Response, error) {
	agg := aggregator{}
	for frag, err := range s {
		if err != nil {
			return agg.response(), err
		}
		agg.add(frag)
	}
	return agg.response(), nil
}

// aggregator concatenates fragment text in arrival order and keeps the last
// reported usage and finish reason.
type aggregator struct {
	text    strings.Builder
	first   bool
	request Request
	usage   Usage
	finish  string
	raw     map[string]any
}

func (a *aggregator) add(frag Response) {
	if !a.first {
		a.first = true
		a.request = frag.Request
	}
	a.text.WriteString(frag.Text)
	if frag.Usage.TotalTokens > 0 {
		a.usage = frag.Usage
	}
	if frag.FinishReason != "" {
		a.finish = frag.FinishReason
	}
	if frag.Raw != nil {
		a.raw = frag.Raw
	}
}

func (a *aggregator) response() Response {
	return Response{
		Text:         a.text.String(),
		Raw:          a.raw,
		Usage:        a.usage,
		FinishReason: a.finish,
		Request:      a.request,
	}
}
