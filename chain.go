package counsel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/capitan"
)

// Chain runs a fixed, ordered set of advisors around an endpoint. A Chain is
// immutable once built and safe for concurrent use.
type Chain struct {
	endpoint Endpoint
	advisors []Advisor
	log      logrus.FieldLogger
}

// NewChain creates a chain. Advisors are sorted by ascending order; advisors
// with equal order keep their registration order.
func NewChain(endpoint Endpoint, advisors ...Advisor) *Chain {
	return &Chain{
		endpoint: endpoint,
		advisors: sortAdvisors(advisors),
		log:      logrus.StandardLogger(),
	}
}

func sortAdvisors(advisors []Advisor) []Advisor {
	sorted := slices.Clone(advisors)
	slices.SortStableFunc(sorted, func(a, b Advisor) int {
		return cmp.Compare(a.Order(), b.Order())
	})
	return sorted
}

// WithLogger returns a copy of the chain that logs through l.
func (c *Chain) WithLogger(l logrus.FieldLogger) *Chain {
	next := *c
	next.log = l
	return &next
}

// With returns a new chain that also runs the extra advisors. The receiver is
// left untouched.
func (c *Chain) With(extra ...Advisor) *Chain {
	next := *c
	next.advisors = sortAdvisors(append(slices.Clone(c.advisors), extra...))
	return &next
}

// Advisors returns the advisors in execution order.
func (c *Chain) Advisors() []Advisor {
	return slices.Clone(c.advisors)
}

// Call runs the before hooks in ascending order, invokes the endpoint once and
// runs the after hooks in descending order.
func (c *Chain) Call(ctx context.Context, req Request) (Response, error) {
	if c.endpoint == nil {
		return Response{}, ErrNoEndpoint
	}
	start := time.Now()
	c.emitStarted(ctx, req, "call")

	advised, err := c.before(ctx, req)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.endpoint.Call(ctx, advised)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEndpoint, err)
		capitan.Error(ctx, CallFailed,
			FieldConversationID.Field(advised.ConversationID),
			FieldMode.Field("call"),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return Response{}, err
	}
	resp.Request = advised

	for i := len(c.advisors) - 1; i >= 0; i-- {
		resp = c.after(ctx, c.advisors[i], resp)
	}

	capitan.Emit(ctx, CallCompleted,
		FieldConversationID.Field(advised.ConversationID),
		FieldMode.Field("call"),
		FieldTextSize.Field(len(resp.Text)),
		FieldTotalTokens.Field(resp.Usage.TotalTokens),
		FieldDuration.Field(time.Since(start)),
	)
	return resp, nil
}

// Stream runs the before hooks and returns the endpoint's fragment stream.
// Fragments reach the caller unchanged as they arrive. After the caller has
// consumed the whole stream, each after hook observes the aggregated response
// in descending order. A caller that stops early skips the after hooks.
func (c *Chain) Stream(ctx context.Context, req Request) (Stream, error) {
	if c.endpoint == nil {
		return nil, ErrNoEndpoint
	}
	start := time.Now()
	c.emitStarted(ctx, req, "stream")

	advised, err := c.before(ctx, req)
	if err != nil {
		return nil, err
	}

	source := c.endpoint.Stream(ctx, advised)
	s := NewStream(func(yield func(Response, error) bool) {
		for frag, err := range source {
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrEndpoint, err)
				capitan.Error(ctx, CallFailed,
					FieldConversationID.Field(advised.ConversationID),
					FieldMode.Field("stream"),
					FieldDuration.Field(time.Since(start)),
					FieldError.Field(err),
				)
				yield(Response{}, err)
				return
			}
			frag.Request = advised
			if !yield(frag, nil) {
				return
			}
		}
	})

	for i := len(c.advisors) - 1; i >= 0; i-- {
		a := c.advisors[i]
		s = Aggregate(s, func(resp Response) {
			resp.Request = advised
			c.after(ctx, a, resp)
		})
	}

	return Aggregate(s, func(resp Response) {
		capitan.Emit(ctx, StreamCompleted,
			FieldConversationID.Field(advised.ConversationID),
			FieldMode.Field("stream"),
			FieldTextSize.Field(len(resp.Text)),
			FieldDuration.Field(time.Since(start)),
		)
	}), nil
}

// before folds the request through every before hook. The first failure
// aborts the fold.
func (c *Chain) before(ctx context.Context, req Request) (Request, error) {
	id := req.ConversationID
	for _, a := range c.advisors {
		next, err := a.BeforeCall(ctx, req)
		if err == nil && next.ConversationID != id {
			err = ErrConversationChanged
		}
		if err != nil {
			return req, c.reject(ctx, a, req, err)
		}
		req = next
	}
	return req, nil
}

func (c *Chain) reject(ctx context.Context, a Advisor, req Request, err error) error {
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		rejected = &RejectedError{Advisor: a.Name(), Err: err}
	}
	capitan.Emit(ctx, RequestRejected,
		FieldConversationID.Field(req.ConversationID),
		FieldAdvisor.Field(rejected.Advisor),
		FieldError.Field(rejected.Err),
	)
	c.log.WithFields(logrus.Fields{
		"advisor":         rejected.Advisor,
		"conversation_id": req.ConversationID,
	}).WithError(rejected.Err).Warn("request rejected")
	return rejected
}

// after runs a single after hook. Failures are logged and the previous
// response is kept.
func (c *Chain) after(ctx context.Context, a Advisor, resp Response) Response {
	next, err := a.AfterCall(ctx, resp)
	if err != nil {
		capitan.Error(ctx, AdvisorFailed,
			FieldConversationID.Field(resp.Request.ConversationID),
			FieldAdvisor.Field(a.Name()),
			FieldError.Field(err),
		)
		c.log.WithFields(logrus.Fields{
			"advisor":         a.Name(),
			"conversation_id": resp.Request.ConversationID,
		}).WithError(err).Error("after hook failed")
		return resp
	}
	return next
}

func (c *Chain) emitStarted(ctx context.Context, req Request, mode string) {
	capitan.Emit(ctx, CallStarted,
		FieldConversationID.Field(req.ConversationID),
		FieldMode.Field(mode),
		FieldAdvisorCount.Field(len(c.advisors)),
		FieldTemperature.Field(req.Temperature),
	)
}
