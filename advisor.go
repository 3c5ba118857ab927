package counsel

import "context"

// Default advisor orders. Lower orders run their before hooks first and their
// after hooks last.
const (
	OrderPolicy    = 100
	OrderReReading = 200
	OrderMemory    = 300
	OrderRetrieval = 400
	OrderLogging   = 1000
)

// Advisor intercepts a model invocation. BeforeCall may rewrite the request or
// refuse it by returning an error; AfterCall may rewrite the response. During
// streaming AfterCall observes the aggregated response and its result is
// discarded.
type Advisor interface {
	// Name identifies the advisor in logs, signals and errors.
	Name() string

	// Order positions the advisor in the chain.
	Order() int

	// BeforeCall runs before the endpoint, in ascending order.
	BeforeCall(ctx context.Context, req Request) (Request, error)

	// AfterCall runs after the endpoint, in descending order.
	AfterCall(ctx context.Context, resp Response) (Response, error)
}

// AdvisorFunc builds an advisor from plain functions. Either hook may be nil.
type AdvisorFunc struct {
	AdvisorName string
	Position    int
	Before      func(ctx context.Context, req Request) (Request, error)
	After       func(ctx context.Context, resp Response) (Response, error)
}

// Name implements Advisor.
func (a AdvisorFunc) Name() string { return a.AdvisorName }

// Order implements Advisor.
func (a AdvisorFunc) Order() int { return a.Position }

// BeforeCall implements Advisor.
func (a AdvisorFunc) BeforeCall(ctx context.Context, req Request) (Request, error) {
	if a.Before == nil {
		return req, nil
	}
	return a.Before(ctx, req)
}

// AfterCall implements Advisor.
func (a AdvisorFunc) AfterCall(ctx context.Context, resp Response) (Response, error) {
	if a.After == nil {
		return resp, nil
	}
	return a.After(ctx, resp)
}

var _ Advisor = AdvisorFunc{}
