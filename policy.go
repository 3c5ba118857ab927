package counsel

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/rego"
)

// Policy decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// DefaultPolicy refuses blank messages and messages longer than
// input.max_chars characters.
const DefaultPolicy = `
package counsel.policy

default decision = "allow"
default reason = ""

decision = "deny" {
	trim_space(input.user_text) == ""
}

reason = "empty message" {
	trim_space(input.user_text) == ""
}

decision = "deny" {
	input.max_chars > 0
	input.user_chars > input.max_chars
}

reason = "message too long" {
	trim_space(input.user_text) != ""
	input.max_chars > 0
	input.user_chars > input.max_chars
}
`

// DefaultMaxChars is the message size limit fed to the default policy.
var DefaultMaxChars = 4000

// ErrPolicyDenied is the cause recorded when a policy denies a request.
var ErrPolicyDenied = errors.New("denied by policy")

// PolicyAdvisor evaluates a rego policy against every request before any
// other advisor runs. A "deny" decision rejects the request.
//
// The policy must define data.counsel.policy.decision and may define
// data.counsel.policy.reason. The input document holds user_text, user_chars,
// max_chars, conversation_id and the string request params.
type PolicyAdvisor struct {
	decision rego.PreparedEvalQuery
	reason   rego.PreparedEvalQuery
	maxChars int
	order    int
}

// NewPolicyAdvisor compiles a policy module.
func NewPolicyAdvisor(ctx context.Context, policy string) (*PolicyAdvisor, error) {
	decision, err := rego.New(
		rego.Query("data.counsel.policy.decision"),
		rego.Module("counsel_policy.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	reason, err := rego.New(
		rego.Query("data.counsel.policy.reason"),
		rego.Module("counsel_policy.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &PolicyAdvisor{
		decision: decision,
		reason:   reason,
		maxChars: DefaultMaxChars,
		order:    OrderPolicy,
	}, nil
}

// WithMaxChars sets the max_chars input value.
func (a *PolicyAdvisor) WithMaxChars(n int) *PolicyAdvisor {
	a.maxChars = n
	return a
}

// WithOrder sets the chain position.
func (a *PolicyAdvisor) WithOrder(order int) *PolicyAdvisor {
	a.order = order
	return a
}

// Name implements Advisor.
func (a *PolicyAdvisor) Name() string { return "policy" }

// Order implements Advisor.
func (a *PolicyAdvisor) Order() int { return a.order }

// Evaluate returns the policy decision and reason for a request.
func (a *PolicyAdvisor) Evaluate(ctx context.Context, req Request) (string, string, error) {
	params := make(map[string]any, len(req.UserParams))
	for k, v := range req.UserParams {
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	input := map[string]any{
		"user_text":       req.UserText,
		"user_chars":      utf8.RuneCountInString(req.UserText),
		"max_chars":       a.maxChars,
		"conversation_id": req.ConversationID,
		"params":          params,
	}

	decision, err := evalString(ctx, a.decision, input)
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if decision == "" {
		decision = DecisionAllow
	}
	reason, err := evalString(ctx, a.reason, input)
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	return decision, reason, nil
}

func evalString(ctx context.Context, query rego.PreparedEvalQuery, input map[string]any) (string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", nil
	}
	s, _ := results[0].Expressions[0].Value.(string)
	return s, nil
}

// BeforeCall implements Advisor.
func (a *PolicyAdvisor) BeforeCall(ctx context.Context, req Request) (Request, error) {
	decision, reason, err := a.Evaluate(ctx, req)
	if err != nil {
		return req, err
	}
	if decision == DecisionDeny {
		if reason == "" {
			return req, ErrPolicyDenied
		}
		return req, fmt.Errorf("%w: %s", ErrPolicyDenied, reason)
	}
	return req, nil
}

// AfterCall implements Advisor.
func (a *PolicyAdvisor) AfterCall(_ context.Context, resp Response) (Response, error) {
	return resp, nil
}

var _ Advisor = (*PolicyAdvisor)(nil)
