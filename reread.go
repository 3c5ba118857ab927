package counsel

import (
	"context"
	"strings"
)

// ReReadInputKey is the request parameter holding the user's original text
// after the re-reading advisor has rewritten it.
const ReReadInputKey = "re2_input_query"

// reReadMarker separates the two copies of the question.
const reReadMarker = "Read the question again:"

// ReReadingAdvisor asks the model to read the question twice, which improves
// reasoning on longer questions. Requests already in the re-read form pass
// through unchanged.
type ReReadingAdvisor struct {
	order int
}

// NewReReadingAdvisor creates a re-reading advisor. Its default order runs it
// before the memory advisor.
func NewReReadingAdvisor() *ReReadingAdvisor {
	return &ReReadingAdvisor{order: OrderReReading}
}

// WithOrder sets the chain position.
func (a *ReReadingAdvisor) WithOrder(order int) *ReReadingAdvisor {
	a.order = order
	return a
}

// Name implements Advisor.
func (a *ReReadingAdvisor) Name() string { return "re-reading" }

// Order implements Advisor.
func (a *ReReadingAdvisor) Order() int { return a.order }

// BeforeCall implements Advisor.
func (a *ReReadingAdvisor) BeforeCall(_ context.Context, req Request) (Request, error) {
	if strings.Contains(req.UserText, reReadMarker) {
		return req, nil
	}
	original := req.UserText
	return req.
		WithParam(ReReadInputKey, original).
		WithUserText(ReRead(original)), nil
}

// AfterCall implements Advisor.
func (a *ReReadingAdvisor) AfterCall(_ context.Context, resp Response) (Response, error) {
	return resp, nil
}

// ReRead renders the re-reading template for a question.
func ReRead(question string) string {
	return question + "\n" + reReadMarker + " " + question
}

var _ Advisor = (*ReReadingAdvisor)(nil)
