package counsel

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LoggingAdvisor logs the user text before the call and the response text
// after it. It never changes the request or the response.
type LoggingAdvisor struct {
	log   logrus.FieldLogger
	order int
}

// NewLoggingAdvisor creates a logging advisor writing to the standard logrus logger.
func NewLoggingAdvisor() *LoggingAdvisor {
	return &LoggingAdvisor{
		log:   logrus.StandardLogger(),
		order: OrderLogging,
	}
}

// WithLogger sets the destination logger.
func (a *LoggingAdvisor) WithLogger(l logrus.FieldLogger) *LoggingAdvisor {
	a.log = l
	return a
}

// WithOrder sets the chain position.
func (a *LoggingAdvisor) WithOrder(order int) *LoggingAdvisor {
	a.order = order
	return a
}

// Name implements Advisor.
func (a *LoggingAdvisor) Name() string { return "logging" }

// Order implements Advisor.
func (a *LoggingAdvisor) Order() int { return a.order }

// BeforeCall implements Advisor.
func (a *LoggingAdvisor) BeforeCall(_ context.Context, req Request) (Request, error) {
	a.log.WithField("conversation_id", req.ConversationID).Infof("AI Request: %s", req.UserText)
	return req, nil
}

// AfterCall implements Advisor.
func (a *LoggingAdvisor) AfterCall(_ context.Context, resp Response) (Response, error) {
	a.log.WithField("conversation_id", resp.Request.ConversationID).Infof("AI Response: %s", resp.Text)
	return resp, nil
}

var _ Advisor = (*LoggingAdvisor)(nil)
