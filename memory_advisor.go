package counsel

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/capitan"
)

// turnTextKey holds the user turn as it should be remembered.
const turnTextKey = "counsel.memory.turn_text"

// MemoryAdvisor injects conversation history before the call and records the
// completed turn afterwards. Store failures never fail the call: they are
// logged, signalled, and the call continues without history.
type MemoryAdvisor struct {
	memory       Memory
	retrieveSize int
	order        int
	log          logrus.FieldLogger
}

// NewMemoryAdvisor creates a memory advisor over a store.
func NewMemoryAdvisor(memory Memory) *MemoryAdvisor {
	return &MemoryAdvisor{
		memory:       memory,
		retrieveSize: DefaultRetrieveSize,
		order:        OrderMemory,
		log:          logrus.StandardLogger(),
	}
}

// WithRetrieveSize sets the history size used when a request does not carry one.
func (a *MemoryAdvisor) WithRetrieveSize(n int) *MemoryAdvisor {
	a.retrieveSize = n
	return a
}

// WithOrder sets the chain position.
func (a *MemoryAdvisor) WithOrder(order int) *MemoryAdvisor {
	a.order = order
	return a
}

// WithLogger sets the logger used for persistence failures.
func (a *MemoryAdvisor) WithLogger(l logrus.FieldLogger) *MemoryAdvisor {
	a.log = l
	return a
}

// Name implements Advisor.
func (a *MemoryAdvisor) Name() string { return "memory" }

// Order implements Advisor.
func (a *MemoryAdvisor) Order() int { return a.order }

// BeforeCall implements Advisor.
func (a *MemoryAdvisor) BeforeCall(ctx context.Context, req Request) (Request, error) {
	// The re-reading advisor keeps the user's own words under ReReadInputKey;
	// those are what belong in the log.
	turn := req.UserText
	if original := req.StringParam(ReReadInputKey); original != "" {
		turn = original
	}
	req = req.WithParam(turnTextKey, turn)

	size := req.RetrieveSize
	if size <= 0 {
		size = a.retrieveSize
	}

	history, err := a.memory.Load(ctx, req.ConversationID, size)
	if err != nil {
		a.persistenceFailed(ctx, req.ConversationID, "load", err)
		return req.WithMessages(nil), nil
	}

	capitan.Emit(ctx, MemoryLoaded,
		FieldConversationID.Field(req.ConversationID),
		FieldMessageCount.Field(len(history)),
	)
	return req.WithMessages(history), nil
}

// AfterCall implements Advisor. The user and assistant messages are appended
// in a single call so they are stored together or not at all.
func (a *MemoryAdvisor) AfterCall(ctx context.Context, resp Response) (Response, error) {
	req := resp.Request
	turn := req.StringParam(turnTextKey)
	if turn == "" {
		turn = req.UserText
	}

	now := time.Now().UTC()
	err := a.memory.Append(ctx, req.ConversationID,
		Message{Role: RoleUser, Text: turn, Timestamp: now},
		Message{Role: RoleAssistant, Text: resp.Text, Timestamp: now},
	)
	if err != nil {
		a.persistenceFailed(ctx, req.ConversationID, "append", err)
		return resp, nil
	}

	capitan.Emit(ctx, MemoryAppended,
		FieldConversationID.Field(req.ConversationID),
		FieldMessageCount.Field(2),
	)
	return resp, nil
}

func (a *MemoryAdvisor) persistenceFailed(ctx context.Context, conversationID, op string, err error) {
	capitan.Error(ctx, PersistenceFailed,
		FieldConversationID.Field(conversationID),
		FieldStore.Field(op),
		FieldError.Field(err),
	)
	a.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"op":              op,
	}).WithError(err).Error("memory store failed")
}

var _ Advisor = (*MemoryAdvisor)(nil)
