package counsel

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestRejected is returned when a before hook refuses a request.
	// The endpoint is never invoked for a rejected request.
	ErrRequestRejected = errors.New("request rejected")

	// ErrEndpoint wraps failures reported by the model endpoint.
	ErrEndpoint = errors.New("model endpoint failed")

	// ErrPersistence wraps memory store read and write failures.
	ErrPersistence = errors.New("persistence failed")

	// ErrMalformedOutput is returned when a structured response cannot be parsed.
	ErrMalformedOutput = errors.New("malformed structured output")

	// ErrQueryRewrite wraps failures of the auxiliary rewrite call.
	ErrQueryRewrite = errors.New("query rewrite failed")

	// ErrEmptyQuery is returned when a query transformer receives blank text.
	ErrEmptyQuery = errors.New("empty query")

	// ErrStreamConsumed is yielded when a single-pass stream is ranged over twice.
	ErrStreamConsumed = errors.New("stream already consumed")

	// ErrNoEndpoint is returned when a chain or app is built without an endpoint.
	ErrNoEndpoint = errors.New("no model endpoint configured")

	// ErrNoEmbedder is returned when no embedder is configured.
	ErrNoEmbedder = errors.New("no embedder configured")

	// ErrConversationChanged is the cause recorded when a hook rewrites the conversation id.
	ErrConversationChanged = errors.New("conversation id changed by advisor")
)

// RejectedError reports which advisor refused a request.
type RejectedError struct {
	Advisor string
	Err     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: advisor %q: %v", ErrRequestRejected, e.Advisor, e.Err)
}

// Unwrap returns the advisor's underlying error.
func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRequestRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRequestRejected
}

// MalformedOutputError carries the raw model text that failed to parse.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedOutput, e.Err)
}

// Unwrap returns the parse or validation error.
func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedOutput.
func (e *MalformedOutputError) Is(target error) bool {
	return target == ErrMalformedOutput
}
