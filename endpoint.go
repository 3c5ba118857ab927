package counsel

import "context"

// Endpoint is the model invocation at the center of an advisor chain.
type Endpoint interface {
	// Call performs a blocking completion for the assembled prompt.
	Call(ctx context.Context, req Request) (Response, error)

	// Stream performs a streaming completion. Failures are yielded through the
	// stream; nothing is sent to the model until the stream is ranged over.
	Stream(ctx context.Context, req Request) Stream
}

// EndpointFunc adapts a blocking function to an Endpoint. Its Stream yields the
// whole response as a single fragment.
type EndpointFunc func(ctx context.Context, req Request) (Response, error)

// Call implements Endpoint.
func (f EndpointFunc) Call(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Stream implements Endpoint.
func (f EndpointFunc) Stream(ctx context.Context, req Request) Stream {
	return NewStream(func(yield func(Response, error) bool) {
		resp, err := f(ctx, req)
		if err != nil {
			yield(Response{}, err)
			return
		}
		yield(resp, nil)
	})
}

var _ Endpoint = EndpointFunc(nil)
