package counsel

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// -----------------------------------------------------------------------------
// Retrieval Stages - wrap functions to create retrieval processors
// -----------------------------------------------------------------------------

// Stage creates a retrieval processor from a function that can fail.
//
// Example:
//
//	dedupe := counsel.Stage("dedupe", func(ctx context.Context, r *counsel.Retrieval) (*counsel.Retrieval, error) {
//	    r.Documents = uniqueByID(r.Documents)
//	    return r, nil
//	})
func Stage(name string, fn func(context.Context, *Retrieval) (*Retrieval, error)) pipz.Processor[*Retrieval] {
	return pipz.Apply(pipz.NewIdentity(name, "retrieval stage"), fn)
}

// Observe creates a processor that inspects a retrieval without changing it.
// Use this for logging or metrics.
//
// Example:
//
//	trace := counsel.Observe("trace", func(ctx context.Context, r *counsel.Retrieval) error {
//	    log.Printf("query %q matched %d documents", r.Query.Text, len(r.Documents))
//	    return nil
//	})
func Observe(name string, fn func(context.Context, *Retrieval) error) pipz.Processor[*Retrieval] {
	return pipz.Effect(pipz.NewIdentity(name, "retrieval observer"), fn)
}

// Enrich creates a processor whose failures are ignored. The retrieval passes
// through unchanged when fn fails.
//
// Example:
//
//	expand := counsel.Enrich("expand-query", func(ctx context.Context, r *counsel.Retrieval) (*counsel.Retrieval, error) {
//	    return addSynonyms(ctx, r)
//	})
func Enrich(name string, fn func(context.Context, *Retrieval) (*Retrieval, error)) pipz.Processor[*Retrieval] {
	return pipz.Enrich(pipz.NewIdentity(name, "optional retrieval stage"), fn)
}

// -----------------------------------------------------------------------------
// Connectors - compose and harden retrieval stages
// -----------------------------------------------------------------------------

// Sequence creates a sequential retrieval pipeline. Each processor receives
// the output of the previous one.
//
// Example:
//
//	pipeline := counsel.Sequence("rag",
//	    counsel.RewriteStage(transformer),
//	    counsel.RetrieveStage(retriever),
//	    counsel.AugmentStage(augmenter),
//	)
func Sequence(name string, processors ...pipz.Chainable[*Retrieval]) *pipz.Sequence[*Retrieval] {
	return pipz.NewSequence(pipz.NewIdentity(name, "retrieval pipeline"), processors...)
}

// Retry creates a processor that retries on failure up to maxAttempts times.
// Immediate retry without delay - for backoff, use Backoff instead.
func Retry(name string, processor pipz.Chainable[*Retrieval], maxAttempts int) *pipz.Retry[*Retrieval] {
	return pipz.NewRetry(pipz.NewIdentity(name, "retries a retrieval stage"), processor, maxAttempts)
}

// Backoff creates a processor that retries with exponential backoff.
//
// Example:
//
//	resilient := counsel.Backoff("retrieve", counsel.RetrieveStage(retriever), 3, 200*time.Millisecond)
func Backoff(name string, processor pipz.Chainable[*Retrieval], maxAttempts int, baseDelay time.Duration) *pipz.Backoff[*Retrieval] {
	return pipz.NewBackoff(pipz.NewIdentity(name, "retries a retrieval stage with backoff"), processor, maxAttempts, baseDelay)
}

// Timeout creates a processor that enforces a time limit on execution.
func Timeout(name string, processor pipz.Chainable[*Retrieval], duration time.Duration) *pipz.Timeout[*Retrieval] {
	return pipz.NewTimeout(pipz.NewIdentity(name, "bounds a retrieval stage"), processor, duration)
}

// Fallback creates a processor that tries alternatives on failure, in order,
// until one succeeds.
//
// Example:
//
//	retrieve := counsel.Fallback("retrieve",
//	    counsel.RetrieveStage(pgRetriever),
//	    counsel.RetrieveStage(localRetriever),
//	)
func Fallback(name string, processors ...pipz.Chainable[*Retrieval]) *pipz.Fallback[*Retrieval] {
	return pipz.NewFallback(pipz.NewIdentity(name, "tries retrieval stages in order"), processors...)
}
