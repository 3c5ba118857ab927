package counsel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Retrieval is the state carried through a retrieval pipeline for one call.
type Retrieval struct {
	// Original is the user text before any stage ran.
	Original string

	// Query is the query used for retrieval; rewrite stages replace it.
	Query Query

	// Documents are the ranked results of the retrieve stage.
	Documents []RetrievedDocument

	// Augmented is the user text sent to the model.
	Augmented string

	// Empty reports that no document was found.
	Empty bool
}

// RewriteStage rewrites the retrieval query. The augmented prompt quotes the
// rewritten query.
func RewriteStage(transformer QueryTransformer) pipz.Processor[*Retrieval] {
	return Stage("rewrite", func(ctx context.Context, r *Retrieval) (*Retrieval, error) {
		q, err := transformer.Transform(ctx, r.Query)
		if err != nil {
			return r, fmt.Errorf("%w: %w", ErrQueryRewrite, err)
		}
		capitan.Emit(ctx, QueryRewritten,
			FieldQuery.Field(r.Query.Text),
			FieldRewritten.Field(q.Text),
		)
		r.Query = q
		return r, nil
	})
}

// RetrieveStage fills Documents from a retriever.
func RetrieveStage(retriever DocumentRetriever) pipz.Processor[*Retrieval] {
	return Stage("retrieve", func(ctx context.Context, r *Retrieval) (*Retrieval, error) {
		docs, err := retriever.Retrieve(ctx, r.Query)
		if err != nil {
			return r, err
		}
		r.Documents = docs
		return r, nil
	})
}

// AugmentStage renders Documents into the user text.
func AugmentStage(augmenter QueryAugmenter) pipz.Processor[*Retrieval] {
	return Stage("augment", func(ctx context.Context, r *Retrieval) (*Retrieval, error) {
		text, empty, err := augmenter.Augment(ctx, r.Query, r.Documents)
		if err != nil {
			return r, err
		}
		r.Augmented = text
		r.Empty = empty
		return r, nil
	})
}

// RetrievalAdvisor augments the user turn with retrieved context. Its pipeline
// runs an optional rewrite, the retrieval, and the augmentation. When nothing
// is retrieved the augmenter decides between refusing and passing through;
// neither case is an error.
type RetrievalAdvisor struct {
	name        string
	order       int
	retriever   DocumentRetriever
	transformer QueryTransformer
	augmenter   QueryAugmenter
	attempts    int
	baseDelay   time.Duration
	timeout     time.Duration
	pipeline    pipz.Chainable[*Retrieval]
}

// NewRetrievalAdvisor creates a retrieval advisor with a refusing
// ContextualAugmenter.
func NewRetrievalAdvisor(retriever DocumentRetriever) *RetrievalAdvisor {
	return &RetrievalAdvisor{
		name:      "retrieval",
		order:     OrderRetrieval,
		retriever: retriever,
		augmenter: NewContextualAugmenter(),
		attempts:  1,
	}
}

// WithName sets the advisor name.
func (a *RetrievalAdvisor) WithName(name string) *RetrievalAdvisor {
	a.name = name
	return a
}

// WithOrder sets the chain position.
func (a *RetrievalAdvisor) WithOrder(order int) *RetrievalAdvisor {
	a.order = order
	return a
}

// WithQueryTransformer rewrites the query before retrieval.
func (a *RetrievalAdvisor) WithQueryTransformer(t QueryTransformer) *RetrievalAdvisor {
	a.transformer = t
	return a
}

// WithAugmenter replaces the augmenter.
func (a *RetrievalAdvisor) WithAugmenter(aug QueryAugmenter) *RetrievalAdvisor {
	a.augmenter = aug
	return a
}

// WithBackoff retries failed retrievals with exponential backoff.
func (a *RetrievalAdvisor) WithBackoff(attempts int, baseDelay time.Duration) *RetrievalAdvisor {
	a.attempts = attempts
	a.baseDelay = baseDelay
	return a
}

// WithTimeout bounds the whole pipeline.
func (a *RetrievalAdvisor) WithTimeout(d time.Duration) *RetrievalAdvisor {
	a.timeout = d
	return a
}

// WithPipeline replaces the built-in pipeline. The pipeline must set
// Augmented; Documents and Empty are reported through signals.
func (a *RetrievalAdvisor) WithPipeline(p pipz.Chainable[*Retrieval]) *RetrievalAdvisor {
	a.pipeline = p
	return a
}

// Pipeline returns the pipeline the advisor runs.
func (a *RetrievalAdvisor) Pipeline() pipz.Chainable[*Retrieval] {
	if a.pipeline != nil {
		return a.pipeline
	}

	var retrieve pipz.Chainable[*Retrieval] = RetrieveStage(a.retriever)
	if a.attempts > 1 {
		retrieve = Backoff("retrieve-backoff", retrieve, a.attempts, a.baseDelay)
	}

	stages := make([]pipz.Chainable[*Retrieval], 0, 3)
	if a.transformer != nil {
		stages = append(stages, RewriteStage(a.transformer))
	}
	stages = append(stages, retrieve, AugmentStage(a.augmenter))

	var p pipz.Chainable[*Retrieval] = Sequence(a.name, stages...)
	if a.timeout > 0 {
		p = Timeout(a.name+"-timeout", p, a.timeout)
	}
	return p
}

// Name implements Advisor.
func (a *RetrievalAdvisor) Name() string { return a.name }

// Order implements Advisor.
func (a *RetrievalAdvisor) Order() int { return a.order }

// BeforeCall implements Advisor.
func (a *RetrievalAdvisor) BeforeCall(ctx context.Context, req Request) (Request, error) {
	// Search on the user's own words, not the re-read form of them.
	original := req.UserText
	reread := false
	if q := req.StringParam(ReReadInputKey); q != "" {
		original, reread = q, true
	}
	state := &Retrieval{
		Original: original,
		Query:    Query{Text: original, History: req.Messages},
	}

	result, err := a.Pipeline().Process(ctx, state)
	if err != nil {
		var perr *pipz.Error[*Retrieval]
		if errors.As(err, &perr) && perr.Err != nil {
			err = perr.Err
		}
		return req, err
	}

	if result.Empty {
		capitan.Emit(ctx, RetrievalEmpty,
			FieldConversationID.Field(req.ConversationID),
			FieldQuery.Field(result.Query.Text),
		)
	} else {
		capitan.Emit(ctx, DocumentsRetrieved,
			FieldConversationID.Field(req.ConversationID),
			FieldQuery.Field(result.Query.Text),
			FieldDocumentCount.Field(len(result.Documents)),
			FieldTopScore.Field(topScore(result.Documents)),
		)
	}

	augmented := result.Augmented
	if augmented == "" {
		augmented = original
	}
	refused := result.Empty && augmented != result.Query.Text
	if reread && !refused {
		augmented += "\n" + reReadMarker + " " + original
	}
	return req.
		WithUserText(augmented).
		WithDocuments(result.Documents), nil
}

// AfterCall implements Advisor.
func (a *RetrievalAdvisor) AfterCall(_ context.Context, resp Response) (Response, error) {
	return resp, nil
}

func topScore(docs []RetrievedDocument) float32 {
	if len(docs) == 0 {
		return 0
	}
	return docs[0].Score
}

// NewStatusRetrievalAdvisor builds the counselling knowledge-base advisor:
// documents restricted to one relationship status, threshold 0.5, top 3, and
// a refusal when nothing matches.
func NewStatusRetrievalAdvisor(embedder Embedder, store VectorStore, status string) *RetrievalAdvisor {
	retriever := NewVectorStoreRetriever(embedder, store).
		WithFilter(Eq("status", status)).
		WithSimilarityThreshold(0.5).
		WithTopK(3)
	augmenter := NewContextualAugmenter().
		WithAllowEmptyContext(false).
		WithEmptyContextTemplate(RefusalTemplate)
	return NewRetrievalAdvisor(retriever).
		WithName("status-retrieval").
		WithAugmenter(augmenter)
}

var _ Advisor = (*RetrievalAdvisor)(nil)
