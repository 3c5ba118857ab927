package counsel

import (
	"context"
	"fmt"
)

// DocumentRetriever finds documents relevant to a query.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, q Query) ([]RetrievedDocument, error)
}

// VectorStoreRetriever embeds the query and searches a vector store.
type VectorStoreRetriever struct {
	embedder  Embedder
	store     VectorStore
	topK      int
	threshold float32
	filter    Filter
}

// NewVectorStoreRetriever creates a retriever with DefaultTopK and
// DefaultSimilarityThreshold.
func NewVectorStoreRetriever(embedder Embedder, store VectorStore) *VectorStoreRetriever {
	return &VectorStoreRetriever{
		embedder:  embedder,
		store:     store,
		topK:      DefaultTopK,
		threshold: DefaultSimilarityThreshold,
	}
}

// WithTopK sets the maximum number of documents returned.
func (r *VectorStoreRetriever) WithTopK(k int) *VectorStoreRetriever {
	r.topK = k
	return r
}

// WithSimilarityThreshold sets the minimum score.
func (r *VectorStoreRetriever) WithSimilarityThreshold(t float32) *VectorStoreRetriever {
	r.threshold = t
	return r
}

// WithFilter restricts candidates by metadata equality.
func (r *VectorStoreRetriever) WithFilter(f Filter) *VectorStoreRetriever {
	r.filter = f
	return r
}

// Retrieve implements DocumentRetriever.
func (r *VectorStoreRetriever) Retrieve(ctx context.Context, q Query) ([]RetrievedDocument, error) {
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	v, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	opts := SearchOptions{TopK: r.topK, SimilarityThreshold: r.threshold, Filter: r.filter}
	docs, err := r.store.Search(ctx, v, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	// Re-apply the bounds for stores that do not enforce them.
	kept := docs[:0:0]
	for _, d := range docs {
		if d.Score >= opts.SimilarityThreshold && d.Metadata.Matches(opts.Filter) {
			kept = append(kept, d)
		}
	}
	return rank(kept, opts.topK()), nil
}

var _ DocumentRetriever = (*VectorStoreRetriever)(nil)
