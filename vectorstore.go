package counsel

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// SearchOptions bounds a similarity search.
type SearchOptions struct {
	// TopK is the maximum number of results. Zero uses DefaultTopK.
	TopK int

	// SimilarityThreshold drops results scoring below it.
	SimilarityThreshold float32

	// Filter restricts the candidates before scoring.
	Filter Filter
}

func (o SearchOptions) topK() int {
	if o.TopK <= 0 {
		return DefaultTopK
	}
	return o.TopK
}

// VectorStore indexes documents by embedding and answers similarity searches.
// Results are ordered by descending score, hold at most TopK documents, never
// score below the threshold, and always satisfy the filter.
type VectorStore interface {
	// Add embeds and stores documents.
	Add(ctx context.Context, docs ...Document) error

	// Search returns the documents most similar to the query vector.
	Search(ctx context.Context, query Vector, opts SearchOptions) ([]RetrievedDocument, error)
}

// SimpleVectorStore is an in-process vector store using cosine similarity.
type SimpleVectorStore struct {
	embedder Embedder
	mu       sync.RWMutex
	entries  []simpleEntry
}

type simpleEntry struct {
	doc    Document
	vector Vector
}

// NewSimpleVectorStore creates an empty in-process store. The embedder is
// used by Add; it may be nil when documents are only added with Put.
func NewSimpleVectorStore(embedder Embedder) *SimpleVectorStore {
	return &SimpleVectorStore{embedder: embedder}
}

// Add implements VectorStore.
func (s *SimpleVectorStore) Add(ctx context.Context, docs ...Document) error {
	if s.embedder == nil {
		return ErrNoEmbedder
	}
	entries := make([]simpleEntry, 0, len(docs))
	for _, doc := range docs {
		v, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("failed to embed document %q: %w", doc.ID, err)
		}
		entries = append(entries, simpleEntry{doc: normalizeDocument(doc), vector: v})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// Put stores a document with a precomputed vector.
func (s *SimpleVectorStore) Put(doc Document, v Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, simpleEntry{doc: normalizeDocument(doc), vector: v})
}

// Len returns the number of stored documents.
func (s *SimpleVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search implements VectorStore.
func (s *SimpleVectorStore) Search(_ context.Context, query Vector, opts SearchOptions) ([]RetrievedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []RetrievedDocument
	for _, e := range s.entries {
		if !e.doc.Metadata.Matches(opts.Filter) {
			continue
		}
		score := query.Cosine(e.vector)
		if score < opts.SimilarityThreshold {
			continue
		}
		results = append(results, RetrievedDocument{
			ID:       e.doc.ID,
			Content:  e.doc.Content,
			Metadata: e.doc.Metadata.Clone(),
			Score:    score,
		})
	}
	return rank(results, opts.topK()), nil
}

// rank orders results by descending score, keeping insertion order on ties,
// and truncates to k.
func rank(results []RetrievedDocument, k int) []RetrievedDocument {
	slices.SortStableFunc(results, func(a, b RetrievedDocument) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func normalizeDocument(doc Document) Document {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Metadata = doc.Metadata.Clone()
	return doc
}

var _ VectorStore = (*SimpleVectorStore)(nil)
