package counsel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zoobzio/zyn"
)

// KeywordsMetadataKey is the metadata key written by KeywordEnricher.
const KeywordsMetadataKey = "excerpt_keywords"

// documentKeywords is the structured output of keyword extraction.
type documentKeywords struct {
	Keywords []string `json:"keywords"`
}

// Validate implements zyn.Validator.
func (k documentKeywords) Validate() error {
	if len(k.Keywords) == 0 {
		return errors.New("at least one keyword required")
	}
	return nil
}

// KeywordEnricher asks a model for the keywords of each document and stores
// them, comma separated, under KeywordsMetadataKey.
type KeywordEnricher struct {
	provider    Provider
	count       int
	temperature float32
}

// NewKeywordEnricher creates an enricher extracting five keywords per document.
func NewKeywordEnricher(provider Provider) *KeywordEnricher {
	return &KeywordEnricher{
		provider:    provider,
		count:       5,
		temperature: DefaultRewriteTemperature,
	}
}

// WithCount sets the number of keywords per document.
func (e *KeywordEnricher) WithCount(n int) *KeywordEnricher {
	e.count = n
	return e
}

// Transform implements DocumentTransformer. Input documents are not modified.
func (e *KeywordEnricher) Transform(ctx context.Context, docs []Document) ([]Document, error) {
	synapse, err := zyn.Extract[documentKeywords](fmt.Sprintf("the %d most relevant keywords", e.count), e.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create extract synapse: %w", err)
	}

	out := make([]Document, len(docs))
	for i, doc := range docs {
		kw, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.ExtractionInput{
			Text:        doc.Content,
			Temperature: e.temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to extract keywords for document %q: %w", doc.ID, err)
		}
		keywords := kw.Keywords
		if e.count > 0 && len(keywords) > e.count {
			keywords = keywords[:e.count]
		}
		doc.Metadata = doc.Metadata.Clone()
		doc.Metadata[KeywordsMetadataKey] = strings.Join(keywords, ", ")
		out[i] = doc
	}
	return out, nil
}

var _ DocumentTransformer = (*KeywordEnricher)(nil)
