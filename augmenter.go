package counsel

import (
	"context"
	"strings"
)

// DefaultContextTemplate frames retrieved context around the query. It uses
// the {context} and {query} placeholders.
const DefaultContextTemplate = `Context information is below.

---------------------
{context}
---------------------

Given the context information and no prior knowledge, answer the query.

Follow these rules:

1. If the answer is not in the context, just say that you don't know.
2. Avoid statements like "Based on the context..." or "The provided information...".

Query: {query}

Answer:
`

// DefaultEmptyContextTemplate replaces the query when nothing was retrieved
// and empty context is not allowed.
const DefaultEmptyContextTemplate = `The user query is outside your knowledge base.
Politely inform the user that you can't answer it.
`

// QueryAugmenter folds retrieved documents into the query sent to the model.
type QueryAugmenter interface {
	// Augment returns the augmented query text. empty reports that no
	// document was available.
	Augment(ctx context.Context, q Query, docs []RetrievedDocument) (text string, empty bool, err error)
}

// ContextualAugmenter renders documents into a prompt template. When no
// document is available it either refuses, by replacing the query with the
// empty-context template, or passes the query through unchanged.
type ContextualAugmenter struct {
	template      string
	emptyTemplate string
	allowEmpty    bool
}

// NewContextualAugmenter creates an augmenter that refuses on empty context.
func NewContextualAugmenter() *ContextualAugmenter {
	return &ContextualAugmenter{
		template:      DefaultContextTemplate,
		emptyTemplate: DefaultEmptyContextTemplate,
	}
}

// WithTemplate sets the context template.
func (a *ContextualAugmenter) WithTemplate(tmpl string) *ContextualAugmenter {
	a.template = tmpl
	return a
}

// WithEmptyContextTemplate sets the refusal template.
func (a *ContextualAugmenter) WithEmptyContextTemplate(tmpl string) *ContextualAugmenter {
	a.emptyTemplate = tmpl
	return a
}

// WithAllowEmptyContext lets queries through unchanged when nothing was retrieved.
func (a *ContextualAugmenter) WithAllowEmptyContext(allow bool) *ContextualAugmenter {
	a.allowEmpty = allow
	return a
}

// Augment implements QueryAugmenter.
func (a *ContextualAugmenter) Augment(_ context.Context, q Query, docs []RetrievedDocument) (string, bool, error) {
	if len(docs) == 0 {
		if a.allowEmpty {
			return q.Text, true, nil
		}
		return strings.ReplaceAll(a.emptyTemplate, "{query}", q.Text), true, nil
	}

	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.NewReplacer(
		"{context}", strings.Join(parts, "\n"),
		"{query}", q.Text,
	).Replace(a.template), false, nil
}

var _ QueryAugmenter = (*ContextualAugmenter)(nil)
