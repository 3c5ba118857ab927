package counsel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// Query is the unit handled by query transformers.
type Query struct {
	Text    string
	History []Message
}

// QueryTransformer rewrites a query before retrieval.
type QueryTransformer interface {
	Transform(ctx context.Context, q Query) (Query, error)
}

// QueryTransformerFunc adapts a function to QueryTransformer.
type QueryTransformerFunc func(ctx context.Context, q Query) (Query, error)

// Transform implements QueryTransformer.
func (f QueryTransformerFunc) Transform(ctx context.Context, q Query) (Query, error) {
	return f(ctx, q)
}

// DefaultTargetSearchSystem names the system the rewrite prompt optimizes for.
const DefaultTargetSearchSystem = "vector store"

// RewriteTransformer asks an auxiliary model to restate a query so it
// retrieves better: irrelevant detail removed, concise and specific.
type RewriteTransformer struct {
	provider     Provider
	targetSystem string
	temperature  float32
}

// NewRewriteTransformer creates a rewrite transformer backed by provider.
func NewRewriteTransformer(provider Provider) *RewriteTransformer {
	return &RewriteTransformer{
		provider:     provider,
		targetSystem: DefaultTargetSearchSystem,
		temperature:  DefaultRewriteTemperature,
	}
}

// WithTargetSearchSystem sets the system named in the rewrite prompt.
func (t *RewriteTransformer) WithTargetSearchSystem(target string) *RewriteTransformer {
	t.targetSystem = target
	return t
}

// WithTemperature sets the temperature of the rewrite call.
func (t *RewriteTransformer) WithTemperature(temp float32) *RewriteTransformer {
	t.temperature = temp
	return t
}

func (t *RewriteTransformer) prompt() string {
	return fmt.Sprintf("Rewrite the user query to provide better results when querying a %s. "+
		"Remove any irrelevant information, and ensure the query is concise and specific. "+
		"Keep the language of the original query", t.targetSystem)
}

// Transform implements QueryTransformer. Each call uses a fresh session, so
// rewrites never see one another.
func (t *RewriteTransformer) Transform(ctx context.Context, q Query) (Query, error) {
	if strings.TrimSpace(q.Text) == "" {
		return q, ErrEmptyQuery
	}

	synapse, err := zyn.Transform(t.prompt(), t.provider)
	if err != nil {
		return q, fmt.Errorf("failed to create transform synapse: %w", err)
	}

	rewritten, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.TransformInput{
		Text:        q.Text,
		Context:     renderHistory(q.History),
		Temperature: t.temperature,
	})
	if err != nil {
		return q, fmt.Errorf("transform synapse execution failed: %w", err)
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return q, errors.New("model returned an empty rewrite")
	}
	q.Text = rewritten
	return q, nil
}

// renderHistory formats conversation history as plain context text.
func renderHistory(history []Message) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range history {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Rewriter turns raw user text into a retrieval-optimized query. It holds no
// state between calls and never falls back to the raw text on failure.
type Rewriter struct {
	transformer QueryTransformer
}

// NewRewriter creates a rewriter around a transformer.
func NewRewriter(transformer QueryTransformer) *Rewriter {
	return &Rewriter{transformer: transformer}
}

// Rewrite transforms raw into a retrieval query.
func (r *Rewriter) Rewrite(ctx context.Context, raw string) (string, error) {
	q, err := r.transformer.Transform(ctx, Query{Text: raw})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrQueryRewrite, err)
	}
	capitan.Emit(ctx, QueryRewritten,
		FieldQuery.Field(raw),
		FieldRewritten.Field(q.Text),
	)
	return q.Text, nil
}

// queryVariants is the structured output of query expansion.
type queryVariants struct {
	Queries []string `json:"queries"`
}

// Validate implements zyn.Validator.
func (v queryVariants) Validate() error {
	for _, q := range v.Queries {
		if strings.TrimSpace(q) != "" {
			return nil
		}
	}
	return errors.New("at least one query variant required")
}

// MultiQueryExpander generates alternative phrasings of a query so retrieval
// can cover several perspectives of the same question.
type MultiQueryExpander struct {
	provider        Provider
	count           int
	includeOriginal bool
	temperature     float32
}

// NewMultiQueryExpander creates an expander producing three variants.
func NewMultiQueryExpander(provider Provider) *MultiQueryExpander {
	return &MultiQueryExpander{
		provider:    provider,
		count:       3,
		temperature: DefaultExpansionTemperature,
	}
}

// WithCount sets the number of variants to generate.
func (e *MultiQueryExpander) WithCount(n int) *MultiQueryExpander {
	e.count = n
	return e
}

// WithOriginal includes the original query as the first result.
func (e *MultiQueryExpander) WithOriginal(include bool) *MultiQueryExpander {
	e.includeOriginal = include
	return e
}

// Expand returns query variants, at most count of them plus the original
// when requested.
func (e *MultiQueryExpander) Expand(ctx context.Context, raw string) ([]Query, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyQuery
	}

	synapse, err := zyn.Extract[queryVariants]("alternative phrasings of a search query", e.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create extract synapse: %w", err)
	}

	variants, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.ExtractionInput{
		Text: fmt.Sprintf("Generate %d different versions of the query below, each covering a different "+
			"perspective of the same question, to improve document retrieval.\nOriginal query: %s", e.count, raw),
		Temperature: e.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("extract synapse execution failed: %w", err)
	}

	var out []Query
	if e.includeOriginal {
		out = append(out, Query{Text: raw})
	}
	n := 0
	for _, v := range variants.Queries {
		v = strings.TrimSpace(v)
		if v == "" || n == e.count {
			continue
		}
		out = append(out, Query{Text: v})
		n++
	}
	return out, nil
}
