package counsel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// AppConfig configures an App. Only Endpoint is required.
type AppConfig struct {
	// Endpoint answers every chat call.
	Endpoint Endpoint

	// Memory keeps conversation history. Defaults to an InMemory store.
	Memory Memory

	// Embedder and VectorStore enable retrieval in ChatWithRAG.
	Embedder    Embedder
	VectorStore VectorStore

	// Status restricts retrieval to documents of one relationship status and
	// refuses questions the knowledge base cannot answer. Empty retrieves from
	// every document and answers without context when nothing matches.
	Status string

	// Rewriter rewrites RAG questions before the call. Defaults to a
	// RewriteTransformer running on Endpoint.
	Rewriter *Rewriter

	// Tools are offered by ChatWithTools.
	Tools []Tool

	// ReReading adds the re-reading advisor to every call.
	ReReading bool

	// Policy, when set, screens every call before it reaches the endpoint.
	Policy *PolicyAdvisor

	// RetrieveSize is the number of history messages per call. Zero uses
	// DefaultRetrieveSize.
	RetrieveSize int

	// Temperature is passed to the endpoint. Zero uses the endpoint default.
	Temperature float32

	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// App is the love-counselling assistant: a memory-backed advisor chain with
// plain, structured-report, retrieval-augmented and tool-calling variants.
// An App is immutable after construction and safe for concurrent use.
type App struct {
	chain        *Chain
	rewriter     *Rewriter
	retrieval    Advisor
	tools        []Tool
	retrieveSize int
	temperature  float32
	log          logrus.FieldLogger
}

// NewApp builds an App from cfg.
func NewApp(cfg AppConfig) (*App, error) {
	if cfg.Endpoint == nil {
		return nil, ErrNoEndpoint
	}
	if cfg.VectorStore != nil && cfg.Embedder == nil {
		return nil, fmt.Errorf("vector store configured: %w", ErrNoEmbedder)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	mem := cfg.Memory
	if mem == nil {
		mem = NewInMemory()
	}
	retrieveSize := cfg.RetrieveSize
	if retrieveSize <= 0 {
		retrieveSize = DefaultRetrieveSize
	}

	advisors := []Advisor{
		NewMemoryAdvisor(mem).WithRetrieveSize(retrieveSize).WithLogger(log),
	}
	if cfg.ReReading {
		advisors = append(advisors, NewReReadingAdvisor())
	}
	if cfg.Policy != nil {
		advisors = append(advisors, cfg.Policy)
	}

	rewriter := cfg.Rewriter
	if rewriter == nil {
		rewriter = NewRewriter(NewRewriteTransformer(NewEndpointProvider(cfg.Endpoint, "counsel")))
	}

	var retrieval Advisor
	switch {
	case cfg.VectorStore == nil:
	case cfg.Status != "":
		retrieval = NewStatusRetrievalAdvisor(cfg.Embedder, cfg.VectorStore, cfg.Status)
	default:
		retrieval = NewRetrievalAdvisor(NewVectorStoreRetriever(cfg.Embedder, cfg.VectorStore)).
			WithAugmenter(NewContextualAugmenter().WithAllowEmptyContext(true))
	}

	return &App{
		chain:        NewChain(cfg.Endpoint, advisors...).WithLogger(log),
		rewriter:     rewriter,
		retrieval:    retrieval,
		tools:        append([]Tool(nil), cfg.Tools...),
		retrieveSize: retrieveSize,
		temperature:  cfg.Temperature,
		log:          log,
	}, nil
}

// Chain returns the base advisor chain.
func (a *App) Chain() *Chain {
	return a.chain
}

func (a *App) request(message, chatID string) Request {
	req := NewRequest(message, chatID).WithSystemPrompt(SystemPrompt)
	req.RetrieveSize = a.retrieveSize
	req.Temperature = a.temperature
	return req
}

// Chat answers one user turn of a conversation.
func (a *App) Chat(ctx context.Context, message, chatID string) (string, error) {
	resp, err := a.chain.Call(ctx, a.request(message, chatID))
	if err != nil {
		return "", err
	}
	a.log.WithField("conversation_id", chatID).Infof("content: %s", resp.Text)
	return resp.Text, nil
}

// ChatStream answers one user turn as a stream of text fragments. The turn
// is remembered only if the stream is consumed to the end.
func (a *App) ChatStream(ctx context.Context, message, chatID string) (Stream, error) {
	s, err := a.chain.Stream(ctx, a.request(message, chatID))
	if err != nil {
		return nil, err
	}
	return Aggregate(s, func(resp Response) {
		a.log.WithField("conversation_id", chatID).Infof("content: %s", resp.Text)
	}), nil
}

// ChatWithRAG rewrites the question for retrieval and answers it with the
// knowledge base as context. Without a vector store the rewritten question is
// answered directly.
func (a *App) ChatWithRAG(ctx context.Context, message, chatID string) (string, error) {
	rewritten, err := a.rewriter.Rewrite(ctx, message)
	if err != nil {
		return "", err
	}

	extra := []Advisor{NewLoggingAdvisor().WithLogger(a.log)}
	if a.retrieval != nil {
		extra = append(extra, a.retrieval)
	}
	resp, err := a.chain.With(extra...).Call(ctx, a.request(rewritten, chatID))
	if err != nil {
		return "", err
	}
	a.log.WithField("conversation_id", chatID).Infof("content: %s", resp.Text)
	return resp.Text, nil
}

// ChatWithTools answers with the configured tools available to the model.
func (a *App) ChatWithTools(ctx context.Context, message, chatID string) (string, error) {
	req := a.request(message, chatID).WithTools(a.tools...)
	resp, err := a.chain.With(NewLoggingAdvisor().WithLogger(a.log)).Call(ctx, req)
	if err != nil {
		return "", err
	}
	a.log.WithField("conversation_id", chatID).Infof("content: %s", resp.Text)
	return resp.Text, nil
}

// Report is the structured result of ChatWithReport.
type Report struct {
	Title       string   `json:"title" jsonschema:"description=Report title"`
	Suggestions []string `json:"suggestions" jsonschema:"description=Advice for the user"`
}

// Validate checks that the model filled in the report.
func (r Report) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if r.Suggestions == nil {
		return errors.New("suggestions are required")
	}
	return nil
}

// ChatWithReport answers with a titled list of suggestions. Output that does
// not decode into a valid Report fails with a MalformedOutputError.
func (a *App) ChatWithReport(ctx context.Context, message, chatID string) (*Report, error) {
	instructions, err := formatInstructions(&Report{})
	if err != nil {
		return nil, err
	}
	req := a.request(message, chatID).
		WithSystemPrompt(SystemPrompt + ReportInstruction + "\n\n" + instructions)

	resp, err := a.chain.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	report, err := ParseReport(resp.Text)
	if err != nil {
		return nil, err
	}
	a.log.WithField("conversation_id", chatID).Infof("loveReport: %+v", *report)
	return report, nil
}

// ParseReport decodes model output into a Report. A surrounding markdown code
// fence is tolerated.
func ParseReport(raw string) (*Report, error) {
	var r Report
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &r); err != nil {
		return nil, &MalformedOutputError{Raw: raw, Err: err}
	}
	if err := r.Validate(); err != nil {
		return nil, &MalformedOutputError{Raw: raw, Err: err}
	}
	return &r, nil
}

// formatInstructions tells the model to answer with JSON matching v's schema.
func formatInstructions(v any) (string, error) {
	schema, err := json.MarshalIndent(reflectSchema(v), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode output schema: %w", err)
	}
	return "Your response should be in JSON format.\n" +
		"Do not include any explanations, only provide a RFC8259 compliant JSON response following this format without deviation.\n" +
		"Do not include markdown code blocks in your response.\n" +
		"Here is the JSON Schema instance your output must adhere to:\n" +
		string(schema), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
