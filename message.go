package counsel

import (
	"maps"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation entry. Messages are never modified once
// they have been appended to a memory store.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserMessage creates a user message stamped with the current time.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// AssistantMessage creates an assistant message stamped with the current time.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Text: text, Timestamp: time.Now().UTC()}
}

// SystemMessage creates a system message stamped with the current time.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text, Timestamp: time.Now().UTC()}
}

// Request is the input handed through the advisor chain. Advisors receive a
// Request by value and return a new one; the With helpers copy the maps and
// slices they touch so earlier values are never mutated.
type Request struct {
	// UserText is the user's turn, possibly rewritten by advisors.
	UserText string

	// SystemPrompt is prepended to every prompt.
	SystemPrompt string

	// UserParams carries advisor parameters and template variables.
	UserParams map[string]any

	// ConversationID identifies the memory conversation. Advisors may not change it.
	ConversationID string

	// RetrieveSize is the number of history messages to inject.
	RetrieveSize int

	// Messages holds conversation history injected by the memory advisor.
	Messages []Message

	// Documents holds context retrieved by the retrieval advisor.
	Documents []RetrievedDocument

	// Tools are offered to the endpoint for tool calling.
	Tools []Tool

	// Temperature is passed to the endpoint. Zero uses the endpoint default.
	Temperature float32
}

// NewRequest creates a request for a user turn in a conversation.
func NewRequest(userText, conversationID string) Request {
	return Request{
		UserText:       userText,
		ConversationID: conversationID,
		RetrieveSize:   DefaultRetrieveSize,
	}
}

// WithUserText returns a copy with the user text replaced.
func (r Request) WithUserText(text string) Request {
	r.UserText = text
	return r
}

// WithSystemPrompt returns a copy with the system prompt replaced.
func (r Request) WithSystemPrompt(prompt string) Request {
	r.SystemPrompt = prompt
	return r
}

// WithParam returns a copy with a user parameter set.
func (r Request) WithParam(key string, value any) Request {
	params := make(map[string]any, len(r.UserParams)+1)
	maps.Copy(params, r.UserParams)
	params[key] = value
	r.UserParams = params
	return r
}

// Param returns a user parameter.
func (r Request) Param(key string) (any, bool) {
	v, ok := r.UserParams[key]
	return v, ok
}

// StringParam returns a user parameter as a string, or "" when absent.
func (r Request) StringParam(key string) string {
	s, _ := r.UserParams[key].(string)
	return s
}

// WithMessages returns a copy with the injected history replaced.
func (r Request) WithMessages(messages []Message) Request {
	r.Messages = append([]Message(nil), messages...)
	return r
}

// WithDocuments returns a copy with the retrieved documents replaced.
func (r Request) WithDocuments(docs []RetrievedDocument) Request {
	r.Documents = append([]RetrievedDocument(nil), docs...)
	return r
}

// WithTools returns a copy offering the given tools.
func (r Request) WithTools(tools ...Tool) Request {
	r.Tools = append(append([]Tool(nil), r.Tools...), tools...)
	return r
}

// Prompt assembles the message list sent to the endpoint: the system prompt,
// then injected history, then the user turn. UserParams are substituted into
// the system prompt and user text as {name} placeholders.
func (r Request) Prompt() []Message {
	prompt := make([]Message, 0, len(r.Messages)+2)
	if r.SystemPrompt != "" {
		prompt = append(prompt, Message{Role: RoleSystem, Text: render(r.SystemPrompt, r.UserParams)})
	}
	prompt = append(prompt, r.Messages...)
	prompt = append(prompt, Message{Role: RoleUser, Text: render(r.UserText, r.UserParams)})
	return prompt
}

// render replaces {name} placeholders for string parameters only. Unknown
// placeholders, such as {用户名} in a system prompt, are left as written.
func render(text string, params map[string]any) string {
	if len(params) == 0 || !strings.Contains(text, "{") {
		return text
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		s, ok := v.(string)
		if !ok || strings.HasPrefix(k, "counsel.") {
			continue
		}
		pairs = append(pairs, "{"+k+"}", s)
	}
	if len(pairs) == 0 {
		return text
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Usage reports token consumption for an endpoint call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the endpoint result handed back through after hooks. During
// streaming each fragment is a Response carrying a slice of the text.
type Response struct {
	// Text is the model output.
	Text string

	// Raw holds the provider metadata of the response, if any.
	Raw map[string]any

	// Usage is populated when the provider reports it.
	Usage Usage

	// FinishReason is the provider's stop reason.
	FinishReason string

	// Request is the advised request that produced this response.
	Request Request
}
