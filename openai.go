package counsel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/zoobzio/capitan"
)

// Chat models commonly used with OpenAI-compatible endpoints.
const (
	ModelQwenPlus  = "qwen-plus"
	ModelGPT4oMini = "gpt-4o-mini"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "counsel/0.1"
)

// ErrToolLoop is returned when the model keeps requesting tools past the
// configured number of rounds.
var ErrToolLoop = errors.New("tool call rounds exhausted")

// OpenAIEndpoint implements Endpoint against any OpenAI-compatible chat
// completions API, including DashScope's compatible mode.
type OpenAIEndpoint struct {
	apiKey        string
	model         string
	baseURL       string
	headers       map[string]string
	client        *http.Client
	maxToolRounds int
}

// OpenAIEndpointOption configures an OpenAIEndpoint.
type OpenAIEndpointOption func(*OpenAIEndpoint)

// WithChatModel sets the chat model.
func WithChatModel(model string) OpenAIEndpointOption {
	return func(e *OpenAIEndpoint) {
		e.model = model
	}
}

// WithChatBaseURL sets a custom base URL (for proxies or compatible APIs).
func WithChatBaseURL(url string) OpenAIEndpointOption {
	return func(e *OpenAIEndpoint) {
		e.baseURL = strings.TrimRight(url, "/")
	}
}

// WithChatHTTPClient sets a custom HTTP client.
func WithChatHTTPClient(client *http.Client) OpenAIEndpointOption {
	return func(e *OpenAIEndpoint) {
		e.client = client
	}
}

// WithChatHeader adds a header to every request.
func WithChatHeader(key, value string) OpenAIEndpointOption {
	return func(e *OpenAIEndpoint) {
		e.headers[key] = value
	}
}

// WithMaxToolRounds bounds tool-calling round trips within one call.
func WithMaxToolRounds(n int) OpenAIEndpointOption {
	return func(e *OpenAIEndpoint) {
		e.maxToolRounds = n
	}
}

// NewOpenAIEndpoint creates an endpoint with the given API key.
func NewOpenAIEndpoint(apiKey string, opts ...OpenAIEndpointOption) *OpenAIEndpoint {
	e := &OpenAIEndpoint{
		apiKey:        apiKey,
		model:         ModelGPT4oMini,
		baseURL:       OpenAIBaseURL,
		headers:       map[string]string{},
		client:        http.DefaultClient,
		maxToolRounds: DefaultMaxToolRounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the configured chat model.
func (e *OpenAIEndpoint) Model() string {
	return e.model
}

type chatPayload struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Temperature   *float32       `json:"temperature,omitempty"`
	Tools         []chatTool     `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

type toolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *chatUsage) toUsage() Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (e *OpenAIEndpoint) buildPayload(req Request) chatPayload {
	prompt := req.Prompt()
	messages := make([]chatMessage, len(prompt))
	for i, m := range prompt {
		messages[i] = chatMessage{Role: string(m.Role), Content: m.Text}
	}
	payload := chatPayload{Model: e.model, Messages: messages}
	if req.Temperature > 0 {
		t := req.Temperature
		payload.Temperature = &t
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return payload
}

// Call implements Endpoint. When the request offers tools, tool calls are
// executed and their results sent back until the model answers in text.
func (e *OpenAIEndpoint) Call(ctx context.Context, req Request) (Response, error) {
	payload := e.buildPayload(req)
	var usage Usage

	for round := 0; ; round++ {
		resp, err := e.complete(ctx, payload)
		if err != nil {
			return Response{}, err
		}
		if resp.Usage != nil {
			u := resp.Usage.toUsage()
			usage.PromptTokens += u.PromptTokens
			usage.CompletionTokens += u.CompletionTokens
			usage.TotalTokens += u.TotalTokens
		}
		if len(resp.Choices) == 0 {
			return Response{}, errors.New("no choices returned")
		}
		choice := resp.Choices[0]

		if len(choice.Message.ToolCalls) == 0 {
			return Response{
				Text:         choice.Message.Content,
				Usage:        usage,
				FinishReason: choice.FinishReason,
				Raw: map[string]any{
					"id":    resp.ID,
					"model": resp.Model,
				},
			}, nil
		}

		if round >= e.maxToolRounds {
			return Response{}, fmt.Errorf("%w after %d rounds", ErrToolLoop, round)
		}

		payload.Messages = append(payload.Messages, chatMessage{
			Role:      string(RoleAssistant),
			Content:   choice.Message.Content,
			ToolCalls: choice.Message.ToolCalls,
		})
		for _, call := range choice.Message.ToolCalls {
			payload.Messages = append(payload.Messages, chatMessage{
				Role:       "tool",
				Content:    e.invokeTool(ctx, req, call),
				ToolCallID: call.ID,
			})
		}
	}
}

// invokeTool runs a requested tool. Failures are reported to the model as the
// tool result so it can recover.
func (e *OpenAIEndpoint) invokeTool(ctx context.Context, req Request, call toolCall) string {
	capitan.Emit(ctx, ToolInvoked,
		FieldConversationID.Field(req.ConversationID),
		FieldTool.Field(call.Function.Name),
	)
	tool, ok := ToolByName(req.Tools, call.Function.Name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", call.Function.Name)
	}
	out, err := tool.Call(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

func (e *OpenAIEndpoint) complete(ctx context.Context, payload chatPayload) (*chatResponse, error) {
	httpReq, err := e.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, parseAPIError(httpResp)
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &resp, nil
}

// Stream implements Endpoint. The request is sent when the stream is first
// ranged over; stopping early closes the connection.
func (e *OpenAIEndpoint) Stream(ctx context.Context, req Request) Stream {
	if len(req.Tools) > 0 {
		return ErrorStream(errors.New("tool calling is not supported while streaming"))
	}
	payload := e.buildPayload(req)
	payload.Stream = true
	payload.StreamOptions = &streamOptions{IncludeUsage: true}

	return NewStream(func(yield func(Response, error) bool) {
		httpReq, err := e.newRequest(ctx, payload)
		if err != nil {
			yield(Response{}, err)
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		httpResp, err := e.client.Do(httpReq)
		if err != nil {
			yield(Response{}, fmt.Errorf("chat request failed: %w", err))
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= http.StatusBadRequest {
			yield(Response{}, parseAPIError(httpResp))
			return
		}

		reader := bufio.NewReader(httpResp.Body)
		for {
			if err := ctx.Err(); err != nil {
				yield(Response{}, err)
				return
			}

			line, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				yield(Response{}, fmt.Errorf("failed to read stream: %w", err))
				return
			}
			eof := err != nil

			line = strings.TrimSpace(line)
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				data = strings.TrimSpace(data)
				if data == "[DONE]" {
					return
				}
				var chunk streamChunk
				if json.Unmarshal([]byte(data), &chunk) == nil {
					if frag, ok := chunk.fragment(); ok && !yield(frag, nil) {
						return
					}
				}
			}

			if eof {
				return
			}
		}
	})
}

// fragment converts a chunk to a response fragment. Chunks carrying neither
// text, a finish reason nor usage are skipped.
func (c streamChunk) fragment() (Response, bool) {
	var frag Response
	if len(c.Choices) > 0 {
		frag.Text = c.Choices[0].Delta.Content
		if fr := c.Choices[0].FinishReason; fr != nil {
			frag.FinishReason = *fr
		}
	}
	frag.Usage = c.Usage.toUsage()
	if frag.Text == "" && frag.FinishReason == "" && frag.Usage.TotalTokens == 0 {
		return frag, false
	}
	return frag, true
}

func (e *OpenAIEndpoint) newRequest(ctx context.Context, payload chatPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("upstream error status %d (%s): %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

var _ Endpoint = (*OpenAIEndpoint)(nil)
