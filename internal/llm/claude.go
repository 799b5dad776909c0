package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PauloHFS/llmcache/internal/httpclient"
)

const (
	URLAnthropic = "https://api.anthropic.com"

	claudeMessagesPath     = "/v1/messages"
	claudeAPIVersion       = "2023-06-01"
	claudeDefaultMaxTokens = 1024
)

// ClaudeProvider speaks the Anthropic Messages API. Requests are converted
// from the chat completions shape: system turns and instructions become the
// system prompt, tool calls become tool_use blocks and tool results become
// tool_result blocks in a user turn.
type ClaudeProvider struct {
	// MaxTokens is sent when the request sets no limit, since the
	// Messages API requires one. Zero means 1024.
	MaxTokens int
}

func (ClaudeProvider) Name() string { return ProviderClaude }

func (ClaudeProvider) BaseURL() string { return URLAnthropic }

func (ClaudeProvider) DefaultModel() ModelID { return ModelClaudeHaiku45 }

func (ClaudeProvider) ChatPath() string { return claudeMessagesPath }

func (ClaudeProvider) EmbeddingsPath() string { return "" }

func (ClaudeProvider) Auth(apiKey string) httpclient.Option {
	return httpclient.WithAuth(func(r *http.Request) {
		r.Header.Set("x-api-key", apiKey)
		r.Header.Set("anthropic-version", claudeAPIVersion)
	})
}

type claudePayload struct {
	Model         ModelID           `json:"model"`
	System        string            `json:"system,omitempty"`
	Messages      []claudeMessage   `json:"messages"`
	MaxTokens     int               `json:"max_tokens"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Tools         []claudeTool      `json:"tools,omitempty"`
	ToolChoice    *claudeToolChoice `json:"tool_choice,omitempty"`
	Metadata      *claudeMetadata   `json:"metadata,omitempty"`
}

type claudeMessage struct {
	Role    Role          `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type claudeMetadata struct {
	UserID string `json:"user_id"`
}

func (p ClaudeProvider) EncodeChat(req ChatRequest) ([]byte, error) {
	payload, err := p.payload(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

func (p ClaudeProvider) payload(req ChatRequest) (claudePayload, error) {
	if err := claudeUnsupported(req); err != nil {
		return claudePayload{}, err
	}

	out := claudePayload{
		Model:         req.model,
		MaxTokens:     p.MaxTokens,
		Temperature:   req.temperature,
		TopP:          req.topP,
		StopSequences: req.stop,
	}
	if req.maxTokens != nil {
		out.MaxTokens = *req.maxTokens
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = claudeDefaultMaxTokens
	}
	if req.user != "" {
		out.Metadata = &claudeMetadata{UserID: req.user}
	}

	var system []string
	if req.instructions != "" {
		system = append(system, req.instructions)
	}
	for i, m := range req.messages {
		if m.Role == RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		role, blocks, err := claudeBlocks(i, m)
		if err != nil {
			return claudePayload{}, err
		}
		// Consecutive turns of one role are merged, since the API expects
		// user and assistant turns to alternate.
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content = append(out.Messages[n-1].Content, blocks...)
			continue
		}
		out.Messages = append(out.Messages, claudeMessage{Role: role, Content: blocks})
	}
	out.System = strings.Join(system, "\n\n")

	if len(out.Messages) == 0 {
		return claudePayload{}, fmt.Errorf("%w: claude needs at least one user turn", ErrNoMessages)
	}
	if out.Messages[0].Role != RoleUser {
		return claudePayload{}, fmt.Errorf("%w: claude conversations must start with a user turn", ErrUnsupportedParameter)
	}

	for _, t := range req.tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, claudeTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	if tc := req.toolChoice; tc != nil {
		switch tc.Type {
		case "auto", "none":
			out.ToolChoice = &claudeToolChoice{Type: tc.Type}
		case "required":
			out.ToolChoice = &claudeToolChoice{Type: "any"}
		case "function":
			if tc.Function == nil || tc.Function.Name == "" {
				return claudePayload{}, fmt.Errorf("%w: tool_choice function without a name", ErrUnsupportedParameter)
			}
			out.ToolChoice = &claudeToolChoice{Type: "tool", Name: tc.Function.Name}
		default:
			return claudePayload{}, fmt.Errorf("%w: tool_choice %q", ErrUnsupportedParameter, tc.Type)
		}
	}

	return out, nil
}

// claudeUnsupported rejects knobs the Messages API has no equivalent for,
// rather than dropping them silently.
func claudeUnsupported(req ChatRequest) error {
	var names []string
	if req.seed != nil {
		names = append(names, "seed")
	}
	if req.frequencyPenalty != nil {
		names = append(names, "frequency_penalty")
	}
	if req.presencePenalty != nil {
		names = append(names, "presence_penalty")
	}
	if len(req.logitBias) > 0 {
		names = append(names, "logit_bias")
	}
	if req.n != nil && *req.n != 1 {
		names = append(names, "n")
	}
	if rf := req.responseFormat; rf != nil && rf.Type != "text" {
		names = append(names, "response_format")
	}
	if len(names) == 0 {
		return nil
	}
	return fmt.Errorf("%w: claude does not accept %s", ErrUnsupportedParameter, strings.Join(names, ", "))
}

func claudeBlocks(i int, m Message) (Role, []claudeBlock, error) {
	switch m.Role {
	case RoleUser:
		return RoleUser, []claudeBlock{{Type: "text", Text: m.Text()}}, nil
	case RoleTool:
		if m.ToolCallID == "" {
			return "", nil, fmt.Errorf("%w: messages[%d] is a tool result without a call id", ErrUnsupportedParameter, i)
		}
		return RoleUser, []claudeBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Text()}}, nil
	case RoleAssistant:
		var blocks []claudeBlock
		if text := m.Text(); text != "" {
			blocks = append(blocks, claudeBlock{Type: "text", Text: text})
		}
		for j, tc := range m.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if len(bytes.TrimSpace(input)) == 0 {
				input = json.RawMessage(`{}`)
			}
			if !json.Valid(input) {
				return "", nil, fmt.Errorf("%w: messages[%d].tool_calls[%d] arguments are not JSON", ErrUnsupportedParameter, i, j)
			}
			blocks = append(blocks, claudeBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
		if len(blocks) == 0 {
			return "", nil, fmt.Errorf("%w: messages[%d] is an empty assistant turn", ErrUnsupportedParameter, i)
		}
		return RoleAssistant, blocks, nil
	default:
		return "", nil, fmt.Errorf("%w: role %q", ErrUnsupportedParameter, m.Role)
	}
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       Role            `json:"role"`
	Model      string          `json:"model"`
	Content    *[]claudeBlock  `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage"`
	Error      json.RawMessage `json:"error"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DecodeChat converts a Messages API reply into a single-choice
// ChatResponse. Text blocks are joined; tool_use inputs are kept as their
// JSON text.
func (ClaudeProvider) DecodeChat(data []byte) (*ChatResponse, error) {
	var raw claudeResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if raw.Type == "error" {
		return nil, &ParseError{Field: "error", Reason: "service returned an error object: " + compact(raw.Error)}
	}
	if raw.Content == nil {
		return nil, &ParseError{Field: "content", Reason: "missing"}
	}

	msg := Message{Role: raw.Role}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}

	var text strings.Builder
	hasText := false
	for i, b := range *raw.Content {
		switch b.Type {
		case "text":
			hasText = true
			text.WriteString(b.Text)
		case "tool_use":
			if b.Name == "" {
				return nil, &ParseError{Field: fmt.Sprintf("content[%d].name", i), Reason: "missing"}
			}
			args := "{}"
			if len(bytes.TrimSpace(b.Input)) > 0 {
				args = compact(b.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: FunctionCall{Name: b.Name, Arguments: args},
			})
		case "thinking", "redacted_thinking":
			// Reasoning is not part of the reply.
		default:
			return nil, &ParseError{Field: fmt.Sprintf("content[%d].type", i), Reason: fmt.Sprintf("unsupported block type %q", b.Type)}
		}
	}
	if hasText {
		s := text.String()
		msg.Content = &s
	}

	resp := &ChatResponse{
		ID:      raw.ID,
		Object:  "chat.completion",
		Model:   raw.Model,
		Choices: []Choice{{Message: msg, FinishReason: claudeFinishReason(raw.StopReason)}},
	}
	if raw.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     raw.Usage.InputTokens,
			CompletionTokens: raw.Usage.OutputTokens,
			TotalTokens:      raw.Usage.InputTokens + raw.Usage.OutputTokens,
		}
	}
	return resp, nil
}

func claudeFinishReason(stop string) FinishReason {
	switch stop {
	case "end_turn", "stop_sequence":
		return FinishReasonStop
	case "max_tokens":
		return FinishReasonLength
	case "tool_use":
		return FinishReasonToolCalls
	case "refusal":
		return FinishReasonContentFilter
	default:
		return FinishReason(stop)
	}
}
