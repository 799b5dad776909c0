package llm

import (
	"encoding/json"
	"fmt"
)

type ModelID string

const (
	ModelGPT35Turbo ModelID = "gpt-3.5-turbo"
	ModelGPT4o      ModelID = "gpt-4o"
	ModelGPT4oMini  ModelID = "gpt-4o-mini"
	ModelGPT41      ModelID = "gpt-4.1"
	ModelGPT41Mini  ModelID = "gpt-4.1-mini"
	ModelGPT5       ModelID = "gpt-5"
	ModelGPT5Mini   ModelID = "gpt-5-mini"

	ModelClaudeSonnet45 ModelID = "claude-sonnet-4-5"
	ModelClaudeHaiku45  ModelID = "claude-haiku-4-5"

	EmbeddingModelSmall ModelID = "text-embedding-3-small"
	EmbeddingModelLarge ModelID = "text-embedding-3-large"
)

func (m ModelID) String() string {
	return string(m)
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ReplyKind classifies what an assistant message carries.
type ReplyKind int

const (
	ReplyEmpty ReplyKind = iota
	ReplyText
	ReplyToolCalls
	ReplyMixed
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyText:
		return "text"
	case ReplyToolCalls:
		return "tool_calls"
	case ReplyMixed:
		return "mixed"
	default:
		return "empty"
	}
}

// Message is one conversational turn. Content is nil when the turn carries
// no text, which is common for assistant turns that only call tools.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: &content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: &content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: &content}
}

// AssistantToolCallMessage echoes a previous tool-calling reply back to the
// service so that follow-up tool results can reference its call IDs.
func AssistantToolCallMessage(calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: append([]ToolCall(nil), calls...)}
}

func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

// Text returns the message content or "" when there is none.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

func (m Message) Kind() ReplyKind {
	hasText := m.Content != nil
	hasCalls := len(m.ToolCalls) > 0
	switch {
	case hasText && hasCalls:
		return ReplyMixed
	case hasCalls:
		return ReplyToolCalls
	case hasText:
		return ReplyText
	default:
		return ReplyEmpty
	}
}

func (m Message) clone() Message {
	out := m
	if m.Content != nil {
		s := *m.Content
		out.Content = &s
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the raw argument text produced by the model. It is
// usually JSON but may be malformed, so it is never decoded here.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments unmarshals the raw argument text into v.
func (tc ToolCall) DecodeArguments(v any) error {
	if err := json.Unmarshal([]byte(tc.Function.Arguments), v); err != nil {
		return fmt.Errorf("decode arguments of %s (call %s): %w", tc.Function.Name, tc.ID, err)
	}
	return nil
}

// DecodeArguments is the generic form of ToolCall.DecodeArguments.
func DecodeArguments[T any](tc ToolCall) (T, error) {
	var v T
	err := tc.DecodeArguments(&v)
	return v, err
}

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonFunctionCall  FinishReason = "function_call"
)

type ChatResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	LogProbs     *LogProbs    `json:"logprobs,omitempty"`
}

type LogProbs struct {
	Content []LogProbToken `json:"content,omitempty"`
}

type LogProbToken struct {
	Token   string  `json:"token"`
	LogProb float64 `json:"logprob"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstMessage returns the message of the first choice, which is the one
// callers use unless they asked for several candidates.
func (r *ChatResponse) FirstMessage() (Message, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Message{}, false
	}
	return r.Choices[0].Message, true
}

// Content returns the text of the first choice.
func (r *ChatResponse) Content() string {
	m, _ := r.FirstMessage()
	return m.Text()
}

// ToolCalls returns the tool calls of the first choice.
func (r *ChatResponse) ToolCalls() []ToolCall {
	m, _ := r.FirstMessage()
	return m.ToolCalls
}

// Clone returns a deep copy, so cached responses can be handed out without
// sharing mutable state.
func (r *ChatResponse) Clone() *ChatResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.Choices != nil {
		out.Choices = make([]Choice, len(r.Choices))
		for i, ch := range r.Choices {
			out.Choices[i] = ch
			out.Choices[i].Message = ch.Message.clone()
			if ch.LogProbs != nil {
				lp := LogProbs{Content: append([]LogProbToken(nil), ch.LogProbs.Content...)}
				out.Choices[i].LogProbs = &lp
			}
		}
	}
	return &out
}

type EmbeddingRequest struct {
	Model          ModelID `json:"model"`
	Input          any     `json:"input"`
	EncodingFormat string  `json:"encoding_format,omitempty"`
	Dimensions     *int    `json:"dimensions,omitempty"`
}

type EmbeddingResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}
