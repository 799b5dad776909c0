package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
)

var (
	ErrModelRequired    = errors.New("model is required")
	ErrNoMessages       = errors.New("request has no messages")
	ErrInvalidParameter = errors.New("invalid request parameter")
)

// ChatRequest is an immutable chat completion request. The With* methods
// return an updated copy, so a base request can be shared between
// goroutines and specialised per call.
type ChatRequest struct {
	model            ModelID
	messages         []Message
	instructions     string
	tools            []Tool
	toolChoice       *ToolChoice
	responseFormat   *ResponseFormat
	maxTokens        *int
	temperature      *float64
	topP             *float64
	frequencyPenalty *float64
	presencePenalty  *float64
	logitBias        map[string]int
	n                *int
	seed             *int
	stop             []string
	user             string
}

func NewChatRequest(model ModelID, messages ...Message) ChatRequest {
	r := ChatRequest{model: model}
	r.messages = cloneMessages(messages)
	return r
}

func (r ChatRequest) Model() ModelID { return r.model }

func (r ChatRequest) Instructions() string { return r.instructions }

func (r ChatRequest) Messages() []Message { return cloneMessages(r.messages) }

func (r ChatRequest) Tools() []Tool { return cloneTools(r.tools) }

func (r ChatRequest) ToolChoice() *ToolChoice { return cloneToolChoice(r.toolChoice) }

func (r ChatRequest) ResponseFormat() *ResponseFormat {
	if r.responseFormat == nil {
		return nil
	}
	rf := *r.responseFormat
	return &rf
}

// Tool returns the declared tool with the given name.
func (r ChatRequest) Tool(name string) (Tool, bool) {
	for _, t := range r.tools {
		if t.Function.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (r ChatRequest) WithModel(model ModelID) ChatRequest {
	out := r.clone()
	out.model = model
	return out
}

// WithMessages appends turns to the conversation.
func (r ChatRequest) WithMessages(messages ...Message) ChatRequest {
	out := r.clone()
	out.messages = append(out.messages, cloneMessages(messages)...)
	return out
}

// WithInstructions sets system-level guidance kept apart from the message
// history. It is sent ahead of the messages as a system turn.
func (r ChatRequest) WithInstructions(text string) ChatRequest {
	out := r.clone()
	out.instructions = text
	return out
}

// WithTools replaces the declared tools. Tool names must be unique and
// parameter schemas must be JSON; schemas are stored in canonical form.
func (r ChatRequest) WithTools(tools ...Tool) (ChatRequest, error) {
	if err := checkUniqueToolNames(tools); err != nil {
		return r, err
	}
	declared := cloneTools(tools)
	for i, t := range declared {
		if len(bytes.TrimSpace(t.Function.Parameters)) == 0 {
			declared[i].Function.Parameters = nil
			continue
		}
		canonical, err := canonicalJSON(t.Function.Parameters)
		if err != nil {
			return r, fmt.Errorf("%w for %s: %v", ErrInvalidToolSchema, t.Function.Name, err)
		}
		declared[i].Function.Parameters = canonical
	}
	out := r.clone()
	out.tools = declared
	return out, nil
}

func (r ChatRequest) WithToolChoice(choice ToolChoice) ChatRequest {
	out := r.clone()
	out.toolChoice = cloneToolChoice(&choice)
	return out
}

func (r ChatRequest) WithResponseFormat(format ResponseFormat) ChatRequest {
	out := r.clone()
	out.responseFormat = &format
	return out
}

func (r ChatRequest) WithMaxTokens(n int) ChatRequest {
	out := r.clone()
	out.maxTokens = &n
	return out
}

func (r ChatRequest) WithTemperature(t float64) ChatRequest {
	out := r.clone()
	out.temperature = &t
	return out
}

func (r ChatRequest) WithTopP(p float64) ChatRequest {
	out := r.clone()
	out.topP = &p
	return out
}

func (r ChatRequest) WithFrequencyPenalty(p float64) ChatRequest {
	out := r.clone()
	out.frequencyPenalty = &p
	return out
}

func (r ChatRequest) WithPresencePenalty(p float64) ChatRequest {
	out := r.clone()
	out.presencePenalty = &p
	return out
}

// WithLogitBias biases sampling of the given token IDs, keyed by the
// decimal token ID, by -100 to 100.
func (r ChatRequest) WithLogitBias(bias map[string]int) ChatRequest {
	out := r.clone()
	out.logitBias = maps.Clone(bias)
	return out
}

// WithN asks for n candidate replies. FirstMessage still returns the first.
func (r ChatRequest) WithN(n int) ChatRequest {
	out := r.clone()
	out.n = &n
	return out
}

func (r ChatRequest) WithSeed(seed int) ChatRequest {
	out := r.clone()
	out.seed = &seed
	return out
}

func (r ChatRequest) WithStop(stop ...string) ChatRequest {
	out := r.clone()
	out.stop = append([]string(nil), stop...)
	return out
}

func (r ChatRequest) WithUser(user string) ChatRequest {
	out := r.clone()
	out.user = user
	return out
}

// Equal reports whether both requests have the same content.
func (r ChatRequest) Equal(other ChatRequest) bool {
	a, errA := json.Marshal(r)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (r ChatRequest) clone() ChatRequest {
	out := r
	out.messages = cloneMessages(r.messages)
	out.tools = cloneTools(r.tools)
	out.toolChoice = cloneToolChoice(r.toolChoice)
	if r.stop != nil {
		out.stop = append([]string(nil), r.stop...)
	}
	out.logitBias = maps.Clone(r.logitBias)
	return out
}

// requestDocument is the lossless JSON form of a ChatRequest. It is what
// the cache stores and what fingerprints are computed from; field order is
// fixed by the struct so the encoding is deterministic.
type requestDocument struct {
	Model            ModelID         `json:"model"`
	Instructions     string          `json:"instructions,omitempty"`
	Messages         []Message       `json:"messages"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	LogitBias        map[string]int  `json:"logit_bias,omitempty"`
	N                *int            `json:"n,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	User             string          `json:"user,omitempty"`
}

func (r ChatRequest) document() requestDocument {
	messages := r.messages
	if messages == nil {
		messages = []Message{}
	}
	return requestDocument{
		Model:            r.model,
		Instructions:     r.instructions,
		Messages:         messages,
		Tools:            r.tools,
		ToolChoice:       r.toolChoice,
		ResponseFormat:   r.responseFormat,
		MaxTokens:        r.maxTokens,
		Temperature:      r.temperature,
		TopP:             r.topP,
		FrequencyPenalty: r.frequencyPenalty,
		PresencePenalty:  r.presencePenalty,
		LogitBias:        r.logitBias,
		N:                r.n,
		Seed:             r.seed,
		Stop:             r.stop,
		User:             r.user,
	}
}

func (r ChatRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.document())
}

func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var doc requestDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := checkUniqueToolNames(doc.Tools); err != nil {
		return err
	}
	*r = ChatRequest{
		model:            doc.Model,
		messages:         doc.Messages,
		instructions:     doc.Instructions,
		tools:            doc.Tools,
		toolChoice:       doc.ToolChoice,
		responseFormat:   doc.ResponseFormat,
		maxTokens:        doc.MaxTokens,
		temperature:      doc.Temperature,
		topP:             doc.TopP,
		frequencyPenalty: doc.FrequencyPenalty,
		presencePenalty:  doc.PresencePenalty,
		logitBias:        doc.LogitBias,
		n:                doc.N,
		seed:             doc.Seed,
		stop:             doc.Stop,
		user:             doc.User,
	}
	if len(r.messages) == 0 {
		r.messages = nil
	}
	if len(r.tools) == 0 {
		r.tools = nil
	}
	if len(r.logitBias) == 0 {
		r.logitBias = nil
	}
	return nil
}

// chatCompletionPayload is the body sent to /v1/chat/completions.
type chatCompletionPayload struct {
	Model            ModelID         `json:"model"`
	Messages         []Message       `json:"messages"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	LogitBias        map[string]int  `json:"logit_bias,omitempty"`
	N                *int            `json:"n,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	User             string          `json:"user,omitempty"`
	Stream           bool            `json:"stream"`
}

func (r ChatRequest) wirePayload() chatCompletionPayload {
	messages := make([]Message, 0, len(r.messages)+1)
	if r.instructions != "" {
		messages = append(messages, SystemMessage(r.instructions))
	}
	messages = append(messages, r.messages...)

	return chatCompletionPayload{
		Model:            r.model,
		Messages:         messages,
		Tools:            r.tools,
		ToolChoice:       r.toolChoice,
		ResponseFormat:   r.responseFormat,
		MaxTokens:        r.maxTokens,
		Temperature:      r.temperature,
		TopP:             r.topP,
		FrequencyPenalty: r.frequencyPenalty,
		PresencePenalty:  r.presencePenalty,
		LogitBias:        r.logitBias,
		N:                r.n,
		Seed:             r.seed,
		Stop:             r.stop,
		User:             r.user,
	}
}

func (r ChatRequest) validate() error {
	if r.model == "" {
		return ErrModelRequired
	}
	if len(r.messages) == 0 && r.instructions == "" {
		return ErrNoMessages
	}

	for name, v := range map[string]*float64{
		"temperature":       r.temperature,
		"top_p":             r.topP,
		"frequency_penalty": r.frequencyPenalty,
		"presence_penalty":  r.presencePenalty,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidParameter, name, *v)
		}
	}
	if r.n != nil && *r.n < 1 {
		return fmt.Errorf("%w: n must be at least 1, got %d", ErrInvalidParameter, *r.n)
	}
	for token, bias := range r.logitBias {
		if bias < -100 || bias > 100 {
			return fmt.Errorf("%w: logit_bias[%s] = %d is outside -100..100", ErrInvalidParameter, token, bias)
		}
	}
	for _, t := range r.tools {
		if len(t.Function.Parameters) > 0 && !json.Valid(t.Function.Parameters) {
			return fmt.Errorf("%w for %s: parameters are not JSON", ErrInvalidToolSchema, t.Function.Name)
		}
	}
	if rf := r.responseFormat; rf != nil && rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 && !json.Valid(rf.JSONSchema.Schema) {
		return fmt.Errorf("%w: response format schema is not JSON", ErrInvalidParameter)
	}
	return nil
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func cloneTools(in []Tool) []Tool {
	if in == nil {
		return nil
	}
	out := make([]Tool, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Function.Parameters = append(json.RawMessage(nil), t.Function.Parameters...)
	}
	return out
}

func cloneToolChoice(tc *ToolChoice) *ToolChoice {
	if tc == nil {
		return nil
	}
	out := *tc
	if tc.Function != nil {
		fn := *tc.Function
		out.Function = &fn
	}
	return &out
}
