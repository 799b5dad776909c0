package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type rawResponse struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"`
	Created           int64           `json:"created"`
	Model             string          `json:"model"`
	SystemFingerprint string          `json:"system_fingerprint"`
	Choices           *[]rawChoice    `json:"choices"`
	Usage             *Usage          `json:"usage"`
	Error             json.RawMessage `json:"error"`
}

type rawChoice struct {
	Index        int          `json:"index"`
	Message      *rawMessage  `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	LogProbs     *LogProbs    `json:"logprobs"`
}

type rawMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name"`
	ToolCallID string          `json:"tool_call_id"`
	ToolCalls  []rawToolCall   `json:"tool_calls"`
}

type rawToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function *rawFunctionCall `json:"function"`
}

type rawFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseChatResponse decodes a chat completion body. Each choice's message
// may carry text, tool calls, or both; tool call arguments are kept as the
// raw text the service sent.
func ParseChatResponse(data []byte) (*ChatResponse, error) {
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}

	if raw.Choices == nil {
		if e := bytes.TrimSpace(raw.Error); len(e) > 0 && !bytes.Equal(e, []byte("null")) {
			return nil, &ParseError{Field: "error", Reason: "service returned an error object: " + compact(e)}
		}
		return nil, &ParseError{Field: "choices", Reason: "missing"}
	}
	if len(*raw.Choices) == 0 {
		return nil, &ParseError{Field: "choices", Reason: "empty"}
	}

	resp := &ChatResponse{
		ID:                raw.ID,
		Object:            raw.Object,
		Created:           raw.Created,
		Model:             raw.Model,
		SystemFingerprint: raw.SystemFingerprint,
		Choices:           make([]Choice, 0, len(*raw.Choices)),
	}
	if raw.Usage != nil {
		resp.Usage = *raw.Usage
	}

	for i, rc := range *raw.Choices {
		field := fmt.Sprintf("choices[%d].message", i)
		if rc.Message == nil {
			return nil, &ParseError{Field: field, Reason: "missing"}
		}
		msg, err := parseMessage(field, rc.Message)
		if err != nil {
			return nil, err
		}
		resp.Choices = append(resp.Choices, Choice{
			Index:        rc.Index,
			Message:      msg,
			FinishReason: rc.FinishReason,
			LogProbs:     rc.LogProbs,
		})
	}

	return resp, nil
}

func parseMessage(field string, rm *rawMessage) (Message, error) {
	msg := Message{
		Role:       rm.Role,
		Name:       rm.Name,
		ToolCallID: rm.ToolCallID,
	}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}

	content, err := parseContent(rm.Content)
	if err != nil {
		return Message{}, &ParseError{Field: field + ".content", Reason: err.Error()}
	}
	msg.Content = content

	for j, rtc := range rm.ToolCalls {
		tcField := fmt.Sprintf("%s.tool_calls[%d]", field, j)
		tc, err := parseToolCall(tcField, rtc)
		if err != nil {
			return Message{}, err
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}

	return msg, nil
}

// parseContent accepts a string, null, or an array of content parts whose
// text parts are joined.
func parseContent(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return &s, nil
	case '[':
		var parts []contentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" || p.Type == "output_text" {
				sb.WriteString(p.Text)
			}
		}
		s := sb.String()
		return &s, nil
	default:
		return nil, fmt.Errorf("expected string, array or null, got %s", kindOf(trimmed))
	}
}

func parseToolCall(field string, rtc rawToolCall) (ToolCall, error) {
	if rtc.Function == nil {
		return ToolCall{}, &ParseError{Field: field + ".function", Reason: "missing"}
	}
	if rtc.Function.Name == "" {
		return ToolCall{}, &ParseError{Field: field + ".function.name", Reason: "missing"}
	}
	if rtc.Type != "" && rtc.Type != "function" {
		return ToolCall{}, &ParseError{Field: field + ".type", Reason: fmt.Sprintf("unsupported tool call type %q", rtc.Type)}
	}

	args, err := rawArguments(rtc.Function.Arguments)
	if err != nil {
		return ToolCall{}, &ParseError{Field: field + ".function.arguments", Reason: err.Error()}
	}

	return ToolCall{
		ID:   rtc.ID,
		Type: "function",
		Function: FunctionCall{
			Name:      rtc.Function.Name,
			Arguments: args,
		},
	}, nil
}

// rawArguments returns the argument text unchanged when it is a JSON string.
// Some compatible services send an object instead; its JSON text is kept.
func rawArguments(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{':
		return string(trimmed), nil
	default:
		return "", fmt.Errorf("expected string or object, got %s", kindOf(trimmed))
	}
}

func kindOf(b []byte) string {
	switch b[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case '"':
		return "string"
	default:
		return "number"
	}
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
