package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrInvalidToolName   = errors.New("invalid tool name")
	ErrInvalidToolSchema = errors.New("invalid tool parameter schema")
	ErrDuplicateTool     = errors.New("duplicate tool name")
	ErrArgumentsMismatch = errors.New("tool arguments do not match schema")
)

var (
	validate        *validator.Validate
	toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("toolname", func(fl validator.FieldLevel) bool {
		return toolNamePattern.MatchString(fl.Field().String())
	})
}

type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string          `json:"name" validate:"required,toolname"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

// NewTool declares a callable function. The parameter schema must compile
// as a JSON schema; it is stored in canonical form (sorted keys, compact)
// so that equal schemas written differently produce equal requests.
func NewTool(name, description string, parameters json.RawMessage) (Tool, error) {
	fn := FunctionDefinition{Name: name, Description: description}
	if err := validate.Struct(fn); err != nil {
		return Tool{}, fmt.Errorf("%w %q: %v", ErrInvalidToolName, name, err)
	}

	if len(bytes.TrimSpace(parameters)) > 0 {
		canonical, err := canonicalJSON(parameters)
		if err != nil {
			return Tool{}, fmt.Errorf("%w for %s: %v", ErrInvalidToolSchema, name, err)
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(canonical)); err != nil {
			return Tool{}, fmt.Errorf("%w for %s: %v", ErrInvalidToolSchema, name, err)
		}
		fn.Parameters = canonical
	}

	return Tool{Type: "function", Function: fn}, nil
}

// MustTool is NewTool for package-level declarations.
func MustTool(name, description string, parameters json.RawMessage) Tool {
	t, err := NewTool(name, description, parameters)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tool) Name() string {
	return t.Function.Name
}

// ValidateArguments checks the raw arguments of a tool call against the
// tool's parameter schema. Tools without a schema accept any valid JSON.
func (t Tool) ValidateArguments(tc ToolCall) error {
	if tc.Function.Name != t.Function.Name {
		return fmt.Errorf("%w: call targets %q, tool is %q", ErrArgumentsMismatch, tc.Function.Name, t.Function.Name)
	}
	if !json.Valid([]byte(tc.Function.Arguments)) {
		return fmt.Errorf("%w: arguments of %s are not valid JSON", ErrArgumentsMismatch, tc.ID)
	}
	if len(t.Function.Parameters) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(t.Function.Parameters),
		gojsonschema.NewStringLoader(tc.Function.Arguments),
	)
	if err != nil {
		return fmt.Errorf("validating arguments of %s: %w", tc.ID, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrArgumentsMismatch, strings.Join(msgs, "; "))
}

func checkUniqueToolNames(tools []Tool) error {
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if _, ok := seen[t.Function.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Function.Name)
		}
		seen[t.Function.Name] = struct{}{}
	}
	return nil
}

// ToolChoice controls whether and which tool the model must call. On the
// wire it is either a bare mode string or a function selector object.
type ToolChoice struct {
	Type     string              `json:"type"`
	Function *ToolChoiceFunction `json:"function,omitempty"`
}

type ToolChoiceFunction struct {
	Name string `json:"name"`
}

var (
	ToolChoiceAuto     = ToolChoice{Type: "auto"}
	ToolChoiceNone     = ToolChoice{Type: "none"}
	ToolChoiceRequired = ToolChoice{Type: "required"}
)

func ToolChoiceFor(name string) ToolChoice {
	return ToolChoice{Type: "function", Function: &ToolChoiceFunction{Name: name}}
}

func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	if tc.Function == nil {
		return json.Marshal(tc.Type)
	}
	type alias ToolChoice
	return json.Marshal(alias(tc))
}

func (tc *ToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		*tc = ToolChoice{Type: mode}
		return nil
	}
	type alias ToolChoice
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*tc = ToolChoice(a)
	return nil
}

type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
	Strict      bool            `json:"strict,omitempty"`
}

var (
	ResponseFormatText       = ResponseFormat{Type: "text"}
	ResponseFormatJSONObject = ResponseFormat{Type: "json_object"}
)

// ResponseFormatSchema asks for structured output matching schema.
func ResponseFormatSchema(name string, schema json.RawMessage, strict bool) (ResponseFormat, error) {
	canonical, err := canonicalJSON(schema)
	if err != nil {
		return ResponseFormat{}, fmt.Errorf("response format %s: %w", name, err)
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(canonical)); err != nil {
		return ResponseFormat{}, fmt.Errorf("response format %s: %w", name, err)
	}
	return ResponseFormat{
		Type:       "json_schema",
		JSONSchema: &JSONSchema{Name: name, Schema: canonical, Strict: strict},
	}, nil
}

// canonicalJSON re-encodes a JSON document with object keys sorted and no
// insignificant whitespace. Numbers keep their literal text.
func canonicalJSON(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("parse JSON: trailing data after document")
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return out, nil
}
