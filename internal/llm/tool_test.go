package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewTool(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		schema  string
		wantErr error
	}{
		{"Valid", "get_weather", `{"type":"object"}`, nil},
		{"NoSchema", "ping", ``, nil},
		{"Dashes", "get-weather-2", `{"type":"object"}`, nil},
		{"EmptyName", "", `{"type":"object"}`, ErrInvalidToolName},
		{"SpaceInName", "get weather", `{"type":"object"}`, ErrInvalidToolName},
		{"SlashInName", "a/b", ``, ErrInvalidToolName},
		{"LongName", string(make([]byte, 65)), ``, ErrInvalidToolName},
		{"SchemaNotJSON", "f", `{type: object}`, ErrInvalidToolSchema},
		{"SchemaTrailingData", "f", `{"type":"object"} {}`, ErrInvalidToolSchema},
		{"SchemaInvalidType", "f", `{"type":12}`, ErrInvalidToolSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, err := NewTool(tt.tool, "desc", json.RawMessage(tt.schema))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewTool() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTool() error = %v", err)
			}
			if tool.Name() != tt.tool || tool.Type != "function" {
				t.Errorf("tool = %+v", tool)
			}
		})
	}
}

func TestNewTool_CanonicalSchema(t *testing.T) {
	tool := MustTool("f", "", json.RawMessage(`{ "type": "object", "properties": { "b": {"type":"integer"}, "a": {"type":"number", "maximum": 1.50} } }`))
	want := `{"properties":{"a":{"maximum":1.50,"type":"number"},"b":{"type":"integer"}},"type":"object"}`
	if string(tool.Function.Parameters) != want {
		t.Errorf("Parameters = %s, want %s", tool.Function.Parameters, want)
	}
}

func TestMustTool_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustTool did not panic on an invalid name")
		}
	}()
	MustTool("bad name", "", nil)
}

func TestTool_ValidateArguments(t *testing.T) {
	tool := MustTool("lookup", "", json.RawMessage(`{
		"type": "object",
		"properties": {"country": {"type": "string"}, "limit": {"type": "integer", "minimum": 1}},
		"required": ["country"]
	}`))

	call := func(name, args string) ToolCall {
		return ToolCall{ID: "call_1", Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
	}

	tests := []struct {
		name    string
		call    ToolCall
		wantErr bool
	}{
		{"Valid", call("lookup", `{"country":"Italy","limit":2}`), false},
		{"MissingRequired", call("lookup", `{"limit":2}`), true},
		{"WrongType", call("lookup", `{"country":3}`), true},
		{"BelowMinimum", call("lookup", `{"country":"x","limit":0}`), true},
		{"Malformed", call("lookup", `{"country":`), true},
		{"OtherTool", call("other", `{"country":"Italy"}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.ValidateArguments(tt.call)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateArguments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrArgumentsMismatch) {
				t.Errorf("error %v does not wrap ErrArgumentsMismatch", err)
			}
		})
	}

	noSchema := MustTool("free", "", nil)
	if err := noSchema.ValidateArguments(call("free", `[1,2]`)); err != nil {
		t.Errorf("schemaless tool rejected valid JSON: %v", err)
	}
}

func TestToolChoice_JSON(t *testing.T) {
	tests := []struct {
		choice ToolChoice
		want   string
	}{
		{ToolChoiceAuto, `"auto"`},
		{ToolChoiceNone, `"none"`},
		{ToolChoiceRequired, `"required"`},
		{ToolChoiceFor("lookup"), `{"type":"function","function":{"name":"lookup"}}`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.choice)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%+v) = %s, want %s", tt.choice, data, tt.want)
		}

		var back ToolChoice
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatal(err)
		}
		if back.Type != tt.choice.Type || (back.Function == nil) != (tt.choice.Function == nil) {
			t.Errorf("Unmarshal(%s) = %+v", data, back)
		}
	}
}

func TestResponseFormatSchema(t *testing.T) {
	rf, err := ResponseFormatSchema("answer", json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`), true)
	if err != nil {
		t.Fatal(err)
	}
	if rf.Type != "json_schema" || rf.JSONSchema == nil || !rf.JSONSchema.Strict {
		t.Errorf("ResponseFormatSchema() = %+v", rf)
	}

	if _, err := ResponseFormatSchema("bad", json.RawMessage(`not json`), false); err == nil {
		t.Error("ResponseFormatSchema accepted invalid JSON")
	}
}
