package composer

import (
	"strings"
	"testing"

	"github.com/Knetic/govaluate"
)

func TestRegisterExpressionFunction_AndWhitelist(t *testing.T) {
	called := false
	RegisterExpressionFunction("customAdd", func(args ...interface{}) (interface{}, error) {
		called = true
		return args[0].(float64) + args[1].(float64), nil
	})
	funcs := whitelistedFunctions()
	if _, ok := funcs["customAdd"]; !ok {
		t.Error("customAdd not found in whitelist")
	}
	eval, err := govaluate.NewEvaluableExpressionWithFunctions("customAdd(2, 3)", funcs)
	if err != nil {
		t.Fatalf("failed to parse expression: %v", err)
	}
	res, err := eval.Evaluate(nil)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if res != 5.0 {
		t.Errorf("expected 5.0, got %v", res)
	}
	if !called {
		t.Error("custom function was not called")
	}
}

func TestValidateExpression_SuccessAndFailure(t *testing.T) {
	if err := ValidateExpression("1 + 2"); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := ValidateExpression("$0.sum * 2"); err != nil {
		t.Errorf("step references should validate before outputs exist, got %v", err)
	}
	if err := ValidateExpression("1 + "); err == nil {
		t.Error("expected error for invalid expression, got nil")
	}
}

func TestEvaluateExpression_StepReferences(t *testing.T) {
	outputs := map[int]interface{}{
		0: 8.0,
		1: map[string]interface{}{"product": 4.0, "tags": []interface{}{"x", "y"}},
		2: []interface{}{10.0, 20.0},
	}

	tests := []struct {
		name    string
		expr    string
		want    interface{}
		wantErr string
	}{
		{name: "whole scalar output", expr: "$0 - 3", want: 5.0},
		{name: "map field", expr: "$1.product * $0", want: 32.0},
		{name: "array element", expr: "$2[1] / 2", want: 10.0},
		{name: "nested field then index", expr: "$1.tags[0]", want: "x"},
		{name: "registered function", expr: "round($0 / 3)", want: 3.0},
		{name: "missing step", expr: "$9 + 1", wantErr: "no output"},
		{name: "missing field", expr: "$1.absent + 1", wantErr: "missing field"},
		{name: "index out of range", expr: "$2[7]", wantErr: "out of range"},
		{name: "field of scalar", expr: "$0.sum", wantErr: "non-map"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateExpression(tt.expr, outputs)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("evaluateExpression(%q) error = %v, want mention of %q", tt.expr, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("evaluateExpression(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("evaluateExpression(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		declared string
		want     interface{}
		wantErr  bool
	}{
		{name: "no declaration passes through", value: "raw", declared: "", want: "raw"},
		{name: "number from float", value: 3.5, declared: "number", want: 3.5},
		{name: "number from string", value: "3.5", declared: "number", want: 3.5},
		{name: "number from word", value: "eight", declared: "number", wantErr: true},
		{name: "integer from whole float", value: 4.0, declared: "integer", want: int64(4)},
		{name: "integer from fractional float", value: 4.5, declared: "integer", wantErr: true},
		{name: "string from number", value: 8.0, declared: "string", want: "8"},
		{name: "bool from string", value: "true", declared: "boolean", want: true},
		{name: "bool from number", value: 1.0, declared: "boolean", wantErr: true},
		{name: "array accepted", value: []interface{}{1.0}, declared: "array", want: []interface{}{1.0}},
		{name: "array from scalar", value: 1.0, declared: "array", wantErr: true},
		{name: "unknown declaration passes through", value: 1.0, declared: "wibble", want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.value, tt.declared)
			if (err != nil) != tt.wantErr {
				t.Fatalf("coerceValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch want := tt.want.(type) {
			case []interface{}:
				gotArr, ok := got.([]interface{})
				if !ok || len(gotArr) != len(want) {
					t.Fatalf("coerceValue() = %v, want %v", got, tt.want)
				}
			default:
				if got != tt.want {
					t.Errorf("coerceValue() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestExtractField(t *testing.T) {
	mapOutput := map[string]interface{}{"sum": 8.0}
	arrayOutput := []interface{}{10.0, 20.0}

	tests := []struct {
		name    string
		output  interface{}
		field   string
		want    interface{}
		wantErr bool
	}{
		{name: "map field", output: mapOutput, field: "sum", want: 8.0},
		{name: "map primary fallback", output: mapOutput, field: "0", want: 8.0},
		{name: "map missing field", output: mapOutput, field: "nope", wantErr: true},
		{name: "array index", output: arrayOutput, field: "1", want: 20.0},
		{name: "array bad index", output: arrayOutput, field: "7", wantErr: true},
		{name: "array non-numeric index", output: arrayOutput, field: "first", wantErr: true},
		{name: "scalar primary", output: 8.0, field: "0", want: 8.0},
		{name: "scalar whole", output: 8.0, field: "", want: 8.0},
		{name: "scalar named field", output: 8.0, field: "sum", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractField(tt.output, tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("extractField() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("extractField() = %v, want %v", got, tt.want)
			}
		})
	}
}
