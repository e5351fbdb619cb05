package composer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// Expression arguments let a step derive a value from earlier outputs
// without a dedicated tool call, e.g. {"expression": "$0.sum - $1.product"}.
// References name the producing step by index: $2 is step 2's whole output,
// $2.field a map field, $2[0] an array element.
var stepRefPattern = regexp.MustCompile(`\$([0-9]+)((?:\.[a-zA-Z0-9_]+|\[[0-9]+\])*)`)

var accessorPattern = regexp.MustCompile(`(\.[a-zA-Z0-9_]+|\[[0-9]+\])`)

// ExpressionFunctionRegistry allows registration of custom functions for
// expression evaluation.
type ExpressionFunctionRegistry struct {
	functions map[string]govaluate.ExpressionFunction
}

var globalExprFuncRegistry = &ExpressionFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterExpressionFunction allows users to register a custom function for
// expressions. Registration is expected at init time, before any plan runs.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	globalExprFuncRegistry.functions[name] = fn
}

// whitelistedFunctions returns only registered functions, so expressions can
// never reach arbitrary code.
func whitelistedFunctions() map[string]govaluate.ExpressionFunction {
	whitelist := make(map[string]govaluate.ExpressionFunction, len(globalExprFuncRegistry.functions))
	for k, v := range globalExprFuncRegistry.functions {
		whitelist[k] = v
	}
	return whitelist
}

// ValidateExpression checks that an expression parses, without evaluating
// it. Useful at plan-validation time, before any output exists.
func ValidateExpression(expr string) error {
	substituted := stepRefPattern.ReplaceAllStringFunc(expr, func(string) string { return "0" })
	_, err := govaluate.NewEvaluableExpressionWithFunctions(substituted, whitelistedFunctions())
	return err
}

func init() {
	RegisterExpressionFunction("abs", func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs expects 1 argument, got %d", len(args))
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs expects a number, got %T", args[0])
		}
		return math.Abs(f), nil
	})
	RegisterExpressionFunction("round", func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("round expects 1 argument, got %d", len(args))
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("round expects a number, got %T", args[0])
		}
		return math.Round(f), nil
	})
}

// evaluateExpression resolves every $N reference against the output map and
// evaluates the rewritten expression. Unresolvable references fail the whole
// expression rather than silently evaluating with a hole.
func evaluateExpression(expr string, outputs map[int]interface{}) (interface{}, error) {
	variables := map[string]interface{}{}
	var refErr error

	rewritten := stepRefPattern.ReplaceAllStringFunc(expr, func(matched string) string {
		groups := stepRefPattern.FindStringSubmatch(matched)
		index, err := strconv.Atoi(groups[1])
		if err != nil {
			refErr = fmt.Errorf("reference %q is not a step index", matched)
			return matched
		}
		output, ok := outputs[index]
		if !ok {
			refErr = fmt.Errorf("reference %q names a step with no output", matched)
			return matched
		}

		value := output
		accessors := accessorPattern.FindAllString(groups[2], -1)
		for _, accessor := range accessors {
			if strings.HasPrefix(accessor, ".") {
				field := accessor[1:]
				m, ok := value.(map[string]interface{})
				if !ok {
					refErr = fmt.Errorf("reference %q addresses a field of a non-map value", matched)
					return matched
				}
				v, ok := m[field]
				if !ok {
					refErr = fmt.Errorf("reference %q names a missing field %q", matched, field)
					return matched
				}
				value = v
				continue
			}
			idx, err := strconv.Atoi(accessor[1 : len(accessor)-1])
			if err != nil {
				refErr = fmt.Errorf("reference %q has a malformed index", matched)
				return matched
			}
			arr, ok := value.([]interface{})
			if !ok {
				refErr = fmt.Errorf("reference %q indexes a non-array value", matched)
				return matched
			}
			if idx < 0 || idx >= len(arr) {
				refErr = fmt.Errorf("reference %q index out of range (length %d)", matched, len(arr))
				return matched
			}
			value = arr[idx]
		}

		// govaluate identifiers cannot start with a digit, so $0.sum
		// becomes step0_sum.
		name := "step" + groups[1]
		for _, accessor := range accessors {
			if strings.HasPrefix(accessor, ".") {
				name += "_" + accessor[1:]
			} else {
				name += "_" + accessor[1:len(accessor)-1]
			}
		}
		variables[name] = value
		return name
	})
	if refErr != nil {
		return nil, refErr
	}

	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, whitelistedFunctions())
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", expr, err)
	}
	result, err := parsed.Evaluate(variables)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expr, err)
	}
	return result, nil
}
