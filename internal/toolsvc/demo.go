package toolsvc

import (
	"context"
	"fmt"
	"log"
)

// Demo creates a service with the bundled demonstration tools registered.
// The names match the entries in the demo catalog, so a catalog pointed at
// this service's address works out of the box.
func Demo() *Service {
	service := New()
	for _, handler := range []*Handler{
		NewHandler("add-list", SumValues, WithValidator(validateValueList)),
		NewHandler("multiply-list", MultiplyValues, WithValidator(validateValueList)),
		NewHandler("subtract", Subtract, WithValidator(validateOperandPair)),
		NewHandler("echo", Echo),
		NewHandler("web-search", PerformSearch, WithValidator(validateSearchParams)),
	} {
		if err := service.Register(handler); err != nil {
			// Registration of the bundled set only fails on a duplicate
			// name, which is a programming error.
			log.Printf("toolsvc: failed to register demo tool '%s': %v", handler.Name(), err)
		}
	}
	return service
}

// SumValues adds the numbers in the "values" parameter and returns the sum.
func SumValues(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	values, err := numberList(params["values"])
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum, nil
}

// MultiplyValues multiplies the numbers in the "values" parameter and returns
// the product, wrapped in a map so callers exercise field extraction.
func MultiplyValues(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	values, err := numberList(params["values"])
	if err != nil {
		return nil, err
	}
	product := 1.0
	for _, value := range values {
		product *= value
	}
	return map[string]interface{}{"product": product}, nil
}

// Subtract computes a minus b from the "a" and "b" parameters.
func Subtract(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	a, okA := asNumber(params["a"])
	b, okB := asNumber(params["b"])
	if !okA || !okB {
		return nil, fmt.Errorf("subtract requires numeric 'a' and 'b' parameters")
	}
	return a - b, nil
}

// Echo returns its params unchanged.
func Echo(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return params, nil
}

// PerformSearch simulates a web search for the "query" parameter.
func PerformSearch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, ok := params["query"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing query parameter (expected string at key 'query')")
	}
	log.Printf("toolsvc: searching for '%s'", query)
	return fmt.Sprintf("Simulated search results for query: %s", query), nil
}

// asNumber accepts the numeric shapes params arrive in: float64 off the wire,
// int and int64 from in-process callers.
func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func numberList(v interface{}) ([]float64, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of numbers at key 'values', got %T", v)
	}
	values := make([]float64, 0, len(raw))
	for i, item := range raw {
		value, ok := asNumber(item)
		if !ok {
			return nil, fmt.Errorf("values[%d] is not a number (got %T)", i, item)
		}
		values = append(values, value)
	}
	return values, nil
}

// Validator functions for the demo tools

// validateValueList validates the input for the list arithmetic tools.
func validateValueList(params map[string]interface{}) error {
	values, ok := params["values"]
	if !ok {
		return fmt.Errorf("missing values (expected at key 'values')")
	}

	list, ok := values.([]interface{})
	if !ok {
		return fmt.Errorf("values must be a list, got %T", values)
	}

	if len(list) == 0 {
		return fmt.Errorf("values cannot be empty")
	}

	if len(list) > 1000 {
		return fmt.Errorf("too many values (max 1000)")
	}

	return nil
}

// validateOperandPair validates the input for the subtract tool.
func validateOperandPair(params map[string]interface{}) error {
	for _, key := range []string{"a", "b"} {
		value, ok := params[key]
		if !ok {
			return fmt.Errorf("missing operand (expected at key '%s')", key)
		}
		if _, ok := asNumber(value); !ok {
			return fmt.Errorf("operand '%s' must be a number, got %T", key, value)
		}
	}
	return nil
}

// validateSearchParams validates the input for the search tool.
func validateSearchParams(params map[string]interface{}) error {
	query, ok := params["query"]
	if !ok {
		return fmt.Errorf("missing search query (expected at key 'query')")
	}

	queryStr, ok := query.(string)
	if !ok {
		return fmt.Errorf("search query must be a string, got %T", query)
	}

	if len(queryStr) == 0 {
		return fmt.Errorf("search query cannot be empty")
	}

	if len(queryStr) > 1000 {
		return fmt.Errorf("search query too long (max 1000 characters)")
	}

	return nil
}
