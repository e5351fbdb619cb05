package planner

import (
	"fmt"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/ZanzyTHEbar/tollgate/internal/composer"
)

// Validator implements tollgate.Validator against a catalog. It walks every
// step and every dependency reference, accumulating all problems instead of
// stopping at the first, so one validation pass surfaces every defect the
// oracle produced.
type Validator struct {
	catalog tollgate.Catalog
}

// NewValidator creates a validator backed by the given catalog.
func NewValidator(catalog tollgate.Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate implements the tollgate.Validator interface.
func (v *Validator) Validate(plan *tollgate.Plan) tollgate.ValidationResult {
	if plan == nil || len(plan.Steps) == 0 {
		return tollgate.ValidationResult{
			Valid:  false,
			Errors: []string{tollgate.NewValidationError("plan is empty", nil).Error()},
		}
	}

	var errs []string
	if plan.Intent == "" {
		errs = append(errs, tollgate.NewValidationError("plan is missing required field 'intent'", nil).Error())
	}
	if plan.Reasoning == "" {
		errs = append(errs, tollgate.NewValidationError("plan is missing required field 'reasoning'", nil).Error())
	}

	stepCount := len(plan.Steps)
	for i, step := range plan.Steps {
		missing := false
		if step.Service == "" {
			errs = append(errs, tollgate.NewMissingFieldError(i, "mcp").Error())
			missing = true
		}
		if step.Tool == "" {
			errs = append(errs, tollgate.NewMissingFieldError(i, "tool").Error())
			missing = true
		}
		// Unknown-tool checks only make sense for fully-identified steps.
		if !missing {
			if _, ok := v.catalog.Lookup(step.Service, step.Tool); !ok {
				errs = append(errs, tollgate.NewUnknownToolError(i, step.Service, step.Tool).Error())
			}
		}
		if step.Params == nil {
			errs = append(errs, tollgate.NewMissingFieldError(i, "params").Error())
		}
		if step.Reason == "" {
			errs = append(errs, tollgate.NewMissingFieldError(i, "reason").Error())
		}

		for _, dep := range step.DependsOn {
			switch {
			case dep >= stepCount:
				errs = append(errs, tollgate.NewDependencyOutOfRangeError(i, dep, stepCount).Error())
			case dep < 0 || dep >= i:
				errs = append(errs, tollgate.NewInvalidDependencyError(i, dep).Error())
			}
		}

		errs = append(errs, checkParams(i, stepCount, step.Params)...)
	}

	return tollgate.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// checkParams applies the backward-only dependency rule to pending-argument
// references and parses expression arguments, so any value the composer would
// later try to resolve is known resolvable before it is ever paid for. Only
// top-level param values are examined, matching what the composer resolves.
func checkParams(stepIndex, stepCount int, params map[string]interface{}) []string {
	var errs []string
	for name, value := range params {
		if arg, ok := tollgate.AsPendingArgument(value); ok {
			ref, err := arg.SourceIndex()
			if err != nil {
				errs = append(errs, tollgate.NewValidationError(
					fmt.Sprintf("step %d argument '%s': %v", stepIndex, name, err), nil).Error())
				continue
			}
			switch {
			case ref >= stepCount:
				errs = append(errs, tollgate.NewDependencyOutOfRangeError(stepIndex, ref, stepCount).Error())
			case ref < 0 || ref >= stepIndex:
				errs = append(errs, tollgate.NewInvalidDependencyError(stepIndex, ref).Error())
			}
			continue
		}
		if expr, ok := tollgate.AsExpressionArgument(value); ok {
			if err := composer.ValidateExpression(expr); err != nil {
				errs = append(errs, tollgate.NewValidationError(
					fmt.Sprintf("step %d argument '%s' has an invalid expression: %v", stepIndex, name, err), nil).Error())
			}
		}
	}
	return errs
}
