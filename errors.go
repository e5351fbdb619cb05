package tollgate

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodePlanGeneration   = "PLAN_GENERATION_ERROR"
	ErrCodePlanParse        = "PLAN_PARSE_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnknownTool      = "UNKNOWN_TOOL"
	ErrCodeInvalidDep       = "INVALID_DEPENDENCY"
	ErrCodeDepOutOfRange    = "DEPENDENCY_OUT_OF_RANGE"
	ErrCodeMissingField     = "MISSING_FIELD"
	ErrCodeTypeMismatch     = "TYPE_MISMATCH"
	ErrCodeCost             = "COST_CALCULATION_ERROR"
	ErrCodeAmountMismatch   = "PAYMENT_AMOUNT_MISMATCH"
	ErrCodeAlreadyPaid      = "PAYMENT_ALREADY_PAID"
	ErrCodeAlreadyConsumed  = "PAYMENT_ALREADY_CONSUMED"
	ErrCodeGateExpired      = "PAYMENT_GATE_EXPIRED"
	ErrCodeGateState        = "PAYMENT_GATE_STATE"
	ErrCodeRemoteInvocation = "REMOTE_INVOCATION_ERROR"
	ErrCodeToolExecution    = "TOOL_EXECUTION_ERROR"
	ErrCodeArgResolution    = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodeBatchExecution   = "BATCH_EXECUTION_ERROR"
	ErrCodeSummary          = "SUMMARY_ERROR"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeCancelled        = "EXECUTION_CANCELLED"
	ErrCodeTimeout          = "EXECUTION_TIMEOUT"
	ErrCodeCache            = "CACHE_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// TollgateError is a custom error type for tollgate specific errors.
type TollgateError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeUnknownTool)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "planning", "payment")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *TollgateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *TollgateError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TollgateError.
func NewError(code, stage, message string, cause error) *TollgateError {
	return &TollgateError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsTollgateError unwraps err looking for a TollgateError.
func IsTollgateError(err error) (*TollgateError, bool) {
	var te *TollgateError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// ErrorCode extracts the machine-readable code from an error chain, or
// returns the empty string for foreign errors.
func ErrorCode(err error) string {
	if te, ok := IsTollgateError(err); ok {
		return te.Code
	}
	return ""
}

// Specific error constructors

func NewPlanGenerationError(cause error) *TollgateError {
	return NewError(ErrCodePlanGeneration, "planning", "failed to generate execution plan", cause)
}

func NewPlanParseError(detail string, cause error) *TollgateError {
	return NewError(ErrCodePlanParse, "planning", fmt.Sprintf("oracle output yielded no usable plan: %s", detail), cause)
}

func NewValidationError(message string, cause error) *TollgateError {
	return NewError(ErrCodeValidation, "validation", message, cause)
}

func NewUnknownToolError(stepIndex int, service, tool string) *TollgateError {
	msg := fmt.Sprintf("step %d references unknown tool '%s::%s'", stepIndex, service, tool)
	return NewError(ErrCodeUnknownTool, "validation", msg, nil)
}

func NewInvalidDependencyError(stepIndex, dep int) *TollgateError {
	msg := fmt.Sprintf("step %d depends on step %d, but dependencies must reference strictly earlier steps", stepIndex, dep)
	return NewError(ErrCodeInvalidDep, "validation", msg, nil)
}

func NewDependencyOutOfRangeError(stepIndex, dep, stepCount int) *TollgateError {
	msg := fmt.Sprintf("step %d depends on step %d, but the plan has only %d step(s)", stepIndex, dep, stepCount)
	return NewError(ErrCodeDepOutOfRange, "validation", msg, nil)
}

func NewMissingFieldError(stepIndex int, field string) *TollgateError {
	msg := fmt.Sprintf("step %d is missing required field '%s'", stepIndex, field)
	return NewError(ErrCodeMissingField, "validation", msg, nil)
}

func NewTypeMismatchError(stepIndex int, argName, expected string, got interface{}) *TollgateError {
	msg := fmt.Sprintf("step %d argument '%s' expects %s but received %v (%T)", stepIndex, argName, expected, got, got)
	return NewError(ErrCodeTypeMismatch, "execution", msg, nil)
}

func NewCostError(message string, cause error) *TollgateError {
	return NewError(ErrCodeCost, "costing", message, cause)
}

func NewAmountMismatchError(required, offered string) *TollgateError {
	msg := fmt.Sprintf("payment of %s does not match required total %s", offered, required)
	return NewError(ErrCodeAmountMismatch, "payment", msg, nil)
}

func NewAlreadyPaidError(ref string) *TollgateError {
	msg := fmt.Sprintf("gate already holds verified proof '%s'", ref)
	return NewError(ErrCodeAlreadyPaid, "payment", msg, nil)
}

func NewAlreadyConsumedError(ref string) *TollgateError {
	msg := fmt.Sprintf("proof '%s' already authorized an execution", ref)
	return NewError(ErrCodeAlreadyConsumed, "payment", msg, nil)
}

func NewGateExpiredError() *TollgateError {
	return NewError(ErrCodeGateExpired, "payment", "payment window expired", nil)
}

func NewGateStateError(op, state string) *TollgateError {
	msg := fmt.Sprintf("operation '%s' is not valid while the gate is '%s'", op, state)
	return NewError(ErrCodeGateState, "payment", msg, nil)
}

func NewRemoteInvocationError(toolName string, attempts int, cause error) *TollgateError {
	msg := fmt.Sprintf("remote invocation of '%s' failed after %d attempt(s)", toolName, attempts)
	return NewError(ErrCodeRemoteInvocation, "invocation", msg, cause)
}

func NewToolExecutionError(stage, toolName string, cause error) *TollgateError {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewArgResolutionError(stage string, stepIndex int, argName string, cause error) *TollgateError {
	msg := fmt.Sprintf("failed to resolve argument '%s' for step %d", argName, stepIndex)
	return NewError(ErrCodeArgResolution, stage, msg, cause)
}

func NewBatchExecutionError(cause error) *TollgateError {
	return NewError(ErrCodeBatchExecution, "execution", "batch execution failed", cause)
}

func NewSummaryError(cause error) *TollgateError {
	return NewError(ErrCodeSummary, "summary", "failed to summarize execution report", cause)
}

func NewConfigurationError(message string, cause error) *TollgateError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *TollgateError {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" { // Add more detail if cause isn't just context.Canceled
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *TollgateError {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewCacheError(stage, operation string, cause error) *TollgateError {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *TollgateError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
