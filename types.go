package tollgate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// StepStatus represents the possible states of a single plan step.
type StepStatus string

const (
	// StepStatusPending indicates the step is waiting for dependencies.
	StepStatusPending StepStatus = "pending"
	// StepStatusReady indicates all dependencies are resolved.
	StepStatusReady StepStatus = "ready"
	// StepStatusRunning indicates the remote invocation is in flight.
	StepStatusRunning StepStatus = "running"
	// StepStatusDone indicates the step completed successfully.
	StepStatusDone StepStatus = "done"
	// StepStatusError indicates the step itself failed.
	StepStatusError StepStatus = "error"
	// StepStatusBlocked indicates the step was never attempted because a
	// transitive dependency failed.
	StepStatusBlocked StepStatus = "blocked"
)

// Tool is one priced, remotely-invocable capability. Identity is the
// (Service, Name) pair. Tools are immutable once loaded into a catalog.
type Tool struct {
	Service     string            `json:"service" yaml:"service"`
	Name        string            `json:"name" yaml:"name"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Price       decimal.Decimal   `json:"price" yaml:"price"`
	Description string            `json:"description" yaml:"description"`
	InputSchema map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Key returns the composite lookup key for this tool.
func (t Tool) Key() string {
	return t.Service + "::" + t.Name
}

// Step is one remote tool invocation within a plan. Steps are addressed by
// their position in the plan's step sequence; DependsOn entries are indices
// of strictly earlier steps.
type Step struct {
	Service   string                 `json:"mcp"`
	Tool      string                 `json:"tool"`
	Params    map[string]interface{} `json:"params"`
	Reason    string                 `json:"reason"`
	DependsOn []int                  `json:"dependsOn"`
}

// PendingSource names the producing step (as a stringified index) and the
// output field a deferred argument draws from.
type PendingSource struct {
	Field  string `json:"field"`
	TaskID string `json:"taskId"`
}

// PendingArgument is a step parameter whose value is unknown until the
// referenced earlier step completes. Field "0" conventionally denotes the
// first/primary output value for tools returning a single scalar.
type PendingArgument struct {
	Source PendingSource `json:"source"`
	Type   string        `json:"type,omitempty"`
	Value  interface{}   `json:"value,omitempty"`
}

// SourceIndex parses the producing step index out of the source taskId.
func (p *PendingArgument) SourceIndex() (int, error) {
	idx, err := strconv.Atoi(p.Source.TaskID)
	if err != nil {
		return 0, fmt.Errorf("pending argument taskId %q is not a step index: %w", p.Source.TaskID, err)
	}
	return idx, nil
}

// AsPendingArgument reports whether a raw params value is a pending-argument
// object and decodes it if so. The wire form is a map carrying a "source"
// object with "taskId" and "field" keys.
func AsPendingArgument(v interface{}) (*PendingArgument, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	rawSource, ok := m["source"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	taskID, ok := rawSource["taskId"].(string)
	if !ok {
		return nil, false
	}
	arg := &PendingArgument{Source: PendingSource{TaskID: taskID}}
	if field, ok := rawSource["field"].(string); ok {
		arg.Source.Field = field
	}
	if typ, ok := m["type"].(string); ok {
		arg.Type = typ
	}
	arg.Value = m["value"]
	return arg, true
}

// AsExpressionArgument reports whether a raw params value is an expression
// argument ({"expression": "..."}) and returns the expression if so.
func AsExpressionArgument(v interface{}) (string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	expr, ok := m["expression"].(string)
	return expr, ok && expr != ""
}

// Plan is a validated, costed sequence of steps with declared dependencies.
// TotalCost is authoritative and computed from the catalog, never taken from
// the oracle. A plan becomes immutable once it enters a payment gate.
type Plan struct {
	Intent          string          `json:"intent"`
	Steps           []Step          `json:"steps"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	Reasoning       string          `json:"reasoning"`
	ExpectedOutcome string          `json:"expectedOutcome,omitempty"`

	// AdvisoryCost is the total the oracle claimed, retained only for the
	// coster's disagreement log. Never authoritative, never serialized.
	AdvisoryCost *decimal.Decimal `json:"-"`
}

// PaymentProof is externally-issued evidence that a plan's total cost has
// been settled. A given proof authorizes exactly one execution attempt.
type PaymentProof struct {
	TransactionReference string          `json:"transactionReference"`
	Amount               decimal.Decimal `json:"amount"`
	Payer                string          `json:"payer"`
}

// StepResult is the outcome of one step for the lifetime of one execution.
// Error is set iff the step failed (or was blocked by a failed dependency).
type StepResult struct {
	StepIndex int         `json:"stepIndex"`
	Output    interface{} `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ValidationResult carries every problem found in a proposed plan, not just
// the first. A plan with any error must not be costed or gated.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Composition is the outcome of running one plan's batches: results for
// every step that reached a terminal state, in step-index order, alongside
// the final per-step statuses and terminal counts.
type Composition struct {
	Results    []StepResult  `json:"results"`
	StepStates []StepStatus  `json:"stepStates"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Blocked    int           `json:"blocked"`
	Duration   time.Duration `json:"duration"`
}

// ExecutionReport is the terminal aggregation for one plan execution. It is
// always produced, including after partial failure, so a consumer can present
// partial findings rather than a bare error.
type ExecutionReport struct {
	ExecutionID string          `json:"executionId"`
	State       ExecutionState  `json:"state"`
	Intent      string          `json:"intent,omitempty"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Results     []StepResult    `json:"results"`
	StepStates  []StepStatus    `json:"stepStates,omitempty"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Blocked     int             `json:"blocked"`
	Errors      []string        `json:"errors,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// ToolDigest is the (name, price, description) tuple serialized into the
// planning oracle's request for each catalog tool.
type ToolDigest struct {
	Service     string `json:"service"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
}

// OracleRequest is the request/response boundary with the external planning
// oracle: the user query plus the full priced catalog digest. The response is
// free text expected to contain one JSON object.
type OracleRequest struct {
	Query string       `json:"query"`
	Tools []ToolDigest `json:"tools"`
}
