package tollgate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Oracle is the external planning model. It receives the user query plus the
// full priced catalog digest and replies with free text that is expected to
// contain one JSON plan object, possibly wrapped in prose or code fences.
type Oracle interface {
	Complete(ctx context.Context, req OracleRequest) (string, error)
}

// Generator turns a user query into a structured plan by consulting the
// oracle and decoding whatever JSON it finds in the reply.
type Generator interface {
	GeneratePlan(ctx context.Context, query string) (*Plan, error)
}

// Validator checks a generated plan against the catalog and the dependency
// rules. It accumulates every problem found rather than stopping at the
// first, so the caller can surface all defects in one round trip.
type Validator interface {
	Validate(plan *Plan) ValidationResult
}

// Coster computes a plan's authoritative total from catalog prices. Oracle
// supplied totals are advisory only and never trusted.
type Coster interface {
	Cost(plan *Plan) (decimal.Decimal, error)
}

// Catalog is the read-mostly registry of priced tools, addressed by the
// (service, name) composite key.
type Catalog interface {
	// Lookup returns the tool registered under (service, name).
	Lookup(service, name string) (Tool, bool)

	// Tools returns every registered tool, for prompt digests and listings.
	Tools() []Tool
}

// Invoker performs one remote tool call against the tool's endpoint,
// retrying transport-level failures with backoff. Application-level failure
// envelopes are returned as errors without retry.
type Invoker interface {
	Invoke(ctx context.Context, tool Tool, params map[string]interface{}) (interface{}, error)
}

// Summarizer produces the final human-readable account of an execution from
// the query and the aggregated report.
type Summarizer interface {
	Summarize(ctx context.Context, query string, report *ExecutionReport) (string, error)
}

// Cache provides storage for frequently accessed data, like generated plans.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{})
}

// GateState represents the lifecycle of a payment gate.
type GateState string

const (
	// GateAwaitingPayment indicates the gate holds no verified proof yet.
	GateAwaitingPayment GateState = "awaiting_payment"
	// GatePaid indicates a proof was verified and execution may be claimed.
	GatePaid GateState = "paid"
	// GateConsumed indicates the proof already authorized an execution.
	GateConsumed GateState = "consumed"
	// GateExpired indicates the payment window lapsed without a valid proof.
	GateExpired GateState = "expired"
)

// PaymentGate guards one immutable plan between costing and execution. A
// gate accepts exactly one valid proof, whose amount must equal the plan's
// total cost exactly, and that proof authorizes exactly one execution.
type PaymentGate interface {
	// SubmitPayment verifies a proof against the plan total. The first valid
	// proof moves the gate to GatePaid; later proofs are rejected.
	SubmitPayment(proof PaymentProof) error

	// Consume atomically claims the verified proof for one execution
	// attempt, moving the gate from GatePaid to GateConsumed.
	Consume() error

	// State reports the gate's current lifecycle state.
	State() GateState

	// Paid returns a channel that is closed once a valid proof is accepted,
	// so callers can suspend on payment without polling.
	Paid() <-chan struct{}

	// Deadline reports when the payment window closes.
	Deadline() time.Time

	// Proof returns the held proof once the gate is paid or consumed.
	Proof() (PaymentProof, bool)
}

// GateFactory constructs the payment gate for a freshly costed plan. The
// engine calls it once per execution, after validation and costing succeed.
type GateFactory func(plan *Plan) PaymentGate

// PaymentFunc supplies a payment proof on demand during blocking processing.
// It receives the costed plan so the payer can inspect steps and total
// before settling.
type PaymentFunc func(ctx context.Context, plan *Plan) (PaymentProof, error)
