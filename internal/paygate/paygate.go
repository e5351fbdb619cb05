// Package paygate guards costed plans behind an exact-amount payment check.
// A gate holds one immutable plan, accepts at most one valid proof, and
// releases exactly one execution for that proof.
package paygate

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/tollgate"
)

// DefaultWindow is how long a gate waits for payment before expiring.
const DefaultWindow = 10 * time.Minute

// Gate implements tollgate.PaymentGate. All lifecycle checks happen under
// one mutex, so verification and the paid→consumed claim are atomic even
// with concurrent submitters.
type Gate struct {
	mu       sync.Mutex
	plan     *tollgate.Plan
	state    tollgate.GateState
	window   time.Duration
	deadline time.Time
	proof    *tollgate.PaymentProof
	paid     chan struct{}
	now      func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithWindow overrides the payment window.
func WithWindow(window time.Duration) Option {
	return func(g *Gate) {
		g.window = window
	}
}

// WithClock injects a time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a gate for a costed plan, open for the payment window.
func New(plan *tollgate.Plan, options ...Option) *Gate {
	g := &Gate{
		plan:   plan,
		state:  tollgate.GateAwaitingPayment,
		window: DefaultWindow,
		paid:   make(chan struct{}),
		now:    time.Now,
	}
	for _, option := range options {
		option(g)
	}
	g.deadline = g.now().Add(g.window)
	return g
}

// Factory returns a tollgate.GateFactory that creates gates with the given
// options for every costed plan.
func Factory(options ...Option) tollgate.GateFactory {
	return func(plan *tollgate.Plan) tollgate.PaymentGate {
		return New(plan, options...)
	}
}

// SubmitPayment implements tollgate.PaymentGate. The proof's amount must
// equal the plan total exactly; near-misses in either direction are
// rejected and leave the gate open for a corrected proof.
func (g *Gate) SubmitPayment(proof tollgate.PaymentProof) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()

	switch g.state {
	case tollgate.GateExpired:
		return tollgate.NewGateExpiredError()
	case tollgate.GatePaid:
		return tollgate.NewAlreadyPaidError(g.proof.TransactionReference)
	case tollgate.GateConsumed:
		return tollgate.NewAlreadyConsumedError(g.proof.TransactionReference)
	}

	if proof.TransactionReference == "" {
		return tollgate.NewError(tollgate.ErrCodeValidation, "payment", "payment proof is missing a transaction reference", nil)
	}
	if !proof.Amount.Equal(g.plan.TotalCost) {
		return tollgate.NewAmountMismatchError(g.plan.TotalCost.String(), proof.Amount.String())
	}

	held := proof
	g.proof = &held
	g.state = tollgate.GatePaid
	close(g.paid)
	return nil
}

// Consume implements tollgate.PaymentGate. It atomically claims the held
// proof for one execution attempt.
func (g *Gate) Consume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()

	switch g.state {
	case tollgate.GateAwaitingPayment:
		return tollgate.NewGateStateError("consume", string(g.state))
	case tollgate.GateExpired:
		return tollgate.NewGateExpiredError()
	case tollgate.GateConsumed:
		return tollgate.NewAlreadyConsumedError(g.proof.TransactionReference)
	}

	g.state = tollgate.GateConsumed
	return nil
}

// State implements tollgate.PaymentGate.
func (g *Gate) State() tollgate.GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked()
	return g.state
}

// Paid implements tollgate.PaymentGate. The returned channel is closed when
// the gate accepts a valid proof and never closes otherwise.
func (g *Gate) Paid() <-chan struct{} {
	return g.paid
}

// Deadline implements tollgate.PaymentGate.
func (g *Gate) Deadline() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deadline
}

// Proof implements tollgate.PaymentGate.
func (g *Gate) Proof() (tollgate.PaymentProof, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.proof == nil {
		return tollgate.PaymentProof{}, false
	}
	return *g.proof, true
}

// expireLocked flips an unpaid gate to expired once the window has lapsed.
// Paid gates never expire; the proof already settled the plan.
func (g *Gate) expireLocked() {
	if g.state == tollgate.GateAwaitingPayment && g.now().After(g.deadline) {
		g.state = tollgate.GateExpired
	}
}
