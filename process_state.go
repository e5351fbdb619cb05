package tollgate

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
)

// ExecutionState represents the lifecycle state of one plan execution.
type ExecutionState string

const (
	// StatePlanning covers plan generation, validation, and costing.
	StatePlanning ExecutionState = "planning"
	// StateAwaitingPayment means the plan is costed and gated on a proof.
	StateAwaitingPayment ExecutionState = "awaiting_payment"
	// StateExecuting means the proof was consumed and batches are running.
	StateExecuting ExecutionState = "executing"
	// StateCompleted means every step reached done.
	StateCompleted ExecutionState = "completed"
	// StateFailed means planning failed or at least one step did not finish;
	// the report still carries every partial result.
	StateFailed ExecutionState = "failed"
	// StateExpired means the payment window lapsed before a valid proof
	// arrived. No remote calls were made.
	StateExpired ExecutionState = "expired"
	// StateCancelled means the caller withdrew the execution.
	StateCancelled ExecutionState = "cancelled"
	// StateUnknown is reported when an execution cannot be found.
	StateUnknown ExecutionState = "unknown"
)

// isTerminal reports whether a state ends the machine's run.
func isTerminal(state ExecutionState) bool {
	switch state {
	case StateCompleted, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// ProcessContext carries one execution through the state machine. Transitions
// read and write it, and the state stack records the traversal path.
//
// The machine goroutine is the only writer. Intermediate results are always
// written before the state advance that makes them observable, so concurrent
// readers must check the current state under the lock first and only then
// read the fields that state guarantees (see Engine.Status).
type ProcessContext struct {
	// Input parameters
	ExecutionID string
	Query       string

	// Intermediate results
	Plan             *Plan
	Gate             PaymentGate
	Composition      *Composition
	ValidationErrors []string
	Summary          string

	// Error handling
	LastError  error
	ErrorStage string

	// State management. mu guards the current state, the stack, the timing
	// fields, and the final report against concurrent status reads.
	mu           sync.RWMutex
	CurrentState ExecutionState
	StateStack   []ExecutionState
	Report       *ExecutionReport
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ExecutionState]time.Time
}

// NewProcessContext creates a fresh context for one query execution.
func NewProcessContext(executionID, query string) *ProcessContext {
	pc := &ProcessContext{
		ExecutionID:     executionID,
		Query:           query,
		StateStack:      []ExecutionState{},
		StateData:       make(map[string]interface{}),
		StartTime:       time.Now(),
		StateStartTimes: make(map[ExecutionState]time.Time),
	}
	pc.mu.Lock()
	pc.enterStateLocked(StatePlanning)
	pc.mu.Unlock()
	return pc
}

// enterStateLocked sets the current state and stamps its start time. Entering
// a terminal state freezes the end time. Callers hold mu.
func (pc *ProcessContext) enterStateLocked(state ExecutionState) {
	pc.CurrentState = state
	pc.StateStartTimes[state] = time.Now()
	if isTerminal(state) && pc.EndTime.IsZero() {
		pc.EndTime = time.Now()
	}
}

// PushState records the current state on the stack and enters a new one, so
// the stack holds the path taken through the machine.
func (pc *ProcessContext) PushState(state ExecutionState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.StateStack = append(pc.StateStack, pc.CurrentState)
	pc.enterStateLocked(state)
}

// PopState returns to the most recently stacked state. It reports false when
// the stack is empty.
func (pc *ProcessContext) PopState() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.StateStack) == 0 {
		return false
	}
	lastIdx := len(pc.StateStack) - 1
	state := pc.StateStack[lastIdx]
	pc.StateStack = pc.StateStack[:lastIdx]
	pc.enterStateLocked(state)
	return true
}

// State returns the current lifecycle state.
func (pc *ProcessContext) State() ExecutionState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.CurrentState
}

// StatePath returns the traversal history including the current state.
func (pc *ProcessContext) StatePath() []ExecutionState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	path := make([]ExecutionState, 0, len(pc.StateStack)+1)
	path = append(path, pc.StateStack...)
	return append(path, pc.CurrentState)
}

// IsTerminal checks if the current state ends the execution.
func (pc *ProcessContext) IsTerminal() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return isTerminal(pc.CurrentState)
}

// SetError records a failure and moves the execution to StateFailed.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.PushState(StateFailed)
}

// SetCancelled records a caller withdrawal and moves to StateCancelled.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.PushState(StateCancelled)
}

// GetTotalDuration returns how long the execution has run, frozen once a
// terminal state is entered.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.EndTime.IsZero() {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// buildReport assembles the execution report from whatever the machine has
// produced so far. It runs on the machine goroutine, which owns all the
// fields it reads.
func (pc *ProcessContext) buildReport() *ExecutionReport {
	report := &ExecutionReport{
		ExecutionID: pc.ExecutionID,
		State:       pc.CurrentState,
		Duration:    pc.GetTotalDuration(),
	}
	if pc.Plan != nil {
		report.Intent = pc.Plan.Intent
		report.TotalCost = pc.Plan.TotalCost
	}
	if pc.Composition != nil {
		report.Results = pc.Composition.Results
		report.StepStates = pc.Composition.StepStates
		report.Succeeded = pc.Composition.Succeeded
		report.Failed = pc.Composition.Failed
		report.Blocked = pc.Composition.Blocked
	}
	if len(pc.ValidationErrors) > 0 {
		report.Errors = append(report.Errors, pc.ValidationErrors...)
	} else if pc.LastError != nil {
		report.Errors = append(report.Errors, pc.LastError.Error())
	}
	report.Summary = pc.Summary
	return report
}

// StateTransition advances the machine by one state. On error the returned
// state must be terminal; the machine records the error before entering it.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ExecutionState, error)

// StateMachine drives one execution through its lifecycle states.
type StateMachine struct {
	transitions map[ExecutionState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine with no transitions registered.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ExecutionState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers the transition function for a state.
func (sm *StateMachine) RegisterTransition(state ExecutionState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the machine until a terminal state is reached and returns the
// execution report. A report is produced for every terminal state, including
// failures; the returned error is nil for completed executions and for
// executions whose steps failed individually, and non-nil when a stage of the
// machine itself failed.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*ExecutionReport, error) {
	for !pCtx.IsTerminal() {
		// Honor caller cancellation between states. Transitions that
		// suspend or run batches perform their own checks while waiting.
		select {
		case <-ctx.Done():
			pCtx.SetCancelled(NewCancelledError(string(pCtx.CurrentState), ctx.Err()), string(pCtx.CurrentState))
		default:
			transition, exists := sm.transitions[pCtx.CurrentState]
			if !exists {
				pCtx.SetError(NewInternalError(string(pCtx.CurrentState), "no transition defined for state", nil), string(pCtx.CurrentState))
				continue
			}

			nextState, err := transition(ctx, sm.eventBus, pCtx)
			if err != nil {
				pCtx.LastError = err
				pCtx.ErrorStage = string(pCtx.CurrentState)
				if !isTerminal(nextState) {
					nextState = StateFailed
				}
			}
			pCtx.PushState(nextState)
		}
	}

	report := pCtx.buildReport()
	pCtx.mu.Lock()
	pCtx.Report = report
	pCtx.mu.Unlock()
	return report, pCtx.LastError
}
