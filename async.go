package tollgate

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
)

// ExecutionStatus represents the status information for a tracked execution.
// Payment fields are populated while the execution is awaiting payment.
type ExecutionStatus struct {
	ExecutionID     string           `json:"execution_id"`
	Query           string           `json:"query"`
	State           ExecutionState   `json:"state"`
	StatePath       []ExecutionState `json:"state_path,omitempty"`
	AmountDue       string           `json:"amount_due,omitempty"`
	PaymentDeadline time.Time        `json:"payment_deadline,omitempty"`
	StartTime       time.Time        `json:"start_time"`
	Duration        time.Duration    `json:"duration"`
	IsTerminal      bool             `json:"is_terminal"`
	HasError        bool             `json:"has_error"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ErrorStage      string           `json:"error_stage,omitempty"`
}

// Status retrieves the current status of a tracked execution.
func (e *Engine) Status(executionID string) (*ExecutionStatus, error) {
	pCtx, exists := e.lookup(executionID)
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	pCtx.mu.RLock()
	state := pCtx.CurrentState
	path := make([]ExecutionState, 0, len(pCtx.StateStack)+1)
	path = append(path, pCtx.StateStack...)
	path = append(path, state)
	duration := time.Since(pCtx.StartTime)
	if !pCtx.EndTime.IsZero() {
		duration = pCtx.EndTime.Sub(pCtx.StartTime)
	}
	pCtx.mu.RUnlock()

	status := &ExecutionStatus{
		ExecutionID: executionID,
		Query:       pCtx.Query,
		State:       state,
		StatePath:   path,
		StartTime:   pCtx.StartTime,
		Duration:    duration,
		IsTerminal:  isTerminal(state),
	}

	// The gate and the plan total are attached before the execution becomes
	// observable in StateAwaitingPayment, so the state check above makes
	// these reads safe.
	if state == StateAwaitingPayment && pCtx.Gate != nil {
		status.AmountDue = pCtx.Plan.TotalCost.String()
		status.PaymentDeadline = pCtx.Gate.Deadline()
	}

	// Error fields are recorded before the terminal state is entered, and
	// only read once a terminal state has been observed.
	if status.IsTerminal && pCtx.LastError != nil {
		status.HasError = true
		status.ErrorMessage = pCtx.LastError.Error()
		status.ErrorStage = pCtx.ErrorStage
	}

	return status, nil
}

// Result retrieves the report of a finished execution. The report is handed
// out for every terminal state, including failures, alongside the stage error
// if the machine recorded one. Returns an error while the execution is still
// in progress.
func (e *Engine) Result(executionID string) (*ExecutionReport, error) {
	pCtx, exists := e.lookup(executionID)
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	pCtx.mu.RLock()
	state := pCtx.CurrentState
	report := pCtx.Report
	pCtx.mu.RUnlock()

	if !isTerminal(state) {
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", state)
	}
	if report == nil {
		// Terminal state entered but the machine has not attached the
		// report yet.
		return nil, fmt.Errorf("execution is still finalizing (current state: %s)", state)
	}

	if pCtx.LastError != nil {
		return report, fmt.Errorf("execution failed during stage '%s': %w", pCtx.ErrorStage, pCtx.LastError)
	}

	return report, nil
}

// Cancel withdraws an ongoing execution. It returns true if cancellation was
// requested, false if the execution had already finished. The state machine
// observes the cancelled context at its next boundary and lands the execution
// in StateCancelled itself, so no state is forced here.
func (e *Engine) Cancel(executionID string) (bool, error) {
	pCtx, exists := e.lookup(executionID)
	if !exists {
		return false, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	if pCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := pCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}
	cancelFn()

	if e.config.EnableEventBus && e.eventBus != nil {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventAsyncExecutionCancelled,
			pCtx.Query,
			"Engine.Cancel",
			map[string]interface{}{
				"execution_id": executionID,
				"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
			},
		)
		e.eventBus.Publish(context.Background(), cancelEvent)
	}

	return true, nil
}

// ListExecutions returns all tracked execution IDs and their current states.
func (e *Engine) ListExecutions() map[string]string {
	e.executionsMutex.RLock()
	defer e.executionsMutex.RUnlock()

	result := make(map[string]string)
	for id, pCtx := range e.executions {
		result[id] = string(pCtx.State())
	}

	return result
}

// CleanupCompletedExecutions removes finished executions older than the
// specified duration. This keeps long-running deployments from accumulating
// every report ever produced.
func (e *Engine) CleanupCompletedExecutions(olderThan time.Duration) int {
	e.executionsMutex.Lock()
	defer e.executionsMutex.Unlock()

	now := time.Now()
	count := 0

	for id, pCtx := range e.executions {
		pCtx.mu.RLock()
		terminal := isTerminal(pCtx.CurrentState)
		endTime := pCtx.EndTime
		pCtx.mu.RUnlock()

		if terminal && !endTime.IsZero() && now.Sub(endTime) > olderThan {
			delete(e.executions, id)
			count++
		}
	}

	return count
}
