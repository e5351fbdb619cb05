package tollgate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
)

// CreateExecutionStateMachine builds the state machine for the payment-gated
// execution workflow. Only non-terminal states get transitions; terminal
// states end the machine's run.
func CreateExecutionStateMachine(components Components, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StatePlanning, createPlanningTransition(components))
	sm.RegisterTransition(StateAwaitingPayment, createAwaitingPaymentTransition(components))
	sm.RegisterTransition(StateExecuting, createExecutingTransition(components))

	return sm
}

// publish sends an event when a bus is attached; executions run fine without
// one.
func publish(ctx context.Context, eb eventbus.EventBus, eventType eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	eb.Publish(ctx, eventbus.NewEvent(eventType, payload, source, metadata))
}

// createPlanningTransition generates, validates, and costs the plan, then
// opens the payment gate. Any defect here is terminal: no gate is opened for
// a plan that failed validation or costing.
func createPlanningTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ExecutionState, error) {
		publish(ctx, eb, eventbus.EventPlanGenerationStarted, pCtx.Query, "StateMachine.Planning", map[string]interface{}{
			"execution_id": pCtx.ExecutionID,
			"timestamp":    time.Now().Format(time.RFC3339),
		})

		plan, err := components.Generator.GeneratePlan(ctx, pCtx.Query)
		if err != nil {
			publish(ctx, eb, eventbus.EventPlanGenerationFailure, err.Error(), "StateMachine.Planning", map[string]interface{}{
				"error": err.Error(),
			})
			publish(ctx, eb, eventbus.EventExecutionFailure, pCtx.Query, "StateMachine.Planning", map[string]interface{}{
				"error": err.Error(),
				"stage": "plan_generation",
			})
			if ctx.Err() != nil {
				return StateCancelled, NewCancelledError("planning", ctx.Err())
			}
			return StateFailed, err
		}

		publish(ctx, eb, eventbus.EventPlanGenerationSuccess, plan, "StateMachine.Planning", map[string]interface{}{
			"step_count": len(plan.Steps),
		})

		if max := components.Config.MaxSteps; max > 0 && len(plan.Steps) > max {
			msg := fmt.Sprintf("plan contains %d steps, exceeding the configured maximum of %d", len(plan.Steps), max)
			pCtx.ValidationErrors = []string{msg}
			publish(ctx, eb, eventbus.EventPlanValidationFailure, plan, "StateMachine.Planning", map[string]interface{}{
				"errors": pCtx.ValidationErrors,
			})
			return StateFailed, NewValidationError(msg, nil)
		}

		result := components.Validator.Validate(plan)
		if !result.Valid {
			pCtx.ValidationErrors = result.Errors
			publish(ctx, eb, eventbus.EventPlanValidationFailure, plan, "StateMachine.Planning", map[string]interface{}{
				"errors":      result.Errors,
				"error_count": len(result.Errors),
			})
			return StateFailed, NewValidationError(fmt.Sprintf("plan failed validation with %d error(s)", len(result.Errors)), nil)
		}

		total, err := components.Coster.Cost(plan)
		if err != nil {
			publish(ctx, eb, eventbus.EventExecutionFailure, pCtx.Query, "StateMachine.Planning", map[string]interface{}{
				"error": err.Error(),
				"stage": "costing",
			})
			return StateFailed, err
		}
		plan.TotalCost = total
		pCtx.Plan = plan

		publish(ctx, eb, eventbus.EventPlanCosted, plan, "StateMachine.Planning", map[string]interface{}{
			"total_cost": total.String(),
			"step_count": len(plan.Steps),
		})

		gate := components.Gates(plan)
		pCtx.Gate = gate

		publish(ctx, eb, eventbus.EventPaymentRequested, plan, "StateMachine.Planning", map[string]interface{}{
			"execution_id": pCtx.ExecutionID,
			"amount":       total.String(),
			"deadline":     gate.Deadline().Format(time.RFC3339),
		})

		return StateAwaitingPayment, nil
	}
}

// createAwaitingPaymentTransition suspends the execution until the gate is
// paid, the payment window closes, or the caller cancels. A configured
// payment callback settles the bill inline; otherwise the gate waits for an
// out-of-band SubmitPayment.
func createAwaitingPaymentTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ExecutionState, error) {
		gate := pCtx.Gate
		if gate == nil {
			return StateFailed, NewInternalError("payment", "no payment gate attached to execution", nil)
		}

		if components.Payment != nil && gate.State() == GateAwaitingPayment {
			proof, err := components.Payment(ctx, pCtx.Plan)
			if err != nil {
				return StateFailed, fmt.Errorf("payment callback failed: %w", err)
			}
			if err := gate.SubmitPayment(proof); err != nil {
				publish(ctx, eb, eventbus.EventPaymentRejected, proof, "StateMachine.AwaitingPayment", map[string]interface{}{
					"error": err.Error(),
				})
				return StateFailed, err
			}
		}

		deadlineTimer := time.NewTimer(time.Until(gate.Deadline()))
		defer deadlineTimer.Stop()

		select {
		case <-gate.Paid():
			metadata := map[string]interface{}{
				"amount": pCtx.Plan.TotalCost.String(),
			}
			if proof, ok := gate.Proof(); ok {
				metadata["transaction_reference"] = proof.TransactionReference
			}
			publish(ctx, eb, eventbus.EventPaymentAccepted, pCtx.Plan, "StateMachine.AwaitingPayment", metadata)
			return StateExecuting, nil

		case <-deadlineTimer.C:
			publish(ctx, eb, eventbus.EventPaymentExpired, pCtx.Plan, "StateMachine.AwaitingPayment", map[string]interface{}{
				"deadline": gate.Deadline().Format(time.RFC3339),
			})
			return StateExpired, NewGateExpiredError()

		case <-ctx.Done():
			publish(ctx, eb, eventbus.EventExecutionCancelled, pCtx.Query, "StateMachine.AwaitingPayment", map[string]interface{}{
				"error": ctx.Err().Error(),
			})
			return StateCancelled, NewCancelledError("payment", ctx.Err())
		}
	}
}

// createExecutingTransition consumes the payment proof, runs the plan's
// batches, and optionally summarizes the outcome. Step failures are data, not
// transition errors: the execution lands in StateFailed with the partial
// report intact.
func createExecutingTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ExecutionState, error) {
		gate := pCtx.Gate
		if err := gate.Consume(); err != nil {
			return StateFailed, err
		}

		consumedMetadata := map[string]interface{}{}
		if proof, ok := gate.Proof(); ok {
			consumedMetadata["transaction_reference"] = proof.TransactionReference
		}
		publish(ctx, eb, eventbus.EventPaymentConsumed, pCtx.Plan, "StateMachine.Executing", consumedMetadata)

		publish(ctx, eb, eventbus.EventExecutionStarted, pCtx.Plan, "StateMachine.Executing", map[string]interface{}{
			"step_count": len(pCtx.Plan.Steps),
			"total_cost": pCtx.Plan.TotalCost.String(),
		})

		composition, err := components.Executor.Execute(ctx, pCtx.Plan)
		if composition != nil {
			pCtx.Composition = composition
		}
		if err != nil {
			if ErrorCode(err) == ErrCodeCancelled {
				publish(ctx, eb, eventbus.EventExecutionCancelled, pCtx.Query, "StateMachine.Executing", map[string]interface{}{
					"error": err.Error(),
				})
				return StateCancelled, err
			}
			publish(ctx, eb, eventbus.EventExecutionFailure, pCtx.Query, "StateMachine.Executing", map[string]interface{}{
				"error": err.Error(),
				"stage": "batch_execution",
			})
			return StateFailed, err
		}

		succeeded := composition.Failed == 0 && composition.Blocked == 0
		summarize(ctx, eb, components, pCtx, succeeded)

		if succeeded {
			publish(ctx, eb, eventbus.EventExecutionSuccess, pCtx.Query, "StateMachine.Executing", map[string]interface{}{
				"succeeded": composition.Succeeded,
				"duration":  composition.Duration.String(),
			})
			return StateCompleted, nil
		}

		publish(ctx, eb, eventbus.EventExecutionFailure, pCtx.Query, "StateMachine.Executing", map[string]interface{}{
			"succeeded": composition.Succeeded,
			"failed":    composition.Failed,
			"blocked":   composition.Blocked,
			"stage":     "batch_execution",
		})
		return StateFailed, nil
	}
}

// summarize runs the optional summarizer over an interim report carrying the
// outcome the execution is about to land in. Summary failures are logged and
// published but never fail an execution whose billed work already ran.
func summarize(ctx context.Context, eb eventbus.EventBus, components Components, pCtx *ProcessContext, succeeded bool) {
	if !components.Config.EnableSummary || components.Summarizer == nil {
		return
	}

	interim := pCtx.buildReport()
	if succeeded {
		interim.State = StateCompleted
	} else {
		interim.State = StateFailed
	}

	publish(ctx, eb, eventbus.EventSummaryStarted, pCtx.Query, "StateMachine.Executing", map[string]interface{}{
		"step_count": len(interim.Results),
	})

	summary, err := components.Summarizer.Summarize(ctx, pCtx.Query, interim)
	if err != nil {
		log.Printf("state machine: summary generation failed (execution: %s, error: %v)", pCtx.ExecutionID, err)
		publish(ctx, eb, eventbus.EventSummaryFailure, err.Error(), "StateMachine.Executing", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	pCtx.Summary = summary
	publish(ctx, eb, eventbus.EventSummarySuccess, summary, "StateMachine.Executing", map[string]interface{}{
		"summary_length": len(summary),
	})
}
