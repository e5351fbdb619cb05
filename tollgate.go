// Package tollgate provides a payment-gated planning and execution runtime.
// A user query is turned into a dependency-ordered plan over a priced tool
// catalog, the plan's total cost is settled through a payment gate, and only
// then are the plan's steps dispatched to their remote tools.
package tollgate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
	"github.com/google/uuid"
)

// Engine is the main entry point into the tollgate runtime. It wires the
// planning, payment, and execution components into one payment-gated
// workflow.
type Engine struct {
	// Core components
	generator  Generator
	validator  Validator
	coster     Coster
	executor   Executor
	gates      GateFactory
	payment    PaymentFunc
	summarizer Summarizer
	eventBus   eventbus.EventBus

	// Configuration
	config Config

	// Async processing
	executions      map[string]*ProcessContext
	executionsMutex sync.RWMutex
}

// Components holds references to the core components needed for state
// transitions.
type Components struct {
	Generator  Generator
	Validator  Validator
	Coster     Coster
	Executor   Executor
	Gates      GateFactory
	Payment    PaymentFunc
	Summarizer Summarizer
	Config     Config
}

// Executor runs a costed plan's steps in dependency order and aggregates the
// per-step outcomes.
type Executor interface {
	Execute(ctx context.Context, plan *Plan) (*Composition, error)
}

// Config holds the configuration options for the tollgate runtime. Component
// level tuning (payment window, batch parallelism, retry policy) lives on the
// components themselves.
type Config struct {
	// Upper bound on plan size; generation is rejected above it. Zero
	// disables the cap.
	MaxSteps int

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int

	// Enable/disable report summarization
	EnableSummary bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            20,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
		EnableSummary:       true,
	}
}

// Option is a function that configures an Engine instance.
type Option func(*Engine)

// WithConfig sets the configuration for the engine.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithGenerator sets the plan generator component.
func WithGenerator(generator Generator) Option {
	return func(e *Engine) {
		e.generator = generator
	}
}

// WithValidator sets the plan validator component.
func WithValidator(validator Validator) Option {
	return func(e *Engine) {
		e.validator = validator
	}
}

// WithCoster sets the plan costing component.
func WithCoster(coster Coster) Option {
	return func(e *Engine) {
		e.coster = coster
	}
}

// WithExecutor sets the executor component.
func WithExecutor(executor Executor) Option {
	return func(e *Engine) {
		e.executor = executor
	}
}

// WithGateFactory sets the payment gate factory.
func WithGateFactory(gates GateFactory) Option {
	return func(e *Engine) {
		e.gates = gates
	}
}

// WithPaymentFunc sets the optional payment callback used by blocking
// processing to settle the bill inline.
func WithPaymentFunc(payment PaymentFunc) Option {
	return func(e *Engine) {
		e.payment = payment
	}
}

// WithSummarizer sets the optional report summarizer component.
func WithSummarizer(summarizer Summarizer) Option {
	return func(e *Engine) {
		e.summarizer = summarizer
	}
}

// New creates a new Engine instance with the provided options.
func New(options ...Option) (*Engine, error) {
	// Create with default configuration
	e := &Engine{
		config:     DefaultConfig(),
		executions: make(map[string]*ProcessContext),
	}

	// Apply options
	for _, option := range options {
		option(e)
	}

	// Validate required components
	if e.generator == nil {
		return nil, fmt.Errorf("generator is required")
	}

	if e.validator == nil {
		return nil, fmt.Errorf("validator is required")
	}

	if e.coster == nil {
		return nil, fmt.Errorf("coster is required")
	}

	if e.executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	if e.gates == nil {
		return nil, fmt.Errorf("gate factory is required")
	}

	// Initialize event bus if enabled but not provided
	if e.config.EnableEventBus && e.eventBus == nil {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
		)
		log.Printf("engine: initialized default channel-based event bus")
	}

	return e, nil
}

// EventBus returns the engine's event bus, or nil when eventing is disabled.
func (e *Engine) EventBus() eventbus.EventBus {
	return e.eventBus
}

// Process handles one end-to-end query execution: plan, validate, cost, gate
// on payment, execute, report. It blocks until a terminal state is reached,
// so without a payment callback (see WithPaymentFunc) or an out-of-band
// SubmitPayment the call waits for the payment window to expire.
func (e *Engine) Process(ctx context.Context, query string) (*ExecutionReport, error) {
	stateMachine := e.createStateMachine()
	processContext := NewProcessContext(uuid.New().String(), query)

	e.track(processContext)
	defer e.untrack(processContext.ExecutionID)

	return stateMachine.Execute(ctx, processContext)
}

// Submit starts an asynchronous query execution. It returns a unique
// execution ID that can be used to check status, submit the payment proof,
// fetch the result, or cancel.
func (e *Engine) Submit(ctx context.Context, query string) (string, error) {
	executionID := uuid.New().String()
	stateMachine := e.createStateMachine()
	processContext := NewProcessContext(executionID, query)

	e.track(processContext)

	// The execution outlives the submitting call, so it runs on its own
	// cancellable context.
	asyncCtx, cancel := context.WithCancel(context.Background())
	processContext.StateData["cancel"] = cancel

	if e.config.EnableEventBus && e.eventBus != nil {
		startEvent := eventbus.NewEvent(
			eventbus.EventAsyncExecutionStarted,
			query,
			"Engine.Submit",
			map[string]interface{}{
				"timestamp":    time.Now().Format(time.RFC3339),
				"execution_id": executionID,
			},
		)
		e.eventBus.Publish(ctx, startEvent)
	}

	go func() {
		defer cancel()

		_, err := stateMachine.Execute(asyncCtx, processContext)

		if e.config.EnableEventBus && e.eventBus != nil {
			eventType := eventbus.EventAsyncExecutionSuccess
			metadata := map[string]interface{}{
				"execution_id": executionID,
				"state":        string(processContext.State()),
				"duration_ms":  processContext.GetTotalDuration().Milliseconds(),
			}
			if err != nil {
				eventType = eventbus.EventAsyncExecutionFailure
				metadata["error"] = err.Error()
				metadata["error_stage"] = processContext.ErrorStage
			}

			completionEvent := eventbus.NewEvent(
				eventType,
				query,
				"Engine.Submit",
				metadata,
			)
			// Use background context since the submitting context may be done.
			e.eventBus.Publish(context.Background(), completionEvent)
		}
	}()

	return executionID, nil
}

// SubmitPayment forwards a payment proof to the gate of a tracked execution.
// It fails when the execution is unknown or has not reached the payment
// stage; a rejected proof leaves the gate open for another attempt until the
// window closes.
func (e *Engine) SubmitPayment(executionID string, proof PaymentProof) error {
	processContext, exists := e.lookup(executionID)
	if !exists {
		return fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	// The gate is attached before the execution becomes observable in
	// StateAwaitingPayment, so checking the state first makes the read safe.
	state := processContext.State()
	if state == StatePlanning {
		return NewGateStateError("submit_payment", string(state))
	}
	gate := processContext.Gate
	if gate == nil {
		return NewGateStateError("submit_payment", string(state))
	}

	if err := gate.SubmitPayment(proof); err != nil {
		if e.config.EnableEventBus && e.eventBus != nil {
			e.eventBus.Publish(context.Background(), eventbus.NewEvent(
				eventbus.EventPaymentRejected,
				proof,
				"Engine.SubmitPayment",
				map[string]interface{}{
					"execution_id": executionID,
					"error":        err.Error(),
				},
			))
		}
		return err
	}

	return nil
}

// track registers a process context for status lookups.
func (e *Engine) track(processContext *ProcessContext) {
	e.executionsMutex.Lock()
	e.executions[processContext.ExecutionID] = processContext
	e.executionsMutex.Unlock()
}

// untrack removes a process context once its execution is no longer
// addressable.
func (e *Engine) untrack(executionID string) {
	e.executionsMutex.Lock()
	delete(e.executions, executionID)
	e.executionsMutex.Unlock()
}

// lookup fetches a tracked process context by execution ID.
func (e *Engine) lookup(executionID string) (*ProcessContext, bool) {
	e.executionsMutex.RLock()
	defer e.executionsMutex.RUnlock()
	processContext, exists := e.executions[executionID]
	return processContext, exists
}

// createStateMachine builds a state machine with all necessary transitions
// for the payment-gated execution workflow.
func (e *Engine) createStateMachine() *StateMachine {
	// Determine if event bus should be used
	var eventBus eventbus.EventBus
	if e.config.EnableEventBus {
		eventBus = e.eventBus
	}

	components := Components{
		Generator:  e.generator,
		Validator:  e.validator,
		Coster:     e.coster,
		Executor:   e.executor,
		Gates:      e.gates,
		Payment:    e.payment,
		Summarizer: e.summarizer,
		Config:     e.config,
	}

	return CreateExecutionStateMachine(components, eventBus)
}
