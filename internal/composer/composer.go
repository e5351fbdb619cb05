// Package composer orders a validated plan's steps into dependency batches
// and drives their remote invocation, propagating each step's output into
// the pending arguments of later steps.
package composer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
	"github.com/sourcegraph/conc/pool"
)

// Composer executes plan batches against remote tools. Batch N+1 never
// dispatches until every step of batch N reached a terminal status, so a
// step only ever reads outputs from strictly earlier batches.
type Composer struct {
	invoker     tollgate.Invoker
	catalog     tollgate.Catalog
	maxParallel int
	stepTimeout time.Duration
	bus         eventbus.EventBus

	metrics ComposerMetrics
}

// ComposerOption represents an option for configuring the Composer.
type ComposerOption func(*Composer)

// WithMaxParallel caps concurrent step dispatch within a batch. A value of
// one forces sequential execution in ascending step-index order.
func WithMaxParallel(n int) ComposerOption {
	return func(c *Composer) {
		c.maxParallel = n
	}
}

// WithStepTimeout bounds one step's invocation, retries included.
func WithStepTimeout(timeout time.Duration) ComposerOption {
	return func(c *Composer) {
		c.stepTimeout = timeout
	}
}

// WithEventBus publishes step and batch lifecycle events to the given bus.
func WithEventBus(bus eventbus.EventBus) ComposerOption {
	return func(c *Composer) {
		c.bus = bus
	}
}

// New creates a composer over the given invoker and catalog.
func New(invoker tollgate.Invoker, catalog tollgate.Catalog, options ...ComposerOption) *Composer {
	c := &Composer{
		invoker:     invoker,
		catalog:     catalog,
		maxParallel: 4,
		stepTimeout: time.Minute * 5,
	}
	for _, option := range options {
		option(c)
	}
	if c.catalog == nil || len(c.catalog.Tools()) == 0 {
		log.Println("Warning: composer initialized with an empty or nil tool catalog.")
	}
	return c
}

// Batches orders the plan's steps into maximal concurrent batches. Batch 0
// holds every step with no dependencies; a later step lands in the batch
// immediately after its deepest dependency. Dependencies are backward-only
// in a valid plan, so one left-to-right pass settles every level, and
// appending in index order keeps each batch sorted by step index.
func Batches(plan *tollgate.Plan) ([][]int, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, tollgate.NewBatchExecutionError(fmt.Errorf("plan has no steps to order"))
	}

	levels := make([]int, len(plan.Steps))
	maxLevel := 0
	for i, step := range plan.Steps {
		level := 0
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= i {
				return nil, tollgate.NewBatchExecutionError(fmt.Errorf(
					"step %d depends on step %d, which is not an earlier step", i, dep))
			}
			if levels[dep]+1 > level {
				level = levels[dep] + 1
			}
		}
		levels[i] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	batches := make([][]int, maxLevel+1)
	for i, level := range levels {
		batches[level] = append(batches[level], i)
	}
	return batches, nil
}

// Execute runs the plan batch by batch and always returns a composition
// covering every step that reached a terminal status, even on partial
// failure. The error is non-nil only for plan-level problems: an unorderable
// plan, or cancellation at a batch boundary. A cancelled run still returns
// the partial composition alongside the error.
func (c *Composer) Execute(ctx context.Context, plan *tollgate.Plan) (*tollgate.Composition, error) {
	batches, err := Batches(plan)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log.Printf("composer: starting plan execution (steps: %d, batches: %d)", len(plan.Steps), len(batches))
	c.resetMetrics()

	run := newPlanRun(plan)

	var cancelled error
	for batchIndex, batch := range batches {
		// Cancellation is honored only here, between batches. In-flight
		// invocations may already have started a billable remote side
		// effect and are left to finish.
		if ctx.Err() != nil {
			cancelled = tollgate.NewCancelledError("execution", ctx.Err())
			log.Printf("composer: execution cancelled at batch boundary (batch: %d)", batchIndex)
			break
		}

		ready, blocked := run.markReady(batch)
		for _, index := range blocked {
			log.Printf("composer: step blocked by failed dependency (step: %d)", index)
			c.publish(ctx, eventbus.EventStepExecutionBlocked, map[string]interface{}{
				"step":  index,
				"error": run.failure(index).Error(),
			})
		}
		c.observeBlocked(len(blocked))

		if len(ready) == 0 {
			continue
		}
		c.publish(ctx, eventbus.EventBatchExecutionStarted, map[string]interface{}{
			"batch": batchIndex,
			"steps": ready,
		})
		c.runBatch(ctx, run, ready)
		c.observeBatch()
		c.publish(ctx, eventbus.EventBatchExecutionFinished, map[string]interface{}{
			"batch": batchIndex,
		})
	}

	composition := run.composition(time.Since(start))
	log.Printf("composer: plan execution finished (succeeded: %d, failed: %d, blocked: %d, duration: %v)",
		composition.Succeeded, composition.Failed, composition.Blocked, composition.Duration)
	return composition, cancelled
}

// runBatch dispatches the batch's ready steps. Each worker resolves its own
// arguments against an immutable snapshot of earlier outputs, so siblings
// never observe each other's results.
func (c *Composer) runBatch(ctx context.Context, run *planRun, ready []int) {
	outputs := run.snapshotOutputs()

	if c.maxParallel <= 1 {
		for _, index := range ready {
			c.executeStep(ctx, run, outputs, index)
		}
		return
	}

	workers := pool.New().WithMaxGoroutines(c.maxParallel)
	for _, index := range ready {
		workers.Go(func() {
			c.executeStep(ctx, run, outputs, index)
		})
	}
	workers.Wait()
}

// executeStep resolves one step's arguments, invokes its tool, and records
// the terminal status. Failures are scoped to the step; siblings in the same
// batch keep running.
func (c *Composer) executeStep(ctx context.Context, run *planRun, outputs map[int]interface{}, index int) {
	step := run.plan.Steps[index]
	run.setStatus(index, tollgate.StepStatusRunning)
	started := time.Now()
	log.Printf("composer: starting step execution (step: %d, service: %s, tool: %s)", index, step.Service, step.Tool)
	c.publish(ctx, eventbus.EventStepExecutionStarted, map[string]interface{}{
		"step":    index,
		"service": step.Service,
		"tool":    step.Tool,
	})

	tool, ok := c.catalog.Lookup(step.Service, step.Tool)
	if !ok {
		c.finishStep(ctx, run, index, started, tollgate.NewUnknownToolError(index, step.Service, step.Tool))
		return
	}

	params, err := c.resolveParams(step, index, outputs)
	if err != nil {
		c.finishStep(ctx, run, index, started, err)
		return
	}

	// The invocation runs on a context detached from the caller's cancel
	// signal: once dispatched, a step is allowed to finish, and the batch
	// boundary is the cancellation point. The step timeout still applies.
	stepCtx := context.WithoutCancel(ctx)
	if c.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, c.stepTimeout)
		defer cancel()
	}

	output, err := c.invoker.Invoke(stepCtx, tool, params)
	if err != nil {
		c.finishStep(ctx, run, index, started, err)
		return
	}

	run.setDone(index, output)
	c.observeStep(time.Since(started), true)
	log.Printf("composer: step execution completed (step: %d, tool: %s, duration: %v)",
		index, tool.Key(), time.Since(started))
	c.publish(ctx, eventbus.EventStepExecutionSuccess, map[string]interface{}{
		"step":     index,
		"tool":     tool.Key(),
		"duration": time.Since(started).String(),
	})
}

// finishStep records a failed step.
func (c *Composer) finishStep(ctx context.Context, run *planRun, index int, started time.Time, err error) {
	run.setFailed(index, err)
	c.observeStep(time.Since(started), false)
	log.Printf("composer: step execution failed (step: %d, error: %v)", index, err)
	c.publish(ctx, eventbus.EventStepExecutionFailure, map[string]interface{}{
		"step":  index,
		"error": err.Error(),
	})
}

// resolveParams materializes a step's params, replacing pending-argument
// and expression objects with concrete values drawn from earlier outputs.
// Literal values pass through untouched.
func (c *Composer) resolveParams(step tollgate.Step, index int, outputs map[int]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(step.Params))
	for name, raw := range step.Params {
		if pending, ok := tollgate.AsPendingArgument(raw); ok {
			value, err := resolvePending(pending, index, name, outputs)
			if err != nil {
				return nil, err
			}
			resolved[name] = value
			continue
		}
		if expr, ok := tollgate.AsExpressionArgument(raw); ok {
			value, err := evaluateExpression(expr, outputs)
			if err != nil {
				return nil, tollgate.NewArgResolutionError("execution", index, name, err)
			}
			resolved[name] = value
			continue
		}
		resolved[name] = raw
	}
	return resolved, nil
}

// resolvePending fills one pending argument from its source step's output.
func resolvePending(arg *tollgate.PendingArgument, index int, name string, outputs map[int]interface{}) (interface{}, error) {
	source, err := arg.SourceIndex()
	if err != nil {
		return nil, tollgate.NewArgResolutionError("execution", index, name, err)
	}
	output, ok := outputs[source]
	if !ok {
		return nil, tollgate.NewArgResolutionError("execution", index, name,
			fmt.Errorf("step %d has not produced an output", source))
	}
	value, err := extractField(output, arg.Source.Field)
	if err != nil {
		return nil, tollgate.NewArgResolutionError("execution", index, name, err)
	}
	coerced, err := coerceValue(value, arg.Type)
	if err != nil {
		return nil, tollgate.NewTypeMismatchError(index, name, arg.Type, value)
	}
	return coerced, nil
}

// extractField pulls the named field out of a dependency's output. An empty
// name or "*" selects the whole output. Map outputs are addressed by key,
// array outputs by numeric index. Field "0" on a scalar output selects the
// scalar itself, the convention for tools returning a single primary value;
// on a single-entry map it falls back to that entry.
func extractField(output interface{}, field string) (interface{}, error) {
	switch typed := output.(type) {
	case map[string]interface{}:
		if field == "" || field == "*" {
			return typed, nil
		}
		if value, ok := typed[field]; ok {
			return value, nil
		}
		if field == "0" && len(typed) == 1 {
			for _, value := range typed {
				return value, nil
			}
		}
		return nil, fmt.Errorf("output has no field %q", field)

	case []interface{}:
		if field == "" || field == "*" {
			return typed, nil
		}
		idx, err := strconv.Atoi(field)
		if err != nil || idx < 0 || idx >= len(typed) {
			return nil, fmt.Errorf("invalid array index %q for output of length %d", field, len(typed))
		}
		return typed[idx], nil

	default:
		if field == "" || field == "*" || field == "0" {
			return output, nil
		}
		return nil, fmt.Errorf("cannot extract field %q from scalar output of type %T", field, output)
	}
}

// coerceValue converts a resolved value to the argument's declared type. An
// empty or unrecognized declaration passes the value through untouched.
// Stringified numbers are accepted for numeric declarations, since planning
// oracles emit them routinely.
func coerceValue(value interface{}, declared string) (interface{}, error) {
	switch strings.ToLower(declared) {
	case "":
		return value, nil

	case "string":
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to string", value)

	case "number", "float", "decimal":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to number", v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to number", value)

	case "integer", "int":
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("cannot coerce fractional %v to integer", v)
			}
			return int64(v), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to integer", v)
			}
			return i, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to integer", value)

	case "boolean", "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to boolean", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to boolean", value)

	case "array", "list":
		if v, ok := value.([]interface{}); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to array", value)

	case "object", "map":
		if v, ok := value.(map[string]interface{}); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to object", value)

	default:
		return value, nil
	}
}

// publish sends a lifecycle event when a bus is configured. Delivery
// failures are logged, never propagated into the execution path.
func (c *Composer) publish(ctx context.Context, eventType eventbus.EventType, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	event := eventbus.NewEvent(eventType, payload, "composer", nil)
	if err := c.bus.Publish(ctx, event); err != nil {
		log.Printf("composer: failed to publish event (type: %s, error: %v)", eventType, err)
	}
}

// planRun is the mutable state for one Execute call. Workers write only
// their own step's slots, but map writes race structurally, so every access
// goes through the mutex. Resolution never reads this state directly; it
// reads the immutable snapshot taken at the batch boundary.
type planRun struct {
	mu       sync.Mutex
	plan     *tollgate.Plan
	statuses []tollgate.StepStatus
	outputs  map[int]interface{}
	failures map[int]error
}

func newPlanRun(plan *tollgate.Plan) *planRun {
	run := &planRun{
		plan:     plan,
		statuses: make([]tollgate.StepStatus, len(plan.Steps)),
		outputs:  make(map[int]interface{}, len(plan.Steps)),
		failures: make(map[int]error),
	}
	for i := range run.statuses {
		run.statuses[i] = tollgate.StepStatusPending
	}
	return run
}

// markReady splits a batch into dispatchable steps and steps blocked by a
// failed or blocked dependency. Blocked is terminal and propagates: a step
// downstream of a blocked step blocks too, at its own batch boundary.
func (r *planRun) markReady(batch []int) (ready, blocked []int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, index := range batch {
		blockedBy := -1
		for _, dep := range r.plan.Steps[index].DependsOn {
			if r.statuses[dep] == tollgate.StepStatusError || r.statuses[dep] == tollgate.StepStatusBlocked {
				blockedBy = dep
				break
			}
		}
		if blockedBy >= 0 {
			r.statuses[index] = tollgate.StepStatusBlocked
			r.failures[index] = tollgate.NewError(tollgate.ErrCodeBatchExecution, "execution",
				fmt.Sprintf("step %d blocked by failed dependency step %d", index, blockedBy),
				r.failures[blockedBy])
			blocked = append(blocked, index)
			continue
		}
		r.statuses[index] = tollgate.StepStatusReady
		ready = append(ready, index)
	}
	return ready, blocked
}

// snapshotOutputs copies the outputs of every completed step, taken between
// batches so workers can read it without locking.
func (r *planRun) snapshotOutputs() map[int]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[int]interface{}, len(r.outputs))
	for index, output := range r.outputs {
		snapshot[index] = output
	}
	return snapshot
}

func (r *planRun) setStatus(index int, status tollgate.StepStatus) {
	r.mu.Lock()
	r.statuses[index] = status
	r.mu.Unlock()
}

func (r *planRun) setDone(index int, output interface{}) {
	r.mu.Lock()
	r.statuses[index] = tollgate.StepStatusDone
	r.outputs[index] = output
	r.mu.Unlock()
}

func (r *planRun) setFailed(index int, err error) {
	r.mu.Lock()
	r.statuses[index] = tollgate.StepStatusError
	r.failures[index] = err
	r.mu.Unlock()
}

func (r *planRun) failure(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[index]
}

// composition aggregates the run into its terminal report form. Results are
// keyed and ordered by step index regardless of completion order.
func (r *planRun) composition(duration time.Duration) *tollgate.Composition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &tollgate.Composition{
		StepStates: append([]tollgate.StepStatus(nil), r.statuses...),
		Duration:   duration,
	}
	for index, status := range r.statuses {
		switch status {
		case tollgate.StepStatusDone:
			out.Succeeded++
			out.Results = append(out.Results, tollgate.StepResult{StepIndex: index, Output: r.outputs[index]})
		case tollgate.StepStatusError:
			out.Failed++
			out.Results = append(out.Results, tollgate.StepResult{StepIndex: index, Error: r.failures[index].Error()})
		case tollgate.StepStatusBlocked:
			out.Blocked++
			out.Results = append(out.Results, tollgate.StepResult{StepIndex: index, Error: r.failures[index].Error()})
		}
	}
	return out
}
