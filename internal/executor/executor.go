// Package executor implements the deterministic pipeline runner of
// spec.md §4.3: condition check, template render, tool invocation,
// output capture. Step execution is sequential — there is no
// parallel step execution, per §1 Non-goals.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/invoker"
	"github.com/ordinaut/ordinaut/internal/pathquery"
	"github.com/ordinaut/ordinaut/internal/template"
	"github.com/ordinaut/ordinaut/internal/value"
)

const defaultStepTimeout = 30 * time.Second

// TemplateRenderError, ConditionEvalError, ToolInvocationError and
// PipelineAbort are the four failure modes of spec.md §4.3, each
// carrying the offending step id.
type TemplateRenderError struct {
	StepID string
	Cause  error
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("executor: step %s: render with: %v", e.StepID, e.Cause)
}
func (e *TemplateRenderError) Unwrap() error { return e.Cause }

type ConditionEvalError struct {
	StepID string
	Cause  error
}

func (e *ConditionEvalError) Error() string {
	return fmt.Sprintf("executor: step %s: eval if: %v", e.StepID, e.Cause)
}
func (e *ConditionEvalError) Unwrap() error { return e.Cause }

type ToolInvocationError struct {
	StepID string
	Cause  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("executor: step %s: invoke tool: %v", e.StepID, e.Cause)
}
func (e *ToolInvocationError) Unwrap() error { return e.Cause }

// PipelineAbort is returned by Run when a step fails and processing
// stops; it wraps the step-level error that caused the abort.
type PipelineAbort struct {
	StepID string
	Cause  error
}

func (e *PipelineAbort) Error() string {
	return fmt.Sprintf("executor: pipeline aborted at step %s: %v", e.StepID, e.Cause)
}
func (e *PipelineAbort) Unwrap() error { return e.Cause }

// Verdict is the outcome of one pipeline run.
type Verdict struct {
	Success bool
	Err     error
}

// Executor runs a Pipeline against a fresh execution context.
type Executor struct {
	invoker invoker.Invoker
	logger  *slog.Logger
}

func New(inv invoker.Invoker, logger *slog.Logger) *Executor {
	return &Executor{invoker: inv, logger: logger.With("component", "executor")}
}

// Run executes p.Steps in order, building ctx.steps as it goes, and
// returns the final context value alongside the verdict. now is the
// execution-start instant, exposed to templates as ${now}. eventPayload
// is the originating event's payload for event-triggered occurrences
// (spec.md §4.7), exposed as ctx.event.payload; pass value.Null() for
// time-triggered occurrences.
func (e *Executor) Run(ctx context.Context, p domain.Pipeline, now time.Time, eventPayload value.Value) (value.Value, Verdict) {
	if err := p.Validate(); err != nil {
		return value.Null(), Verdict{Success: false, Err: err}
	}

	params := p.Params
	if params.IsNull() {
		params = value.Object(nil)
	}

	steps := value.Object(nil)
	execCtx := value.Object(map[string]value.Value{
		"now":    value.Str(now.UTC().Format(time.RFC3339Nano)),
		"params": params,
		"steps":  steps,
		"event":  value.Object(map[string]value.Value{"payload": eventPayload}),
	})

	for _, step := range p.Steps {
		if step.If != "" {
			cond, err := pathquery.EvalString(step.If, execCtx)
			if err != nil {
				cerr := &ConditionEvalError{StepID: step.ID, Cause: err}
				return execCtx, Verdict{Success: false, Err: &PipelineAbort{StepID: step.ID, Cause: domain.Permanent(cerr)}}
			}
			if !cond.Truthy() {
				e.logger.DebugContext(ctx, "skipping step", "step_id", step.ID, "if", step.If)
				continue
			}
		}

		rendered, err := template.Render(step.With, execCtx)
		if err != nil {
			terr := &TemplateRenderError{StepID: step.ID, Cause: err}
			return execCtx, Verdict{Success: false, Err: &PipelineAbort{StepID: step.ID, Cause: domain.Permanent(terr)}}
		}

		timeout := defaultStepTimeout
		if step.TimeoutSeconds > 0 {
			timeout = time.Duration(step.TimeoutSeconds) * time.Second
		}

		out, err := e.invokeWithRetries(ctx, step, rendered, timeout)
		if err != nil {
			ierr := &ToolInvocationError{StepID: step.ID, Cause: err}
			return execCtx, Verdict{Success: false, Err: &PipelineAbort{StepID: step.ID, Cause: classifyToolErr(err, ierr)}}
		}

		if step.SaveAs != "" {
			execCtx = setStep(execCtx, step.SaveAs, out)
		}
	}

	return execCtx, Verdict{Success: true}
}

// invokeWithRetries applies step-level retries: in-process, linear 1s
// backoff between attempts, bounded by step.MaxRetries — distinct from
// the Worker Runtime's task-level re-leasing retries (spec.md §4.3).
func (e *Executor) invokeWithRetries(ctx context.Context, step domain.Step, args value.Value, timeout time.Duration) (value.Value, error) {
	var lastErr error
	attempts := step.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return value.Null(), ctx.Err()
			case <-timer.C:
			}
		}

		out, err := e.invoker.Invoke(ctx, step.Uses, args, timeout)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ierr, ok := err.(*invoker.InvocationError); ok && !ierr.Retryable {
			break
		}
	}
	return value.Null(), lastErr
}

func classifyToolErr(err error, wrapped error) error {
	if ierr, ok := err.(*invoker.InvocationError); ok && ierr.Retryable {
		return domain.Retryable(wrapped)
	}
	return domain.Permanent(wrapped)
}

func setStep(ctx value.Value, key string, v value.Value) value.Value {
	obj, _ := ctx.AsObject()
	cur := make(map[string]value.Value, len(obj))
	for k, val := range obj {
		cur[k] = val
	}
	steps, _ := cur["steps"].AsObject()
	newSteps := make(map[string]value.Value, len(steps)+1)
	for k, val := range steps {
		newSteps[k] = val
	}
	newSteps[key] = v
	cur["steps"] = value.Object(newSteps)
	return value.Object(cur)
}
