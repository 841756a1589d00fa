package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/felixgeelhaar/dispatch/internal/backend"
	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
	"github.com/felixgeelhaar/dispatch/internal/ratelimit"
	"github.com/felixgeelhaar/dispatch/internal/session"
)

// rateOperation prefixes the balancer operation name for backend
// invocations, so each backend family draws from its own bucket.
const rateOperation = "invoke"

// ProcessRunner runs one invocation to completion. *driver.Driver is the
// production implementation; tests substitute a stub.
type ProcessRunner interface {
	Run(ctx context.Context, strategy backend.Strategy, task *backend.Task, inv *backend.Invocation) (*backend.ExecutionResult, error)
}

// Executor turns plans into backend invocations.
type Executor struct {
	registry *backend.Registry
	runner   ProcessRunner
	balancer *ratelimit.Balancer
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor over the given registry, runner and
// balancer.
func NewExecutor(registry *backend.Registry, runner ProcessRunner, balancer *ratelimit.Balancer, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		runner:   runner,
		balancer: balancer,
		logger:   log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a plan to its terminal status. The returned Result is
// always populated once the plan validates; the error mirrors terminal
// failure for callers that prefer error handling.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	if plan.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
	}

	strategy := e.registry.Resolve(plan.Backend)
	e.logger.Info("executing plan",
		"plan_id", plan.ID,
		"name", plan.Name,
		"mode", string(plan.Mode),
		"backend", strategy.Name(),
		"steps", len(plan.Steps))

	start := time.Now()
	var steps []StepResult
	if plan.Mode == ModeParallel {
		steps = e.runParallel(ctx, plan, strategy)
	} else {
		steps = e.runSequential(ctx, plan, strategy)
	}
	duration := time.Since(start)

	result := e.aggregate(ctx, plan, steps, duration)
	e.recordPlan(plan, result)

	e.logger.Info("plan finished",
		"plan_id", plan.ID,
		"status", string(result.Status),
		"succeeded", result.Succeeded(),
		"steps", len(result.Steps),
		"duration", duration.String())

	if result.Status == StatusCompleted {
		return result, nil
	}
	code := dispatcherrors.ErrCodePlanStepFailed
	if result.Status == StatusTimeout {
		code = dispatcherrors.ErrCodePlanTimeout
	}
	return result, dispatcherrors.New(code, dispatcherrors.KindPermanent,
		fmt.Sprintf("plan %s finished with status %s: %s", plan.ID, result.Status, result.Summary))
}

// ExecuteTask runs one stand-alone task outside any plan. The task keeps
// its quick shape and gets the same rate and retry treatment as a plan
// step, but no session.
func (e *Executor) ExecuteTask(ctx context.Context, backendName string, task *backend.Task) StepResult {
	strategy := e.registry.Resolve(backendName)
	e.logger.Info("executing one-shot task",
		"task_id", task.ID,
		"backend", strategy.Name())

	step := &Step{ID: task.ID, Name: "one-shot task"}
	return e.runStep(ctx, DefaultCaller, strategy, task, step, nil)
}

// runSequential executes steps in order. Summaries of completed steps
// parameterize later prompts, a session threads backend-native
// continuation when the strategy supports it, and a permanent failure
// marks the remaining steps skipped.
func (e *Executor) runSequential(ctx context.Context, plan *Plan, strategy backend.Strategy) []StepResult {
	var sess *session.Session
	results := make([]StepResult, 0, len(plan.Steps))
	var summaries []string
	aborted := false

	for i := range plan.Steps {
		step := &plan.Steps[i]

		if aborted || ctx.Err() != nil {
			results = append(results, StepResult{
				StepID:  step.ID,
				Name:    step.Name,
				Outcome: OutcomeSkipped,
				Summary: "skipped after earlier failure",
			})
			continue
		}

		// The session exists only once a continuation-capable step runs.
		if sess == nil && strategy.Capabilities().SupportsContinuation {
			sess = session.New(plan.ID)
		}

		task := taskForStep(plan, step, backend.TaskShapeSequentialStep)
		// A live session already carries earlier context on resume.
		if len(summaries) > 0 && (sess == nil || sess.Continuation() == "") {
			task.Instruction = withPriorSummaries(step.Instruction, summaries)
		}

		sr := e.runStep(ctx, plan.Caller, strategy, task, step, sess)
		results = append(results, sr)

		if sr.Outcome == OutcomeSucceeded {
			if sr.Summary != "" {
				summaries = append(summaries, sr.Summary)
			}
			continue
		}

		// Transient exhaustion and permanent failures both end the plan:
		// later steps likely depend on this one.
		aborted = true
		e.logger.Warn("sequential plan aborting after step failure",
			"plan_id", plan.ID,
			"step_id", step.ID,
			"error", errText(sr.Err))
	}
	return results
}

// runParallel fans steps out, at most plan.Fanout in flight. Steps share
// no session and a failure never cancels in-flight siblings.
func (e *Executor) runParallel(ctx context.Context, plan *Plan, strategy backend.Strategy) []StepResult {
	sem := semaphore.NewWeighted(int64(plan.Fanout))
	results := make([]StepResult, len(plan.Steps))

	var wg sync.WaitGroup
	for i := range plan.Steps {
		step := &plan.Steps[i]

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = StepResult{
				StepID:  step.ID,
				Name:    step.Name,
				Outcome: OutcomeSkipped,
				Summary: "skipped: plan deadline expired before the step could start",
				Err:     err,
			}
			continue
		}

		wg.Add(1)
		go func(i int, step *Step) {
			defer wg.Done()
			defer sem.Release(1)

			task := taskForStep(plan, step, backend.TaskShapeParallelStep)
			results[i] = e.runStep(ctx, plan.Caller, strategy, task, step, nil)
		}(i, step)
	}
	wg.Wait()
	return results
}

// runStep drives one step through the balancer. Each attempt rebuilds the
// invocation so a session continuation picked up by an earlier attempt is
// honored, and re-acquires a rate token.
func (e *Executor) runStep(ctx context.Context, caller string, strategy backend.Strategy, task *backend.Task, step *Step, sess *session.Session) StepResult {
	start := time.Now()

	var final *backend.ExecutionResult
	err := e.balancer.Do(ctx, caller, rateOperation+":"+strategy.Name(), func(ctx context.Context) error {
		continuation := ""
		if sess != nil {
			continuation = sess.Continuation()
		}

		inv, err := strategy.BuildInvocation(task, continuation)
		if err != nil {
			return dispatcherrors.Wrap(dispatcherrors.ErrCodePlanStepFailed, dispatcherrors.KindPermanent,
				fmt.Sprintf("cannot build invocation for step %s", step.ID), err)
		}

		res, runErr := e.runner.Run(ctx, strategy, task, inv)
		if res != nil {
			final = res
		}
		if runErr != nil {
			return runErr
		}

		if !res.Success {
			if strategy.ShouldRetry(res.ExitCode, res.Output) {
				return dispatcherrors.New(dispatcherrors.ErrCodeBackendUnavailable, dispatcherrors.KindTransient,
					fmt.Sprintf("backend %s failed transiently: %s", strategy.Name(), res.ErrorMessage))
			}
			return dispatcherrors.New(dispatcherrors.ErrCodePlanStepFailed, dispatcherrors.KindPermanent,
				fmt.Sprintf("backend %s failed: %s", strategy.Name(), res.ErrorMessage))
		}

		if sess != nil {
			sess.RecordTurn(inv.Prompt, res.Summary, res.SessionID)
		}
		return nil
	})

	sr := StepResult{
		StepID:   step.ID,
		Name:     step.Name,
		Duration: time.Since(start),
		Err:      err,
	}
	if final != nil {
		sr.Summary = final.Summary
		sr.Touched = final.TouchedPaths
	}

	if err == nil {
		sr.Outcome = OutcomeSucceeded
	} else {
		sr.Outcome = OutcomeFailed
		if sr.Summary == "" {
			sr.Summary = errText(err)
		}
	}
	return sr
}

// aggregate derives the terminal plan status from step outcomes. A
// sequential plan that did not complete aborted early, so it reports
// failed; partial is reserved for parallel plans where every step ran
// and the outcomes are mixed.
func (e *Executor) aggregate(ctx context.Context, plan *Plan, steps []StepResult, duration time.Duration) *Result {
	succeeded, failed, skipped := 0, 0, 0
	for _, s := range steps {
		switch s.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}

	var status Status
	switch {
	case ctx.Err() == context.DeadlineExceeded && succeeded < len(steps):
		status = StatusTimeout
	case succeeded == len(steps):
		status = StatusCompleted
	case succeeded == 0 || plan.Mode != ModeParallel:
		status = StatusFailed
	default:
		status = StatusPartial
	}

	summary := fmt.Sprintf("%d/%d steps succeeded", succeeded, len(steps))
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	if skipped > 0 {
		summary += fmt.Sprintf(", %d skipped", skipped)
	}
	if status == StatusTimeout {
		summary += fmt.Sprintf(" before the plan deadline of %s", plan.Timeout)
	}

	return &Result{
		PlanID:   plan.ID,
		Status:   status,
		Summary:  summary,
		Steps:    steps,
		Duration: duration,
	}
}

func (e *Executor) recordPlan(plan *Plan, result *Result) {
	if e.metrics == nil {
		return
	}
	mode := string(plan.Mode)
	e.metrics.PlanExecutions.WithLabelValues(mode, string(result.Status)).Inc()
	e.metrics.PlanDuration.WithLabelValues(mode).Observe(result.Duration.Seconds())
	e.metrics.PlanStepCount.WithLabelValues(mode).Observe(float64(len(result.Steps)))
	for _, s := range result.Steps {
		e.metrics.StepOutcomes.WithLabelValues(mode, string(s.Outcome)).Inc()
	}
}

// taskForStep projects a plan step onto a backend task.
func taskForStep(plan *Plan, step *Step, shape backend.TaskShape) *backend.Task {
	return &backend.Task{
		ID:           step.ID,
		Instruction:  step.Instruction,
		RepoRoot:     plan.RepoRoot,
		ContextFiles: step.ContextFiles,
		AllowScopes:  step.AllowScopes,
		DenyScopes:   step.DenyScopes,
		Shape:        shape,
	}
}

// withPriorSummaries prepends what earlier steps accomplished.
func withPriorSummaries(instruction string, summaries []string) string {
	var sb strings.Builder
	sb.WriteString("Earlier steps in this plan already did the following:\n")
	for _, s := range summaries {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("\n")
	sb.WriteString(instruction)
	return sb.String()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
