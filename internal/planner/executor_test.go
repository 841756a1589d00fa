package planner

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/dispatch/internal/backend"
	"github.com/felixgeelhaar/dispatch/internal/ratelimit"
)

// stubRunner satisfies ProcessRunner without spawning processes.
type stubRunner struct {
	mu          sync.Mutex
	invocations []*backend.Invocation
	handle      func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubRunner) Run(ctx context.Context, _ backend.Strategy, _ *backend.Task, inv *backend.Invocation) (*backend.ExecutionResult, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	s.mu.Lock()
	s.invocations = append(s.invocations, inv)
	call := len(s.invocations)
	s.mu.Unlock()

	if s.handle != nil {
		return s.handle(call, inv)
	}
	return okResult(inv), nil
}

func (s *stubRunner) recorded() []*backend.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*backend.Invocation(nil), s.invocations...)
}

func okResult(inv *backend.Invocation) *backend.ExecutionResult {
	return &backend.ExecutionResult{
		InvocationID: inv.ID,
		Backend:      inv.Backend,
		Success:      true,
		Summary:      "step done",
		ExitCode:     0,
	}
}

func failedResult(inv *backend.Invocation, output string) *backend.ExecutionResult {
	return &backend.ExecutionResult{
		InvocationID: inv.ID,
		Backend:      inv.Backend,
		Success:      false,
		Output:       output,
		ExitCode:     1,
		FailureKind:  backend.FailureBackend,
		ErrorMessage: output,
	}
}

func fastBalancer() *ratelimit.Balancer {
	return ratelimit.NewBalancer(
		ratelimit.Rule{Capacity: 1000, Window: time.Second},
		ratelimit.WithRetryPolicy(ratelimit.RetryPolicy{
			InitialInterval: time.Millisecond,
			Multiplier:      2.0,
			MaxInterval:     5 * time.Millisecond,
			MaxAttempts:     3,
		}))
}

func testPlan(mode Mode, steps ...Step) *Plan {
	return &Plan{
		Name:     "test plan",
		Mode:     mode,
		Backend:  "claude",
		RepoRoot: "/repo",
		Steps:    steps,
	}
}

func step(name string) Step {
	return Step{Name: name, Instruction: "do " + name}
}

func TestExecuteSequentialCompletes(t *testing.T) {
	runner := &stubRunner{}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeSequential, step("one"), step("two"), step("three"))
	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.Succeeded())

	// Strict ordering: prompts appear in plan order.
	invs := runner.recorded()
	require.Len(t, invs, 3)
	assert.Contains(t, invs[0].Prompt, "do one")
	assert.Contains(t, invs[1].Prompt, "do two")
	assert.Contains(t, invs[2].Prompt, "do three")
}

func TestExecuteSequentialCarriesSessionIntoLaterSteps(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			res := okResult(inv)
			res.SessionID = "sess-abc"
			return res, nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeSequential, step("one"), step("two"))
	_, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	invs := runner.recorded()
	require.Len(t, invs, 2)
	assert.NotContains(t, strings.Join(invs[0].Args, " "), "--resume")
	assert.Contains(t, strings.Join(invs[1].Args, " "), "--resume sess-abc")
}

func TestExecuteSequentialParameterizesWithoutSession(t *testing.T) {
	runner := &stubRunner{}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	// Aider has no sessions, so the second prompt carries the first
	// step's summary inline.
	plan := testPlan(ModeSequential, step("one"), step("two"))
	plan.Backend = "aider"
	_, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	invs := runner.recorded()
	require.Len(t, invs, 2)
	assert.NotContains(t, invs[0].Prompt, "Earlier steps")
	assert.Contains(t, invs[1].Prompt, "Earlier steps")
	assert.Contains(t, invs[1].Prompt, "step done")
}

func TestExecuteSequentialAbortsAfterPermanentFailure(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			if call == 2 {
				return failedResult(inv, "Invalid API key. Please run /login"), nil
			}
			return okResult(inv), nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeSequential, step("one"), step("two"), step("three"))
	result, err := e.Execute(context.Background(), plan)
	require.Error(t, err)

	// An aborted sequential plan is failed, not partial: partial would
	// suggest the remaining steps ran.
	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, OutcomeSucceeded, result.Steps[0].Outcome)
	assert.Equal(t, OutcomeFailed, result.Steps[1].Outcome)
	assert.Equal(t, OutcomeSkipped, result.Steps[2].Outcome)

	// The aborted step never reached the runner.
	assert.Len(t, runner.recorded(), 2)
}

func TestExecuteRetriesTransientStepFailure(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			if call == 1 {
				return failedResult(inv, "Error: rate limit exceeded"), nil
			}
			return okResult(inv), nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeSequential, step("one"))
	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Len(t, runner.recorded(), 2, "transient failure retried once")
}

func TestExecuteParallelBoundsFanout(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			time.Sleep(30 * time.Millisecond)
			return okResult(inv), nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeParallel,
		step("a"), step("b"), step("c"), step("d"), step("e"), step("f"))
	plan.Fanout = 2

	result, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.LessOrEqual(t, runner.maxInFlight.Load(), int32(2))
}

func TestExecuteParallelStepsShareNoSession(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			res := okResult(inv)
			res.SessionID = "sess-should-not-propagate"
			return res, nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeParallel, step("a"), step("b"), step("c"))
	_, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	for _, inv := range runner.recorded() {
		assert.NotContains(t, strings.Join(inv.Args, " "), "--resume")
	}
}

func TestExecuteParallelFailureDoesNotCancelSiblings(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			if strings.Contains(inv.Prompt, "do bad") {
				return failedResult(inv, "unauthorized"), nil
			}
			time.Sleep(20 * time.Millisecond)
			return okResult(inv), nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeParallel, step("bad"), step("good-1"), step("good-2"))
	result, err := e.Execute(context.Background(), plan)
	require.Error(t, err)

	assert.Equal(t, StatusPartial, result.Status)
	assert.Equal(t, 2, result.Succeeded())
}

func TestExecuteAllStepsFail(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			return failedResult(inv, "unauthorized"), nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeParallel, step("a"), step("b"))
	result, err := e.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestExecutePlanTimeout(t *testing.T) {
	runner := &stubRunner{
		handle: func(call int, inv *backend.Invocation) (*backend.ExecutionResult, error) {
			time.Sleep(200 * time.Millisecond)
			return okResult(inv), nil
		},
	}
	e := NewExecutor(backend.NewRegistry(), runner, fastBalancer())

	plan := testPlan(ModeSequential, step("one"), step("two"), step("three"))
	plan.Timeout = 100 * time.Millisecond

	result, err := e.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, StatusTimeout, result.Status)
	assert.Contains(t, result.Summary, "deadline")
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr bool
	}{
		{"valid", Plan{RepoRoot: "/r", Steps: []Step{{Instruction: "x"}}}, false},
		{"no steps", Plan{RepoRoot: "/r"}, true},
		{"no repo root", Plan{Steps: []Step{{Instruction: "x"}}}, true},
		{"bad mode", Plan{RepoRoot: "/r", Mode: "sideways", Steps: []Step{{Instruction: "x"}}}, true},
		{"negative fanout", Plan{RepoRoot: "/r", Fanout: -1, Steps: []Step{{Instruction: "x"}}}, true},
		{"step without instruction", Plan{RepoRoot: "/r", Steps: []Step{{Name: "empty"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, ModeSequential, tt.plan.Mode)
				assert.Equal(t, DefaultFanout, tt.plan.Fanout)
				assert.Equal(t, DefaultCaller, tt.plan.Caller)
				assert.NotEmpty(t, tt.plan.ID)
				assert.NotEmpty(t, tt.plan.Steps[0].ID)
			}
		})
	}
}
