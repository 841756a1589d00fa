// Package driver spawns backend CLI processes and turns exactly one
// Invocation into exactly one ExecutionResult. It owns output capture,
// timeout enforcement and process-tree cleanup; interpreting the output
// stays with the strategy that built the invocation.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/felixgeelhaar/dispatch/internal/backend"
	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
)

const (
	// DefaultMaxOutputBytes caps each captured stream.
	DefaultMaxOutputBytes = 1 << 20

	// DefaultGracePeriod bounds how long a kill may take to settle.
	DefaultGracePeriod = 5 * time.Second

	// DefaultTimeout applies when an invocation declares none.
	DefaultTimeout = 15 * time.Minute
)

// Driver executes invocations.
type Driver struct {
	maxOutputBytes int
	grace          time.Duration
	watchTree      bool
	logger         *log.Logger
	metrics        *metrics.Metrics
}

// Option configures a Driver.
type Option func(*Driver)

// WithMaxOutputBytes sets the per-stream capture ceiling.
func WithMaxOutputBytes(n int) Option {
	return func(d *Driver) { d.maxOutputBytes = n }
}

// WithGracePeriod sets the kill settle bound.
func WithGracePeriod(grace time.Duration) Option {
	return func(d *Driver) { d.grace = grace }
}

// WithTreeWatch enables fsnotify recording of working-tree writes during
// the run, feeding the touched-file hint.
func WithTreeWatch(enabled bool) Option {
	return func(d *Driver) { d.watchTree = enabled }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New creates a driver with default capture and grace settings.
func New(opts ...Option) *Driver {
	d := &Driver{
		maxOutputBytes: DefaultMaxOutputBytes,
		grace:          DefaultGracePeriod,
		logger:         log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one invocation and always resolves: a started process
// yields a parsed result even on backend failure, a timeout yields a
// timeout-kind result, and only a process that could not be spawned at
// all returns an error (permanent, never retried here).
func (d *Driver) Run(ctx context.Context, strategy backend.Strategy, task *backend.Task, inv *backend.Invocation) (*backend.ExecutionResult, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	setupProcessGroup(cmd)

	stdout := newCappedBuffer(d.maxOutputBytes)
	stderr := newCappedBuffer(d.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var watcher *TreeWatcher
	if d.watchTree && inv.Dir != "" {
		if tw, err := WatchTree(inv.Dir); err == nil {
			watcher = tw
		} else {
			d.logger.Debug("tree watch unavailable", "dir", inv.Dir, "error", err.Error())
		}
	}

	d.logger.Info("spawning backend process",
		"invocation_id", inv.ID,
		"backend", inv.Backend,
		"binary", inv.Binary,
		"dir", inv.Dir,
		"timeout", timeout.String(),
		"env", inv.RedactedEnv())

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if watcher != nil {
			watcher.Close()
		}
		spawnErr := dispatcherrors.NewSpawnError(inv.Binary, err)
		d.countError(spawnErr)
		result := &backend.ExecutionResult{
			InvocationID: inv.ID,
			Backend:      inv.Backend,
			ExitCode:     -1,
			FailureKind:  backend.FailureSpawn,
			ErrorMessage: spawnErr.Message,
		}
		return result, spawnErr
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		timedOut = runCtx.Err() == context.DeadlineExceeded
		if err := killProcessGroup(cmd); err != nil {
			d.logger.Warn("process group kill failed",
				"invocation_id", inv.ID, "error", err.Error())
		}
		select {
		case waitErr = <-done:
		case <-time.After(d.grace):
			d.logger.Warn("process did not settle within grace period",
				"invocation_id", inv.ID, "grace", d.grace.String())
		}
	}
	duration := time.Since(start)

	raw := &backend.RawOutput{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCodeOf(cmd, waitErr),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  duration,
	}
	if watcher != nil {
		watcher.Close()
		raw.ModifiedFiles = watcher.Paths()
	}

	if timedOut {
		timeoutErr := dispatcherrors.NewExecTimeoutError(inv.Binary, timeout.String())
		d.countError(timeoutErr)
		d.record(inv.Backend, false, duration, raw.Truncated)
		result := &backend.ExecutionResult{
			InvocationID: inv.ID,
			Backend:      inv.Backend,
			Output:       raw.Combined(),
			Truncated:    raw.Truncated,
			ExitCode:     raw.ExitCode,
			Duration:     duration,
			FailureKind:  backend.FailureTimeout,
			ErrorMessage: fmt.Sprintf("timed out after %s", timeout),
		}
		return result, timeoutErr
	}
	if ctx.Err() != nil {
		// Parent cancellation (shutdown signal), not a per-run timeout.
		return nil, ctx.Err()
	}

	result := strategy.ParseResult(inv, task, raw)
	d.record(inv.Backend, result.Success, duration, raw.Truncated)

	d.logger.Info("backend process finished",
		"invocation_id", inv.ID,
		"backend", inv.Backend,
		"exit_code", raw.ExitCode,
		"success", result.Success,
		"duration", duration.String(),
		"truncated", raw.Truncated)

	return result, nil
}

func (d *Driver) record(backendName string, success bool, duration time.Duration, truncated bool) {
	if d.metrics == nil {
		return
	}
	d.metrics.InvocationExecutions.WithLabelValues(backendName, strconv.FormatBool(success)).Inc()
	d.metrics.InvocationDuration.WithLabelValues(backendName).Observe(duration.Seconds())
	if truncated {
		d.metrics.InvocationTruncated.WithLabelValues(backendName).Inc()
	}
}

func (d *Driver) countError(err *dispatcherrors.DispatchError) {
	if d.metrics == nil {
		return
	}
	d.metrics.Errors.WithLabelValues(string(err.Code), "driver").Inc()
}

// exitCodeOf extracts the exit status after Wait. A process that never
// produced a state (killed before settling) reports -1.
func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
	}
	return -1
}
