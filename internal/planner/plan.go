// Package planner executes multi-step plans against delegated backends,
// sequentially with session continuity or in parallel under a bounded
// fanout.
package planner

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
)

// Mode selects how a plan's steps are ordered.
type Mode string

const (
	// ModeSequential runs steps in order, threading context forward
	ModeSequential Mode = "sequential"

	// ModeParallel fans steps out under the fanout bound
	ModeParallel Mode = "parallel"
)

// Status is the terminal outcome of a plan.
type Status string

const (
	// StatusCompleted means every step succeeded
	StatusCompleted Status = "completed"

	// StatusPartial means a parallel plan ran every step and the
	// outcomes are mixed
	StatusPartial Status = "partial"

	// StatusFailed means no step succeeded, or a sequential plan
	// aborted before running every step
	StatusFailed Status = "failed"

	// StatusTimeout means the plan deadline expired with steps unfinished
	StatusTimeout Status = "timeout"
)

// StepOutcome is the terminal outcome of one step.
type StepOutcome string

const (
	// OutcomeSucceeded means the step's backend completed the work
	OutcomeSucceeded StepOutcome = "succeeded"

	// OutcomeFailed means the step failed after any retries
	OutcomeFailed StepOutcome = "failed"

	// OutcomeSkipped means a prior permanent failure aborted the step
	OutcomeSkipped StepOutcome = "skipped"
)

// Step is one unit of work inside a plan.
type Step struct {
	// ID uniquely identifies the step; assigned at validation when empty
	ID string `yaml:"id"`

	// Name is a short human-readable label
	Name string `yaml:"name"`

	// Instruction is the code-modification request for the backend
	Instruction string `yaml:"instruction"`

	// ContextFiles are optional repo-relative paths to read first
	ContextFiles []string `yaml:"context_files"`

	// AllowScopes / DenyScopes restrict the files the step may touch
	AllowScopes []string `yaml:"allow_scopes"`
	DenyScopes  []string `yaml:"deny_scopes"`
}

// Plan is an ordered or parallel collection of steps against one
// repository and one backend.
type Plan struct {
	// ID uniquely identifies the plan; assigned at validation when empty
	ID string `yaml:"id"`

	// Name is a short human-readable label
	Name string `yaml:"name"`

	// Mode is sequential or parallel; defaults to sequential
	Mode Mode `yaml:"mode"`

	// Backend names the strategy family every step runs on
	Backend string `yaml:"backend"`

	// Caller identifies whose rate buckets the plan draws from;
	// defaults to "cli"
	Caller string `yaml:"caller"`

	// RepoRoot is the working tree the steps operate in
	RepoRoot string `yaml:"repo_root"`

	// Fanout bounds concurrent steps in parallel mode; 0 means default
	Fanout int `yaml:"fanout"`

	// Timeout bounds the whole plan; 0 means no plan-level deadline
	Timeout time.Duration `yaml:"timeout"`

	// Steps are the units of work
	Steps []Step `yaml:"steps"`
}

// DefaultFanout bounds parallel steps when the plan does not.
const DefaultFanout = 4

// DefaultCaller is the rate-bucket identity when none is configured.
const DefaultCaller = "cli"

// UnmarshalYAML decodes a plan file, accepting duration strings such as
// "10m" for the timeout.
func (p *Plan) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Mode     Mode   `yaml:"mode"`
		Backend  string `yaml:"backend"`
		Caller   string `yaml:"caller"`
		RepoRoot string `yaml:"repo_root"`
		Fanout   int    `yaml:"fanout"`
		Timeout  string `yaml:"timeout"`
		Steps    []Step `yaml:"steps"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	p.ID = raw.ID
	p.Name = raw.Name
	p.Mode = raw.Mode
	p.Backend = raw.Backend
	p.Caller = raw.Caller
	p.RepoRoot = raw.RepoRoot
	p.Fanout = raw.Fanout
	p.Steps = raw.Steps

	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return dispatcherrors.NewPlanInvalidError(fmt.Sprintf("bad timeout %q: %v", raw.Timeout, err))
		}
		p.Timeout = d
	}
	return nil
}

// Validate checks the plan and assigns missing ids. Mode defaults to
// sequential, fanout to DefaultFanout.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return dispatcherrors.NewPlanInvalidError("plan has no steps")
	}
	if p.RepoRoot == "" {
		return dispatcherrors.NewPlanInvalidError("plan has no repo_root")
	}

	switch p.Mode {
	case "":
		p.Mode = ModeSequential
	case ModeSequential, ModeParallel:
	default:
		return dispatcherrors.NewPlanInvalidError(fmt.Sprintf("unknown mode %q", p.Mode))
	}

	if p.Fanout < 0 {
		return dispatcherrors.NewPlanInvalidError("fanout must not be negative")
	}
	if p.Fanout == 0 {
		p.Fanout = DefaultFanout
	}
	if p.Caller == "" {
		p.Caller = DefaultCaller
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for i := range p.Steps {
		if p.Steps[i].Instruction == "" {
			return dispatcherrors.NewPlanInvalidError(fmt.Sprintf("step %d has no instruction", i+1))
		}
		if p.Steps[i].ID == "" {
			p.Steps[i].ID = uuid.NewString()
		}
	}
	return nil
}

// StepResult pairs a step with its terminal outcome.
type StepResult struct {
	StepID   string
	Name     string
	Outcome  StepOutcome
	Summary  string
	Touched  []string
	Duration time.Duration
	Err      error
}

// Result is the aggregate outcome of a plan run.
type Result struct {
	PlanID   string
	Status   Status
	Summary  string
	Steps    []StepResult
	Duration time.Duration
}

// Succeeded counts steps that completed.
func (r *Result) Succeeded() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeSucceeded {
			n++
		}
	}
	return n
}
