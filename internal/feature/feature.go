// Package feature is the Feature Executor of spec.md §4.6 (C6): it walks a
// parsed feature's scenarios, resolves each step through the Step Router,
// dispatches it via the Registry-owned driver client, and records results.
//
// The walk-then-record shape mirrors the teacher's language detection
// pipeline (daemon/language.go's per-file classify-then-report loop):
// one pass over ordered items, a result recorded for each regardless of
// individual failure, with a flag to halt early.
package feature

import (
	"context"
	"time"

	"github.com/runix/runixd/internal/driverclient"
	"github.com/runix/runixd/internal/engineerr"
	"github.com/runix/runixd/internal/router"
)

// Step is one line of a scenario (§4.6: "ordered list of step texts with
// optional Given/When/Then labels that are semantically ignored").
type Step struct {
	Label string // "Given" | "When" | "Then" | "" — not interpreted
	Text  string
}

// Scenario is an ordered list of steps.
type Scenario struct {
	Name  string
	Steps []Step
}

// Feature is an ordered list of scenarios.
type Feature struct {
	Name      string
	Scenarios []Scenario
}

// StepResult is one step's outcome.
type StepResult struct {
	Text       string      `json:"text"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Artifact   string      `json:"artifact,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
	Unresolved bool        `json:"unresolved,omitempty"`
}

// ScenarioResult is one scenario's outcome (§4.6: run(feature) → ScenarioResult[]).
type ScenarioResult struct {
	Name    string       `json:"name"`
	Success bool         `json:"success"`
	Steps   []StepResult `json:"steps"`
}

// Resolver is the subset of internal/router.Router the executor depends on.
type Resolver interface {
	Resolve(stepText string) (*router.Resolution, error)
}

// Instancer is the subset of internal/registry.Registry the executor
// depends on, kept narrow so feature has no compile-time registry import.
type Instancer interface {
	Instance(ctx context.Context, driverID string) (*driverclient.Client, error)
}

// Options configure a run.
type Options struct {
	// StopOnFailure halts a scenario at its first failing step (§4.6).
	StopOnFailure bool
	// StepTimeout bounds each execute() call; 0 uses the client default.
	StepTimeout time.Duration
}

// Executor is the Feature Executor (C6). It is single-threaded per
// scenario (§5); callers may run distinct scenarios in parallel themselves.
type Executor struct {
	router    Resolver
	registry  Instancer
}

// New creates an Executor backed by router and registry.
func New(router Resolver, registry Instancer) *Executor {
	return &Executor{router: router, registry: registry}
}

// Run executes every scenario of f in source order and returns one
// ScenarioResult per scenario (§4.6).
func (e *Executor) Run(ctx context.Context, f Feature, opts Options) []ScenarioResult {
	results := make([]ScenarioResult, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		results = append(results, e.runScenario(ctx, sc, opts))
	}
	return results
}

func (e *Executor) runScenario(ctx context.Context, sc Scenario, opts Options) ScenarioResult {
	result := ScenarioResult{Name: sc.Name, Success: true}

	halted := false
	for _, step := range sc.Steps {
		if halted {
			result.Steps = append(result.Steps, StepResult{Text: step.Text, Skipped: true})
			continue
		}

		sr := e.runStep(ctx, step, opts.StepTimeout)
		result.Steps = append(result.Steps, sr)
		if !sr.Success {
			result.Success = false
			if opts.StopOnFailure {
				halted = true
			}
		}
	}

	return result
}

func (e *Executor) runStep(ctx context.Context, step Step, timeout time.Duration) StepResult {
	resolution, err := e.router.Resolve(step.Text)
	if err != nil {
		if _, noMatch := err.(*router.NoMatch); noMatch {
			return StepResult{Text: step.Text, Success: false, Error: err.Error(), Unresolved: true}
		}
		return StepResult{Text: step.Text, Success: false, Error: err.Error()}
	}

	client, err := e.registry.Instance(ctx, resolution.DriverID)
	if err != nil {
		return StepResult{Text: step.Text, Success: false, Error: err.Error()}
	}

	args := make([]interface{}, len(resolution.Args))
	for i, a := range resolution.Args {
		args[i] = a.Value
	}

	execResult, err := client.Execute(ctx, resolution.Action, args, timeout)
	if err != nil {
		return StepResult{Text: step.Text, Success: false,
			Error: engineerr.ErrStepExecution.New(resolution.DriverID, err.Error()).Error()}
	}

	sr := StepResult{Text: step.Text, Success: execResult.Success, Data: execResult.Data, Artifact: execResult.Artifact}
	if !execResult.Success && execResult.Error != nil {
		sr.Error = execResult.Error.Message
	}
	return sr
}
