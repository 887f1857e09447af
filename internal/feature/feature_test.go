package feature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runix/runixd/internal/driverclient"
	"github.com/runix/runixd/internal/router"
)

// fakeResolver lets each test decide, per step text, whether resolution
// succeeds.
type fakeResolver struct {
	resolutions map[string]*router.Resolution
}

func (f *fakeResolver) Resolve(stepText string) (*router.Resolution, error) {
	if r, ok := f.resolutions[stepText]; ok {
		return r, nil
	}
	return nil, &router.NoMatch{StepText: stepText}
}

// failingInstancer always fails to produce a driver client, which is enough
// to exercise runStep's error-propagation path without a live transport.
type failingInstancer struct{}

func (failingInstancer) Instance(ctx context.Context, driverID string) (*driverclient.Client, error) {
	return nil, assert.AnError
}

func TestRunStepFailsWhenStepDoesNotResolve(t *testing.T) {
	e := New(&fakeResolver{resolutions: map[string]*router.Resolution{}}, failingInstancer{})

	result := e.Run(context.Background(), Feature{
		Name: "demo",
		Scenarios: []Scenario{
			{Name: "sc1", Steps: []Step{{Text: "an unresolvable step"}}},
		},
	}, Options{})

	require.Len(t, result, 1)
	assert.False(t, result[0].Success)
	require.Len(t, result[0].Steps, 1)
	assert.False(t, result[0].Steps[0].Success)
	assert.NotEmpty(t, result[0].Steps[0].Error)
	assert.True(t, result[0].Steps[0].Unresolved)
}

func TestRunStepFailsWhenDriverInstanceUnavailable(t *testing.T) {
	e := New(&fakeResolver{resolutions: map[string]*router.Resolution{
		"do something": {DriverID: "browser", Action: "doSomething"},
	}}, failingInstancer{})

	result := e.Run(context.Background(), Feature{
		Name: "demo",
		Scenarios: []Scenario{
			{Name: "sc1", Steps: []Step{{Text: "do something"}}},
		},
	}, Options{})

	require.Len(t, result, 1)
	assert.False(t, result[0].Success)
	assert.False(t, result[0].Steps[0].Success)
}

func TestRunScenarioStopOnFailureSkipsRemainingSteps(t *testing.T) {
	e := New(&fakeResolver{resolutions: map[string]*router.Resolution{}}, failingInstancer{})

	result := e.Run(context.Background(), Feature{
		Name: "demo",
		Scenarios: []Scenario{
			{Name: "sc1", Steps: []Step{
				{Text: "step one"},
				{Text: "step two"},
				{Text: "step three"},
			}},
		},
	}, Options{StopOnFailure: true})

	require.Len(t, result, 1)
	steps := result[0].Steps
	require.Len(t, steps, 3)
	assert.False(t, steps[0].Success)
	assert.False(t, steps[0].Skipped)
	assert.True(t, steps[1].Skipped)
	assert.True(t, steps[2].Skipped)
}

func TestRunScenarioContinuesWithoutStopOnFailure(t *testing.T) {
	e := New(&fakeResolver{resolutions: map[string]*router.Resolution{}}, failingInstancer{})

	result := e.Run(context.Background(), Feature{
		Name: "demo",
		Scenarios: []Scenario{
			{Name: "sc1", Steps: []Step{{Text: "step one"}, {Text: "step two"}}},
		},
	}, Options{StopOnFailure: false})

	steps := result[0].Steps
	require.Len(t, steps, 2)
	assert.False(t, steps[0].Skipped)
	assert.False(t, steps[1].Skipped)
}

func TestRunProducesOneResultPerScenarioInOrder(t *testing.T) {
	e := New(&fakeResolver{resolutions: map[string]*router.Resolution{}}, failingInstancer{})

	f := Feature{
		Name: "demo",
		Scenarios: []Scenario{
			{Name: "first", Steps: []Step{{Text: "a"}}},
			{Name: "second", Steps: []Step{{Text: "b"}}},
		},
	}

	result := e.Run(context.Background(), f, Options{})
	require.Len(t, result, 2)
	assert.Equal(t, "first", result[0].Name)
	assert.Equal(t, "second", result[1].Name)
}
