package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runix/runixd/internal/driverclient"
)

func TestResolveStringPlaceholder(t *testing.T) {
	r := New()
	r.RegisterSteps("browser", []driverclient.StepDefinition{
		{ID: "echo", Pattern: `I echo {string}`, Action: "echo"},
	})

	res, err := r.Resolve(`I echo "hi"`)
	require.NoError(t, err)
	assert.Equal(t, "browser", res.DriverID)
	assert.Equal(t, "echo", res.Action)
	require.Len(t, res.Args, 1)
	assert.Equal(t, "hi", res.Args[0].Value)
}

func TestResolveIntPlaceholder(t *testing.T) {
	r := New()
	r.RegisterSteps("system", []driverclient.StepDefinition{
		{ID: "wait", Pattern: `I wait {int} ms`, Action: "wait"},
	})

	res, err := r.Resolve("I wait 250 ms")
	require.NoError(t, err)
	require.Len(t, res.Args, 1)
	assert.Equal(t, 250, res.Args[0].Value)
}

func TestResolveNoMatchReturnsSuggestions(t *testing.T) {
	r := New()
	r.RegisterSteps("browser", []driverclient.StepDefinition{
		{ID: "click", Pattern: `click {string}`, Action: "click"},
	})

	_, err := r.Resolve(`click on something that does not parse`)
	require.Error(t, err)
	noMatch, ok := err.(*NoMatch)
	require.True(t, ok)
	require.NotEmpty(t, noMatch.Suggestions)
	assert.Equal(t, "browser", noMatch.Suggestions[0].DriverID)
}

// TestTieBreakPrefersMoreLiteralCharacters is the "Step collision
// tie-break" scenario: two drivers register the identical pattern
// "click {string}"; the winner must not depend on registration order.
func TestTieBreakPrefersMoreLiteralCharacters(t *testing.T) {
	run := func(firstDriver, secondDriver string) string {
		r := New()
		r.RegisterSteps(firstDriver, []driverclient.StepDefinition{
			{ID: "click", Pattern: `click {string}`, Action: "click"},
		})
		r.RegisterSteps(secondDriver, []driverclient.StepDefinition{
			{ID: "click", Pattern: `click {string}`, Action: "click"},
		})
		res, err := r.Resolve(`click "ok"`)
		require.NoError(t, err)
		return res.DriverID
	}

	// Equal literal length on both sides: whichever registered first wins,
	// and swapping discovery order must still yield a winner consistent
	// with registration order, not map iteration.
	assert.Equal(t, "alpha", run("alpha", "beta"))
	assert.Equal(t, "gamma", run("gamma", "alpha"))
}

func TestTieBreakMoreLiteralCharsWins(t *testing.T) {
	r := New()
	r.RegisterSteps("generic", []driverclient.StepDefinition{
		{ID: "click", Pattern: `click {string}`, Action: "click"},
	})
	r.RegisterSteps("specific", []driverclient.StepDefinition{
		{ID: "click-button", Pattern: `click the {string} button`, Action: "clickButton"},
	})

	res, err := r.Resolve(`click the "Submit" button`)
	require.NoError(t, err)
	assert.Equal(t, "specific", res.DriverID)
	assert.Equal(t, "clickButton", res.Action)
}

func TestRegisterStepsReplacesPreviousForSameDriver(t *testing.T) {
	r := New()
	r.RegisterSteps("d1", []driverclient.StepDefinition{{ID: "a", Pattern: "foo", Action: "foo"}})
	r.RegisterSteps("d1", []driverclient.StepDefinition{{ID: "b", Pattern: "bar", Action: "bar"}})

	_, err := r.Resolve("foo")
	assert.Error(t, err, "stale pattern from the first registration must not still match")

	res, err := r.Resolve("bar")
	require.NoError(t, err)
	assert.Equal(t, "bar", res.Action)
}

func TestLegacyRegexGroup(t *testing.T) {
	r := New()
	r.RegisterSteps("driver", []driverclient.StepDefinition{
		{ID: "num", Pattern: `press key (\d+)`, Action: "press"},
	})

	res, err := r.Resolve("press key 7")
	require.NoError(t, err)
	require.Len(t, res.Args, 1)
	assert.Equal(t, "7", res.Args[0].Value)
}
