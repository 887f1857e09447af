package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runix/runixd/internal/session"
)

func TestParseDecisionAcceptsValidAction(t *testing.T) {
	raw := []byte(`{"reasoning":"click the button","action":{"type":"click","x":10,"y":20},"isComplete":false}`)
	d, err := parseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionClick, d.Action.Type)
	assert.Equal(t, 10, d.Action.X)
}

func TestParseDecisionRejectsUnknownActionType(t *testing.T) {
	raw := []byte(`{"reasoning":"?","action":{"type":"teleport"},"isComplete":false}`)
	_, err := parseDecision(raw)
	assert.Error(t, err)
}

func TestParseDecisionRejectsUnknownKeyName(t *testing.T) {
	raw := []byte(`{"reasoning":"?","action":{"type":"key","key":"Ctrl+Z"},"isComplete":false}`)
	_, err := parseDecision(raw)
	assert.Error(t, err)
}

func TestParseDecisionAllowsEmptyActionWhenComplete(t *testing.T) {
	raw := []byte(`{"reasoning":"done","action":{},"isComplete":true}`)
	d, err := parseDecision(raw)
	require.NoError(t, err)
	assert.True(t, d.IsComplete)
}

func TestExtractJSONObjectFindsEmbeddedObject(t *testing.T) {
	s := "here is the answer: {\"a\":1} -- hope that helps"
	out, ok := extractJSONObject(s)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, out)
}

func TestExtractJSONObjectFailsWithoutBraces(t *testing.T) {
	_, ok := extractJSONObject("no json here")
	assert.False(t, ok)
}

func TestClampBoundsCoordinatesAndWarns(t *testing.T) {
	l := New(nil, nil, Options{DisplayWidth: 1920, DisplayHeight: 1080})

	rec := &session.IterationRecord{}
	clamped := l.clamp(Action{Type: ActionClick, X: -5, Y: 5000}, rec)

	assert.Equal(t, 0, clamped.X)
	assert.Equal(t, 1080, clamped.Y)
	assert.Len(t, rec.Warnings, 2)
}

func TestClampLeavesInBoundsCoordinatesUntouched(t *testing.T) {
	l := New(nil, nil, Options{DisplayWidth: 1920, DisplayHeight: 1080})

	rec := &session.IterationRecord{}
	clamped := l.clamp(Action{Type: ActionClick, X: 100, Y: 200}, rec)

	assert.Equal(t, 100, clamped.X)
	assert.Equal(t, 200, clamped.Y)
	assert.Empty(t, rec.Warnings)
}

func TestClampIgnoresNonCoordinateActions(t *testing.T) {
	l := New(nil, nil, Options{DisplayWidth: 1920, DisplayHeight: 1080})

	rec := &session.IterationRecord{}
	clamped := l.clamp(Action{Type: ActionType_Type, Text: "hello"}, rec)

	assert.Equal(t, "hello", clamped.Text)
	assert.Empty(t, rec.Warnings)
}
