// Package session models the Agent Loop's Session (spec.md §3): the state
// an Agent Loop run owns exclusively, independent of the driver clients it
// borrows from the Registry.
package session

import "time"

// State is a Session's lifecycle state (§4.7 state machine).
type State string

const (
	StateRunning   State = "Running"
	StatePaused    State = "Paused"
	StateStopped   State = "Stopped"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
)

// IterationRecord is one entry of Session.history (§3).
type IterationRecord struct {
	Iteration    int             `json:"iteration"`
	ScreenshotRef string         `json:"screenshotRef,omitempty"`
	Analysis     interface{}     `json:"analysis,omitempty"`
	Decision     interface{}     `json:"decision,omitempty"`
	ActionResult interface{}     `json:"actionResult,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Session is the Agent Loop's run state (§3). The Agent Loop is its sole
// writer; the Registry and drivers it calls through are shared, not owned.
type Session struct {
	ID            string          `json:"sessionId"`
	Goal          string          `json:"goal"`
	Iteration     int             `json:"iteration"`
	MaxIterations int             `json:"maxIterations"`
	State         State           `json:"state"`
	FailReason    string          `json:"failReason,omitempty"`
	History       []IterationRecord `json:"history"`
	Artifacts     []string        `json:"artifacts"`

	DisplayWidth  int `json:"displayWidth"`
	DisplayHeight int `json:"displayHeight"`
}

// New creates a fresh Running session.
func New(id, goal string, maxIterations, displayWidth, displayHeight int) *Session {
	return &Session{
		ID:            id,
		Goal:          goal,
		MaxIterations: maxIterations,
		State:         StateRunning,
		DisplayWidth:  displayWidth,
		DisplayHeight: displayHeight,
	}
}

// RecentHistory returns the last k iteration records, the window passed to
// the LLM driver each iteration (§4.7: "keeps the last K entries").
func (s *Session) RecentHistory(k int) []IterationRecord {
	if k <= 0 || len(s.History) <= k {
		return s.History
	}
	return s.History[len(s.History)-k:]
}

// Append records one completed iteration.
func (s *Session) Append(rec IterationRecord) {
	s.Iteration = rec.Iteration
	s.History = append(s.History, rec)
}

// Terminal reports whether the session is in a terminal state.
func (s *Session) Terminal() bool {
	switch s.State {
	case StateCompleted, StateFailed, StateStopped:
		return true
	}
	return false
}
