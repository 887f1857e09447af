// Package agent is the Agent Loop of spec.md §4.7 (C7): the bounded
// perceive→plan→act controller that drives a goal to completion through a
// system driver (screenshot/input), a vision driver (scene analysis), and
// an LLM driver (decision), cooperatively pausable and stoppable.
//
// This is called out in the spec as the hardest piece to get right; its
// checkpoint-driven state machine is grounded on the teacher's gRPC
// streaming loop in daemon/server.go (a bounded for-loop with an early-exit
// check at the top of every iteration and a single goroutine driving state
// transitions), generalized from a request stream to a perceive-decide-act
// cycle.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/runix/runixd/internal/artifact"
	"github.com/runix/runixd/internal/driverclient"
	"github.com/runix/runixd/internal/engineerr"
	"github.com/runix/runixd/internal/metrics"
	"github.com/runix/runixd/internal/session"
)

// DefaultHistoryWindow is K in "last K entries" (§4.7, default 2).
const DefaultHistoryWindow = 2

// Instancer is the subset of internal/registry.Registry the loop depends
// on, kept narrow so agent has no compile-time registry import.
type Instancer interface {
	Instance(ctx context.Context, driverID string) (*driverclient.Client, error)
}

// Signal is a cooperative control input delivered to a running loop.
type Signal int

const (
	SignalNone Signal = iota
	SignalAbort
	SignalUserInput
)

// ActionType enumerates the closed union of LLM decision variants (§4.7).
type ActionType string

const (
	ActionClick         ActionType = "click"
	ActionDoubleClick   ActionType = "double_click"
	ActionType_Type     ActionType = "type"
	ActionKey           ActionType = "key"
	ActionScroll        ActionType = "scroll"
	ActionWait          ActionType = "wait"
	ActionTaskComplete  ActionType = "task_complete"
)

var validActions = map[ActionType]bool{
	ActionClick: true, ActionDoubleClick: true, ActionType_Type: true,
	ActionKey: true, ActionScroll: true, ActionWait: true, ActionTaskComplete: true,
}

var validKeys = map[string]bool{
	"Enter": true, "Tab": true, "Escape": true, "Backspace": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
	"F1": true, "F2": true, "F3": true, "F4": true, "F5": true, "F6": true,
	"F7": true, "F8": true, "F9": true, "F10": true, "F11": true, "F12": true,
}

// Action is the decoded decision payload (§4.7 action variants), a loosely
// typed superset validated field-by-field against ActionType.
type Action struct {
	Type     ActionType `json:"type"`
	X        int        `json:"x,omitempty"`
	Y        int        `json:"y,omitempty"`
	Text     string     `json:"text,omitempty"`
	Key      string     `json:"key,omitempty"`
	ScrollY  int        `json:"scrollY,omitempty"`
	Duration int        `json:"duration,omitempty"`
}

// Decision is the LLM driver's required response shape (§4.7 step 6).
type Decision struct {
	Reasoning  string `json:"reasoning"`
	Action     Action `json:"action"`
	IsComplete bool   `json:"isComplete"`
}

// Options configure one loop run (§4.7, §9).
type Options struct {
	SystemDriverID string
	VisionDriverID string
	LLMDriverID    string

	MaxIterations      int
	IterationDelay     time.Duration
	PauseDuration      time.Duration
	FailFastOnCapture  bool
	HistoryWindow      int
	DisplayWidth       int
	DisplayHeight      int
	ActionTimeout      time.Duration

	Logger *logrus.Entry
}

// Loop is the Agent Loop (C7). One Loop drives one Session to a terminal
// state; it is not reused across sessions.
type Loop struct {
	opts     Options
	registry Instancer
	store    *artifact.Store
	logger   *logrus.Entry

	signal    atomic.Int32
	pauseUntil time.Time
}

// New constructs a Loop. store may be nil if screenshot/history persistence
// is not wanted (tests commonly pass nil).
func New(registry Instancer, store *artifact.Store, opts Options) *Loop {
	if opts.HistoryWindow == 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{opts: opts, registry: registry, store: store, logger: opts.Logger}
}

// Signal delivers sig for the loop to observe at its next checkpoint (§4.7:
// "cancellation is cooperative"). Safe to call from any goroutine.
func (l *Loop) Signal(sig Signal) { l.signal.Store(int32(sig)) }

// Run drives sess from Running to a terminal state (§4.7 main loop).
func (l *Loop) Run(ctx context.Context, sess *session.Session) error {
	defer func() { metrics.ObserveAgentTerminal(string(sess.State)) }()

	var lastScreenshot string

	for sess.Iteration < sess.MaxIterations {
		// 1. Abort checkpoint.
		if Signal(l.signal.Load()) == SignalAbort {
			sess.State = session.StateStopped
			return nil
		}

		// 2/3. Pause checkpoint: enter Paused on user-input signal, and
		// while Paused, wait out pauseDuration before resuming.
		if Signal(l.signal.Load()) == SignalUserInput && sess.State == session.StateRunning {
			sess.State = session.StatePaused
			l.pauseUntil = time.Now().Add(l.opts.PauseDuration)
			l.signal.Store(int32(SignalNone))
		}
		if sess.State == session.StatePaused {
			if time.Now().Before(l.pauseUntil) {
				select {
				case <-ctx.Done():
					sess.State = session.StateStopped
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
				continue
			}
			sess.State = session.StateRunning
		}

		iteration := sess.Iteration + 1
		rec := session.IterationRecord{Iteration: iteration, Timestamp: time.Now()}

		// 4. Capture screen.
		shotPath, err := l.captureScreenshot(ctx, sess.ID)
		if err != nil {
			rec.Warnings = append(rec.Warnings, "screenshot capture failed: "+err.Error())
			if l.opts.FailFastOnCapture {
				sess.State = session.StateFailed
				sess.FailReason = err.Error()
				sess.Append(rec)
				return engineerr.ErrAgentLoop.New(err.Error())
			}
			if lastScreenshot == "" {
				sess.State = session.StateFailed
				sess.FailReason = "no screenshot available: " + err.Error()
				sess.Append(rec)
				return engineerr.ErrAgentLoop.New(sess.FailReason)
			}
			shotPath = lastScreenshot
		}
		lastScreenshot = shotPath
		rec.ScreenshotRef = shotPath

		// 5. Analyze scene.
		analysis, err := l.analyzeScene(ctx, shotPath)
		if err != nil {
			rec.Warnings = append(rec.Warnings, "scene analysis failed: "+err.Error())
			if l.opts.FailFastOnCapture {
				sess.State = session.StateFailed
				sess.FailReason = err.Error()
				sess.Append(rec)
				return engineerr.ErrAgentLoop.New(err.Error())
			}
		}
		rec.Analysis = analysis

		// 6. Decide.
		decision, err := l.decide(ctx, sess, shotPath, analysis)
		if err != nil {
			sess.State = session.StateFailed
			sess.FailReason = err.Error()
			sess.Append(rec)
			return engineerr.ErrAgentLoop.New(err.Error())
		}
		rec.Decision = decision

		// 7. Completion check.
		if decision.IsComplete {
			sess.State = session.StateCompleted
			sess.Append(rec)
			return nil
		}

		// 8. Dispatch.
		clamped := l.clamp(decision.Action, &rec)
		actionResult, err := l.dispatch(ctx, clamped)
		rec.ActionResult = actionResult
		if err != nil {
			rec.Warnings = append(rec.Warnings, "action dispatch failed: "+err.Error())
		}

		sess.Append(rec)
		if l.store != nil {
			_ = l.store.WriteHistory(sess.ID, sess)
		}

		select {
		case <-ctx.Done():
			sess.State = session.StateStopped
			return ctx.Err()
		case <-time.After(l.opts.IterationDelay):
		}
	}

	sess.State = session.StateFailed
	sess.FailReason = "iteration_budget_exceeded"
	return engineerr.ErrAgentLoop.New(sess.FailReason)
}

func (l *Loop) captureScreenshot(ctx context.Context, sessionID string) (string, error) {
	client, err := l.registry.Instance(ctx, l.opts.SystemDriverID)
	if err != nil {
		return "", err
	}

	res, err := client.Execute(ctx, "takeScreenshot", nil, l.opts.ActionTimeout)
	if err != nil {
		return "", err
	}
	if !res.Success {
		msg := "takeScreenshot failed"
		if res.Error != nil {
			msg = res.Error.Message
		}
		return "", fmt.Errorf("%s", msg)
	}

	if res.Artifact != "" {
		return res.Artifact, nil
	}
	if l.store == nil {
		return "", fmt.Errorf("driver returned inline screenshot data but no artifact store is configured")
	}

	raw, _ := res.Data["bytes"].(string)
	written, err := l.store.WriteScreenshot(sessionID, []byte(raw))
	if err != nil {
		return "", err
	}
	return written.Path, nil
}

func (l *Loop) analyzeScene(ctx context.Context, screenshotPath string) (map[string]interface{}, error) {
	client, err := l.registry.Instance(ctx, l.opts.VisionDriverID)
	if err != nil {
		return nil, err
	}

	res, err := client.Execute(ctx, "analyzeScene", []interface{}{screenshotPath}, l.opts.ActionTimeout)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		msg := "analyzeScene failed"
		if res.Error != nil {
			msg = res.Error.Message
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return res.Data, nil
}

func (l *Loop) decide(ctx context.Context, sess *session.Session, screenshotPath string, analysis map[string]interface{}) (*Decision, error) {
	client, err := l.registry.Instance(ctx, l.opts.LLMDriverID)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"goal":             sess.Goal,
		"environment":      analysis,
		"displaySize":      map[string]int{"width": l.opts.DisplayWidth, "height": l.opts.DisplayHeight},
		"iterationHistory": sess.RecentHistory(l.opts.HistoryWindow),
		"screenshot":       screenshotPath,
	}

	res, err := client.Execute(ctx, "analyzeScreenAndDecide", []interface{}{params}, l.opts.ActionTimeout)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		msg := "analyzeScreenAndDecide failed"
		if res.Error != nil {
			msg = res.Error.Message
		}
		return nil, fmt.Errorf("%s", msg)
	}

	raw, err := json.Marshal(res.Data)
	if err != nil {
		return nil, err
	}

	decision, err := parseDecision(raw)
	if err != nil {
		// One repair attempt: extract the first {...} substring (§4.7 step 6).
		repaired, ok := extractJSONObject(string(raw))
		if !ok {
			return nil, fmt.Errorf("invalid decision JSON and repair failed: %w", err)
		}
		decision, err = parseDecision([]byte(repaired))
		if err != nil {
			return nil, fmt.Errorf("invalid decision JSON after repair: %w", err)
		}
	}

	return decision, nil
}

func parseDecision(raw []byte) (*Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if !d.IsComplete {
		if !validActions[d.Action.Type] {
			return nil, fmt.Errorf("unknown action type %q", d.Action.Type)
		}
		if d.Action.Type == ActionKey && !validKeys[d.Action.Key] {
			return nil, fmt.Errorf("unknown key name %q", d.Action.Key)
		}
	}
	return &d, nil
}

func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// clamp bounds click/double_click/scroll coordinates into the declared
// display space, recording a warning when a value was out of range (§4.7:
// "values outside are clamped and a warning recorded").
func (l *Loop) clamp(a Action, rec *session.IterationRecord) Action {
	clampOne := func(v, max int, axis string) int {
		if v < 0 {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("%s=%d clamped to 0", axis, v))
			return 0
		}
		if v > max {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("%s=%d clamped to %d", axis, v, max))
			return max
		}
		return v
	}

	switch a.Type {
	case ActionClick, ActionDoubleClick, ActionScroll:
		a.X = clampOne(a.X, l.opts.DisplayWidth, "x")
		a.Y = clampOne(a.Y, l.opts.DisplayHeight, "y")
	}
	return a
}

func (l *Loop) dispatch(ctx context.Context, a Action) (*driverclient.ExecuteResult, error) {
	client, err := l.registry.Instance(ctx, l.opts.SystemDriverID)
	if err != nil {
		return nil, err
	}

	var args []interface{}
	switch a.Type {
	case ActionClick, ActionDoubleClick:
		args = []interface{}{a.X, a.Y}
	case ActionType_Type:
		args = []interface{}{a.Text}
	case ActionKey:
		args = []interface{}{a.Key}
	case ActionScroll:
		args = []interface{}{a.X, a.Y, a.ScrollY}
	case ActionWait:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(a.Duration) * time.Millisecond):
		}
		return &driverclient.ExecuteResult{Success: true}, nil
	case ActionTaskComplete:
		return &driverclient.ExecuteResult{Success: true}, nil
	}

	return client.Execute(ctx, string(a.Type), args, l.opts.ActionTimeout)
}
