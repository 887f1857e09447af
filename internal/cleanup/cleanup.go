// Package cleanup is the Cleanup Manager of spec.md §4.9 (C9): the single
// process-wide collaborator every other component may register a teardown
// handler with. It runs handlers in LIFO order under a global budget and
// falls back to an emergency kill of every supervised driver process.
//
// Grounded on the teacher's own signal handling in cmd/bblfshd/main.go,
// which installs an os/signal channel and tears the daemon down on
// SIGINT/SIGTERM; this package generalizes that single hard-coded teardown
// into an ordered stack of handlers any component can push onto.
package cleanup

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBudget is the global teardown budget of §4.9 (default 10s).
const DefaultBudget = 10 * time.Second

// Handler is a teardown action. It receives a context bounded by the
// manager's overall budget.
type Handler func(ctx context.Context) error

// Killer is invoked as the emergency fallback (§4.9: "enumerate the
// supervisor's process table and forcibly terminate each").
type Killer interface {
	KillAll()
}

// Manager is the Cleanup Manager (C9), the sole legitimately process-global
// collaborator in this engine (§9 redesign notes): constructed once at
// engine start and passed explicitly to whatever registers a handler.
type Manager struct {
	mu       sync.Mutex
	handlers []Handler
	budget   time.Duration
	killer   Killer
	logger   *logrus.Entry

	ran  bool
	sigs chan os.Signal
}

// New creates a Manager with the default budget. killer may be nil if no
// emergency kill path is available (e.g. in unit tests).
func New(killer Killer, logger *logrus.Entry) *Manager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{budget: DefaultBudget, killer: killer, logger: logger}
}

// WithBudget overrides the default teardown budget.
func (m *Manager) WithBudget(d time.Duration) *Manager {
	m.budget = d
	return m
}

// Register pushes h onto the teardown stack. Handlers run in LIFO order,
// the last registered runs first, mirroring typical defer-stack teardown.
func (m *Manager) Register(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// InstallSignalHandlers arranges for Run to be invoked on SIGINT/SIGTERM.
// The returned channel is closed after Run completes, so callers can block
// on it before exiting.
func (m *Manager) InstallSignalHandlers() <-chan struct{} {
	m.sigs = make(chan os.Signal, 1)
	signal.Notify(m.sigs, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sig := <-m.sigs
		m.logger.WithField("signal", sig.String()).Info("received termination signal")
		m.Run()
		close(done)
	}()
	return done
}

// Run executes every registered handler in LIFO order within the global
// budget (§4.9). If the budget is exceeded or a handler panics, it falls
// back to EmergencyKill. Run is idempotent: a second call is a no-op.
func (m *Manager) Run() {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return
	}
	m.ran = true
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				m.logger.WithField("panic", r).Error("cleanup handler panicked, emergency kill engaged")
				m.EmergencyKill()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.budget)
		defer cancel()

		for i := len(handlers) - 1; i >= 0; i-- {
			if err := handlers[i](ctx); err != nil {
				m.logger.WithError(err).Warn("cleanup handler returned an error")
			}
			if ctx.Err() != nil {
				m.logger.Warn("cleanup budget exceeded, emergency kill engaged")
				m.EmergencyKill()
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(m.budget + time.Second):
		m.logger.Warn("cleanup handlers did not return within budget, emergency kill engaged")
		m.EmergencyKill()
	}
}

// EmergencyKill forcibly terminates every supervised driver process. It is
// the fallback invariant of §4.9: "no driver process must outlive the
// engine under normal or abnormal exit paths."
func (m *Manager) EmergencyKill() {
	if m.killer == nil {
		return
	}
	m.killer.KillAll()
}

// RunOnFatal is the Fatal path of §7: an uncaught condition forcing
// emergency cleanup before re-raising. Callers invoke this from a deferred
// recover() at main's top level.
func (m *Manager) RunOnFatal() {
	m.Run()
}
