// Package registry is the Registry of spec.md §4.4 (C4): discovers driver
// manifests, starts drivers on demand through internal/supervisor, fronts
// each with an internal/driverclient.Client, and hands out shared,
// registry-owned clients to callers.
//
// The per-id start mutex and map[string]*DriverRecord shape is grounded on
// the teacher's Daemon (daemon/daemon.go): Daemon.pool is a
// map[string]*DriverPool guarded by a single RWMutex, with a double-checked
// lock in DriverPool()/newDriverPool() so two concurrent callers never race
// to spawn the same driver twice — this package applies that exact pattern
// to driver records instead of language pools.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/runix/runixd/internal/driverclient"
	"github.com/runix/runixd/internal/engineerr"
	"github.com/runix/runixd/internal/manifest"
	"github.com/runix/runixd/internal/supervisor"
	"github.com/runix/runixd/internal/transport"
)

// State is a driver record's lifecycle state (§3).
type State string

const (
	StateDiscovered State = "Discovered"
	StateStarting   State = "Starting"
	StateReady      State = "Ready"
	StateUnhealthy  State = "Unhealthy"
	StateStopping   State = "Stopping"
	StateStopped    State = "Stopped"
)

// Record is the in-memory driver record of §3: it outlives the OS process,
// and a restart creates a new pid/port but keeps the same id.
type Record struct {
	ID       string
	Manifest *manifest.Manifest

	mu        sync.RWMutex
	state     State
	pid       int
	port      int
	startedAt time.Time
	client    *driverclient.Client
	reason    string
}

func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Record) Client() *driverclient.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

func (r *Record) PID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pid
}

func (r *Record) Port() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.port
}

// Uptime returns the time since the driver process was last spawned, or
// zero if it has never started. It is not reset when the driver stops.
func (r *Record) Uptime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.startedAt.IsZero() {
		return 0
	}
	return time.Since(r.startedAt)
}

func (r *Record) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Options configure the Registry.
type Options struct {
	StartupTimeout  time.Duration
	CallTimeout     time.Duration
	ReconnectPolicy driverclient.ReconnectPolicy
	DriverLogLevel  string
	Logger          *logrus.Entry
}

// Registry is the Registry of C4.
type Registry struct {
	opts    Options
	sup     *supervisor.Supervisor
	logger  *logrus.Entry
	router  StepRegistrar
	onSteps func(driverID string, steps []driverclient.StepDefinition)

	mu       sync.RWMutex
	records  map[string]*Record
	starting sync.Map // driverID -> *sync.Mutex, per-id start lock
	errs     []manifest.DiscoveryError

	stopHealth chan struct{}
}

// StepRegistrar is the subset of the Step Router's interface the Registry
// depends on, so Registry has no compile-time dependency on internal/router.
type StepRegistrar interface {
	RegisterSteps(driverID string, steps []driverclient.StepDefinition)
}

// New creates a Registry backed by sup. router may be nil if step
// registration is not needed (e.g. control-plane only usage).
func New(sup *supervisor.Supervisor, router StepRegistrar, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.ReconnectPolicy.MaxAttempts == 0 {
		opts.ReconnectPolicy = driverclient.DefaultReconnectPolicy()
	}
	return &Registry{
		opts:    opts,
		sup:     sup,
		logger:  opts.Logger,
		router:  router,
		records: make(map[string]*Record),
	}
}

// Discover scans searchPaths for driver manifests (§4.4) and registers a
// Discovered record for each valid one. It is idempotent: re-running with
// the same paths yields the same set of driver ids (§8).
func (r *Registry) Discover(searchPaths []string) error {
	manifests, errs := manifest.Discover(searchPaths)

	r.mu.Lock()
	r.errs = errs
	for _, m := range manifests {
		if _, exists := r.records[m.Name]; exists {
			continue
		}
		r.records[m.Name] = &Record{ID: m.Name, Manifest: m, state: StateDiscovered}
	}
	r.mu.Unlock()

	return nil
}

// DiscoveryErrors returns manifests that failed to parse or validate during
// the last Discover call (§4.4: "non-fatal error list ... surfaced via
// list()").
func (r *Registry) DiscoveryErrors() []manifest.DiscoveryError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]manifest.DiscoveryError, len(r.errs))
	copy(out, r.errs)
	return out
}

// List returns a snapshot of every known driver record.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Get returns the record for id, if known.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Instance returns the Ready client for id, starting the driver on demand
// if it is not already running (§4.4). A per-id mutex ensures two
// concurrent callers never spawn the same driver twice.
func (r *Registry) Instance(ctx context.Context, id string) (*driverclient.Client, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "registry.Instance")
	defer span.Finish()

	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, engineerr.ErrConfiguration.New(fmt.Sprintf("unknown driver %q", id))
	}

	if c := rec.Client(); c != nil && rec.State() == StateReady {
		return c, nil
	}

	lockV, _ := r.starting.LoadOrStore(id, &sync.Mutex{})
	lock := lockV.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the per-id lock: another goroutine may have started
	// it while we were waiting.
	if c := rec.Client(); c != nil && rec.State() == StateReady {
		return c, nil
	}

	return r.start(ctx, rec)
}

func (r *Registry) start(ctx context.Context, rec *Record) (*driverclient.Client, error) {
	rec.setState(StateStarting)

	spec := supervisor.Spec{
		Manifest:       rec.Manifest,
		LogLevel:       r.opts.DriverLogLevel,
		StartupTimeout: r.opts.StartupTimeout,
	}

	handle, err := r.sup.Start(ctx, rec.ID, spec)
	if err != nil {
		rec.setState(StateStopped)
		rec.mu.Lock()
		rec.reason = err.Error()
		rec.mu.Unlock()
		return nil, err
	}

	rec.mu.Lock()
	rec.pid = handle.PID
	rec.port = handle.Port
	rec.startedAt = time.Now()
	rec.mu.Unlock()

	dial := func(dctx context.Context, deadline time.Duration) (*transport.Transport, error) {
		url := fmt.Sprintf("ws://127.0.0.1:%d", handle.Port)
		return transport.Open(dctx, url, deadline)
	}

	t, err := dial(ctx, r.opts.StartupTimeout)
	if err != nil {
		rec.setState(StateStopped)
		return nil, engineerr.ErrDriverStartup.Wrap(err, rec.ID, "opening transport")
	}

	client := driverclient.New(rec.ID, t, dial, r.opts.ReconnectPolicy, r.logger.WithField("driver", rec.ID))

	if _, err := client.Capabilities(ctx); err != nil {
		rec.setState(StateStopped)
		return nil, engineerr.ErrDriverStartup.Wrap(err, rec.ID, "capabilities handshake failed")
	}

	if err := client.Initialize(ctx, nil); err != nil {
		rec.setState(StateStopped)
		return nil, engineerr.ErrDriverStartup.Wrap(err, rec.ID, "initialize failed")
	}

	if r.router != nil {
		if steps, err := client.Introspect(ctx, driverclient.IntrospectSteps); err == nil {
			r.router.RegisterSteps(rec.ID, steps.Steps)
		}
	}

	rec.mu.Lock()
	rec.client = client
	rec.mu.Unlock()
	rec.setState(StateReady)

	r.logger.WithField("driver", rec.ID).Info("driver instance ready")
	return client, nil
}

// Stop gracefully stops a single driver by id (driver list/stop in
// cmd/runixctl), updating its record's state the same way StopAll does.
func (r *Registry) Stop(id string) error {
	rec, ok := r.Get(id)
	if !ok {
		return engineerr.ErrConfiguration.New(fmt.Sprintf("unknown driver %q", id))
	}
	r.stopRecord(rec)
	return nil
}

// StopAll stops every started driver, best-effort, in no particular order
// (drivers have no cross-dependencies in this spec).
func (r *Registry) StopAll() {
	r.StopHealthSweep()

	r.mu.RLock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	for _, rec := range recs {
		r.stopRecord(rec)
	}
}

func (r *Registry) stopRecord(rec *Record) {
	if rec.State() != StateReady && rec.State() != StateUnhealthy {
		return
	}
	rec.setState(StateStopping)
	if c := rec.Client(); c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Shutdown(ctx)
		cancel()
	}
	_ = r.sup.Stop(rec.ID, 5*time.Second)
	rec.setState(StateStopped)
}

// StartHealthSweep runs a periodic health() check over every Ready client
// and flips unresponsive ones to Unhealthy (SPEC_FULL.md supplement #3),
// complementing the reactive transition on a failed execute (§4.2).
func (r *Registry) StartHealthSweep(interval time.Duration) {
	if interval == 0 {
		interval = 10 * time.Second
	}
	r.stopHealth = make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.stopHealth:
				return
			case <-ticker.C:
				r.sweepOnce()
			}
		}
	}()
}

func (r *Registry) sweepOnce() {
	for _, rec := range r.List() {
		if rec.State() != StateReady {
			continue
		}
		c := rec.Client()
		if c == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.CallTimeout)
		_, err := c.Health(ctx)
		cancel()
		if err != nil || !c.Connected() {
			rec.setState(StateUnhealthy)
			r.logger.WithField("driver", rec.ID).Warn("health sweep marked driver unhealthy")
		}
	}
}

// StopHealthSweep stops the background sweep started by StartHealthSweep.
// Safe to call even if the sweep was never started.
func (r *Registry) StopHealthSweep() {
	if r.stopHealth == nil {
		return
	}
	select {
	case <-r.stopHealth:
		// already closed
	default:
		close(r.stopHealth)
	}
}
