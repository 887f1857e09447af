// Package driverclient is the Driver Client of spec.md §4.2 (C2): a typed
// façade over internal/transport that assigns request ids, correlates
// responses, enforces per-call timeouts, and reconnects on transient loss
// with the backoff schedule the spec fixes (§4.2, §9 Open Question).
//
// The reconnect-with-backoff shape is grounded on the teacher's
// daemon/pool.go, which uses github.com/cenkalti/backoff to retry spawning
// a driver instance when the scaling policy needs one; here the same
// library retries re-establishing a lost connection to an already-spawned
// driver instead of spawning a new one.
package driverclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/runix/runixd/internal/engineerr"
	"github.com/runix/runixd/internal/metrics"
	"github.com/runix/runixd/internal/protocol"
	"github.com/runix/runixd/internal/transport"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxReconnect = 3
)

// ReconnectPolicy fixes the reconnect schedule of §4.2: capped at
// MaxAttempts, with per-attempt delays. Exposed as configuration per §9's
// open question ("implementers should expose these as configuration rather
// than guessing intent").
type ReconnectPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// DefaultReconnectPolicy is the schedule §4.2 fixes: 3 attempts at
// 500ms / 1s / 2s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultMaxReconnect,
		Delays:      []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second},
	}
}

// Dialer opens a new transport to the driver's address. Supplied so
// Client can reconnect without depending on the supervisor package.
type Dialer func(ctx context.Context, deadline time.Duration) (*transport.Transport, error)

// Client is a typed wrapper around a single driver connection (§4.2).
type Client struct {
	driverID string
	dial     Dialer
	policy   ReconnectPolicy
	logger   *logrus.Entry

	mu        sync.Mutex
	t         *transport.Transport
	connected atomic.Bool
	pending   map[string]chan *protocol.Message
	nextID    uint64
}

// New constructs a Client around an already-open transport.
func New(driverID string, t *transport.Transport, dial Dialer, policy ReconnectPolicy, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		driverID: driverID,
		dial:     dial,
		policy:   policy,
		logger:   logger,
		pending:  make(map[string]chan *protocol.Message),
	}
	c.attach(t)
	return c
}

func (c *Client) attach(t *transport.Transport) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
	c.connected.Store(true)

	t.OnMessage(c.handleMessage)
	t.OnSignal(func(sig transport.Signal) {
		if sig == transport.SignalDisconnected {
			c.handleDisconnect()
		}
	})
	go t.Listen()
}

// Connected reports whether the client currently believes it has a live
// connection (§4.2(d)).
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) handleMessage(raw []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.WithError(err).Warn("dropping malformed response frame")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Response with unknown id: logged and dropped (§4.2(c), §8).
		c.logger.WithField("id", msg.ID).Debug("dropping response with unknown id")
		return
	}
	ch <- &msg
}

// handleDisconnect fails every in-flight request and flips connected to
// false (§4.2(d)), then attempts reconnect per policy.
func (c *Client) handleDisconnect() {
	c.connected.Store(false)

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan *protocol.Message)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- &protocol.Message{
			ID:   id,
			Type: protocol.TypeResponse,
			Error: &protocol.ErrorInfo{
				Code:    protocol.CodeUnavailable,
				Message: "driver communication error: connection lost",
			},
		}
	}

	go c.reconnect()
}

// reconnect retries dialing on the ticker, the way daemon/pool.go drives its
// driver-spawn retry loop with backoff.NewTicker, except the schedule here
// is the fixed capped one §4.2 mandates rather than an open-ended
// exponential one.
func (c *Client) reconnect() {
	if c.dial == nil {
		return
	}

	ticker := backoff.NewTicker(&fixedSchedule{delays: c.policy.Delays})
	defer ticker.Stop()

	attempt := 0
	first := true
	for range ticker.C {
		// The ticker fires once immediately; skip that tick so the first
		// attempt waits out the first scheduled delay.
		if first {
			first = false
			continue
		}
		attempt++
		t, err := c.dial(context.Background(), DefaultTimeout)
		if err != nil {
			c.logger.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
			if attempt >= c.policy.MaxAttempts {
				break
			}
			continue
		}

		c.attach(t)
		c.logger.Info("reconnected to driver")
		return
	}

	c.logger.Warn("reconnect attempts exhausted, driver record should move to Unhealthy")
}

// fixedSchedule implements backoff.BackOff with the explicit delay list
// §4.2 fixes (500ms/1s/2s), returning backoff.Stop once exhausted.
type fixedSchedule struct {
	delays []time.Duration
	next   int
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.next >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.next]
	f.next++
	return d
}

func (f *fixedSchedule) Reset() { f.next = 0 }

func (c *Client) allocateID() string {
	id := atomic.AddUint64(&c.nextID, 1)
	return fmt.Sprintf("%s-%d", c.driverID, id)
}

// call sends a request and waits for its correlated response or timeout.
func (c *Client) call(ctx context.Context, method string, params, result interface{}, timeout time.Duration) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRPCCall(method, err == nil, time.Since(start)) }()

	if !c.Connected() {
		return engineerr.ErrDriverCommunication.New(c.driverID, "not connected")
	}

	req, err := protocol.NewRequest(c.allocateID(), method, params)
	if err != nil {
		return err
	}

	ch := make(chan *protocol.Message, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	t := c.t
	c.mu.Unlock()

	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := t.Send(raw); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return engineerr.ErrDriverCommunication.Wrap(err, c.driverID, "sending request")
	}

	if timeout == 0 {
		timeout = DefaultTimeout
	}
	select {
	case resp := <-ch:
		if resp.IsError() {
			return engineerr.ErrDriverCommunication.New(c.driverID, resp.Error.Message)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return engineerr.ErrDriverCommunication.Wrap(err, c.driverID, "decoding result")
			}
		}
		return nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return engineerr.ErrDriverCommunication.New(c.driverID, "request timed out after "+timeout.String())
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Capabilities describes what the driver supports.
type Capabilities struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Features    []string `json:"features"`
}

func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	var out Capabilities
	if err := c.call(ctx, protocol.MethodCapabilities, nil, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initialize configures the driver. May only be called once per Ready
// state (§4.2); the caller, not this method, enforces that invariant since
// it is a property of the driver record's lifecycle, not of a single call.
func (c *Client) Initialize(ctx context.Context, config map[string]interface{}) error {
	var out struct {
		Initialized bool `json:"initialized"`
	}
	return c.call(ctx, protocol.MethodInitialize, config, &out, DefaultTimeout)
}

// IntrospectType selects what introspect() returns.
type IntrospectType string

const (
	IntrospectSteps        IntrospectType = "steps"
	IntrospectCapabilities IntrospectType = "capabilities"
)

// StepsResult is introspect(steps)'s payload.
type StepsResult struct {
	Steps []StepDefinition `json:"steps"`
}

// StepDefinition mirrors internal/manifest.StepDefinition on the wire; kept
// as a separate type so driverclient has no import-time dependency on the
// manifest package's file-loading concerns.
type StepDefinition struct {
	ID          string `json:"id"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	Parameters  []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Required bool   `json:"required"`
	} `json:"parameters,omitempty"`
}

func (c *Client) Introspect(ctx context.Context, typ IntrospectType) (*StepsResult, error) {
	var out StepsResult
	params := map[string]string{"type": string(typ)}
	if err := c.call(ctx, protocol.MethodIntrospect, params, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteResult is the closed Result variant of §9: Ok(JsonValue) | Err(ErrorInfo).
type ExecuteResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *protocol.ErrorInfo    `json:"error,omitempty"`
	Artifact string                `json:"artifact,omitempty"`
}

// Execute invokes action with args on the driver's hot path (§4.2). timeout
// of 0 uses DefaultTimeout; callers needing a per-call override (as the
// Agent Loop does for screenshot capture) pass a positive value.
func (c *Client) Execute(ctx context.Context, action string, args []interface{}, timeout time.Duration) (*ExecuteResult, error) {
	var out ExecuteResult
	params := map[string]interface{}{"action": action, "args": args}
	if err := c.call(ctx, protocol.MethodExecute, params, &out, timeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthStatus is the health() result (§4.2).
type HealthStatus struct {
	Status string `json:"status"` // "ok" | "degraded"
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.call(ctx, protocol.MethodHealth, nil, &out, DefaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// Shutdown is best-effort: the client closes the transport afterward
// regardless of whether the driver acknowledged (§4.2).
func (c *Client) Shutdown(ctx context.Context) error {
	var out struct {
		Shutdown bool `json:"shutdown"`
	}
	err := c.call(ctx, protocol.MethodShutdown, nil, &out, DefaultTimeout)
	c.Close()
	return err
}

// Close tears down the underlying transport.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	t := c.t
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}
