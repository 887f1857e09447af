// Package supervisor is the Process Supervisor of spec.md §4.3 (C3): it
// spawns driver executables, reserves an ephemeral port for the handshake,
// captures stdio, polls for readiness, and tracks every spawned process so
// it can be force-killed on engine exit.
//
// The shape is the teacher's Process/Container abstraction in
// runtime/command.go and runtime/container.go (a process spec plus a
// handle exposing Start/Stop/Signal/State), generalized from a libcontainer
// container to a plain OS process started with os/exec, since this spec
// spawns bare executables rather than sandboxed containers (no sandboxing
// is an explicit non-goal, spec.md §1).
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/runix/runixd/internal/engineerr"
	"github.com/runix/runixd/internal/manifest"
	"github.com/runix/runixd/internal/metrics"
)

const (
	// EnvPort is set on the child with the ephemeral port it must listen on.
	EnvPort = "RUNIX_DRIVER_PORT"
	// EnvInstanceID is set on the child with an opaque instance identifier.
	EnvInstanceID = "RUNIX_DRIVER_INSTANCE_ID"
	// EnvLogLevel is set on the child with the configured driver log level.
	EnvLogLevel = "RUNIX_DRIVER_LOG_LEVEL"

	defaultStartupTimeout = 10 * time.Second
	defaultStopGrace      = 5 * time.Second
	pollInterval          = 50 * time.Millisecond
)

// Spec describes a driver process to spawn (§4.3).
type Spec struct {
	Manifest *manifest.Manifest
	LogLevel string
	Env      []string

	StartupTimeout time.Duration
	Stdout         io.Writer
	Stderr         io.Writer
}

// Handle is a spawned driver process: its pid, assigned port, and controls
// over its lifetime (§3 Driver record: pid?, port?).
type Handle struct {
	ID         string
	PID        int
	Port       int
	InstanceID string

	cmd     *exec.Cmd
	mu      sync.Mutex
	stopped bool
	waitErr error
	waitCh  chan struct{}
}

// IsAlive reports whether the OS process is still running.
func (h *Handle) IsAlive() bool {
	if h.cmd == nil || h.cmd.Process == nil {
		return false
	}
	// Signal 0 probes for existence without affecting the process.
	err := h.cmd.Process.Signal(syscall.Signal(0))
	return err == nil
}

// Supervisor spawns and tracks driver processes (C3). It keeps a process
// table keyed by driver id so the Cleanup Manager (C9) can enumerate and
// kill every tracked process on exit, mirroring the teacher's Daemon.pool
// map guarded by a single mutex (daemon/daemon.go).
type Supervisor struct {
	mu      sync.Mutex
	handles map[string]*Handle
	Logger  *logrus.Entry
}

// New creates an empty Supervisor.
func New(logger *logrus.Entry) *Supervisor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{handles: make(map[string]*Handle), Logger: logger}
}

// reservePort binds to :0, reads back the OS-assigned port, then closes the
// listener so the child can bind it instead, so each instance gets its own
// OS-assigned port rather than one from a static table (§4.3). Another
// process can still take the port between this close and the child's bind.
func reservePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Start spawns the driver executable named by spec.Manifest, assigns it an
// ephemeral port and polls until the port accepts connections or
// startupTimeout elapses (§4.3).
func (s *Supervisor) Start(ctx context.Context, driverID string, spec Spec) (handle *Handle, err error) {
	defer func() { metrics.ObserveDriverStart(driverID, err == nil) }()

	if !spec.Manifest.ExecutableExists() {
		return nil, engineerr.ErrConfiguration.New(
			fmt.Sprintf("driver %q executable not found at %s", driverID, spec.Manifest.ExecutablePath()))
	}

	port, err := reservePort()
	if err != nil {
		return nil, engineerr.ErrDriverStartup.Wrap(err, driverID, "reserving ephemeral port")
	}

	instanceID := uuid.NewString()
	env := append(os.Environ(), spec.Env...)
	env = append(env,
		EnvPort+"="+strconv.Itoa(port),
		EnvInstanceID+"="+instanceID,
		EnvLogLevel+"="+spec.LogLevel,
	)

	cmd := exec.Command(spec.Manifest.ExecutablePath())
	cmd.Env = env
	cmd.Dir = ""

	stdout, stderr := spec.Stdout, spec.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, engineerr.ErrDriverStartup.Wrap(err, driverID, "attaching stdout")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, engineerr.ErrDriverStartup.Wrap(err, driverID, "attaching stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, engineerr.ErrDriverStartup.Wrap(err, driverID, "spawning process")
	}

	h := &Handle{
		ID:         driverID,
		PID:        cmd.Process.Pid,
		Port:       port,
		InstanceID: instanceID,
		cmd:        cmd,
		waitCh:     make(chan struct{}),
	}

	go streamLines(stdoutPipe, s.Logger.WithField("driver", driverID).WithField("stream", "stdout"))
	go streamLines(stderrPipe, s.Logger.WithField("driver", driverID).WithField("stream", "stderr"))
	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitCh)
	}()

	timeout := spec.StartupTimeout
	if timeout == 0 {
		timeout = defaultStartupTimeout
	}

	if err := waitForPort(ctx, port, timeout); err != nil {
		_ = h.Kill()
		return nil, engineerr.ErrDriverStartup.Wrap(err, driverID,
			fmt.Sprintf("port %d never accepted within %s", port, timeout))
	}

	s.mu.Lock()
	s.handles[driverID] = h
	s.mu.Unlock()

	s.Logger.WithFields(logrus.Fields{"driver": driverID, "pid": h.PID, "port": port}).
		Info("driver process started")
	return h, nil
}

func streamLines(r io.Reader, log *logrus.Entry) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Debug(sc.Text())
	}
}

func waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for {
		conn, err := net.DialTimeout("tcp", addr, pollInterval)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for port %d: %w", port, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Stop requests a graceful shutdown: the caller is expected to have already
// sent a `shutdown` RPC; Stop waits up to grace for the process to exit on
// its own, then sends SIGTERM and waits up to grace again, then escalates
// to Kill (§4.3).
func (s *Supervisor) Stop(driverID string, grace time.Duration) error {
	s.mu.Lock()
	h, ok := s.handles[driverID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if grace == 0 {
		grace = defaultStopGrace
	}

	select {
	case <-h.waitCh:
		return s.forget(driverID)
	case <-time.After(grace):
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err == nil {
		select {
		case <-h.waitCh:
			return s.forget(driverID)
		case <-time.After(grace):
		}
	}

	return s.killHandle(driverID, h)
}

// Kill forcibly terminates the process named by driverID.
func (s *Supervisor) Kill(driverID string) error {
	s.mu.Lock()
	h, ok := s.handles[driverID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.killHandle(driverID, h)
}

func (h *Handle) Kill() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (s *Supervisor) killHandle(driverID string, h *Handle) error {
	err := h.Kill()
	metrics.ObserveDriverKill(driverID, "forced")
	s.forget(driverID)
	return err
}

func (s *Supervisor) forget(driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, driverID)
	return nil
}

// IsAlive reports whether the process tracked for driverID is still running.
func (s *Supervisor) IsAlive(driverID string) bool {
	s.mu.Lock()
	h, ok := s.handles[driverID]
	s.mu.Unlock()
	return ok && h.IsAlive()
}

// KillAll forcibly terminates every tracked process. This is the emergency
// kill fallback invoked by the Cleanup Manager (C9, §4.9): "no driver
// process must outlive the engine under normal or abnormal exit paths."
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Kill(id); err != nil {
			s.Logger.WithField("driver", id).WithError(err).Warn("emergency kill failed")
		}
	}
}

// Handles returns a snapshot of the tracked driver ids, for tests and
// diagnostics.
func (s *Supervisor) Handles() map[string]*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Handle, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out
}
