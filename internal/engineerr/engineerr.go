// Package engineerr is the error taxonomy of spec.md §7, modeled the way
// the teacher daemon models its own error kinds (daemon/errors.go): one
// errors.Kind per failure class, so callers can classify with Is/As instead
// of string matching.
package engineerr

import "gopkg.in/src-d/go-errors.v1"

var (
	// ErrConfiguration covers a bad manifest, missing executable or invalid
	// search path. Surfaced at startup; never retried.
	ErrConfiguration = errors.NewKind("configuration error: %s")

	// ErrDriverStartup covers spawn failure, a port that never accepts, or
	// a failed capabilities handshake.
	ErrDriverStartup = errors.NewKind("driver %q failed to start: %s")

	// ErrDriverCommunication covers a transport closed unexpectedly, a
	// response timeout, or a malformed response.
	ErrDriverCommunication = errors.NewKind("driver %q communication error: %s")

	// ErrStepResolution is returned when the router has no match for a step.
	ErrStepResolution = errors.NewKind("no step matches %q")

	// ErrStepExecution wraps a driver-returned error field verbatim; the
	// executor never retries it, drivers own their own retries.
	ErrStepExecution = errors.NewKind("step execution failed on driver %q: %s")

	// ErrAgentLoop covers invalid LLM output after one repair attempt, or an
	// exhausted iteration budget.
	ErrAgentLoop = errors.NewKind("agent loop failed: %s")

	// ErrFatal indicates an uncaught condition forcing emergency cleanup.
	ErrFatal = errors.NewKind("fatal: %s")
)

// Details is the structured payload attached to user-visible error surfaces
// (§7: "a structured error object with code, message, details, and the
// driver id where applicable").
type Details struct {
	Code     int    `json:"code,omitempty"`
	DriverID string `json:"driverId,omitempty"`
	Details  any    `json:"details,omitempty"`
}
