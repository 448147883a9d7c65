package dicekv

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPoolNotReady = errors.New("dicekv: pool not connected")
	ErrSocketClosed = errors.New("dicekv: socket closed")
	ErrStreamClosed = errors.New("dicekv: watch stream closed")
)

// Error types returned by the client.
// Each type tells the caller whether the socket involved can still be used,
// through ShouldEvict.

// ConnectionError wraps transport failures: DNS resolution, TCP connect,
// handshake rejection, broken reads and writes, and a pool that was never
// connected.
//
// Connection handling: the socket is broken, it is EVICTED from the pool.
type ConnectionError struct {
	Op   string // dial, handshake, write, read, close, acquire, watch
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("dicekv: connection error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dicekv: connection error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldEvict returns true - the transport can no longer be trusted
func (e *ConnectionError) ShouldEvict() bool {
	return true
}

// TimeoutError reports that an operation did not finish within its budget.
// Timeout is the configured value that was exceeded.
//
// Connection handling: a query timeout EVICTS the socket, a late reply must
// never be read by the next caller.
type TimeoutError struct {
	Op      string // connect, acquire, query, close
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dicekv: %s timed out after %s", e.Op, e.Timeout)
}

// ShouldEvict returns true
func (e *TimeoutError) ShouldEvict() bool {
	return true
}

// CommandError reports a malformed invocation: unknown or duplicate command,
// missing connection or client id, invalid arguments or option combinations.
// It is raised before any network I/O.
//
// Connection handling: nothing was sent, the socket is REUSED.
type CommandError struct {
	Command string
	Message string
	Err     error // Underlying error, if any
}

func (e *CommandError) Error() string {
	prefix := "dicekv: command error: "
	if e.Command != "" {
		prefix = "dicekv: command " + e.Command + ": "
	}
	if e.Err != nil {
		return prefix + e.Message + ": " + e.Err.Error()
	}
	return prefix + e.Message
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ShouldEvict returns false
func (e *CommandError) ShouldEvict() bool {
	return false
}

// ServerError is a logical failure reported by the server in a well-formed
// response (status ERR), e.g. an operation against a key of the wrong type.
// Responses carry it in their status; Response.Err converts it on demand.
//
// Connection handling: the exchange completed, the socket is REUSED.
type ServerError struct {
	Command string
	Message string
}

func (e *ServerError) Error() string {
	return "dicekv: " + e.Command + ": " + e.Message
}

// ShouldEvict returns false
func (e *ServerError) ShouldEvict() bool {
	return false
}

// ClientError is what Client methods return: a lower-level error re-presented
// with a hint on what to do about it. The original error stays reachable
// through errors.Is and errors.As.
type ClientError struct {
	Hint string
	Err  error
}

func (e *ClientError) Error() string {
	return "dicekv: " + e.Hint + ": " + e.Err.Error()
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Evictor is implemented by errors that know whether the socket they
// happened on has to be discarded.
type Evictor interface {
	error
	ShouldEvict() bool
}

// ShouldEvict reports whether err means the socket involved must be
// discarded.
//
// Returns false for nil, CommandError and ServerError; true for
// ConnectionError, TimeoutError and any unknown error.
func ShouldEvict(err error) bool {
	if err == nil {
		return false
	}

	var e Evictor
	if errors.As(err, &e) {
		return e.ShouldEvict()
	}

	// Unknown error type - be conservative
	return true
}
