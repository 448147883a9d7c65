package dicekv

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pior/dicekv/wire"
)

// Command is the capability set shared by every command bound to a socket.
type Command interface {
	Name() string

	// Watchable reports whether the command subscribes to pushes instead of
	// waiting for one reply.
	Watchable() bool

	// Validate checks args before any I/O.
	Validate(args []string) error
}

// Executor runs a request/response command.
type Executor interface {
	Command
	Exec(ctx context.Context, args ...string) (*Response, error)
}

// WatchExecutor subscribes to a watch command.
type WatchExecutor interface {
	Command
	Watch(ctx context.Context, args ...string) (*WatchStream, error)
}

// ValidateFunc checks the arguments of a command.
type ValidateFunc func(args []string) error

// NewRequestCommand returns a factory for a request/response command.
// A nil validate accepts any arguments.
func NewRequestCommand(name string, validate ValidateFunc) Factory {
	return commandSpec{name: normalizeName(name), validate: validate}.factory()
}

// NewWatchCommand returns a factory for a watch command.
// A nil validate accepts any arguments.
func NewWatchCommand(name string, validate ValidateFunc) Factory {
	return commandSpec{name: normalizeName(name), watch: true, validate: validate}.factory()
}

type commandSpec struct {
	name     string
	watch    bool
	validate ValidateFunc
}

func (s commandSpec) factory() Factory {
	return func(conn *Socket, clientID string) Command {
		base := baseCommand{spec: s, conn: conn, clientID: clientID}
		if s.watch {
			return &watchCommand{base}
		}
		return &requestCommand{base}
	}
}

type baseCommand struct {
	spec     commandSpec
	conn     *Socket
	clientID string
}

func (c *baseCommand) Name() string {
	return c.spec.name
}

func (c *baseCommand) Watchable() bool {
	return c.spec.watch
}

func (c *baseCommand) Validate(args []string) error {
	if c.spec.validate == nil {
		return nil
	}

	err := c.spec.validate(args)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Command == "" {
		cmdErr.Command = c.spec.name
	}
	return err
}

// prepare checks the binding and args, then encodes the payload.
func (c *baseCommand) prepare(args []string) ([]byte, error) {
	if c.conn == nil {
		return nil, &CommandError{Command: c.spec.name, Message: "no connection bound"}
	}
	if c.clientID == "" {
		return nil, &CommandError{Command: c.spec.name, Message: "no client id bound"}
	}
	if err := c.Validate(args); err != nil {
		return nil, err
	}

	payload, err := wire.Encode(c.spec.name, args)
	if err != nil {
		return nil, &CommandError{Command: c.spec.name, Message: "encode", Err: err}
	}
	return payload, nil
}

func (c *baseCommand) meta(args []string, watch bool) ResponseMeta {
	return ResponseMeta{
		Command:  c.spec.name,
		Args:     args,
		ClientID: c.clientID,
		QueryID:  uuid.NewString(),
		SocketID: c.conn.ID(),
		Watch:    watch,
	}
}

// wrapExecError keeps transport failures and context errors as they are and
// reports anything else as a CommandError.
func (c *baseCommand) wrapExecError(err error) error {
	var (
		connErr    *ConnectionError
		timeoutErr *TimeoutError
		cmdErr     *CommandError
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &timeoutErr), errors.As(err, &cmdErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &CommandError{Command: c.spec.name, Message: "exec", Err: err}
	}
}

type requestCommand struct {
	baseCommand
}

// Exec sends the command and waits for its reply. The bound socket is
// unlocked when Exec returns, whatever the outcome.
func (c *requestCommand) Exec(ctx context.Context, args ...string) (*Response, error) {
	payload, err := c.prepare(args)
	if err != nil {
		if c.conn != nil {
			c.conn.Unlock()
		}
		return nil, err
	}

	meta := c.meta(args, false)

	frame, err := c.conn.Write(ctx, payload)
	if err != nil {
		return nil, c.wrapExecError(err)
	}

	res, err := wire.Decode(frame)
	if err != nil {
		return nil, &CommandError{Command: c.spec.name, Message: "decode response", Err: err}
	}

	return newResponse(res, meta), nil
}

type watchCommand struct {
	baseCommand
}

// Watch subscribes the bound socket. The socket belongs to the returned
// stream from then on.
func (c *watchCommand) Watch(ctx context.Context, args ...string) (*WatchStream, error) {
	payload, err := c.prepare(args)
	if err != nil {
		return nil, err
	}

	meta := c.meta(args, true)

	sock, err := c.conn.Subscribe(ctx, payload)
	if err != nil {
		return nil, c.wrapExecError(err)
	}

	return newWatchStream(sock, meta, wire.Fingerprint(c.spec.name, args)), nil
}
