package dicekv

import (
	"context"
	"errors"
	"strconv"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// Client executes commands against one server through a connection pool.
//
// Request/response commands share the pooled connections. Every watch gets a
// dedicated connection, owned by the returned WatchStream and tracked by the
// client until the stream ends.
type Client struct {
	cfg      Config
	log      logrus.FieldLogger
	registry *Registry
	pool     Pool
	breaker  *gobreaker.CircuitBreaker[*Response] // nil if not configured
	watches  *xsync.MapOf[string, *WatchStream]
	stats    *clientStatsCollector
}

// NewClient validates cfg and builds a client. No connection is opened
// until Connect.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg: cfg,
		log: cfg.Logger.WithFields(logrus.Fields{
			"client_id": cfg.ClientID,
			"addr":      cfg.Addr(),
		}),
		registry: cfg.Registry,
		watches:  xsync.NewMapOf[string, *WatchStream](),
		stats:    newClientStatsCollector(),
	}

	pool, err := cfg.Pool(c.newSocket, PoolOptions{
		MaxSize:     cfg.MaxPoolSize,
		ConnTimeout: cfg.ConnTimeout,
		IdleTimeout: cfg.IdleTimeout,
		BackoffBase: cfg.BackoffBase,
		Logger:      c.log,
	})
	if err != nil {
		return nil, err
	}
	c.pool = pool

	if cfg.NewCircuitBreaker != nil {
		c.breaker = cfg.NewCircuitBreaker(cfg.Addr())
	}

	return c, nil
}

func (c *Client) newSocket(watchable bool) *Socket {
	return newSocket(socketConfig{
		addr:         c.cfg.Addr(),
		clientID:     c.cfg.ClientID,
		watchable:    watchable,
		connTimeout:  c.cfg.ConnTimeout,
		queryTimeout: c.cfg.QueryTimeout,
		dialer:       c.cfg.Dialer,
		registry:     c.registry,
		logger:       c.log,
	})
}

// ID returns the client id announced to the server by watch connections.
func (c *Client) ID() string {
	return c.cfg.ClientID
}

// Registry returns the commands this client accepts.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Connect opens the first pooled connection. It must succeed before Exec.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.pool.Connect(ctx); err != nil {
		c.stats.recordError(err)
		return c.clientError(err)
	}
	c.log.Info("connected")
	return nil
}

// Exec runs a request/response command on a pooled connection.
//
// Arguments are validated before a connection is acquired. A server-side
// failure is not an error: it is reported by the Response status, see
// Response.Err.
func (c *Client) Exec(ctx context.Context, name string, args ...string) (*Response, error) {
	resp, err := c.exec(ctx, name, args)
	if err != nil {
		c.stats.recordError(err)
		return nil, c.clientError(err)
	}
	c.stats.recordExec(resp)
	return resp, nil
}

func (c *Client) exec(ctx context.Context, name string, args []string) (*Response, error) {
	cmd, err := c.registry.Lookup(name, args)
	if err != nil {
		return nil, err
	}
	if cmd.Watchable() {
		return nil, &CommandError{Command: cmd.Name(), Message: "is a watch command, use Watch"}
	}

	run := func() (*Response, error) {
		return c.execDirect(ctx, cmd.Name(), args)
	}

	if c.breaker != nil {
		return c.breaker.Execute(run)
	}
	return run()
}

// execDirect acquires a socket and runs the command on it. The socket is
// unlocked by the exchange itself; a failed one has already been evicted.
func (c *Client) execDirect(ctx context.Context, name string, args []string) (*Response, error) {
	sock, err := c.pool.Acquire(ctx, AcquireOptions{})
	if err != nil {
		return nil, err
	}

	exec, err := c.registry.Executor(name, sock, c.cfg.ClientID)
	if err != nil {
		sock.Unlock()
		return nil, err
	}

	return exec.Exec(ctx, args...)
}

// Watch subscribes to a watch command on a dedicated connection.
// The stream must be closed by the caller, with WatchStream.Close or
// Unwatch.
func (c *Client) Watch(ctx context.Context, name string, args ...string) (*WatchStream, error) {
	stream, err := c.watch(ctx, name, args)
	if err != nil {
		c.stats.recordError(err)
		return nil, c.clientError(err)
	}
	return stream, nil
}

func (c *Client) watch(ctx context.Context, name string, args []string) (*WatchStream, error) {
	cmd, err := c.registry.Lookup(name, args)
	if err != nil {
		return nil, err
	}
	if !cmd.Watchable() {
		return nil, &CommandError{Command: cmd.Name(), Message: "is not a watch command, use Exec"}
	}

	sock, err := c.pool.Acquire(ctx, AcquireOptions{Watchable: true})
	if err != nil {
		return nil, err
	}

	exec, err := c.registry.WatchExecutor(cmd.Name(), sock, c.cfg.ClientID)
	if err != nil {
		sock.Destroy()
		return nil, err
	}

	stream, err := exec.Watch(ctx, args...)
	if err != nil {
		sock.Destroy()
		return nil, err
	}

	c.track(stream)
	c.log.WithFields(logrus.Fields{
		"command":   cmd.Name(),
		"socket_id": stream.ID(),
	}).Debug("watch started")
	return stream, nil
}

func (c *Client) track(stream *WatchStream) {
	c.stats.recordWatchOpened()
	c.watches.Store(stream.ID(), stream)
	if !stream.onEnded(c.untrack) {
		c.untrack(stream)
	}
}

func (c *Client) untrack(stream *WatchStream) {
	if _, ok := c.watches.LoadAndDelete(stream.ID()); ok {
		c.stats.recordWatchEnded()
	}
}

// Unwatch closes stream and tells the server to drop the subscription.
func (c *Client) Unwatch(ctx context.Context, stream *WatchStream) error {
	stream.Close()

	resp, err := c.Exec(ctx, CmdUnwatch, strconv.FormatUint(stream.Fingerprint(), 10))
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return &ClientError{Hint: "server rejected unwatch", Err: err}
	}
	return nil
}

// Close ends every active watch stream, then closes the pooled connections.
func (c *Client) Close(ctx context.Context) error {
	c.watches.Range(func(_ string, stream *WatchStream) bool {
		stream.Close()
		return true
	})

	if err := c.pool.Disconnect(ctx); err != nil {
		return &ClientError{Hint: "some connections did not close cleanly", Err: err}
	}
	c.log.Info("closed")
	return nil
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of the pool statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// clientError re-presents err with a hint on what to do about it.
func (c *Client) clientError(err error) error {
	var (
		timeoutErr *TimeoutError
		connErr    *ConnectionError
		cmdErr     *CommandError
	)

	var hint string
	switch {
	case errors.Is(err, ErrPoolNotReady):
		hint = "client is not connected, call Connect first"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		hint = "server marked unavailable by the circuit breaker, retry later"
	case errors.As(err, &timeoutErr) && timeoutErr.Op == "acquire":
		hint = "no connection available in time, raise MaxPoolSize or ConnTimeout"
	case errors.As(err, &timeoutErr):
		hint = timeoutErr.Op + " timed out, check server load or raise the timeout"
	case errors.As(err, &connErr):
		hint = "cannot reach server at " + c.cfg.Addr() + ", check it is running"
	case errors.As(err, &cmdErr):
		hint = "invalid command"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		hint = "operation abandoned"
	default:
		hint = "command failed"
	}
	return &ClientError{Hint: hint, Err: err}
}

func isTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded)
}
