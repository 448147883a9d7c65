package dicekv

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pior/dicekv/wire"
	"github.com/sirupsen/logrus"
)

// ModeWatch is the execution mode announced in the handshake of watch
// connections.
const ModeWatch = "watch"

var errAlreadyConnected = errors.New("dicekv: socket already connected")

// socketConfig is stamped onto every socket by the factory that creates it.
type socketConfig struct {
	addr         string
	clientID     string
	watchable    bool
	connTimeout  time.Duration
	queryTimeout time.Duration
	dialer       *net.Dialer
	registry     *Registry
	logger       logrus.FieldLogger
}

// Socket owns exactly one TCP connection to the server.
//
// A plain socket serves one request/response exchange at a time, guarded by
// its lock flag. A watchable socket performs a handshake on connect, then
// one Subscribe, after which every frame the server sends is a push.
//
// A background goroutine reads frames for the whole life of the connection,
// so a peer closing an idle connection is noticed immediately and reported
// through the OnClose listener.
type Socket struct {
	id  string
	cfg socketConfig
	log logrus.FieldLogger

	locked     atomic.Bool
	subscribed atomic.Bool

	mu          sync.Mutex
	conn        net.Conn
	destroyed   bool
	ended       bool
	endErr      error
	onClose     func(*Socket, error)
	onRelease   func(*Socket)
	onIdle      func(*Socket)
	idleTimeout time.Duration
	idleTimer   *time.Timer

	frames      chan []byte
	stop        chan struct{} // closed by Destroy
	done        chan struct{} // closed when the read loop exits
	destroyOnce sync.Once
}

func newSocket(cfg socketConfig) *Socket {
	if cfg.logger == nil {
		cfg.logger = discardLogger()
	}
	if cfg.dialer == nil {
		cfg.dialer = &net.Dialer{}
	}

	id := uuid.NewString()
	return &Socket{
		id:  id,
		cfg: cfg,
		log: cfg.logger.WithFields(logrus.Fields{
			"socket_id": id,
			"addr":      cfg.addr,
			"watch":     cfg.watchable,
		}),
		frames: make(chan []byte),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the socket identity, reported in response metadata.
func (s *Socket) ID() string {
	return s.id
}

// Addr returns the server address
func (s *Socket) Addr() string {
	return s.cfg.addr
}

// Watchable reports whether the socket was created for a watch subscription.
func (s *Socket) Watchable() bool {
	return s.cfg.watchable
}

// Connect opens the TCP connection and, for watchable sockets only, performs
// the protocol handshake. On failure the socket is destroyed before the error
// is returned.
func (s *Socket) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.connTimeout)
	defer cancel()

	s.mu.Lock()
	destroyed, connected := s.destroyed, s.conn != nil
	s.mu.Unlock()
	if destroyed {
		return &ConnectionError{Op: "dial", Addr: s.cfg.addr, Err: ErrSocketClosed}
	}
	if connected {
		return &ConnectionError{Op: "dial", Addr: s.cfg.addr, Err: errAlreadyConnected}
	}

	conn, err := s.cfg.dialer.DialContext(ctx, "tcp", s.cfg.addr)
	if err != nil {
		s.Destroy()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Op: "connect", Timeout: s.cfg.connTimeout}
		}
		return &ConnectionError{Op: "dial", Addr: s.cfg.addr, Err: err}
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		_ = conn.Close()
		return &ConnectionError{Op: "dial", Addr: s.cfg.addr, Err: ErrSocketClosed}
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)

	// Command connections are never handshaken: on this server a handshake
	// on a command connection stops push delivery to the watch connections
	// of the same client.
	if !s.cfg.watchable {
		s.log.Debug("socket connected")
		return nil
	}

	if err := s.handshake(ctx); err != nil {
		s.Destroy()
		return err
	}

	s.log.Debug("watch socket connected")
	return nil
}

func (s *Socket) handshake(ctx context.Context) error {
	if s.cfg.registry == nil {
		return &ConnectionError{Op: "handshake", Addr: s.cfg.addr, Err: &CommandError{Command: CmdHandshake, Message: "no command registry"}}
	}

	exec, err := s.cfg.registry.Executor(CmdHandshake, s, s.cfg.clientID)
	if err != nil {
		return &ConnectionError{Op: "handshake", Addr: s.cfg.addr, Err: err}
	}

	if !s.AcquireLock() {
		return &ConnectionError{Op: "handshake", Addr: s.cfg.addr, Err: errors.New("socket busy")}
	}

	resp, err := exec.Exec(ctx, s.cfg.clientID, ModeWatch)
	if err != nil {
		var terr *TimeoutError
		if errors.As(err, &terr) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return &TimeoutError{Op: "connect", Timeout: s.cfg.connTimeout}
		}
		return &ConnectionError{Op: "handshake", Addr: s.cfg.addr, Err: err}
	}

	if !resp.OK() {
		return &ConnectionError{Op: "handshake", Addr: s.cfg.addr, Err: resp.Err()}
	}
	return nil
}

// readLoop delivers every frame read from conn to s.frames until the
// connection ends or the socket is destroyed.
func (s *Socket) readLoop(conn net.Conn) {
	defer close(s.done)

	r := bufio.NewReader(conn)
	for {
		payload, err := wire.ReadFrame(r)
		if err != nil {
			s.end(err)
			return
		}
		s.touch()

		select {
		case s.frames <- payload:
		case <-s.stop:
			s.end(ErrSocketClosed)
			return
		}
	}
}

// end records why the connection stopped and notifies the close listener.
// Only the first call has an effect. A nil error means a clean end of stream.
func (s *Socket) end(err error) {
	switch {
	case errors.Is(err, io.EOF):
		err = nil
	case errors.Is(err, net.ErrClosed):
		err = ErrSocketClosed
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endErr = err
	fn := s.onClose
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Debug("socket ended")
	} else {
		s.log.Debug("socket ended by peer")
	}

	if fn != nil {
		fn(s, err)
	}
}

// fail ends the socket with err and tears it down.
func (s *Socket) fail(err error) {
	s.end(err)
	s.Destroy()
}

// Err returns the error that ended the connection, nil while it is alive or
// when the peer closed it cleanly.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

func (s *Socket) closeCause() error {
	if err := s.Err(); err != nil {
		return err
	}
	return io.EOF
}

// activeConn returns the live connection or the reason there is none.
func (s *Socket) activeConn() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.destroyed:
		return nil, &ConnectionError{Op: "write", Addr: s.cfg.addr, Err: ErrSocketClosed}
	case s.conn == nil:
		return nil, &ConnectionError{Op: "write", Addr: s.cfg.addr, Err: errors.New("socket not connected")}
	case s.ended:
		err := s.endErr
		if err == nil {
			err = io.EOF
		}
		return nil, &ConnectionError{Op: "write", Addr: s.cfg.addr, Err: err}
	}
	return s.conn, nil
}

// Write sends one payload and waits for exactly one response frame, racing
// the query timeout and ctx. The lock is released on every return path.
//
// A socket whose exchange timed out or failed is ended and destroyed: a late
// reply must never reach the next caller. The caller must hold the lock.
func (s *Socket) Write(ctx context.Context, payload []byte) ([]byte, error) {
	if !s.IsLocked() {
		return nil, &CommandError{Message: "socket not acquired"}
	}
	defer s.Unlock()

	conn, err := s.activeConn()
	if err != nil {
		return nil, err
	}
	if s.subscribed.Load() {
		return nil, &CommandError{Message: "socket is subscribed to a watch"}
	}

	timeout := s.cfg.queryTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	s.touch()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := wire.WriteFrame(conn, payload); err != nil {
		s.fail(err)
		return nil, &ConnectionError{Op: "write", Addr: s.cfg.addr, Err: err}
	}

	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		return nil, &ConnectionError{Op: "read", Addr: s.cfg.addr, Err: s.closeCause()}
	case <-timer.C:
		terr := &TimeoutError{Op: "query", Timeout: timeout}
		s.fail(terr)
		return nil, terr
	case <-ctx.Done():
		s.fail(ctx.Err())
		return nil, ctx.Err()
	}
}

// Subscribe sends one payload without waiting for a reply. Pushes are then
// received from Frames until Done is closed. Only watchable sockets can
// subscribe, and only once.
func (s *Socket) Subscribe(ctx context.Context, payload []byte) (*Socket, error) {
	if !s.cfg.watchable {
		return nil, &CommandError{Message: "subscribe requires a watchable socket"}
	}

	conn, err := s.activeConn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.subscribed.CompareAndSwap(false, true) {
		return nil, &CommandError{Message: "socket already subscribed"}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.queryTimeout))
	if err := wire.WriteFrame(conn, payload); err != nil {
		s.fail(err)
		return nil, &ConnectionError{Op: "write", Addr: s.cfg.addr, Err: err}
	}
	_ = conn.SetWriteDeadline(time.Time{})

	return s, nil
}

// Frames returns the channel of raw frames received on the connection.
func (s *Socket) Frames() <-chan []byte {
	return s.frames
}

// Done is closed once the connection stopped being read.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// AcquireLock marks the socket as in use. It returns false, without side
// effect, when the socket is already locked.
func (s *Socket) AcquireLock() bool {
	return s.locked.CompareAndSwap(false, true)
}

// Unlock clears the lock flag. The release listener installed by the pool
// runs only when the socket was actually locked.
func (s *Socket) Unlock() {
	if !s.locked.Swap(false) {
		return
	}
	s.touch()

	s.mu.Lock()
	fn := s.onRelease
	s.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// IsLocked reports whether the socket is currently in use.
func (s *Socket) IsLocked() bool {
	return s.locked.Load()
}

// SetTimeout arms an idle timer calling fn when the socket has seen no
// activity for d. Watchable sockets are exempt: a quiet watch is expected.
func (s *Socket) SetTimeout(d time.Duration, fn func(*Socket)) {
	if s.cfg.watchable || d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.idleTimeout = d
	s.onIdle = fn
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, s.fireIdle)
}

// touch re-arms the idle timer to the full idle window.
func (s *Socket) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil && !s.destroyed {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

func (s *Socket) fireIdle() {
	s.mu.Lock()
	fn, destroyed := s.onIdle, s.destroyed
	s.mu.Unlock()

	if fn != nil && !destroyed {
		fn(s)
	}
}

// OnClose installs the listener told when the connection errors or ends.
// If that already happened, fn is called right away on a new goroutine.
func (s *Socket) OnClose(fn func(*Socket, error)) {
	s.mu.Lock()
	s.onClose = fn
	ended, err := s.ended, s.endErr
	s.mu.Unlock()

	if ended && fn != nil {
		go fn(s, err)
	}
}

func (s *Socket) onReleaseHook(fn func(*Socket)) {
	s.mu.Lock()
	s.onRelease = fn
	s.mu.Unlock()
}

// removeListeners detaches every listener and disarms the idle timer.
func (s *Socket) removeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onClose = nil
	s.onRelease = nil
	s.onIdle = nil
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

// Ended reports whether the connection is gone, for any reason.
func (s *Socket) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended || s.destroyed
}

// Destroyed reports whether Destroy was called.
func (s *Socket) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Destroy forcibly closes the connection. Safe to call multiple times.
func (s *Socket) Destroy() {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		s.destroyed = true
		conn := s.conn
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.mu.Unlock()

		close(s.stop)
		if conn != nil {
			_ = conn.Close()
		}
		s.log.Debug("socket destroyed")
	})
}

// Close ends the connection gracefully: the write side is shut down and the
// peer is given until the connect timeout to close its side. The socket is
// destroyed whatever the outcome.
func (s *Socket) Close(ctx context.Context) error {
	s.removeListeners()
	defer s.Destroy()

	s.mu.Lock()
	conn, destroyed := s.conn, s.destroyed
	s.mu.Unlock()
	if conn == nil || destroyed {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.connTimeout)
	defer cancel()

	hc, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return nil
	}
	if err := hc.CloseWrite(); err != nil {
		return &ConnectionError{Op: "close", Addr: s.cfg.addr, Err: err}
	}

	for {
		select {
		case <-s.done:
			if err := s.Err(); err != nil {
				return &ConnectionError{Op: "close", Addr: s.cfg.addr, Err: err}
			}
			return nil
		case <-s.frames:
			// late frames are dropped while draining
		case <-ctx.Done():
			return &TimeoutError{Op: "close", Timeout: s.cfg.connTimeout}
		}
	}
}
