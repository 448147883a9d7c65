package dicekv

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pool hands out connected sockets to the client.
//
// Ordinary sockets are bounded by PoolOptions.MaxSize and reused; releasing
// one is done by calling Unlock on it, which every Write does. Watchable
// sockets are dedicated: each watch gets a fresh connection that is never
// pooled nor counted against MaxSize.
type Pool interface {
	// Connect establishes the first connection and marks the pool ready.
	Connect(ctx context.Context) error

	// Acquire returns a socket locked for the caller.
	Acquire(ctx context.Context, opts AcquireOptions) (*Socket, error)

	// Disconnect closes every pooled socket and marks the pool not ready.
	Disconnect(ctx context.Context) error

	// Size returns the number of pooled sockets.
	Size() int

	Ready() bool
	Stats() PoolStats
}

// AcquireOptions selects the kind of socket to acquire.
type AcquireOptions struct {
	Watchable bool
}

// SocketFactory creates an unconnected socket.
type SocketFactory func(watchable bool) *Socket

// PoolFactory builds a Pool. NewListPool and NewPuddlePool are PoolFactory
// functions.
type PoolFactory func(newSocket SocketFactory, opts PoolOptions) (Pool, error)

// PoolOptions configures a Pool.
type PoolOptions struct {
	MaxSize     int
	ConnTimeout time.Duration // bounds connecting and acquiring
	IdleTimeout time.Duration
	BackoffBase time.Duration
	Logger      logrus.FieldLogger
}

func (o PoolOptions) withDefaults() (PoolOptions, error) {
	if o.MaxSize <= 0 {
		return o, &CommandError{Message: "pool: max size must be positive"}
	}
	if o.ConnTimeout <= 0 {
		o.ConnTimeout = DefaultConnTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
	return o, nil
}

// connectDedicated opens a watch socket outside of any pool bookkeeping.
func connectDedicated(ctx context.Context, newSocket SocketFactory, timeout time.Duration, stats *poolStatsCollector) (*Socket, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sock := newSocket(true)
	if err := sock.Connect(ctx); err != nil {
		stats.recordAcquireError()
		return nil, err
	}
	stats.recordDedicated()
	return sock, nil
}

func acquireCtxError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Op: "acquire", Timeout: timeout}
	}
	return ctx.Err()
}

// ListPool keeps its sockets in an ordered list and hands out the first
// unlocked one. When every socket is busy it grows up to MaxSize, then waits
// with exponential backoff until a socket frees up or the acquire times out.
//
// A socket leaves the list when its connection errors or ends, and when it
// has been idle for IdleTimeout.
type ListPool struct {
	opts      PoolOptions
	newSocket SocketFactory
	log       logrus.FieldLogger

	mu         sync.Mutex
	sockets    []*Socket
	connecting int // sockets being dialed, counted against MaxSize
	ready      bool

	stats *poolStatsCollector
}

var _ Pool = (*ListPool)(nil)

// NewListPool creates the default pool implementation.
func NewListPool(newSocket SocketFactory, opts PoolOptions) (Pool, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	return &ListPool{
		opts:      opts,
		newSocket: newSocket,
		log:       opts.Logger.WithField("pool", "list"),
		stats:     newPoolStatsCollector(),
	}, nil
}

// Connect seeds the pool with one connected socket. It is a no-op when the
// pool is already ready.
func (p *ListPool) Connect(ctx context.Context) error {
	if p.Ready() {
		return nil
	}

	sock := p.newSocket(false)
	if err := sock.Connect(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if p.ready {
		p.mu.Unlock()
		sock.Destroy()
		return nil
	}
	p.sockets = append(p.sockets, sock)
	p.ready = true
	p.mu.Unlock()

	p.attach(sock)
	p.stats.recordCreate()
	p.log.Debug("pool connected")
	return nil
}

func (p *ListPool) Acquire(ctx context.Context, opts AcquireOptions) (*Socket, error) {
	p.stats.recordAcquire()

	if opts.Watchable {
		return connectDedicated(ctx, p.newSocket, p.opts.ConnTimeout, p.stats)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnTimeout)
	defer cancel()

	var waitStart time.Time
	bo := newAcquireBackoff(p.opts.BackoffBase, p.opts.ConnTimeout)

	for {
		sock, reserved, err := p.tryAcquire()
		if err != nil {
			p.stats.recordAcquireError()
			return nil, err
		}

		if sock != nil {
			if !waitStart.IsZero() {
				p.stats.recordAcquireWait(time.Since(waitStart))
			}
			return sock, nil
		}

		if reserved {
			sock, err := p.grow(ctx)
			if err != nil {
				p.stats.recordAcquireError()
				return nil, err
			}
			return sock, nil
		}

		if waitStart.IsZero() {
			waitStart = time.Now()
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.stats.recordAcquireError()
			return nil, acquireCtxError(ctx, p.opts.ConnTimeout)
		}
	}
}

// tryAcquire locks the first free socket, or reserves a slot for a new one
// when the pool is below capacity.
func (p *ListPool) tryAcquire() (sock *Socket, reserved bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, false, &ConnectionError{Op: "acquire", Err: ErrPoolNotReady}
	}

	for _, s := range p.sockets {
		if s.Ended() {
			continue
		}
		if s.AcquireLock() {
			s.touch()
			return s, false, nil
		}
	}

	if len(p.sockets)+p.connecting < p.opts.MaxSize {
		p.connecting++
		return nil, true, nil
	}
	return nil, false, nil
}

// grow connects a new socket in a reserved slot and returns it locked.
func (p *ListPool) grow(ctx context.Context) (*Socket, error) {
	sock := p.newSocket(false)
	sock.AcquireLock()

	err := sock.Connect(ctx)

	p.mu.Lock()
	p.connecting--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if !p.ready {
		p.mu.Unlock()
		sock.Destroy()
		return nil, &ConnectionError{Op: "acquire", Addr: sock.Addr(), Err: ErrPoolNotReady}
	}
	p.sockets = append(p.sockets, sock)
	size := len(p.sockets)
	p.mu.Unlock()

	p.attach(sock)
	p.stats.recordCreate()
	p.log.WithFields(logrus.Fields{"socket_id": sock.ID(), "size": size}).Debug("pool grew")
	return sock, nil
}

func (p *ListPool) attach(sock *Socket) {
	sock.OnClose(p.handleClose)
	sock.SetTimeout(p.opts.IdleTimeout, p.handleIdle)
}

func (p *ListPool) handleClose(sock *Socket, err error) {
	entry := p.log.WithField("socket_id", sock.ID())
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("evicting closed socket")
	p.evict(sock)
}

// handleIdle evicts a socket that saw no activity for IdleTimeout. A socket
// in use is left alone and its timer re-armed.
func (p *ListPool) handleIdle(sock *Socket) {
	if !sock.AcquireLock() {
		sock.touch()
		return
	}
	p.log.WithField("socket_id", sock.ID()).Debug("evicting idle socket")
	p.evict(sock)
}

func (p *ListPool) evict(sock *Socket) {
	p.mu.Lock()
	idx := slices.Index(p.sockets, sock)
	if idx >= 0 {
		p.sockets = slices.Delete(p.sockets, idx, idx+1)
		p.stats.recordDestroy()
	}
	p.mu.Unlock()

	sock.removeListeners()
	sock.Destroy()
}

// Disconnect closes every pooled socket concurrently and waits for all of
// them. Errors are joined.
func (p *ListPool) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	sockets := p.sockets
	p.sockets = nil
	p.ready = false
	p.mu.Unlock()

	errs := make([]error, len(sockets))
	var wg sync.WaitGroup
	for i, sock := range sockets {
		i, sock := i, sock
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = sock.Close(ctx)
			p.stats.recordDestroy()
		}()
	}
	wg.Wait()

	p.log.WithField("closed", len(sockets)).Debug("pool disconnected")
	return errors.Join(errs...)
}

func (p *ListPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets)
}

func (p *ListPool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Stats returns a snapshot of pool statistics.
func (p *ListPool) Stats() PoolStats {
	p.mu.Lock()
	var total, active int32
	for _, s := range p.sockets {
		total++
		if s.IsLocked() {
			active++
		}
	}
	p.mu.Unlock()

	stats := p.stats.snapshot()
	stats.TotalConns = total
	stats.ActiveConns = active
	stats.IdleConns = total - active
	return stats
}
