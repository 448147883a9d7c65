package dicekv

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sirupsen/logrus"
)

// PuddlePool is a Pool backed by puddle. Idle sockets are swept by a
// background loop instead of per-socket timers.
type PuddlePool struct {
	opts      PoolOptions
	newSocket SocketFactory
	log       logrus.FieldLogger

	mu        sync.RWMutex
	pool      *puddle.Pool[*Socket]
	stopSweep chan struct{}
	sweepDone chan struct{}
	sweepNow  chan struct{} // a pooled socket ended

	stats *poolStatsCollector
}

var _ Pool = (*PuddlePool)(nil)

// NewPuddlePool creates a puddle-based connection pool.
func NewPuddlePool(newSocket SocketFactory, opts PoolOptions) (Pool, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	return &PuddlePool{
		opts:      opts,
		newSocket: newSocket,
		log:       opts.Logger.WithField("pool", "puddle"),
		sweepNow:  make(chan struct{}, 1),
		stats:     newPoolStatsCollector(),
	}, nil
}

func (p *PuddlePool) newPuddle() (*puddle.Pool[*Socket], error) {
	return puddle.NewPool(&puddle.Config[*Socket]{
		Constructor: func(ctx context.Context) (*Socket, error) {
			ctx, cancel := context.WithTimeout(ctx, p.opts.ConnTimeout)
			defer cancel()

			sock := p.newSocket(false)
			if err := sock.Connect(ctx); err != nil {
				return nil, err
			}
			sock.OnClose(func(*Socket, error) { p.requestSweep() })
			p.stats.recordCreate()
			return sock, nil
		},
		Destructor: func(sock *Socket) {
			sock.removeListeners()
			sock.Destroy()
			p.stats.recordDestroy()
		},
		MaxSize: int32(p.opts.MaxSize),
	})
}

func (p *PuddlePool) current() *puddle.Pool[*Socket] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// Connect creates the first socket and starts the idle sweep.
func (p *PuddlePool) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return nil
	}

	pool, err := p.newPuddle()
	if err != nil {
		return err
	}
	if err := pool.CreateResource(ctx); err != nil {
		pool.Close()
		return err
	}

	p.pool = pool
	p.stopSweep = make(chan struct{})
	p.sweepDone = make(chan struct{})
	go p.sweepLoop(pool, p.stopSweep, p.sweepDone)

	p.log.Debug("pool connected")
	return nil
}

func (p *PuddlePool) Acquire(ctx context.Context, opts AcquireOptions) (*Socket, error) {
	if opts.Watchable {
		return connectDedicated(ctx, p.newSocket, p.opts.ConnTimeout, p.stats)
	}

	pool := p.current()
	if pool == nil {
		p.stats.recordAcquireError()
		return nil, &ConnectionError{Op: "acquire", Err: ErrPoolNotReady}
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnTimeout)
	defer cancel()

	for {
		res, err := pool.Acquire(ctx)
		if err != nil {
			p.stats.recordAcquireError()
			return nil, p.acquireError(ctx, err)
		}

		sock := res.Value()
		if sock.Ended() {
			res.Destroy()
			continue
		}

		sock.AcquireLock()
		sock.onReleaseHook(func(s *Socket) {
			s.onReleaseHook(nil)
			if s.Ended() {
				res.Destroy()
				return
			}
			res.Release()
		})
		return sock, nil
	}
}

func (p *PuddlePool) acquireError(ctx context.Context, err error) error {
	var evictor Evictor
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return &ConnectionError{Op: "acquire", Err: ErrPoolNotReady}
	case errors.As(err, &evictor):
		return err
	case ctx.Err() != nil:
		return acquireCtxError(ctx, p.opts.ConnTimeout)
	default:
		return &ConnectionError{Op: "acquire", Err: err}
	}
}

// requestSweep wakes the sweep loop without waiting for the ticker.
func (p *PuddlePool) requestSweep() {
	select {
	case p.sweepNow <- struct{}{}:
	default:
	}
}

// sweepLoop destroys idle sockets that outlived IdleTimeout or whose
// connection ended, periodically and whenever a socket reports its end.
func (p *PuddlePool) sweepLoop(pool *puddle.Pool[*Socket], stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(p.opts.IdleTimeout/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sweep(pool)
		case <-p.sweepNow:
			p.sweep(pool)
		}
	}
}

func (p *PuddlePool) sweep(pool *puddle.Pool[*Socket]) {
	for _, res := range pool.AcquireAllIdle() {
		if res.Value().Ended() || res.IdleDuration() >= p.opts.IdleTimeout {
			p.log.WithField("socket_id", res.Value().ID()).Debug("evicting idle socket")
			res.Destroy()
			continue
		}
		res.ReleaseUnused()
	}
}

// Disconnect closes idle sockets gracefully, then closes the puddle pool,
// which waits for sockets in use to be released.
func (p *PuddlePool) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	pool, stop, done := p.pool, p.stopSweep, p.sweepDone
	p.pool = nil
	p.mu.Unlock()

	if pool == nil {
		return nil
	}

	close(stop)
	<-done

	idle := pool.AcquireAllIdle()
	errs := make([]error, len(idle))
	var wg sync.WaitGroup
	for i, res := range idle {
		i, res := i, res
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = res.Value().Close(ctx)
			res.Destroy()
		}()
	}
	wg.Wait()

	pool.Close()
	p.log.Debug("pool disconnected")
	return errors.Join(errs...)
}

func (p *PuddlePool) Size() int {
	pool := p.current()
	if pool == nil {
		return 0
	}
	return int(pool.Stat().TotalResources())
}

func (p *PuddlePool) Ready() bool {
	return p.current() != nil
}

// Stats merges puddle's own counters with the socket lifecycle counters.
func (p *PuddlePool) Stats() PoolStats {
	stats := p.stats.snapshot()

	pool := p.current()
	if pool == nil {
		return stats
	}

	s := pool.Stat()
	stats.TotalConns = s.TotalResources()
	stats.IdleConns = s.IdleResources()
	stats.ActiveConns = s.AcquiredResources()
	stats.AcquireCount = uint64(s.AcquireCount())
	stats.AcquireWaitCount = uint64(s.EmptyAcquireCount())
	stats.AcquireWaitTimeNs = uint64(s.EmptyAcquireWaitTime().Nanoseconds())
	stats.AcquireErrors += uint64(s.CanceledAcquireCount())
	return stats
}
