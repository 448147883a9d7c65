package dicekv

import (
	"sync"

	"github.com/pior/dicekv/wire"
)

// WatchStream delivers the pushes of one watch subscription.
//
// Updates is unbuffered: the server side is only read as fast as the caller
// consumes. The channel is closed when the stream ends, either through Close
// or because the connection ended; Err then tells which.
//
// A stream owns its dedicated connection and cannot be restarted.
type WatchStream struct {
	sock        *Socket
	meta        ResponseMeta
	fingerprint uint64

	updates chan *Response
	stop    chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	err   error
	ended bool
	onEnd func(*WatchStream)
}

func newWatchStream(sock *Socket, meta ResponseMeta, fingerprint uint64) *WatchStream {
	w := &WatchStream{
		sock:        sock,
		meta:        meta,
		fingerprint: fingerprint,
		updates:     make(chan *Response),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *WatchStream) run() {
	defer close(w.done)
	defer w.finish()

	for {
		select {
		case frame := <-w.sock.Frames():
			res, err := wire.Decode(frame)
			if err != nil {
				w.setErr(&CommandError{Command: w.meta.Command, Message: "decode push", Err: err})
				w.sock.Destroy()
				return
			}

			select {
			case w.updates <- newResponse(res, w.meta):
			case <-w.stop:
				return
			}

		case <-w.sock.Done():
			w.setErr(&ConnectionError{Op: "watch", Addr: w.sock.Addr(), Err: w.sock.closeCause()})
			return

		case <-w.stop:
			return
		}
	}
}

func (w *WatchStream) finish() {
	close(w.updates)

	w.mu.Lock()
	w.ended = true
	fn := w.onEnd
	w.mu.Unlock()

	if fn != nil {
		fn(w)
	}
}

func (w *WatchStream) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Updates returns the channel of pushes. It is closed when the stream ends.
func (w *WatchStream) Updates() <-chan *Response {
	return w.updates
}

// Done is closed once the stream ended.
func (w *WatchStream) Done() <-chan struct{} {
	return w.done
}

// Err returns why the stream ended: ErrStreamClosed after Close, a
// *ConnectionError when the connection ended, nil while running.
func (w *WatchStream) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// ID returns the identity of the stream's dedicated socket.
func (w *WatchStream) ID() string {
	return w.meta.SocketID
}

// Fingerprint identifies the subscription on the server, see UNWATCH.
func (w *WatchStream) Fingerprint() uint64 {
	return w.fingerprint
}

// Meta describes the subscription.
func (w *WatchStream) Meta() ResponseMeta {
	return w.meta
}

// Close ends the stream and destroys its connection. It waits for the
// delivery goroutine to exit. Safe to call multiple times.
func (w *WatchStream) Close() {
	w.closeOnce.Do(func() {
		w.setErr(ErrStreamClosed)
		close(w.stop)
		w.sock.Destroy()
	})
	<-w.done
}

// onEnded installs fn, called once when the stream ends. It returns false,
// without installing fn, when the stream already ended.
func (w *WatchStream) onEnded(fn func(*WatchStream)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return false
	}
	w.onEnd = fn
	return true
}
