package dicekv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pior/dicekv/internal/testutils"
	"github.com/pior/dicekv/wire"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing host", Config{Port: 7379}},
		{"missing port", Config{Host: "localhost"}},
		{"port out of range", Config{Host: "localhost", Port: 70000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
		})
	}
}

func TestNewClient_InvalidPoolSize(t *testing.T) {
	srv := testutils.NewServer(t)

	_, err := NewClient(Config{
		Host: srv.Host(),
		Port: srv.Port(),
		Pool: func(newSocket SocketFactory, opts PoolOptions) (Pool, error) {
			opts.MaxSize = -1
			return NewListPool(newSocket, opts)
		},
	})
	require.Error(t, err)
}

func TestClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{Host: "localhost", Port: 7379})
	require.NoError(t, err)

	require.NotEmpty(t, client.ID(), "a client id is generated")
	require.Equal(t, DefaultMaxPoolSize, client.cfg.MaxPoolSize)
	require.Equal(t, DefaultConnTimeout, client.cfg.ConnTimeout)
	require.Equal(t, DefaultQueryTimeout, client.cfg.QueryTimeout)
	require.Equal(t, DefaultIdleTimeout, client.cfg.IdleTimeout)
	require.NotNil(t, client.Registry())
	require.NoError(t, client.Close(context.Background()))
}

func TestClient_ExecBeforeConnect(t *testing.T) {
	srv := testutils.NewServer(t)
	client, err := NewClient(Config{Host: srv.Host(), Port: srv.Port()})
	require.NoError(t, err)

	_, err = client.Exec(context.Background(), CmdPing)

	require.ErrorIs(t, err, ErrPoolNotReady)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Contains(t, clientErr.Hint, "call Connect first")
	require.Zero(t, srv.Accepted())
	require.EqualValues(t, 1, client.Stats().Errors)
}

func TestClient_ConnectFailure(t *testing.T) {
	addr := freeAddr(t)
	host, port := splitAddr(t, addr)

	client, err := NewClient(Config{Host: host, Port: port, ConnTimeout: time.Second})
	require.NoError(t, err)

	err = client.Connect(context.Background())

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Contains(t, clientErr.Hint, "cannot reach server")
}

func TestClient_InvalidCommandsNeverAcquire(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	_, err := client.Exec(ctx, "NOPE")
	requireCommandError(t, err, "not registered")

	_, err = client.Exec(ctx, CmdSet, "k", "v", "NX", "XX")
	requireCommandError(t, err, "mutually exclusive")

	_, err = client.Exec(ctx, CmdGetWatch, "k")
	requireCommandError(t, err, "use Watch")

	_, err = client.Watch(ctx, CmdGet, "k")
	requireCommandError(t, err, "use Exec")

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, "invalid command", clientErr.Hint)

	require.Zero(t, client.PoolStats().AcquireCount)
	require.Empty(t, srv.Received())
	require.EqualValues(t, 4, client.Stats().Errors)
}

func TestClient_StringCommands(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	pong, err := client.Ping(ctx)
	require.NoError(t, err)
	require.Equal(t, "PONG", pong)

	echo, err := client.Echo(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", echo)

	_, found, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	resp, err := client.Set(ctx, "k", "v1", SetOptions{EX: time.Minute})
	require.NoError(t, err)
	require.Equal(t, "OK", resp.Value.Str)

	value, found, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", value)

	resp, err = client.Set(ctx, "k", "v2", SetOptions{NX: true})
	require.NoError(t, err)
	require.True(t, resp.Value.IsNil(), "NX on an existing key does not write")

	resp, err = client.Set(ctx, "k", "v3", SetOptions{XX: true, Get: true})
	require.NoError(t, err)
	require.Equal(t, "v1", resp.Value.Str)

	exists, err := client.Exists(ctx, "k", "missing")
	require.NoError(t, err)
	require.EqualValues(t, 1, exists)

	ok, err := client.Expire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := client.TTL(ctx, "missing")
	require.NoError(t, err)
	require.EqualValues(t, -2, ttl)

	value, found, err = client.GetDel(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v3", value)

	deleted, err := client.Del(ctx, "k")
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestClient_Counters(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	n, err := client.Incr(ctx, "c")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = client.IncrBy(ctx, "c", 10)
	require.NoError(t, err)
	require.EqualValues(t, 11, n)

	n, err = client.Decr(ctx, "c")
	require.NoError(t, err)
	require.EqualValues(t, 10, n)

	n, err = client.DecrBy(ctx, "c", 15)
	require.NoError(t, err)
	require.EqualValues(t, -5, n)

	require.NoError(t, client.FlushDB(ctx))
	exists, err := client.Exists(ctx, "c")
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestClient_HashAndSortedSet(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	all, err := client.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Empty(t, all)

	added, err := client.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	require.EqualValues(t, 2, added)

	v, found, err := client.HGet(ctx, "h", "b")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", v)

	all, err = client.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	added, err = client.ZAdd(ctx, "z",
		wire.ZElement{Member: "c", Score: 3},
		wire.ZElement{Member: "a", Score: 1},
		wire.ZElement{Member: "b", Score: 2.5},
	)
	require.NoError(t, err)
	require.EqualValues(t, 3, added)

	card, err := client.ZCard(ctx, "z")
	require.NoError(t, err)
	require.EqualValues(t, 3, card)

	members, err := client.ZRange(ctx, "z", 0, 1)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "a", members[0].Member)
	require.Equal(t, "b", members[1].Member)
	require.InDelta(t, 2.5, members[1].Score, 0)

	members, err = client.ZRange(ctx, "missing", 0, -1)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestClient_ServerError(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	_, err := client.Set(ctx, "k", "v", SetOptions{})
	require.NoError(t, err)

	resp, err := client.Exec(ctx, CmdHSet, "k", "f", "v")
	require.NoError(t, err, "a server-side failure is not an exec error")
	require.False(t, resp.OK())
	require.Equal(t, wire.StatusErr, resp.Status)
	require.Contains(t, resp.Message, "WRONGTYPE")

	_, err = client.HSet(ctx, "k", map[string]string{"f": "v"})
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, CmdHSet, serverErr.Command)
	require.False(t, ShouldEvict(err))

	stats := client.Stats()
	require.EqualValues(t, 3, stats.Execs)
	require.EqualValues(t, 2, stats.ServerErrors)
	require.Zero(t, stats.Errors)
	require.EqualValues(t, 1, client.PoolStats().TotalConns, "server errors keep the connection")
}

func TestClient_PooledConnectionsSkipHandshake(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})

	for i := 0; i < 5; i++ {
		_, err := client.Ping(context.Background())
		require.NoError(t, err)
	}

	require.Zero(t, srv.Handshakes())
	require.NotContains(t, srv.ReceivedNames(), CmdHandshake)
}

func TestClient_ConcurrencyBoundedByPool(t *testing.T) {
	srv := testutils.NewServer(t)
	srv.SetDelay(CmdPing, 20*time.Millisecond)
	client := newTestClient(t, srv, Config{MaxPoolSize: 2, ConnTimeout: 2 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Ping(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, srv.MaxInflight(), 2)
	require.LessOrEqual(t, srv.Accepted(), 2)
	require.EqualValues(t, 8, client.Stats().Execs)
}

func TestClient_QueryTimeout(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{QueryTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	srv.SetDelay(CmdGet, 500*time.Millisecond)
	_, _, err := client.Get(ctx, "k")

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "query", timeoutErr.Op)
	require.Zero(t, client.PoolStats().TotalConns, "a timed out socket leaves the pool before the call returns")

	stats := client.Stats()
	require.EqualValues(t, 1, stats.Errors)
	require.EqualValues(t, 1, stats.Timeouts)

	pong, err := client.Ping(ctx)
	require.NoError(t, err)
	require.Equal(t, "PONG", pong)
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := testutils.NewServer(t)
	srv.SetDelay(CmdPing, 500*time.Millisecond)
	client := newTestClient(t, srv, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Ping(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, client.PoolStats().TotalConns)
}

func TestClient_PuddlePool(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{Pool: NewPuddlePool, MaxPoolSize: 2})
	ctx := context.Background()

	_, err := client.Set(ctx, "k", "v", SetOptions{})
	require.NoError(t, err)

	value, found, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)

	stream, err := client.GetWatch(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", nextUpdate(t, stream).Value.Str)
	stream.Close()

	require.EqualValues(t, 1, client.PoolStats().CreatedConns)
}

func TestClient_CircuitBreaker(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	ctx := context.Background()

	// GET drops the connection; PING keeps working.
	srv.SetHandler(func(cmd *wire.Command) (*wire.Result, bool) {
		return nil, cmd.Cmd == CmdGet
	})

	for i := 0; i < 3; i++ {
		_, _, err := client.Get(ctx, "k")
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
	}

	_, err := client.Ping(ctx)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Contains(t, clientErr.Hint, "circuit breaker")
}

func TestClient_CircuitBreakerIgnoresCommandErrors(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	ctx := context.Background()

	_, err := client.Set(ctx, "k", "v", SetOptions{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := client.HGet(ctx, "k", "f")
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
	}

	_, err = client.Ping(ctx)
	require.NoError(t, err)
}

func TestClient_Close(t *testing.T) {
	srv := testutils.NewServer(t)
	client, err := NewClient(Config{Host: srv.Host(), Port: srv.Port(), ConnTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Close(context.Background()))
	require.Eventually(t, func() bool { return srv.OpenConns() == 0 }, time.Second, 5*time.Millisecond)

	_, err = client.Ping(context.Background())
	require.ErrorIs(t, err, ErrPoolNotReady)
}
