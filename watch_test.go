package dicekv

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pior/dicekv/internal/testutils"
	"github.com/pior/dicekv/wire"
	"github.com/stretchr/testify/require"
)

func nextUpdate(t *testing.T, stream *WatchStream) *Response {
	t.Helper()

	select {
	case resp, ok := <-stream.Updates():
		require.True(t, ok, "stream ended: %v", stream.Err())
		return resp
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func requireEnded(t *testing.T, stream *WatchStream) {
	t.Helper()

	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not end")
	}
	_, ok := <-stream.Updates()
	require.False(t, ok, "updates must be closed once the stream ended")
}

func TestWatch_InitialPushAndUpdates(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	stream, err := client.GetWatch(ctx, "k")
	require.NoError(t, err)
	defer stream.Close()

	initial := nextUpdate(t, stream)
	require.True(t, initial.OK())
	require.True(t, initial.Value.IsNil())
	require.True(t, initial.Meta.Watch)
	require.Equal(t, CmdGetWatch, initial.Meta.Command)
	require.Equal(t, stream.Fingerprint(), initial.Fingerprint)
	require.Equal(t, wire.Fingerprint(CmdGetWatch, []string{"k"}), stream.Fingerprint())

	_, err = client.Set(ctx, "k", "v1", SetOptions{})
	require.NoError(t, err)
	require.Equal(t, "v1", nextUpdate(t, stream).Value.Str)

	_, err = client.Set(ctx, "other", "x", SetOptions{})
	require.NoError(t, err)
	_, err = client.Set(ctx, "k", "v2", SetOptions{})
	require.NoError(t, err)
	require.Equal(t, "v2", nextUpdate(t, stream).Value.Str, "writes to other keys do not push")
}

func TestWatch_DedicatedConnection(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{MaxPoolSize: 1})
	ctx := context.Background()

	first, err := client.GetWatch(ctx, "a")
	require.NoError(t, err)
	defer first.Close()
	second, err := client.GetWatch(ctx, "b")
	require.NoError(t, err)
	defer second.Close()

	require.NotEqual(t, first.ID(), second.ID())
	require.Equal(t, 2, srv.Handshakes())
	require.EqualValues(t, 2, client.PoolStats().DedicatedConns)
	require.EqualValues(t, 1, client.PoolStats().TotalConns, "watch connections stay out of the pool")
	require.EqualValues(t, 2, client.Stats().ActiveWatches)

	_, err = client.Ping(ctx)
	require.NoError(t, err, "watches do not use up the pool")
}

func TestWatch_Close(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})

	stream, err := client.HGetAllWatch(context.Background(), "h")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Watchers() == 1 }, time.Second, 5*time.Millisecond)

	stream.Close()
	stream.Close()

	requireEnded(t, stream)
	require.ErrorIs(t, stream.Err(), ErrStreamClosed)
	require.Eventually(t, func() bool { return srv.Watchers() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return client.Stats().ActiveWatches == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatch_ConnectionDrop(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})

	stream, err := client.GetWatch(context.Background(), "k")
	require.NoError(t, err)
	nextUpdate(t, stream)

	srv.DropConnections()

	requireEnded(t, stream)
	var connErr *ConnectionError
	require.ErrorAs(t, stream.Err(), &connErr)
	require.Equal(t, "watch", connErr.Op)
	require.Eventually(t, func() bool { return client.Stats().ActiveWatches == 0 }, time.Second, 5*time.Millisecond)

	stream.Close()
	require.ErrorAs(t, stream.Err(), &connErr, "closing an ended stream keeps the original cause")
}

func TestWatch_HashUpdates(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	stream, err := client.HGetAllWatch(ctx, "h")
	require.NoError(t, err)
	defer stream.Close()
	nextUpdate(t, stream)

	_, err = client.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)

	update := nextUpdate(t, stream)
	require.Equal(t, wire.KindMap, update.Value.Kind)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, update.Value.Map)
}

func TestWatch_SortedSetUpdates(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	stream, err := client.ZRangeWatch(ctx, "z", 0, -1)
	require.NoError(t, err)
	defer stream.Close()
	nextUpdate(t, stream)

	_, err = client.ZAdd(ctx, "z", wire.ZElement{Member: "b", Score: 2}, wire.ZElement{Member: "a", Score: 1})
	require.NoError(t, err)

	update := nextUpdate(t, stream)
	require.Equal(t, wire.KindZSet, update.Value.Kind)
	require.Len(t, update.Value.ZSet, 2)
	require.Equal(t, "a", update.Value.ZSet[0].Member)
	require.Equal(t, "b", update.Value.ZSet[1].Member)
}

func TestWatch_Unwatch(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	ctx := context.Background()

	stream, err := client.GetWatch(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, client.Unwatch(ctx, stream))
	requireEnded(t, stream)

	var unwatch *wire.Command
	for _, cmd := range srv.Received() {
		cmd := cmd
		if cmd.Cmd == CmdUnwatch {
			unwatch = &cmd
		}
	}
	require.NotNil(t, unwatch, "UNWATCH was not sent")
	require.Equal(t, []string{strconv.FormatUint(stream.Fingerprint(), 10)}, unwatch.Args)
	require.Zero(t, srv.Watchers())
}

func TestWatch_RejectedHandshake(t *testing.T) {
	srv := testutils.NewServer(t)
	client := newTestClient(t, srv, Config{})
	srv.RejectHandshakes(true)

	_, err := client.GetWatch(context.Background(), "k")

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "handshake", connErr.Op)
	require.Zero(t, client.Stats().ActiveWatches)
}

func TestWatch_ClientCloseEndsStreams(t *testing.T) {
	srv := testutils.NewServer(t)
	cfg := Config{Host: srv.Host(), Port: srv.Port(), ConnTimeout: time.Second, QueryTimeout: time.Second}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))

	var streams []*WatchStream
	for _, key := range []string{"a", "b", "c"} {
		stream, err := client.GetWatch(context.Background(), key)
		require.NoError(t, err)
		streams = append(streams, stream)
	}

	require.NoError(t, client.Close(context.Background()))

	for _, stream := range streams {
		requireEnded(t, stream)
		require.ErrorIs(t, stream.Err(), ErrStreamClosed)
	}
	require.Zero(t, client.Stats().ActiveWatches)
	require.Eventually(t, func() bool { return srv.OpenConns() == 0 }, time.Second, 5*time.Millisecond)
}
