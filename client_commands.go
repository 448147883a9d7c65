package dicekv

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/pior/dicekv/wire"
)

// SetOptions are the optional arguments of Set. At most one expiry option
// may be set, and NX and XX are mutually exclusive; invalid combinations
// are rejected before any I/O.
type SetOptions struct {
	EX      time.Duration // expire after, second precision
	PX      time.Duration // expire after, millisecond precision
	EXAT    time.Time     // expire at, second precision
	PXAT    time.Time     // expire at, millisecond precision
	KeepTTL bool
	NX      bool // only set if the key does not exist
	XX      bool // only set if the key exists
	Get     bool // return the previous value
}

func (o SetOptions) args() []string {
	var args []string
	if o.NX {
		args = append(args, "NX")
	}
	if o.XX {
		args = append(args, "XX")
	}
	if o.EX != 0 {
		args = append(args, "EX", strconv.FormatInt(int64(o.EX/time.Second), 10))
	}
	if o.PX != 0 {
		args = append(args, "PX", strconv.FormatInt(o.PX.Milliseconds(), 10))
	}
	if !o.EXAT.IsZero() {
		args = append(args, "EXAT", strconv.FormatInt(o.EXAT.Unix(), 10))
	}
	if !o.PXAT.IsZero() {
		args = append(args, "PXAT", strconv.FormatInt(o.PXAT.UnixMilli(), 10))
	}
	if o.KeepTTL {
		args = append(args, "KEEPTTL")
	}
	if o.Get {
		args = append(args, "GET")
	}
	return args
}

// checked turns a server-side failure into an error.
func checked(resp *Response, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

func intResult(resp *Response, err error) (int64, error) {
	resp, err = checked(resp, err)
	if err != nil {
		return 0, err
	}
	n, ok := resp.Value.AsInt()
	if !ok {
		return 0, unexpectedValue(resp)
	}
	return n, nil
}

// stringResult returns found=false when the server returned nil.
func stringResult(resp *Response, err error) (string, bool, error) {
	resp, err = checked(resp, err)
	if err != nil {
		return "", false, err
	}
	if resp.Value.IsNil() {
		return "", false, nil
	}
	s, ok := resp.Value.AsString()
	if !ok {
		return "", false, unexpectedValue(resp)
	}
	return s, true, nil
}

func unexpectedValue(resp *Response) error {
	return &CommandError{Command: resp.Meta.Command, Message: "unexpected " + resp.Value.Kind.String() + " value"}
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Ping returns the server reply, PONG or the echoed message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	s, _, err := stringResult(c.Exec(ctx, CmdPing))
	return s, err
}

func (c *Client) Echo(ctx context.Context, message string) (string, error) {
	s, _, err := stringResult(c.Exec(ctx, CmdEcho, message))
	return s, err
}

// Get returns the value of key; found is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	return stringResult(c.Exec(ctx, CmdGet, key))
}

// Set stores value under key. The response value is OK, nil when NX or XX
// prevented the write, or the previous value when opts.Get is set.
func (c *Client) Set(ctx context.Context, key, value string, opts SetOptions) (*Response, error) {
	args := append([]string{key, value}, opts.args()...)
	return checked(c.Exec(ctx, CmdSet, args...))
}

// GetDel returns the value of key and deletes it.
func (c *Client) GetDel(ctx context.Context, key string) (value string, found bool, err error) {
	return stringResult(c.Exec(ctx, CmdGetDel, key))
}

// Del deletes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return intResult(c.Exec(ctx, CmdDel, keys...))
}

// Exists returns how many of keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return intResult(c.Exec(ctx, CmdExists, keys...))
}

// Expire sets a timeout on key, second precision. It reports whether the
// timeout was set.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := intResult(c.Exec(ctx, CmdExpire, key, formatInt(int64(ttl/time.Second))))
	return n == 1, err
}

// TTL returns the remaining time to live of key in seconds: -1 when the key
// has no expiry, -2 when it does not exist.
func (c *Client) TTL(ctx context.Context, key string) (int64, error) {
	return intResult(c.Exec(ctx, CmdTTL, key))
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return intResult(c.Exec(ctx, CmdIncr, key))
}

func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return intResult(c.Exec(ctx, CmdIncrBy, key, formatInt(delta)))
}

func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return intResult(c.Exec(ctx, CmdDecr, key))
}

func (c *Client) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return intResult(c.Exec(ctx, CmdDecrBy, key, formatInt(delta)))
}

// FlushDB removes every key.
func (c *Client) FlushDB(ctx context.Context) error {
	_, err := checked(c.Exec(ctx, CmdFlushDB))
	return err
}

// HSet sets fields of the hash at key and returns how many were added.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) (int64, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	args := make([]string, 0, 1+2*len(fields))
	args = append(args, key)
	for _, name := range names {
		args = append(args, name, fields[name])
	}
	return intResult(c.Exec(ctx, CmdHSet, args...))
}

func (c *Client) HGet(ctx context.Context, key, field string) (value string, found bool, err error) {
	return stringResult(c.Exec(ctx, CmdHGet, key, field))
}

// HGetAll returns every field of the hash at key. A missing key gives an
// empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	resp, err := checked(c.Exec(ctx, CmdHGetAll, key))
	if err != nil {
		return nil, err
	}

	switch resp.Value.Kind {
	case wire.KindMap:
		return resp.Value.Map, nil
	case wire.KindNone, wire.KindNil:
		return map[string]string{}, nil
	default:
		return nil, unexpectedValue(resp)
	}
}

// ZAdd adds members to the sorted set at key and returns how many were new.
// Only Member and Score of each element are used.
func (c *Client) ZAdd(ctx context.Context, key string, members ...wire.ZElement) (int64, error) {
	args := make([]string, 0, 1+2*len(members))
	args = append(args, key)
	for _, m := range members {
		args = append(args, strconv.FormatFloat(m.Score, 'g', -1, 64), m.Member)
	}
	return intResult(c.Exec(ctx, CmdZAdd, args...))
}

// ZRange returns the members of the sorted set at key between ranks start
// and stop, inclusive. Negative ranks count from the end.
func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]wire.ZElement, error) {
	resp, err := checked(c.Exec(ctx, CmdZRange, key, formatInt(start), formatInt(stop)))
	if err != nil {
		return nil, err
	}

	switch resp.Value.Kind {
	case wire.KindZSet:
		return resp.Value.ZSet, nil
	case wire.KindNone, wire.KindNil:
		return nil, nil
	default:
		return nil, unexpectedValue(resp)
	}
}

func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	return intResult(c.Exec(ctx, CmdZCard, key))
}

// GetWatch streams the value of key each time it changes.
func (c *Client) GetWatch(ctx context.Context, key string) (*WatchStream, error) {
	return c.Watch(ctx, CmdGetWatch, key)
}

// HGetAllWatch streams the hash at key each time it changes.
func (c *Client) HGetAllWatch(ctx context.Context, key string) (*WatchStream, error) {
	return c.Watch(ctx, CmdHGetAllWatch, key)
}

// ZRangeWatch streams a rank range of the sorted set at key each time the
// set changes.
func (c *Client) ZRangeWatch(ctx context.Context, key string, start, stop int64) (*WatchStream, error) {
	return c.Watch(ctx, CmdZRangeWatch, key, formatInt(start), formatInt(stop))
}
