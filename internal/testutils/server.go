// Package testutils provides an in-process server speaking the dicekv wire
// protocol, for tests.
package testutils

import (
	"bufio"
	"errors"
	"math"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pior/dicekv/wire"
)

// Handler intercepts commands before the built-in implementation.
// Returning handled=false falls through to the built-in behavior. A handled
// command with a nil result closes the connection without replying.
type Handler func(cmd *wire.Command) (res *wire.Result, handled bool)

// Server is a loopback server keeping strings, hashes and sorted sets in
// memory. Watch commands push the watched value on subscribe and after each
// write to the watched key.
type Server struct {
	ln     net.Listener
	closed chan struct{}
	wg     sync.WaitGroup

	inflight    atomic.Int32
	maxInflight atomic.Int32

	mu              sync.Mutex
	conns           map[*serverConn]struct{}
	watchers        []*watcher
	strs            map[string]string
	hashes          map[string]map[string]string
	zsets           map[string]map[string]float64
	delays          map[string]time.Duration
	handler         Handler
	rejectHandshake bool
	handshakes      int
	accepted        int
	received        []wire.Command
	closeOnce       sync.Once
}

type serverConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (sc *serverConn) write(res *wire.Result) {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()

	_ = sc.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = wire.WriteFrame(sc.conn, wire.EncodeResult(res))
}

type watcher struct {
	sc          *serverConn
	cmd         string // read command the watch is based on
	args        []string
	fingerprint uint64
}

type push struct {
	sc  *serverConn
	res *wire.Result
}

// NewServer starts a server on a random loopback port. It is closed when the
// test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}

	s := &Server{
		ln:     ln,
		closed: make(chan struct{}),
		conns:  make(map[*serverConn]struct{}),
		strs:   make(map[string]string),
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
		delays: make(map[string]time.Duration),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// SetDelay delays every reply to cmd by d.
func (s *Server) SetDelay(cmd string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[strings.ToUpper(cmd)] = d
}

func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// RejectHandshakes makes HANDSHAKE reply with an error status.
func (s *Server) RejectHandshakes(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectHandshake = reject
}

// Handshakes returns the number of HANDSHAKE commands received.
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// OpenConns returns the number of connections currently open.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Watchers returns the number of active watch subscriptions.
func (s *Server) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// MaxInflight returns the highest number of commands processed at once.
func (s *Server) MaxInflight() int {
	return int(s.maxInflight.Load())
}

// Received returns the commands received so far, in order.
func (s *Server) Received() []wire.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// ReceivedNames returns the names of the commands received so far.
func (s *Server) ReceivedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.received))
	for i, c := range s.received {
		names[i] = c.Cmd
	}
	return names
}

// DropConnections closes every open connection, as a server crash would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		_ = sc.conn.Close()
	}
}

// Close stops the server and waits for every connection handler to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.ln.Close()
		s.DropConnections()
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		sc := &serverConn{conn: conn}
		s.mu.Lock()
		s.conns[sc] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		select {
		case <-s.closed:
			_ = conn.Close()
		default:
		}

		s.wg.Add(1)
		go s.serve(sc)
	}
}

func (s *Server) serve(sc *serverConn) {
	defer s.wg.Done()
	defer s.drop(sc)

	r := bufio.NewReader(sc.conn)
	for {
		payload, err := wire.ReadFrame(r)
		if err != nil {
			return
		}

		cmd, err := wire.DecodeCommand(payload)
		if err != nil {
			sc.write(errResult(err.Error()))
			continue
		}

		if !s.process(sc, cmd) {
			return
		}
	}
}

// process runs one command. It returns false when the connection must be
// closed.
func (s *Server) process(sc *serverConn, cmd *wire.Command) bool {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxInflight.Load()
		if n <= m || s.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.received = append(s.received, *cmd)
	delay := s.delays[strings.ToUpper(cmd.Cmd)]
	handler := s.handler
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-s.closed:
			return false
		}
	}

	if handler != nil {
		if res, handled := handler(cmd); handled {
			if res == nil {
				return false
			}
			sc.write(res)
			return true
		}
	}

	res, pushes := s.handle(sc, cmd)
	if res != nil {
		sc.write(res)
	}
	for _, p := range pushes {
		p.sc.write(p.res)
	}
	return true
}

func (s *Server) drop(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	s.watchers = slices.DeleteFunc(s.watchers, func(w *watcher) bool { return w.sc == sc })
	s.mu.Unlock()

	_ = sc.conn.Close()
}

func okResult(v wire.Value) *wire.Result {
	return &wire.Result{Status: wire.StatusOK, Value: v}
}

func errResult(msg string) *wire.Result {
	return &wire.Result{Status: wire.StatusErr, Message: msg}
}

var errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// handle runs the built-in command. For watch commands the result is the
// first push.
func (s *Server) handle(sc *serverConn, cmd *wire.Command) (*wire.Result, []push) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToUpper(cmd.Cmd)
	args := cmd.Args

	switch name {
	case "HANDSHAKE":
		s.handshakes++
		if s.rejectHandshake {
			return errResult("handshake rejected"), nil
		}
		return okResult(wire.StringValue("OK")), nil

	case "UNWATCH":
		if len(args) != 1 {
			return errResult("wrong number of arguments"), nil
		}
		fp, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errResult("invalid fingerprint"), nil
		}
		s.watchers = slices.DeleteFunc(s.watchers, func(w *watcher) bool { return w.fingerprint == fp })
		return okResult(wire.StringValue("OK")), nil
	}

	if base, ok := strings.CutSuffix(name, ".WATCH"); ok {
		w := &watcher{
			sc:          sc,
			cmd:         base,
			args:        slices.Clone(args),
			fingerprint: wire.Fingerprint(name, args),
		}
		s.watchers = append(s.watchers, w)
		return s.evalWatch(w), nil
	}

	res, written := s.eval(name, args)
	return res, s.notify(written)
}

func (s *Server) evalWatch(w *watcher) *wire.Result {
	res, _ := s.eval(w.cmd, w.args)
	res.Fingerprint64 = w.fingerprint
	return res
}

// notify builds the pushes for the watchers of the written keys. The key
// "*" stands for every key.
func (s *Server) notify(written []string) []push {
	var pushes []push
	for _, w := range s.watchers {
		if len(w.args) == 0 {
			continue
		}
		if slices.Contains(written, w.args[0]) || slices.Contains(written, "*") {
			pushes = append(pushes, push{sc: w.sc, res: s.evalWatch(w)})
		}
	}
	return pushes
}

// eval executes a read or write command against the data set. It returns
// the keys written, "*" for all of them.
func (s *Server) eval(name string, args []string) (*wire.Result, []string) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch name {
	case "PING":
		if len(args) > 0 {
			return okResult(wire.StringValue(args[0])), nil
		}
		return okResult(wire.StringValue("PONG")), nil

	case "ECHO":
		return okResult(wire.StringValue(arg(0))), nil

	case "GET", "GETEX":
		v, ok, err := s.getString(arg(0))
		if err != nil {
			return errResult(err.Error()), nil
		}
		if !ok {
			return okResult(wire.NilValue()), nil
		}
		return okResult(wire.StringValue(v)), nil

	case "SET":
		return s.set(args)

	case "GETDEL":
		v, ok, err := s.getString(arg(0))
		if err != nil {
			return errResult(err.Error()), nil
		}
		if !ok {
			return okResult(wire.NilValue()), nil
		}
		delete(s.strs, arg(0))
		return okResult(wire.StringValue(v)), []string{arg(0)}

	case "DEL":
		var n int64
		for _, k := range args {
			if s.exists(k) {
				n++
			}
			delete(s.strs, k)
			delete(s.hashes, k)
			delete(s.zsets, k)
		}
		return okResult(wire.IntValue(n)), args

	case "EXISTS":
		var n int64
		for _, k := range args {
			if s.exists(k) {
				n++
			}
		}
		return okResult(wire.IntValue(n)), nil

	case "EXPIRE":
		if s.exists(arg(0)) {
			return okResult(wire.IntValue(1)), nil
		}
		return okResult(wire.IntValue(0)), nil

	case "TTL", "EXPIRETIME":
		if s.exists(arg(0)) {
			return okResult(wire.IntValue(-1)), nil
		}
		return okResult(wire.IntValue(-2)), nil

	case "TYPE":
		switch {
		case s.hashes[arg(0)] != nil:
			return okResult(wire.StringValue("hash")), nil
		case s.zsets[arg(0)] != nil:
			return okResult(wire.StringValue("zset")), nil
		case s.exists(arg(0)):
			return okResult(wire.StringValue("string")), nil
		default:
			return okResult(wire.StringValue("none")), nil
		}

	case "INCR", "DECR", "INCRBY", "DECRBY":
		delta := int64(1)
		if strings.HasSuffix(name, "BY") {
			d, err := strconv.ParseInt(arg(1), 10, 64)
			if err != nil {
				return errResult("value is not an integer or out of range"), nil
			}
			delta = d
		}
		if strings.HasPrefix(name, "DECR") {
			delta = -delta
		}
		return s.incr(arg(0), delta)

	case "FLUSHDB":
		clear(s.strs)
		clear(s.hashes)
		clear(s.zsets)
		return okResult(wire.StringValue("OK")), []string{"*"}

	case "HSET":
		if s.wrongType(arg(0), "hash") {
			return errResult(errWrongType.Error()), nil
		}
		h := s.hashes[arg(0)]
		if h == nil {
			h = make(map[string]string)
			s.hashes[arg(0)] = h
		}
		var added int64
		for i := 1; i+1 < len(args); i += 2 {
			if _, ok := h[args[i]]; !ok {
				added++
			}
			h[args[i]] = args[i+1]
		}
		return okResult(wire.IntValue(added)), []string{arg(0)}

	case "HGET":
		if s.wrongType(arg(0), "hash") {
			return errResult(errWrongType.Error()), nil
		}
		v, ok := s.hashes[arg(0)][arg(1)]
		if !ok {
			return okResult(wire.NilValue()), nil
		}
		return okResult(wire.StringValue(v)), nil

	case "HGETALL":
		if s.wrongType(arg(0), "hash") {
			return errResult(errWrongType.Error()), nil
		}
		return okResult(wire.MapValue(cloneMap(s.hashes[arg(0)]))), nil

	case "ZADD":
		return s.zadd(args)

	case "ZREM":
		if s.wrongType(arg(0), "zset") {
			return errResult(errWrongType.Error()), nil
		}
		var n int64
		for _, m := range args[1:] {
			if _, ok := s.zsets[arg(0)][m]; ok {
				delete(s.zsets[arg(0)], m)
				n++
			}
		}
		return okResult(wire.IntValue(n)), []string{arg(0)}

	case "ZCARD":
		if s.wrongType(arg(0), "zset") {
			return errResult(errWrongType.Error()), nil
		}
		return okResult(wire.IntValue(int64(len(s.zsets[arg(0)])))), nil

	case "ZCOUNT":
		if s.wrongType(arg(0), "zset") {
			return errResult(errWrongType.Error()), nil
		}
		lo, err1 := strconv.ParseFloat(arg(1), 64)
		hi, err2 := strconv.ParseFloat(arg(2), 64)
		if err1 != nil || err2 != nil {
			return errResult("min or max is not a float"), nil
		}
		var n int64
		for _, score := range s.zsets[arg(0)] {
			if score >= lo && score <= hi {
				n++
			}
		}
		return okResult(wire.IntValue(n)), nil

	case "ZRANGE":
		if s.wrongType(arg(0), "zset") {
			return errResult(errWrongType.Error()), nil
		}
		start, err1 := strconv.ParseInt(arg(1), 10, 64)
		stop, err2 := strconv.ParseInt(arg(2), 10, 64)
		if err1 != nil || err2 != nil {
			return errResult("value is not an integer or out of range"), nil
		}
		return okResult(wire.ZSetValue(rankRange(s.sorted(arg(0)), start, stop))), nil

	case "ZRANK":
		if s.wrongType(arg(0), "zset") {
			return errResult(errWrongType.Error()), nil
		}
		for _, e := range s.sorted(arg(0)) {
			if e.Member == arg(1) {
				return okResult(wire.IntValue(e.Rank)), nil
			}
		}
		return okResult(wire.NilValue()), nil
	}

	return errResult("unknown command '" + name + "'"), nil
}

func (s *Server) exists(key string) bool {
	_, ok := s.strs[key]
	return ok || s.hashes[key] != nil || s.zsets[key] != nil
}

func (s *Server) wrongType(key, want string) bool {
	switch want {
	case "hash":
		_, isStr := s.strs[key]
		return isStr || s.zsets[key] != nil
	case "zset":
		_, isStr := s.strs[key]
		return isStr || s.hashes[key] != nil
	default:
		return s.hashes[key] != nil || s.zsets[key] != nil
	}
}

func (s *Server) getString(key string) (string, bool, error) {
	if s.wrongType(key, "string") {
		return "", false, errWrongType
	}
	v, ok := s.strs[key]
	return v, ok, nil
}

func (s *Server) set(args []string) (*wire.Result, []string) {
	if len(args) < 2 {
		return errResult("wrong number of arguments for 'set' command"), nil
	}
	key, value := args[0], args[1]

	var nx, xx, get bool
	for _, opt := range args[2:] {
		switch strings.ToUpper(opt) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GET":
			get = true
		}
	}

	old, existed := s.strs[key]
	if s.wrongType(key, "string") {
		return errResult(errWrongType.Error()), nil
	}

	reply := wire.StringValue("OK")
	if get {
		reply = wire.NilValue()
		if existed {
			reply = wire.StringValue(old)
		}
	}

	if (nx && existed) || (xx && !existed) {
		if get {
			return okResult(reply), nil
		}
		return okResult(wire.NilValue()), nil
	}

	s.strs[key] = value
	return okResult(reply), []string{key}
}

func (s *Server) incr(key string, delta int64) (*wire.Result, []string) {
	v, ok, err := s.getString(key)
	if err != nil {
		return errResult(err.Error()), nil
	}

	var n int64
	if ok {
		n, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errResult("value is not an integer or out of range"), nil
		}
	}
	n += delta
	s.strs[key] = strconv.FormatInt(n, 10)
	return okResult(wire.IntValue(n)), []string{key}
}

func (s *Server) zadd(args []string) (*wire.Result, []string) {
	key := args[0]
	if s.wrongType(key, "zset") {
		return errResult(errWrongType.Error()), nil
	}

	i := 1
	for ; i < len(args); i++ {
		if _, err := strconv.ParseFloat(args[i], 64); err == nil {
			break
		}
	}

	z := s.zsets[key]
	if z == nil {
		z = make(map[string]float64)
		s.zsets[key] = z
	}

	var added int64
	for ; i+1 < len(args); i += 2 {
		score, err := strconv.ParseFloat(args[i], 64)
		if err != nil || math.IsNaN(score) {
			return errResult("value is not a valid float"), nil
		}
		if _, ok := z[args[i+1]]; !ok {
			added++
		}
		z[args[i+1]] = score
	}
	return okResult(wire.IntValue(added)), []string{key}
}

// sorted returns the members of the sorted set ordered by score then member,
// with their ranks.
func (s *Server) sorted(key string) []wire.ZElement {
	z := s.zsets[key]
	elems := make([]wire.ZElement, 0, len(z))
	for m, score := range z {
		elems = append(elems, wire.ZElement{Member: m, Score: score})
	}
	slices.SortFunc(elems, func(a, b wire.ZElement) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		default:
			return strings.Compare(a.Member, b.Member)
		}
	})
	for i := range elems {
		elems[i].Rank = int64(i)
	}
	return elems
}

func rankRange(elems []wire.ZElement, start, stop int64) []wire.ZElement {
	n := int64(len(elems))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	stop = min(stop, n-1)
	if start > stop || start >= n {
		return nil
	}
	return elems[start : stop+1]
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
