package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCommand(t *testing.T) {
	payload, err := Encode("SET", []string{"key", "value with spaces", ""})
	require.NoError(t, err)

	cmd, err := DecodeCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, "SET", cmd.Cmd)
	assert.Equal(t, []string{"key", "value with spaces", ""}, cmd.Args)
}

func TestEncodeCommandWithoutArgs(t *testing.T) {
	payload, err := Encode("PING", nil)
	require.NoError(t, err)

	cmd, err := DecodeCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, "PING", cmd.Cmd)
	assert.Empty(t, cmd.Args)
}

func TestEncodeEmptyCommand(t *testing.T) {
	_, err := Encode("", []string{"x"})
	require.ErrorIs(t, err, ErrEmptyCommand)
}

func TestDecodeCommandMissingName(t *testing.T) {
	payload := AppendCommand(nil, &Command{Args: []string{"orphan"}})

	_, err := DecodeCommand(payload)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestResultRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"none", Value{}},
		{"nil", NilValue()},
		{"negative int", IntValue(-42)},
		{"string", StringValue("hello")},
		{"float", FloatValue(3.25)},
		{"bytes", BytesValue([]byte{0, 1, 2, 255})},
		{"list", ListValue([]string{"a", "", "c"})},
		{"map", MapValue(map[string]string{"f1": "v1", "f2": ""})},
		{"zset", ZSetValue([]ZElement{{Member: "m1", Score: 1.5, Rank: 0}, {Member: "m2", Score: -2, Rank: 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Result{
				Status:        StatusOK,
				Message:       "OK",
				Fingerprint64: 0xdeadbeef,
				Value:         tt.value,
			}

			out, err := Decode(EncodeResult(in))
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestDecodeErrorResult(t *testing.T) {
	payload := EncodeResult(&Result{Status: StatusErr, Message: "WRONGTYPE Operation against a key holding the wrong kind of value"})

	res, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, StatusErr, res.Status)
	assert.Contains(t, res.Message, "WRONGTYPE")
	assert.Equal(t, KindNone, res.Value.Kind)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	payload := EncodeResult(&Result{Value: StringValue("v")})
	// field 99, varint 7
	payload = append(payload, 0x98, 0x06, 0x07)

	res, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "v", res.Value.Str)
}

func TestDecodeTruncated(t *testing.T) {
	payload := EncodeResult(&Result{Message: "truncated message"})

	_, err := Decode(payload[:len(payload)-3])
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, []byte("third")))

	r := bufio.NewReader(&buf)

	p, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "first", string(p))

	p, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "third", string(p))

	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("0123456789")))
	data := buf.Bytes()[:HeaderSize+4]

	_, err := ReadFrame(bytes.NewReader(data))
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
}

func TestReadFrameTooLarge(t *testing.T) {
	header := binary.BigEndian.AppendUint32(nil, MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrameReusesBuffers(t *testing.T) {
	large := bytes.Repeat([]byte("x"), maxPooledBuffer+1)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, large))
	require.NoError(t, WriteFrame(&buf, []byte("small")))
	require.NoError(t, WriteFrame(&buf, []byte("again")))

	r := bufio.NewReader(&buf)
	for _, want := range [][]byte{large, []byte("small"), []byte("again")} {
		p, err := ReadFrame(r)
		require.NoError(t, err)
		require.Equal(t, want, p)
	}
}

func TestByteBufferPoolDropsLargeBuffers(t *testing.T) {
	pool := newByteBufferPool(16)

	buf := pool.Get()
	buf.Write([]byte("data"))
	pool.Put(buf)
	require.Zero(t, pool.Get().Len(), "pooled buffers come back empty")

	big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
	pool.Put(big)
	require.LessOrEqual(t, pool.Get().Cap(), maxPooledBuffer)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFrameError(t *testing.T) {
	err := WriteFrame(failingWriter{}, []byte("x"))
	require.EqualError(t, err, "broken pipe")
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("get.watch", []string{"k1"})
	b := Fingerprint("GET.WATCH", []string{"k1"})
	c := Fingerprint("GET.WATCH", []string{"k2"})

	assert.Equal(t, a, b, "command name is case-insensitive")
	assert.NotEqual(t, a, c)
	assert.NotZero(t, a)
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "ZRANGE.WATCH z 0 -1", Canonical("zrange.watch", []string{"z", "0", "-1"}))
	assert.Equal(t, "PING", Canonical("ping", nil))
}

func TestValueAccessors(t *testing.T) {
	s, ok := IntValue(12).AsString()
	assert.True(t, ok)
	assert.Equal(t, "12", s)

	n, ok := StringValue("34").AsInt()
	assert.True(t, ok)
	assert.EqualValues(t, 34, n)

	_, ok = StringValue("nope").AsInt()
	assert.False(t, ok)

	_, ok = ListValue([]string{"a"}).AsString()
	assert.False(t, ok)

	assert.True(t, NilValue().IsNil())
	assert.True(t, Value{}.IsNil())
	assert.False(t, StringValue("").IsNil())
}
