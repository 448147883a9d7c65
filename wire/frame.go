package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderSize is the size of the length prefix of every frame.
	HeaderSize = 4

	// MaxFrameSize bounds the payload of a single frame.
	MaxFrameSize = 64 << 20
)

var framePool = newByteBufferPool(512)

// AppendFrame appends the length header and payload to b.
func AppendFrame(b, payload []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// WriteFrame writes payload as a single frame.
// Header and payload go out in one Write call so concurrent writers on the
// same connection (the server pushing watch updates) never interleave.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return &FrameError{Op: "write", Err: ErrFrameTooLarge}
	}

	buf := framePool.Get()
	defer framePool.Put(buf)
	buf.Write(AppendFrame(buf.AvailableBuffer(), payload))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one frame and returns its payload.
//
// io.EOF is returned as-is when the stream ends cleanly on a frame boundary.
// A stream ending inside a frame yields a FrameError wrapping
// io.ErrUnexpectedEOF. Other I/O errors are returned unchanged.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FrameError{Op: "read", Err: err}
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, &FrameError{Op: "read", Err: ErrFrameTooLarge}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FrameError{Op: "read", Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}
	return payload, nil
}
