package wire

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCommand  = errors.New("wire: empty command name")
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// ParseError reports a payload that could not be decoded.
// The frame boundary is intact, so the connection itself is still usable.
type ParseError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "wire: parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "wire: parse error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

// FrameError reports a broken frame: short read, bad length header or an
// oversized payload. The byte stream can no longer be trusted after it.
type FrameError struct {
	Op  string // read or write
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("wire: frame %s: %v", e.Op, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
