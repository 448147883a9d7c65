// Package wire implements the framing and message encoding spoken by the
// dicekv server.
//
// The package is a leaf: it knows nothing about connections, pools or
// timeouts. Higher layers hand it a command name plus arguments and get bytes
// back, and hand it the bytes of one frame and get a Result back.
//
// # Framing
//
// Every message travels as a frame: a 4-byte big-endian payload length
// followed by the payload. Frames larger than MaxFrameSize are rejected on
// both ends.
//
//	payload, _ := wire.Encode("SET", []string{"k", "v"})
//	err := wire.WriteFrame(conn, payload)
//
//	frame, err := wire.ReadFrame(bufio.NewReader(conn))
//	res, err := wire.Decode(frame)
//
// # Payloads
//
// Payloads use the protocol buffers wire format, encoded and decoded directly
// with protowire:
//
//	Command
//	  1: cmd    string
//	  2: args   repeated string
//
//	Result
//	  1: status        varint (0 OK, 1 ERR)
//	  2: message       string
//	  3: fingerprint64 varint
//	  one of:
//	  10: nil      bool
//	  11: int      zigzag varint
//	  12: string   string
//	  13: float    fixed64
//	  14: bytes    bytes
//	  15: list     repeated string
//	  16: map      repeated {1: key string, 2: value string}
//	  17: zset     repeated {1: member string, 2: score fixed64, 3: rank varint}
//
// Unknown fields are skipped when decoding so newer servers can add fields.
//
// # Fingerprints
//
// Watch pushes carry a fingerprint identifying the subscription. Both sides
// compute it with Fingerprint, so a client knows the fingerprint of its
// subscription before the first push arrives and can UNWATCH it at any time.
package wire
