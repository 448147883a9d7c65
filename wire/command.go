package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldCmd  protowire.Number = 1
	fieldArgs protowire.Number = 2
)

// Command is a request: a command name and its arguments, already rendered
// as strings.
type Command struct {
	Cmd  string
	Args []string
}

// String returns the canonical form used for fingerprints and logging.
func (c *Command) String() string {
	return Canonical(c.Cmd, c.Args)
}

func (c *Command) size() int {
	n := protowire.SizeTag(fieldCmd) + protowire.SizeBytes(len(c.Cmd))
	for _, a := range c.Args {
		n += protowire.SizeTag(fieldArgs) + protowire.SizeBytes(len(a))
	}
	return n
}

// AppendCommand appends the payload encoding of c to b.
func AppendCommand(b []byte, c *Command) []byte {
	b = protowire.AppendTag(b, fieldCmd, protowire.BytesType)
	b = protowire.AppendString(b, c.Cmd)
	for _, a := range c.Args {
		b = protowire.AppendTag(b, fieldArgs, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	return b
}

// Encode returns the payload for cmd with args. The payload still has to be
// framed with WriteFrame.
func Encode(cmd string, args []string) ([]byte, error) {
	if cmd == "" {
		return nil, ErrEmptyCommand
	}

	c := Command{Cmd: cmd, Args: args}
	b := make([]byte, 0, c.size())
	return AppendCommand(b, &c), nil
}

// DecodeCommand parses a command payload. Servers and test doubles use it;
// clients only ever encode commands.
func DecodeCommand(b []byte) (*Command, error) {
	c := &Command{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &ParseError{Message: "command tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		switch {
		case num == fieldCmd && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &ParseError{Message: "command name", Err: protowire.ParseError(n)}
			}
			c.Cmd = v
			b = b[n:]
		case num == fieldArgs && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &ParseError{Message: "command argument", Err: protowire.ParseError(n)}
			}
			c.Args = append(c.Args, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &ParseError{Message: "unknown command field", Err: protowire.ParseError(n)}
			}
			b = b[n:]
		}
	}

	if c.Cmd == "" {
		return nil, &ParseError{Message: "missing command name"}
	}
	return c, nil
}
