package dicekv

import (
	"github.com/pior/dicekv/wire"
)

// ResponseMeta describes the exchange a Response came from.
type ResponseMeta struct {
	Command  string
	Args     []string
	ClientID string
	QueryID  string
	SocketID string
	Watch    bool // true for watch pushes
}

// Response is a decoded server reply or watch push.
//
// A logical failure reported by the server (status ERR) is not returned as an
// error by Exec; it stays in Status and Message. Use Err to get it as an
// error.
type Response struct {
	Status      wire.Status
	Message     string
	Fingerprint uint64
	Value       wire.Value
	Meta        ResponseMeta
}

func newResponse(res *wire.Result, meta ResponseMeta) *Response {
	return &Response{
		Status:      res.Status,
		Message:     res.Message,
		Fingerprint: res.Fingerprint64,
		Value:       res.Value,
		Meta:        meta,
	}
}

// OK reports whether the server reported success.
func (r *Response) OK() bool {
	return r.Status == wire.StatusOK
}

// Err returns a *ServerError when the server reported a failure, nil
// otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &ServerError{Command: r.Meta.Command, Message: r.Message}
}
