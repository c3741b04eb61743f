// Package authworker is the credential checking side of the auth channel.
//
// The worker runs in its own process and reads one JSON request per line on
// stdin, answering each with one JSON response per line on stdout. Every
// response echoes the request id so the server can discard replies that
// arrive after it gave up waiting.
package authworker

import (
	"github.com/codefionn/scee/internal/protocol"
)

// Commands understood by the worker
const (
	CommandAuth     = "auth"
	CommandPing     = "ping"
	CommandShutdown = "shutdown"
)

// Response statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Messages returned with StatusError
const (
	MsgInvalidCredentials = "Invalid credentials"
	MsgInternalError      = "internal error"
	MsgMalformedRequest   = "malformed request"
)

// Request is one line written to the worker
type Request struct {
	ID       string `json:"id"`
	Command  string `json:"command"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// Response is one line written by the worker
type Response struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	UserData *protocol.User `json:"user_data,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// OK reports whether the worker accepted the request
func (r Response) OK() bool {
	return r.Status == StatusOK
}
