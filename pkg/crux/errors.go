package crux

import "github.com/pkg/errors"

// Sentinel errors returned, unwrapped, by connection, transmit-queue, and
// acceptor operations. They are created with github.com/pkg/errors.
var (
	ErrAlreadyConnected  = errors.New("crux: connection already connected")
	ErrNotConnected      = errors.New("crux: connection not connected")
	ErrAlreadyStarted    = errors.New("crux: sequence already has a pending transmission")
	ErrOperationAborted  = errors.New("crux: operation aborted")
	ErrKeepaliveTimeout  = errors.New("crux: keepalive timeout")
	ErrInvalidArgument   = errors.New("crux: invalid argument")
	ErrTransport         = errors.New("crux: transport error")
	ErrAcceptorClosed    = errors.New("crux: acceptor closed")
	ErrProtocolVersion   = errors.New("crux: unsupported protocol version")
	ErrConnectionClosed  = errors.New("crux: connection closed")
)
