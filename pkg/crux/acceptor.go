package crux

import (
	"net"
	"sync"
)

// Acceptor is a thin facade over a Multiplexer's accept backlog: it lets a
// listener hand out freshly constructed Connections and be notified as
// they complete their inbound handshake.
type Acceptor struct {
	svc   *Service
	mux   *Multiplexer
	local string

	mu      sync.Mutex
	pending map[*Connection]bool
	closed  bool
}

// NewAcceptor binds (or reuses) the Multiplexer for local via svc.
func NewAcceptor(svc *Service, local string) (*Acceptor, error) {
	mux, err := svc.multiplexerFor(local)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		svc:     svc,
		mux:     mux,
		local:   mux.conn.LocalAddr().String(), // resolved key, matches Service's map
		pending: make(map[*Connection]bool),
	}, nil
}

// Accept registers target (which must be StateClosed) as a pending accept
// and blocks until a peer completes the handshake or the acceptor is
// closed. If target is not StateClosed it returns ErrAlreadyStarted.
func (a *Acceptor) Accept(target *Connection) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAcceptorClosed
	}
	a.pending[target] = true
	a.mu.Unlock()

	target.svc = a.svc
	target.localKey = a.local
	result := a.mux.enqueueAccept(target)
	err := <-result

	a.mu.Lock()
	delete(a.pending, target)
	a.mu.Unlock()
	return err
}

// AcceptNew is a convenience wrapper that allocates the target Connection
// via the owning Service and returns it once established.
func (a *Acceptor) AcceptNew() (*Connection, error) {
	target := a.svc.NewConnection()
	if err := a.Accept(target); err != nil {
		return nil, err
	}
	return target, nil
}

// LocalAddr reports the bound local UDP address.
func (a *Acceptor) LocalAddr() net.Addr {
	return a.mux.conn.LocalAddr()
}

// Close disables all pending accepts on this acceptor, firing each with
// ErrOperationAborted and closing its target connection. Idempotent.
func (a *Acceptor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	targets := make(map[*Connection]bool, len(a.pending))
	for t := range a.pending {
		targets[t] = true
	}
	a.mu.Unlock()

	a.mux.cancelAccepts(targets)
	a.svc.releaseMultiplexer(a.local)
}
