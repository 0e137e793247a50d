package crux

import (
	"math/rand"
	"net"

	"github.com/sirupsen/logrus"
)

// State is a connection's position in the handshake/data/teardown machine.
type State int

const (
	StateClosed State = iota
	StateListening
	StateConnecting
	StateHandshaking
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// receiveRequest is one outstanding user Receive call awaiting delivery.
type receiveRequest struct {
	result chan receiveResult
}

type receiveResult struct {
	payload []byte
	err     error
}

// Connection is the per-peer state machine: the user-facing socket. All
// mutation of its fields happens on its owning Multiplexer's actor
// goroutine; public methods hand work to that goroutine and block on a
// result channel, so Connection itself carries no lock.
type Connection struct {
	mux    *Multiplexer
	remote net.Addr

	state State

	nextSeq   Seq
	cumulative CumulativeSet

	pendingReceives    []receiveRequest
	bufferedDeliveries [][]byte

	tx *TransmitQueue

	connectResult chan error

	keepalive *Timer
	closed    bool

	svc      *Service // set by Service.Dial; used to release an idle Multiplexer on Close
	localKey string

	opts options
	log  logrus.FieldLogger
}

func newConnection(mux *Multiplexer, opts options) *Connection {
	c := &Connection{
		mux:     mux,
		state:   StateClosed,
		nextSeq: Seq(rand.Uint32()),
		tx:      NewTransmitQueue(),
		opts:    opts,
		log:     opts.logger,
	}
	c.tx.timer.SetPeriod(opts.retransmitPeriod)
	c.keepalive = NewTimer(opts.keepaliveTimeout, func() {
		if c.mux != nil {
			c.mux.post(func() { c.onKeepaliveTimeout() })
		}
	})
	return c
}

// Connect begins the client-side handshake with remote. It requires the
// connection to be in StateClosed.
func (c *Connection) Connect(remote net.Addr) error {
	result := make(chan error, 1)
	c.mux.post(func() {
		if c.state != StateClosed {
			result <- ErrAlreadyConnected
			return
		}
		c.remote = remote
		c.state = StateConnecting
		c.connectResult = result
		c.mux.registerConnection(remote, c)
		c.pushHandshake()
	})
	return <-result
}

// Send pushes payload as a DATA packet, piggy-backing the most recent
// cumulative ack. The returned error reflects whether the peer
// acknowledged the packet (nil) or the send step failed / was aborted.
func (c *Connection) Send(payload []byte) error {
	if c.mux == nil {
		return ErrNotConnected
	}
	result := make(chan error, 1)
	c.mux.post(func() {
		if c.state != StateEstablished && c.state != StateHandshaking {
			result <- ErrNotConnected
			return
		}
		seq := c.allocSeq()
		frame, remote := c.mux.buildDataFrame(c, seq, payload)
		c.tx.Push(seq, len(payload), c.opts.retransmitPeriod, func(retransmitCount uint8, cb func(err error, n int)) {
			patchRetransmitCount(frame, retransmitCount)
			c.mux.writeFrame(frame, remote, cb)
		}, func(err error, n int) {
			result <- err
		})
	})
	return <-result
}

// Receive blocks until a datagram payload is delivered or ctx-less timeout
// via keepalive/close interrupts it. It copies the delivered payload into a
// freshly allocated slice.
func (c *Connection) Receive() ([]byte, error) {
	result := make(chan receiveResult, 1)
	c.mux.post(func() {
		if c.closed {
			result <- receiveResult{err: ErrOperationAborted}
			return
		}
		if len(c.bufferedDeliveries) > 0 {
			payload := c.bufferedDeliveries[0]
			c.bufferedDeliveries = c.bufferedDeliveries[1:]
			result <- receiveResult{payload: payload}
			return
		}
		c.pendingReceives = append(c.pendingReceives, receiveRequest{result: result})
	})
	r := <-result
	return r.payload, r.err
}

// Close tears the connection down: it unregisters from the multiplexer,
// cancels pending transmit-queue entries and outstanding receives with
// ErrOperationAborted, and stops the keepalive timer.
func (c *Connection) Close() {
	done := make(chan struct{})
	c.mux.post(func() {
		c.closeLocked()
		close(done)
	})
	<-done
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed
	c.keepalive.Close()
	c.tx.Close()
	for _, req := range c.pendingReceives {
		req.result <- receiveResult{err: ErrOperationAborted}
	}
	c.pendingReceives = nil
	if c.connectResult != nil {
		select {
		case c.connectResult <- ErrOperationAborted:
		default:
		}
		c.connectResult = nil
	}
	if c.remote != nil {
		c.mux.unregisterConnection(c.remote)
	}
	if c.svc != nil {
		go c.svc.releaseMultiplexer(c.localKey)
	}
}

func (c *Connection) onKeepaliveTimeout() {
	if c.closed {
		return
	}
	c.log.WithField("remote", c.remote).Warn("crux: keepalive timeout")
	for _, req := range c.pendingReceives {
		req.result <- receiveResult{err: ErrKeepaliveTimeout}
	}
	c.pendingReceives = nil
	c.closeLocked()
}

func (c *Connection) pushHandshake() {
	seq := c.allocSeq()
	frame, remote := c.mux.buildHandshakeFrame(c, seq, false)
	c.tx.Push(seq, 0, c.opts.retransmitPeriod, func(retransmitCount uint8, cb func(err error, n int)) {
		patchRetransmitCount(frame, retransmitCount)
		c.mux.writeFrame(frame, remote, cb)
	}, func(err error, n int) {
		if err != nil && c.connectResult != nil {
			select {
			case c.connectResult <- err:
			default:
			}
			c.connectResult = nil
		}
	})
}

// allocSeq hands out the next outbound sequence number. Must run on the
// actor goroutine: every caller either already holds it (dispatch methods)
// or is itself invoked from a post() closure (Connect, Send).
func (c *Connection) allocSeq() Seq {
	seq := c.nextSeq
	c.nextSeq = c.nextSeq.Next()
	return seq
}

// expectedNext reports whether seq is the sequence this connection should
// accept next: either nothing has been recorded yet, or seq immediately
// follows the current cumulative point.
func (c *Connection) expectedNext(seq Seq) bool {
	last, _, ok := c.cumulative.Front()
	if !ok {
		return true
	}
	return last.Next() == seq
}

// onHandshake handles an inbound HANDSHAKE frame. Must run on the
// multiplexer's actor goroutine.
func (c *Connection) onHandshake(h Header) {
	c.keepalive.Start()
	switch c.state {
	case StateListening:
		c.cumulative.Insert(h.Seq)
		c.state = StateHandshaking
		c.mux.sendHandshake(c, c.allocSeq(), true, func(err error, n int) {})
	case StateConnecting:
		c.cumulative.Insert(h.Seq)
		c.state = StateHandshaking
		ackSeq, _, _ := c.cumulative.Front()
		c.mux.sendKeepaliveAck(c, c.allocSeq(), ackSeq, func(err error, n int) {})
	default:
		c.log.WithField("state", c.state.String()).Warn("crux: handshake received in unexpected state, dropping")
		return
	}
	c.applyInboundAck(h)
}

// onKeepalive handles an inbound KEEPALIVE frame.
func (c *Connection) onKeepalive(h Header) {
	c.keepalive.Start()
	if c.expectedNext(h.Seq) {
		c.cumulative.Insert(h.Seq)
	}
	c.applyInboundAck(h)
}

// onData handles an inbound DATA frame.
func (c *Connection) onData(h Header, payload []byte) {
	c.keepalive.Start()
	if c.expectedNext(h.Seq) {
		c.cumulative.Insert(h.Seq)
		c.deliver(payload)
		ackSeq, _, _ := c.cumulative.Front()
		c.mux.sendKeepaliveAck(c, c.allocSeq(), ackSeq, func(err error, n int) {})
	} else {
		c.log.WithField("seq", h.Seq).Debug("crux: dropping out-of-order packet")
	}
	c.applyInboundAck(h)
}

// applyInboundAck applies the ack field carried by any inbound frame to the
// transmit queue and, if it promotes a handshaking connection, fires the
// saved connect completion.
func (c *Connection) applyInboundAck(h Header) {
	if h.Ack == AckNone {
		return
	}
	c.tx.ApplyAck(h.AckSeq)
	if c.state == StateHandshaking {
		c.state = StateEstablished
		if c.connectResult != nil {
			select {
			case c.connectResult <- nil:
			default:
			}
			c.connectResult = nil
		}
	}
}

func (c *Connection) deliver(payload []byte) {
	if len(c.pendingReceives) > 0 {
		req := c.pendingReceives[0]
		c.pendingReceives = c.pendingReceives[1:]
		req.result <- receiveResult{payload: payload}
		return
	}
	c.bufferedDeliveries = append(c.bufferedDeliveries, payload)
}

