package crux

import (
	"net"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

type acceptEntry struct {
	target *Connection
	result chan error
}

// inboundDatagram is one UDP read, handed from the reader goroutine to the
// actor goroutine via inboundCh.
type inboundDatagram struct {
	from net.Addr
	data []byte
	err  error
}

// Multiplexer owns a single net.PacketConn bound to one local endpoint and
// demultiplexes inbound datagrams among connections (by remote address)
// and the accept backlog. All state mutation — the connection map, the
// accept queue — happens on a single actor goroutine reached only through
// post(), so none of it needs its own lock; this reproduces, idiomatically,
// the single-threaded executor invariant the frames above it (connection,
// transmit queue) are written against.
type Multiplexer struct {
	id   xid.ID
	conn net.PacketConn
	opts options
	log  logrus.FieldLogger

	cmdCh    chan func()
	inboundCh chan inboundDatagram
	closeCh  chan struct{}
	closeOnce sync.Once
	wg       sync.WaitGroup

	connections map[string]*Connection
	acceptQueue []*acceptEntry
	acceptByConn map[*Connection]*acceptEntry
}

// newMultiplexer binds conn and starts its actor and reader goroutines.
func newMultiplexer(conn net.PacketConn, opts options) *Multiplexer {
	m := &Multiplexer{
		id:          xid.New(),
		conn:        conn,
		opts:        opts,
		log:         opts.logger,
		cmdCh:       make(chan func(), 64),
		inboundCh:   make(chan inboundDatagram, 64),
		closeCh:     make(chan struct{}),
		connections: make(map[string]*Connection),
		acceptByConn: make(map[*Connection]*acceptEntry),
	}
	m.wg.Add(2)
	go m.readLoop()
	go m.actorLoop()
	return m
}

// post submits fn to run serially on the actor goroutine without waiting
// for it to run; the caller blocks only while the command buffer is full.
// Once the multiplexer is closed, fn is dropped. Callers that need a result
// close over a channel, as Connection's public methods do.
func (m *Multiplexer) post(fn func()) {
	select {
	case m.cmdCh <- fn:
	case <-m.closeCh:
	}
}

func (m *Multiplexer) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, addr, err := m.conn.ReadFrom(buf)
		if err != nil {
			select {
			case m.inboundCh <- inboundDatagram{err: err}:
			case <-m.closeCh:
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case m.inboundCh <- inboundDatagram{from: addr, data: data}:
		case <-m.closeCh:
			return
		}
	}
}

func (m *Multiplexer) actorLoop() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.cmdCh:
			fn()
		case dg := <-m.inboundCh:
			if dg.err != nil {
				if dg.err == ErrOperationAborted {
					return
				}
				m.log.WithError(dg.err).Warn("crux: read error, continuing")
				continue
			}
			m.dispatch(dg.from, dg.data)
		case <-m.closeCh:
			return
		}
	}
}

func (m *Multiplexer) dispatch(from net.Addr, data []byte) {
	if len(data) < HeaderSize {
		return
	}
	h, err := DecodeHeader(data)
	if err != nil {
		return
	}
	if h.Kind == KindHandshake && h.Secondary != ProtocolVersion {
		return
	}
	payload := data[HeaderSize:]

	key := from.String()
	if conn, ok := m.connections[key]; ok {
		m.dispatchToConnection(conn, h, payload)
		m.maybeCompleteAccept(conn)
		return
	}

	if h.Kind != KindHandshake {
		return // unknown peer sending non-handshake traffic, ignore
	}
	if len(m.acceptQueue) == 0 {
		return
	}
	entry := m.acceptQueue[0]
	conn := entry.target
	conn.remote = from
	m.connections[key] = conn
	m.dispatchToConnection(conn, h, payload)
	m.maybeCompleteAccept(conn)
}

// maybeCompleteAccept pops and fires conn's accept entry, if any, once conn
// has reached StateEstablished. A connection may take more than one inbound
// frame to get there (HANDSHAKE then the acking KEEPALIVE), so this must be
// checked after every dispatch to conn, not just the first.
func (m *Multiplexer) maybeCompleteAccept(conn *Connection) {
	entry, ok := m.acceptByConn[conn]
	if !ok || conn.state != StateEstablished {
		return
	}
	delete(m.acceptByConn, conn)
	for i, e := range m.acceptQueue {
		if e == entry {
			m.acceptQueue = append(m.acceptQueue[:i], m.acceptQueue[i+1:]...)
			break
		}
	}
	entry.result <- nil
}

func (m *Multiplexer) dispatchToConnection(conn *Connection, h Header, payload []byte) {
	switch h.Kind {
	case KindHandshake:
		conn.onHandshake(h)
	case KindKeepalive:
		conn.onKeepalive(h)
	case KindData:
		conn.onData(h, payload)
	default:
		m.log.WithField("kind", h.Kind.String()).Debug("crux: ignoring unrecognized frame kind")
	}
}

func (m *Multiplexer) registerConnection(remote net.Addr, conn *Connection) {
	m.connections[remote.String()] = conn
}

func (m *Multiplexer) unregisterConnection(remote net.Addr) {
	delete(m.connections, remote.String())
}

// enqueueAccept registers target (which must be StateClosed) as a pending
// accept and transitions it to StateListening.
func (m *Multiplexer) enqueueAccept(target *Connection) chan error {
	result := make(chan error, 1)
	m.post(func() {
		if target.state != StateClosed {
			result <- ErrAlreadyStarted
			return
		}
		target.state = StateListening
		target.mux = m
		entry := &acceptEntry{target: target, result: result}
		m.acceptQueue = append(m.acceptQueue, entry)
		m.acceptByConn[target] = entry
	})
	return result
}

// cancelAccepts removes every pending accept entry whose target connection
// is in targets, firing each with ErrOperationAborted and closing the
// associated connection. If the multiplexer has already been closed it
// returns without waiting.
func (m *Multiplexer) cancelAccepts(targets map[*Connection]bool) {
	done := make(chan struct{})
	m.post(func() {
		kept := m.acceptQueue[:0]
		for _, e := range m.acceptQueue {
			if targets[e.target] {
				delete(m.acceptByConn, e.target)
				e.result <- ErrOperationAborted
				e.target.closeLocked()
			} else {
				kept = append(kept, e)
			}
		}
		m.acceptQueue = kept
		close(done)
	})
	select {
	case <-done:
	case <-m.closeCh:
	}
}

func (m *Multiplexer) close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
		m.conn.Close()
		m.wg.Wait()
	})
}

func headerBytes(h Header) []byte {
	buf := h.Encode()
	return buf[:]
}

// buildHandshakeFrame and buildDataFrame each read connection state
// (cumulative ack, remote address) and must therefore only be called from
// the actor goroutine. They return a self-contained frame plus the
// destination, both of which the transmit queue's spawned step goroutine
// can later write to the socket without touching the Connection again —
// the frame is, as in the source this traces, held for the duration of
// the send rather than rebuilt on every retransmit. The only field that
// still changes across retransmits — the rtx count — is patched directly
// into these same frame bytes by the step closure via
// patchRetransmitCount, so no Connection state needs re-reading.
func (m *Multiplexer) buildHandshakeFrame(c *Connection, seq Seq, withAck bool) (frame []byte, remote net.Addr) {
	h := Header{Kind: KindHandshake, Secondary: ProtocolVersion, Seq: seq}
	if withAck {
		if ack, _, ok := c.cumulative.Front(); ok {
			h.Ack = AckCumulative
			h.AckSeq = ack
		}
	}
	return headerBytes(h), c.remote
}

func (m *Multiplexer) buildDataFrame(c *Connection, seq Seq, payload []byte) (frame []byte, remote net.Addr) {
	h := Header{Kind: KindData, Seq: seq}
	if ack, _, ok := c.cumulative.Front(); ok {
		h.Ack = AckCumulative
		h.AckSeq = ack
	}
	return append(headerBytes(h), payload...), c.remote
}

// sendHandshake and sendKeepaliveAck build and immediately write a frame;
// both run synchronously on the actor goroutine (called directly from
// dispatch handlers, never from a spawned step goroutine), so reading
// Connection state here is safe.
func (m *Multiplexer) sendHandshake(c *Connection, seq Seq, withAck bool, cb func(err error, n int)) {
	frame, remote := m.buildHandshakeFrame(c, seq, withAck)
	m.writeFrame(frame, remote, cb)
}

func (m *Multiplexer) sendKeepaliveAck(c *Connection, seq, ackSeq Seq, cb func(err error, n int)) {
	h := Header{Kind: KindKeepalive, Seq: seq, Ack: AckCumulative, AckSeq: ackSeq}
	m.writeFrame(headerBytes(h), c.remote, cb)
}

// writeFrame performs one outbound send. It touches no Connection state and
// is safe to call from any goroutine, including a transmit-queue step
// running off the actor goroutine — net.PacketConn permits concurrent use.
func (m *Multiplexer) writeFrame(frame []byte, remote net.Addr, cb func(err error, n int)) {
	n, err := m.conn.WriteTo(frame, remote)
	if cb != nil {
		cb(err, n)
	}
}
