package crux

import (
	"context"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Service is the process-wide registry of local endpoint to Multiplexer.
// Its mutex guards the endpoint map. A Multiplexer's connection map and
// accept queue are reached only through that Multiplexer's own actor
// goroutine and need no lock; Timer, TransmitQueue and Acceptor each keep a
// small mutex of their own because timer and send-step callbacks run on
// other goroutines.
//
// Service implements prometheus.Collector so a process can register it
// once and get live counts of bound endpoints and their connections.
type Service struct {
	mu   sync.Mutex
	muxes map[string]*Multiplexer
	opts  options

	activeMultiplexers *prometheus.Desc
	activeConnections  *prometheus.Desc
	acceptBacklog      *prometheus.Desc
}

// NewService returns an empty Service. A Multiplexer is created lazily, on
// first NewAcceptor, Dial or DialResolve against a given local address, and removed when its
// last connection and accept both go away.
func NewService(opts ...Option) *Service {
	resolved := applyOptions(opts...)
	return &Service{
		muxes: make(map[string]*Multiplexer),
		opts:  resolved,
		activeMultiplexers: prometheus.NewDesc(
			"crux_active_multiplexers", "Number of bound local UDP endpoints.", nil, nil),
		activeConnections: prometheus.NewDesc(
			"crux_active_connections", "Number of tracked connections per local endpoint.", []string{"local_addr"}, nil),
		acceptBacklog: prometheus.NewDesc(
			"crux_accept_backlog", "Number of pending accepts per local endpoint.", []string{"local_addr"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (s *Service) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.activeMultiplexers
	ch <- s.activeConnections
	ch <- s.acceptBacklog
}

// Collect implements prometheus.Collector.
func (s *Service) Collect(ch chan<- prometheus.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- prometheus.MustNewConstMetric(s.activeMultiplexers, prometheus.GaugeValue, float64(len(s.muxes)))
	for addr, m := range s.muxes {
		done := make(chan struct{})
		var conns, backlog int
		m.post(func() {
			conns = len(m.connections)
			backlog = len(m.acceptQueue)
			close(done)
		})
		<-done
		ch <- prometheus.MustNewConstMetric(s.activeConnections, prometheus.GaugeValue, float64(conns), addr)
		ch <- prometheus.MustNewConstMetric(s.acceptBacklog, prometheus.GaugeValue, float64(backlog), addr)
	}
}

// multiplexerFor returns the Multiplexer bound to local (creating and
// binding a new UDP socket if none exists yet).
func (s *Service) multiplexerFor(local string) (*Multiplexer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.muxes[local]; ok {
		return m, nil
	}
	conn, err := net.ListenPacket("udp", local)
	if err != nil {
		return nil, err
	}
	m := newMultiplexer(conn, s.opts)
	s.muxes[conn.LocalAddr().String()] = m
	return m, nil
}

// releaseMultiplexer drops and closes the Multiplexer bound to local if it
// has no remaining connections or pending accepts.
func (s *Service) releaseMultiplexer(local string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.muxes[local]
	if !ok {
		return
	}
	done := make(chan struct{})
	var empty bool
	m.post(func() {
		empty = len(m.connections) == 0 && len(m.acceptQueue) == 0
		close(done)
	})
	<-done
	if empty {
		delete(s.muxes, local)
		m.close()
	}
}

// NewConnection returns an unconnected Connection for use as an Acceptor's
// target. It has no Multiplexer until Accept binds it to one, so it cannot
// Connect; Dial and DialResolve return connections that connect out.
func (s *Service) NewConnection() *Connection {
	return newConnection(nil, s.opts)
}

// Dial creates a connection bound to local and connects it to remote. If
// local is empty, the kernel picks an ephemeral port on the wildcard
// address.
func (s *Service) Dial(local, remote string) (*Connection, error) {
	mux, err := s.multiplexerFor(local)
	if err != nil {
		return nil, err
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, err
	}
	conn := newConnection(mux, s.opts)
	conn.svc = s
	conn.localKey = mux.conn.LocalAddr().String()
	if err := conn.Connect(remoteAddr); err != nil {
		return nil, err
	}
	return conn, nil
}

// DialResolve is the host/service-name counterpart to Dial: it resolves
// host to every address the system resolver returns, resolves service
// against the "udp" network (accepting either a service name or a numeric
// port), and attempts Connect against each resolved endpoint in order,
// returning as soon as one succeeds. It returns the last endpoint's error
// if none do.
func (s *Service) DialResolve(ctx context.Context, local, host, service string) (*Connection, error) {
	mux, err := s.multiplexerFor(local)
	if err != nil {
		return nil, err
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "udp", service)
	if err != nil {
		return nil, err
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	var lastErr error
	for _, ip := range addrs {
		remote := &net.UDPAddr{IP: ip.IP, Port: port, Zone: ip.Zone}
		conn := newConnection(mux, s.opts)
		conn.svc = s
		conn.localKey = mux.conn.LocalAddr().String()
		if err := conn.Connect(remote); err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, lastErr
}
