// Package session manages a controller's live connections to OpenFlow
// switches: the TCP listener, the handshake sequence, and a mutex-guarded
// writer per connection so concurrent callers never interleave two
// messages to the same switch (spec.md §4.10, §5).
//
// The New constructor and the mutex-guarded single-writer
// pattern are modeled on the teacher's ovsdb.Client and its
// jsonrpc.Conn — a reader goroutine decodes framed messages while writes
// are serialized through one lock, except here the frame is an OpenFlow
// header/body pair over a plain TCP stream instead of a JSON-RPC line.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amankumar00/fplf-controller/openflow"
)

// Handler receives events observed on a Session. Implemented by the
// controller's Packet Handler (spec.md §4.1).
type Handler interface {
	OnFeaturesReply(ctx context.Context, s *Session, fr openflow.FeaturesReply)
	OnPortDesc(ctx context.Context, s *Session, ports []openflow.Port)
	OnPacketIn(ctx context.Context, s *Session, pi openflow.PacketIn)
	OnPortStatus(ctx context.Context, s *Session, ps openflow.PortStatus)
	OnFlowStats(ctx context.Context, s *Session, fr openflow.FlowStatsReply)
	OnPortStats(ctx context.Context, s *Session, pr openflow.PortStatsReply)
	OnDisconnect(ctx context.Context, s *Session)
}

var xidCounter uint32

func nextXID() uint32 {
	return atomic.AddUint32(&xidCounter, 1)
}

// Session is one connected switch: its datapath id and the mutex-guarded
// connection used to send it messages.
type Session struct {
	conn   net.Conn
	log    *slog.Logger
	writeM sync.Mutex

	mu         sync.RWMutex
	datapathID uint64
	remote     string

	pending   map[uint32]chan openflow.FlowStatsReply
	pendingP  map[uint32]chan openflow.PortStatsReply
	pendingMu sync.Mutex
}

func newSession(conn net.Conn, log *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		log:      log,
		remote:   conn.RemoteAddr().String(),
		pending:  make(map[uint32]chan openflow.FlowStatsReply),
		pendingP: make(map[uint32]chan openflow.PortStatsReply),
	}
}

// DatapathID returns the switch's identity, valid once the handshake
// completes.
func (s *Session) DatapathID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datapathID
}

func (s *Session) setDatapathID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datapathID = id
}

// RemoteAddr returns the switch's TCP peer address, for logging.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// send marshals and writes one OpenFlow message, serialized against every
// other sender on this session.
func (s *Session) send(xid uint32, typ openflow.Type, body interface {
	MarshalBinary() ([]byte, error)
}) error {
	s.writeM.Lock()
	defer s.writeM.Unlock()
	return openflow.WriteMessage(s.conn, xid, typ, body)
}

// SendFlowMod writes a flow-mod (spec.md §4.5, §4.6).
func (s *Session) SendFlowMod(ctx context.Context, fm openflow.FlowMod) error {
	return s.send(nextXID(), openflow.TypeFlowMod, fm)
}

// SendPacketOut writes a packet-out (spec.md §4.1, §4.5).
func (s *Session) SendPacketOut(ctx context.Context, po openflow.PacketOut) error {
	return s.send(nextXID(), openflow.TypePacketOut, po)
}

// RequestFlowStats issues a flow-stats multipart request and waits for the
// matching reply or ctx cancellation (spec.md §4.7).
func (s *Session) RequestFlowStats(ctx context.Context, req openflow.FlowStatsRequest) (openflow.FlowStatsReply, error) {
	xid := nextXID()
	ch := make(chan openflow.FlowStatsReply, 1)

	s.pendingMu.Lock()
	s.pending[xid] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, xid)
		s.pendingMu.Unlock()
	}()

	if err := s.send(xid, openflow.TypeMultipartRequest, req); err != nil {
		return openflow.FlowStatsReply{}, err
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return openflow.FlowStatsReply{}, ctx.Err()
	}
}

// RequestPortStats issues a port-stats multipart request and waits for the
// matching reply or ctx cancellation (spec.md §4.7).
func (s *Session) RequestPortStats(ctx context.Context, req openflow.PortStatsRequest) (openflow.PortStatsReply, error) {
	xid := nextXID()
	ch := make(chan openflow.PortStatsReply, 1)

	s.pendingMu.Lock()
	s.pendingP[xid] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pendingP, xid)
		s.pendingMu.Unlock()
	}()

	if err := s.send(xid, openflow.TypeMultipartRequest, req); err != nil {
		return openflow.PortStatsReply{}, err
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return openflow.PortStatsReply{}, ctx.Err()
	}
}

// requestPortDesc issues the multipart port-description request that
// completes the handshake in OpenFlow 1.3 (features-reply no longer
// carries ports inline, unlike 1.0).
func (s *Session) requestPortDesc() error {
	return s.send(nextXID(), openflow.TypeMultipartRequest, openflow.MultipartPortDescRequest{})
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Manager accepts switch connections, performs the handshake, and
// dispatches decoded messages to a Handler (spec.md §4.10).
type Manager struct {
	log     *slog.Logger
	handler Handler

	mu       sync.RWMutex
	sessions map[uint64]*Session
}

// New returns a Manager. handler receives every decoded event from every
// connected switch.
func New(handler Handler, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, handler: handler, sessions: make(map[uint64]*Session)}
}

// Lookup returns the connected switch with the given datapath id, if any.
// Satisfies flowinstall.Lookup's return shape via the small Switch
// interface flowinstall defines.
func (m *Manager) Lookup(dpid uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[dpid]
	return s, ok
}

// Sessions returns a snapshot of every connected switch.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Serve accepts connections on ln until ctx is canceled, blocking until
// the listener closes.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: accept: %w", err)
		}
		go m.handleConn(ctx, conn)
	}
}

func (m *Manager) handleConn(ctx context.Context, conn net.Conn) {
	s := newSession(conn, m.log)
	defer conn.Close()

	if err := m.handshake(ctx, s); err != nil {
		m.log.Warn("handshake failed", "remote", s.RemoteAddr(), "error", err)
		return
	}

	m.mu.Lock()
	m.sessions[s.DatapathID()] = s
	m.mu.Unlock()

	m.log.Info("switch connected", "dpid", s.DatapathID(), "remote", s.RemoteAddr())

	defer func() {
		m.mu.Lock()
		delete(m.sessions, s.DatapathID())
		m.mu.Unlock()
		m.handler.OnDisconnect(ctx, s)
		m.log.Info("switch disconnected", "dpid", s.DatapathID())
	}()

	m.readLoop(ctx, s)
}

// handshake performs hello -> features_request/reply -> multipart
// port-description synchronously, per spec.md §4.10.
func (m *Manager) handshake(ctx context.Context, s *Session) error {
	if err := s.send(nextXID(), openflow.TypeHello, openflow.Hello{}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	h, body, err := openflow.ReadMessage(s.conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if h.Type != openflow.TypeHello {
		return fmt.Errorf("expected hello, got type %d", h.Type)
	}
	_ = body

	freqXID := nextXID()
	if err := s.send(freqXID, openflow.TypeFeaturesRequest, openflow.FeaturesRequest{}); err != nil {
		return fmt.Errorf("send features-request: %w", err)
	}

	h, body, err = openflow.ReadMessage(s.conn)
	if err != nil {
		return fmt.Errorf("read features-reply: %w", err)
	}
	if h.Type != openflow.TypeFeaturesReply {
		return fmt.Errorf("expected features-reply, got type %d", h.Type)
	}
	var fr openflow.FeaturesReply
	if err := fr.UnmarshalBinary(body); err != nil {
		return fmt.Errorf("decode features-reply: %w", err)
	}
	s.setDatapathID(fr.DatapathID)

	if err := s.requestPortDesc(); err != nil {
		return fmt.Errorf("send port-desc request: %w", err)
	}
	h, body, err = openflow.ReadMessage(s.conn)
	if err != nil {
		return fmt.Errorf("read port-desc reply: %w", err)
	}
	if h.Type != openflow.TypeMultipartReply {
		return fmt.Errorf("expected multipart reply, got type %d", h.Type)
	}
	var pdr openflow.MultipartPortDescReply
	if err := pdr.UnmarshalBinary(body); err != nil {
		return fmt.Errorf("decode port-desc reply: %w", err)
	}

	m.handler.OnFeaturesReply(ctx, s, fr)
	m.handler.OnPortDesc(ctx, s, pdr.Ports)

	return nil
}

func (m *Manager) readLoop(ctx context.Context, s *Session) {
	for {
		h, body, err := openflow.ReadMessage(s.conn)
		if err != nil {
			return
		}

		switch h.Type {
		case openflow.TypeEchoRequest:
			var er openflow.EchoRequest
			if err := er.UnmarshalBinary(body); err != nil {
				continue
			}
			_ = s.send(h.XID, openflow.TypeEchoReply, openflow.EchoReply{Data: er.Data})

		case openflow.TypePacketIn:
			var pi openflow.PacketIn
			if err := pi.UnmarshalBinary(body); err != nil {
				m.log.Warn("decode packet-in", "error", err)
				continue
			}
			m.handler.OnPacketIn(ctx, s, pi)

		case openflow.TypePortStatus:
			var ps openflow.PortStatus
			if err := ps.UnmarshalBinary(body); err != nil {
				m.log.Warn("decode port-status", "error", err)
				continue
			}
			m.handler.OnPortStatus(ctx, s, ps)

		case openflow.TypeMultipartReply:
			m.dispatchMultipart(ctx, s, h.XID, body)

		default:
			// Unsolicited or unsupported message type; ignore.
		}
	}
}

func (m *Manager) dispatchMultipart(ctx context.Context, s *Session, xid uint32, body []byte) {
	if len(body) < 2 {
		return
	}

	s.pendingMu.Lock()
	flowCh, isFlow := s.pending[xid]
	portCh, isPort := s.pendingP[xid]
	s.pendingMu.Unlock()

	switch {
	case isFlow:
		var fr openflow.FlowStatsReply
		if err := fr.UnmarshalBinary(body); err != nil {
			m.log.Warn("decode flow-stats reply", "error", err)
			return
		}
		flowCh <- fr
		m.handler.OnFlowStats(ctx, s, fr)

	case isPort:
		var pr openflow.PortStatsReply
		if err := pr.UnmarshalBinary(body); err != nil {
			m.log.Warn("decode port-stats reply", "error", err)
			return
		}
		portCh <- pr
		m.handler.OnPortStats(ctx, s, pr)
	}
}

// Listen is a convenience that opens addr and runs Serve until ctx is
// canceled (spec.md §6: controller_listen_address/controller_listen_port).
func Listen(ctx context.Context, addr string, m *Manager) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("session: listen %s: %w", addr, err)
	}
	return m.Serve(ctx, ln)
}

// dialTimeout is not referenced by the handshake or by the tests; no
// handshake timeout is applied.
const dialTimeout = 5 * time.Second
