package replication

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/replica"
)

// Peer is a remote process that completed the hello exchange.
type Peer struct {
	hello replica.Hello
	conn  Conn
}

func (p *Peer) GUID() network.GUID { return p.hello.GUID }

func (p *Peer) Mode() network.Mode { return p.hello.Mode }

func (p *Peer) RemoteAddr() string { return p.conn.RemoteAddr() }

func (p *Peer) send(f replica.Frame) error { return p.conn.Send(f.Encode()) }

type eventKind uint8

const (
	peerJoined eventKind = iota
	peerLeft
	frameReceived
)

type event struct {
	kind  eventKind
	peer  *Peer
	frame replica.Frame
}

// Hub owns the peer connections. Reader goroutines only append to the
// pending queue; the Manager takes it on the tick goroutine.
type Hub struct {
	own     replica.Hello
	logger  log.Log
	metrics *metrics.Metrics

	mu      sync.Mutex
	peers   map[network.GUID]*Peer
	pending []event
	closed  bool
}

func NewHub(own replica.Hello, logger log.Log, m *metrics.Metrics) *Hub {
	return &Hub{
		own:     own,
		logger:  logger.Named("hub"),
		metrics: m,
		peers:   make(map[network.GUID]*Peer),
	}
}

// Own is the hello this process sends.
func (h *Hub) Own() replica.Hello { return h.own }

// Handshake exchanges hellos on conn and registers the peer. The peer must
// run in the other mode and must not be connected already.
func (h *Hub) Handshake(conn Conn) (*Peer, error) {
	if err := conn.Send(replica.Frame{Op: replica.OpHello, Payload: h.own.Encode()}.Encode()); err != nil {
		return nil, errors.Wrap(err, "failed to send hello")
	}
	data, err := conn.Receive()
	if err != nil {
		return nil, errors.Wrap(err, "failed to receive hello")
	}
	f, err := replica.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	if f.Op != replica.OpHello {
		return nil, errors.Errorf("expected hello, got %s", f.Op)
	}
	hello, err := replica.DecodeHello(f.Payload)
	if err != nil {
		return nil, err
	}
	switch {
	case hello.GUID.IsZero():
		return nil, errors.New("peer sent an unassigned GUID")
	case hello.Mode == h.own.Mode:
		return nil, errors.Errorf("peer %s runs in %s mode as well", hello.GUID, hello.Mode)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrConnectionClosed
	}
	if _, dup := h.peers[hello.GUID]; dup {
		return nil, errors.Errorf("peer %s is already connected", hello.GUID)
	}
	p := &Peer{hello: hello, conn: conn}
	h.peers[hello.GUID] = p
	h.pending = append(h.pending, event{kind: peerJoined, peer: p})
	return p, nil
}

// Run reads frames from p until the connection fails or ctx ends. The
// connection is closed on return.
func (h *Hub) Run(ctx context.Context, p *Peer) error {
	stop := context.AfterFunc(ctx, func() { _ = p.conn.Close() })
	defer stop()

	h.logger.Info("Peer connected",
		log.Stringer("peer", p.GUID()),
		log.Stringer("mode", p.Mode()),
		log.String("remote_addr", p.RemoteAddr()))

	var err error
	for {
		var data []byte
		if data, err = p.conn.Receive(); err != nil {
			break
		}
		f, decodeErr := replica.DecodeFrame(data)
		if decodeErr != nil {
			err = decodeErr
			break
		}
		h.metrics.FrameReceived(f.Op.String())
		h.enqueue(event{kind: frameReceived, peer: p, frame: f})
	}

	_ = p.conn.Close()
	h.mu.Lock()
	delete(h.peers, p.GUID())
	h.pending = append(h.pending, event{kind: peerLeft, peer: p})
	h.mu.Unlock()

	h.logger.Info("Peer disconnected", log.Stringer("peer", p.GUID()), log.Error(err))
	if ctx.Err() != nil || errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

// Serve runs the handshake and then reads from conn until it fails. Ending
// ctx closes conn, also while the hello is still outstanding.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	p, err := h.Handshake(conn)
	if err != nil {
		_ = conn.Close()
		h.logger.Warn("Handshake failed", log.String("remote_addr", conn.RemoteAddr()), log.Error(err))
		return err
	}
	return h.Run(ctx, p)
}

func (h *Hub) enqueue(ev event) {
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	h.mu.Unlock()
}

// drain takes every queued event in arrival order.
func (h *Hub) drain() []event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

func (h *Hub) Peer(guid network.GUID) (*Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[guid]
	return p, ok
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every peer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}
