package node

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"rosterchat/internal/metrics"
	"rosterchat/internal/roster"
)

// task is a handle on one goroutine serving a peer.
type task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(parent context.Context) (context.Context, *task) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &task{
		id:     uuid.NewString()[:8],
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// running reports whether the task's goroutine has not yet returned.
func (t *task) running() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// PeerState is the mutable state kept for one non-self roster peer.
// Every field below mu is guarded by it. alive is written only by the
// Supervisor.
type PeerState struct {
	peer roster.Peer

	mu             sync.Mutex
	alive          bool
	outbound       net.Conn
	inbound        net.Conn
	heartbeat      *net.UDPConn
	poller         *task
	connector      *task
	inboundSession *task

	// writeMu orders writes on the outbound socket.
	writeMu sync.Mutex
}

func newPeerState(p roster.Peer) *PeerState {
	return &PeerState{peer: p}
}

// ID returns the roster id.
func (ps *PeerState) ID() string { return ps.peer.ID }

// Alive returns the current liveness belief.
func (ps *PeerState) Alive() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.alive
}

func (ps *PeerState) setOutboundLocked(c net.Conn) {
	ps.outbound = c
	metrics.SessionsActive.WithLabelValues("outbound").Inc()
}

func (ps *PeerState) setInboundLocked(c net.Conn) {
	ps.inbound = c
	metrics.SessionsActive.WithLabelValues("inbound").Inc()
}

// closeOutboundLocked closes the outbound socket before clearing it.
func (ps *PeerState) closeOutboundLocked() {
	if ps.outbound == nil {
		return
	}
	_ = ps.outbound.Close()
	ps.outbound = nil
	metrics.SessionsActive.WithLabelValues("outbound").Dec()
}

func (ps *PeerState) closeInboundLocked() {
	if ps.inbound == nil {
		return
	}
	_ = ps.inbound.Close()
	ps.inbound = nil
	metrics.SessionsActive.WithLabelValues("inbound").Dec()
}

// onceConn makes Close idempotent, so a socket shared between its session
// goroutine and the supervisor is closed exactly once.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() { c.err = c.Conn.Close() })
	return c.err
}
