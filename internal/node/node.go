// Package node runs a rosterchat peer: heartbeat liveness, chat sessions
// and the shutdown sequence.
package node

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rosterchat/internal/config"
	"rosterchat/internal/metrics"
	"rosterchat/internal/roster"
	"rosterchat/internal/wire"
)

// Node owns the peer table, the listeners and every task started for them.
type Node struct {
	cfg    config.Config
	dir    *roster.Directory
	peers  map[string]*PeerState
	sup    *Supervisor
	rep    *reporter
	log    *zap.Logger
	clock  clock.Clock
	runner Runner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	started       bool
	heartbeatConn *net.UDPConn
	listener      net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the diagnostic logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(n *Node) { n.log = log }
}

// WithClock replaces the wall clock used for heartbeat cadence and the
// fatal grace delay.
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithRunner replaces the process runner used for exec requests.
func WithRunner(r Runner) Option {
	return func(n *Node) { n.runner = r }
}

// New builds a node for dir. Nothing is bound until Start.
func New(cfg config.Config, dir *roster.Directory, sink Sink, opts ...Option) *Node {
	n := &Node{
		cfg:    cfg,
		dir:    dir,
		peers:  make(map[string]*PeerState, dir.Len()),
		log:    zap.NewNop(),
		clock:  clock.New(),
		runner: ProcessRunner{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.Named("node").With(zap.String("self", dir.Self().ID))
	n.ctx, n.cancel = context.WithCancel(context.Background())

	for _, p := range dir.Peers() {
		n.peers[p.ID] = newPeerState(p)
	}
	n.rep = newReporter(sink, n.log)
	n.sup = newSupervisor(n.peers, n.rep, n.log.Named("supervisor"))
	n.sup.connect = n.startOutbound
	return n
}

// Start binds the heartbeat socket and the chat listener, then starts the
// responder, the accept loop and one poller per peer. A bind failure is
// fatal: it is reported, the grace delay elapses, the node shuts down and
// the returned error wraps ErrBind.
//
// Cancelling ctx shuts the node down.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started || n.sup.closing.Load() {
		n.mu.Unlock()
		return ErrClosed
	}
	n.started = true
	n.mu.Unlock()

	self := n.dir.Self()
	var (
		udpConn *net.UDPConn
		ln      net.Listener
		g       errgroup.Group
	)
	g.Go(func() error {
		c, err := net.ListenUDP("udp4", self.HeartbeatAddr())
		if err != nil {
			return fmt.Errorf("udp %s: %w", self.HeartbeatAddr(), err)
		}
		udpConn = c
		return nil
	})
	g.Go(func() error {
		lc := net.ListenConfig{Control: reuseAddr}
		l, err := lc.Listen(ctx, "tcp4", self.ChatAddr())
		if err != nil {
			return fmt.Errorf("tcp %s: %w", self.ChatAddr(), err)
		}
		ln = l
		return nil
	})
	bindErr := g.Wait()

	n.mu.Lock()
	if n.sup.closing.Load() {
		n.mu.Unlock()
		if udpConn != nil {
			_ = udpConn.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		return ErrClosed
	}
	n.heartbeatConn = udpConn
	n.listener = ln
	n.mu.Unlock()

	if bindErr != nil {
		n.rep.logf(LevelCritical, "cannot bind %v, exiting", bindErr)
		n.clock.Sleep(n.cfg.FatalGrace())
		_ = n.Shutdown()
		return fmt.Errorf("%w: %w", ErrBind, bindErr)
	}

	n.rep.logf(LevelInfo, "listening for udp heartbeats in %s", udpConn.LocalAddr())
	n.rep.logf(LevelInfo, "listening for tcp conns in %s", ln.Addr())

	// Launching under mu orders every wg.Add before a concurrent
	// shutdown's wg.Wait.
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sup.closing.Load() {
		return ErrClosed
	}

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.serveHeartbeat(udpConn)
	}()
	go func() {
		defer n.wg.Done()
		n.acceptLoop(ln)
	}()

	for _, p := range n.dir.Peers() {
		ps := n.peers[p.ID]
		pctx, t := newTask(n.ctx)
		ps.mu.Lock()
		ps.poller = t
		ps.mu.Unlock()

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer close(t.done)
			n.runPoller(pctx, ps)
		}()
	}

	context.AfterFunc(ctx, n.RequestShutdown)
	return nil
}

// HeartbeatAddr returns the bound heartbeat address, or nil before Start.
func (n *Node) HeartbeatAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.heartbeatConn == nil {
		return nil
	}
	return n.heartbeatConn.LocalAddr()
}

// ChatAddr returns the bound chat listener address, or nil before Start.
func (n *Node) ChatAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Shutdown runs the shutdown sequence once and waits for it to finish.
// Later calls wait for the first one and return its result.
func (n *Node) Shutdown() error {
	n.shutdownOnce.Do(n.shutdown)
	<-n.done
	return n.shutdownErr
}

func (n *Node) shutdown() {
	defer close(n.done)

	n.sup.closing.Store(true)
	n.cancel()

	for _, p := range n.dir.Peers() {
		n.sup.report(n.peers[p.ID], false)
		n.sendLeave(p)
	}

	n.mu.Lock()
	var err error
	if n.heartbeatConn != nil {
		err = multierr.Append(err, n.heartbeatConn.Close())
	}
	if n.listener != nil {
		err = multierr.Append(err, n.listener.Close())
	}
	n.mu.Unlock()

	n.wg.Wait()
	if err != nil {
		n.log.Warn("shutdown", zap.Error(err))
	}
	n.shutdownErr = err
	n.log.Debug("shutdown complete")
}

// sendLeave notifies a peer's heartbeat port from a throwaway socket.
func (n *Node) sendLeave(p roster.Peer) {
	n.rep.logf(LevelInfo, "Leaving %s", p.ID)
	conn, err := net.DialUDP("udp4", nil, p.HeartbeatAddr())
	if err != nil {
		n.rep.logf(LevelError, "error sending leave to %s: %v", p.ID, err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(wire.Datagram(wire.Leave)); err != nil {
		n.rep.logf(LevelError, "error sending leave to %s: %v", p.ID, err)
	}
}

// RequestShutdown starts shutdown without waiting for it. Use Done to wait.
func (n *Node) RequestShutdown() {
	go func() { _ = n.Shutdown() }()
}

// RequestLeave is the user-initiated form of RequestShutdown.
func (n *Node) RequestLeave() {
	n.rep.logf(LevelInfo, "Leaving...")
	n.RequestShutdown()
}

// Done is closed once shutdown has completed.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// ReportLiveness feeds an external liveness observation to the supervisor.
func (n *Node) ReportLiveness(peerID string, observed bool) error {
	return n.sup.ReportLiveness(peerID, observed)
}

// SendToPeer writes one chat line on the peer's outbound session.
func (n *Node) SendToPeer(peerID, text string) error {
	ps, ok := n.peers[peerID]
	if !ok {
		n.rep.logf(LevelError, "%s :unknown id", peerID)
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if strings.ContainsAny(text, "\r\n") {
		n.rep.logf(LevelError, "message to %s not sent: contains a line break", peerID)
		return ErrMultiline
	}
	if err := n.writeLine(ps, text+"\n"); err != nil {
		return err
	}
	metrics.Messages.WithLabelValues("out").Inc()
	n.rep.chat(Outgoing, peerID, text)
	return nil
}

// BroadcastToAlivePeers sends text to every alive peer that has an
// outbound session and returns how many sends succeeded.
func (n *Node) BroadcastToAlivePeers(text string) (int, error) {
	var (
		sent int
		err  error
	)
	for _, p := range n.dir.Peers() {
		ps := n.peers[p.ID]
		ps.mu.Lock()
		ready := ps.alive && ps.outbound != nil
		ps.mu.Unlock()
		if !ready {
			continue
		}
		if serr := n.SendToPeer(p.ID, text); serr != nil {
			err = multierr.Append(err, serr)
			continue
		}
		sent++
	}
	return sent, err
}

// SendExec asks a peer to run path.
func (n *Node) SendExec(peerID, path string) error {
	ps, ok := n.peers[peerID]
	if !ok {
		n.rep.logf(LevelError, "%s :unknown id", peerID)
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if path == "" {
		n.rep.logf(LevelError, "exec for %s not sent: empty command path", peerID)
		return ErrEmptyCommand
	}
	if strings.ContainsAny(path, "\r\n") {
		n.rep.logf(LevelError, "exec for %s not sent: command path contains a line break", peerID)
		return ErrMultiline
	}
	if err := n.writeLine(ps, wire.Exec(path)); err != nil {
		return err
	}
	n.rep.logf(LevelInfo, "sent exec %s to %s", path, peerID)
	return nil
}

// writeLine writes line on the outbound socket. Every failure is logged
// once here.
func (n *Node) writeLine(ps *PeerState, line string) error {
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	ps.mu.Lock()
	conn := ps.outbound
	ps.mu.Unlock()
	if conn == nil {
		n.rep.logf(LevelError, "%s is not connected", ps.peer.ID)
		return fmt.Errorf("%w: %s", ErrNotConnected, ps.peer.ID)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.WriteTimeout()))
	nw, err := io.WriteString(conn, line)
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil || nw != len(line) {
		n.rep.logf(LevelError, "error sending message: %d bytes sent", nw)
		if err != nil {
			return fmt.Errorf("%w to %s: %w", ErrShortWrite, ps.peer.ID, err)
		}
		return fmt.Errorf("%w to %s: %d of %d bytes", ErrShortWrite, ps.peer.ID, nw, len(line))
	}
	return nil
}

// PeerStatus is a point-in-time view of one peer.
type PeerStatus struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	Alive    bool   `json:"alive"`
	Outbound bool   `json:"outbound"`
	Inbound  bool   `json:"inbound"`
}

// Status returns every peer's state, sorted by id.
func (n *Node) Status() []PeerStatus {
	out := make([]PeerStatus, 0, len(n.peers))
	for _, p := range n.dir.Peers() {
		ps := n.peers[p.ID]
		ps.mu.Lock()
		out = append(out, PeerStatus{
			ID:       p.ID,
			Addr:     p.ChatAddr(),
			Alive:    ps.alive,
			Outbound: ps.outbound != nil,
			Inbound:  ps.inbound != nil,
		})
		ps.mu.Unlock()
	}
	return out
}
