package node

import (
	"context"
	"errors"
	"net"
	"time"

	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/zap"

	"rosterchat/internal/metrics"
	"rosterchat/internal/wire"
)

// acceptRetryDelay paces the accept loop after an error that is not
// temporary, so a broken listener cannot spin.
const acceptRetryDelay = 100 * time.Millisecond

// acceptLoop serves the chat listener until it is closed at shutdown.
// Accept failures are logged and the loop carries on.
func (n *Node) acceptLoop(ln net.Listener) {
	var catcher tec.TempErrCatcher
	for {
		conn, err := ln.Accept()
		if err != nil {
			if n.sup.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			n.rep.logf(LevelError, "accept: %v", err)
			if !catcher.IsTemporary(err) {
				select {
				case <-n.ctx.Done():
					return
				case <-time.After(acceptRetryDelay):
				}
			}
			continue
		}
		catcher.Reset()
		n.startInbound(conn)
	}
}

func (n *Node) startInbound(raw net.Conn) {
	ctx, t := newTask(n.ctx)
	conn := &onceConn{Conn: raw}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(t.done)
		n.serveInbound(ctx, conn, t)
	}()
}

type identifyResult int

const (
	identified identifyResult = iota
	identifyUnknown
	identifyDuplicate
	identifyClosing
)

// serveInbound runs one accepted connection: the identification handshake
// first, then the same line handling as an outbound session.
func (n *Node) serveInbound(ctx context.Context, conn net.Conn, t *task) {
	log := n.log.Named("inbound").With(zap.Stringer("remote", conn.RemoteAddr()), zap.String("session", t.id))

	// Covers unidentified connections at shutdown; identified ones are
	// also closed by the supervisor, which onceConn makes harmless.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	log.Debug("accepted connection, waiting for id")

	scanner := n.newScanner(conn)
	for scanner.Scan() {
		line := wire.Parse(wire.TrimLine(scanner.Text()))
		if line.Kind != wire.KindIdentify || line.Arg == "" {
			metrics.ProtocolErrors.WithLabelValues("unidentified").Inc()
			n.respond(conn, wire.PromptIdentify())
			continue
		}

		ps, result := n.identify(line.Arg, conn, t)
		switch result {
		case identifyUnknown:
			metrics.ProtocolErrors.WithLabelValues("unregistered").Inc()
			n.respond(conn, wire.Unregistered(line.Arg))
			continue
		case identifyDuplicate:
			metrics.ProtocolErrors.WithLabelValues("duplicate").Inc()
			n.rep.logf(LevelError, "rejected second connection from %s: already connected", line.Arg)
			n.respond(conn, wire.AlreadyConnected(line.Arg))
			return
		case identifyClosing:
			return
		}

		log.Debug("connection identified", zap.String("peer", ps.peer.ID))
		reason := n.readSession(scanner, conn, ps.peer.ID, true)
		if ctx.Err() == nil {
			n.rep.logf(LevelInfo, "session from %s ended: %s", ps.peer.ID, reason)
		}
		n.endInbound(ps, t)
		return
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Debug("unidentified connection failed", zap.Error(err))
	}
}

// identify binds conn to a roster peer. The duplicate check and the
// registration happen under the peer's lock, so two connections claiming
// the same id cannot both win.
func (n *Node) identify(id string, conn net.Conn, t *task) (*PeerState, identifyResult) {
	ps, ok := n.peers[id]
	if !ok {
		return nil, identifyUnknown
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if n.sup.closing.Load() {
		return nil, identifyClosing
	}
	if ps.inboundSession.running() {
		return nil, identifyDuplicate
	}
	ps.setInboundLocked(conn)
	ps.inboundSession = t
	n.sup.transitionLocked(ps, true)
	return ps, identified
}

// endInbound reports the peer gone, unless the supervisor already
// tore this session down.
func (n *Node) endInbound(ps *PeerState, t *task) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.inboundSession != t {
		return
	}
	n.sup.transitionLocked(ps, false)
}
