package node

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"rosterchat/internal/metrics"
	"rosterchat/internal/wire"
)

// startOutbound launches an OutboundSession for ps. Called by the
// supervisor with ps.mu held.
func (n *Node) startOutbound(ps *PeerState) *task {
	ctx, t := newTask(n.ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(t.done)
		n.runOutbound(ctx, ps, t)
	}()
	return t
}

func (n *Node) runOutbound(ctx context.Context, ps *PeerState, t *task) {
	log := n.log.Named("outbound").With(zap.String("peer", ps.peer.ID), zap.String("session", t.id))
	addr := ps.peer.ChatAddr()

	d := net.Dialer{Timeout: n.cfg.DialTimeout()}
	raw, err := d.DialContext(ctx, "tcp4", addr)
	if err != nil {
		if ctx.Err() == nil {
			n.rep.logf(LevelError, "error connecting to peer %s@%s", ps.peer.ID, addr)
		}
		log.Debug("dial failed", zap.Error(err))
		return
	}
	conn := &onceConn{Conn: raw}

	// Hold writeMu across registration and the id line so nothing sent
	// through SendToPeer can overtake the identification.
	ps.writeMu.Lock()
	ps.mu.Lock()
	if ps.connector != t {
		ps.mu.Unlock()
		ps.writeMu.Unlock()
		_ = conn.Close()
		return
	}
	ps.setOutboundLocked(conn)
	ps.mu.Unlock()

	n.rep.logf(LevelInfo, "connected to peer %s@%s, sending id", ps.peer.ID, addr)
	_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.WriteTimeout()))
	_, err = io.WriteString(conn, wire.Identify(n.dir.Self().ID))
	_ = conn.SetWriteDeadline(time.Time{})
	ps.writeMu.Unlock()
	if err != nil {
		n.rep.logf(LevelError, "error sending id to %s: %v", ps.peer.ID, err)
		n.endOutbound(ps, t)
		return
	}

	reason := n.readSession(n.newScanner(conn), conn, ps.peer.ID, false)
	if ctx.Err() == nil {
		n.rep.logf(LevelInfo, "session to %s ended: %s", ps.peer.ID, reason)
	}
	n.endOutbound(ps, t)
}

// endOutbound runs the leave/EOF cleanup, unless the supervisor already
// replaced or cancelled this session.
func (n *Node) endOutbound(ps *PeerState, t *task) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.connector != t {
		return
	}
	ps.closeOutboundLocked()
	n.sup.transitionLocked(ps, false)
}

// readSession reads lines from an established session until leave, EOF
// or a read error, and returns why it stopped. scanner must be the one
// that read the handshake, since it may already hold later lines. Inbound
// sessions answer a repeated id line; outbound sessions treat it as chat.
func (n *Node) readSession(scanner *bufio.Scanner, conn net.Conn, peerID string, inbound bool) string {
	for scanner.Scan() {
		raw := wire.TrimLine(scanner.Text())
		line := wire.Parse(raw)

		switch line.Kind {
		case wire.KindLeave:
			return "leave"
		case wire.KindExec:
			n.runExec(peerID, line.Arg)
		case wire.KindIdentify:
			if inbound {
				metrics.ProtocolErrors.WithLabelValues("reidentify").Inc()
				n.respond(conn, wire.AlreadyIdentified(peerID))
				continue
			}
			n.deliver(peerID, raw)
		default:
			n.deliver(peerID, raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return err.Error()
	}
	return "connection closed"
}

func (n *Node) deliver(peerID, text string) {
	metrics.Messages.WithLabelValues("in").Inc()
	n.rep.chat(Incoming, peerID, text)
}

func (n *Node) newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512), n.cfg.Session.MaxLine)
	return scanner
}

// respond writes a protocol response; failures surface as read errors on
// the same connection, so they are only logged at debug.
func (n *Node) respond(conn net.Conn, line string) {
	_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.WriteTimeout()))
	if _, err := io.WriteString(conn, line); err != nil {
		n.log.Debug("response write failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
	}
	_ = conn.SetWriteDeadline(time.Time{})
}
