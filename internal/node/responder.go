package node

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"rosterchat/internal/wire"
)

// serveHeartbeat answers ping with pong on the node's heartbeat socket.
// It returns once the socket is closed.
func (n *Node) serveHeartbeat(conn *net.UDPConn) {
	log := n.log.Named("heartbeat")
	buf := make([]byte, 256)

	for {
		nr, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || n.sup.closing.Load() {
				return
			}
			n.rep.logf(LevelError, "heartbeat receive: %v", err)
			continue
		}

		payload := buf[:nr]
		switch {
		case wire.IsPing(payload):
			if _, err := conn.WriteToUDP(wire.Datagram(wire.Pong), from); err != nil {
				log.Debug("pong send failed", zap.Stringer("to", from), zap.Error(err))
			}
		case wire.TrimLine(string(payload)) == wire.Leave:
			log.Debug("leave notice", zap.Stringer("from", from))
		default:
			log.Debug("ignored datagram", zap.Stringer("from", from), zap.Int("bytes", nr))
		}
	}
}
