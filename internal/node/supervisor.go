package node

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"rosterchat/internal/metrics"
)

// Supervisor is the only writer of PeerState.alive. Each report runs
// compare, mutate and side effects under the peer's lock, so the poller,
// the outbound session and the inbound server can all report the same
// peer concurrently.
type Supervisor struct {
	peers map[string]*PeerState
	rep   *reporter
	log   *zap.Logger

	// connect starts an OutboundSession for a peer. Called with ps.mu held;
	// it must not block.
	connect func(ps *PeerState) *task

	closing atomic.Bool
}

func newSupervisor(peers map[string]*PeerState, rep *reporter, log *zap.Logger) *Supervisor {
	return &Supervisor{peers: peers, rep: rep, log: log}
}

// ReportLiveness records the observed liveness of a peer.
func (s *Supervisor) ReportLiveness(peerID string, observed bool) error {
	ps, ok := s.peers[peerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	s.report(ps, observed)
	return nil
}

func (s *Supervisor) report(ps *PeerState, observed bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	s.transitionLocked(ps, observed)
}

// transitionLocked applies an observation. ps.mu must be held.
//
// A repeated value changes nothing and logs nothing, with one exception:
// a repeated alive starts an outbound session when none is running. That
// is how a failed connect gets retried on the next heartbeat cycle.
func (s *Supervisor) transitionLocked(ps *PeerState, observed bool) {
	if observed && s.closing.Load() {
		return
	}

	if ps.alive != observed {
		ps.alive = observed
		s.rep.logf(LevelNotice, "%s changed status to %s", ps.peer.ID, statusWord(observed))
		metrics.LivenessTransitions.WithLabelValues(statusWord(observed)).Inc()
		if observed {
			metrics.PeersAlive.Inc()
		} else {
			metrics.PeersAlive.Dec()
		}
	}

	if observed {
		if !ps.connector.running() {
			ps.connector = s.connect(ps)
			s.log.Debug("started outbound session",
				zap.String("peer", ps.peer.ID), zap.String("session", ps.connector.id))
		}
		return
	}
	s.teardownLocked(ps)
}

// teardownLocked cancels both sessions of a peer and closes their sockets.
// Closing is what unblocks the session goroutines; they are joined at
// shutdown, never here.
func (s *Supervisor) teardownLocked(ps *PeerState) {
	if ps.connector != nil {
		s.log.Debug("terminating outbound session",
			zap.String("peer", ps.peer.ID), zap.String("session", ps.connector.id))
		ps.connector.cancel()
		ps.connector = nil
	}
	ps.closeOutboundLocked()

	if ps.inboundSession != nil {
		s.log.Debug("terminating inbound session",
			zap.String("peer", ps.peer.ID), zap.String("session", ps.inboundSession.id))
		ps.inboundSession.cancel()
		ps.inboundSession = nil
	}
	ps.closeInboundLocked()
}

func statusWord(alive bool) string {
	if alive {
		return "alive"
	}
	return "not alive"
}
