package node

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"rosterchat/internal/metrics"
	"rosterchat/internal/roster"
	"rosterchat/internal/wire"
)

// poller probes one peer every cycle and reports what it saw.
type poller struct {
	probe  func(ctx context.Context) bool
	report func(observed bool)
	clock  clock.Clock
	cycle  time.Duration
}

// run loops until ctx is cancelled. The wait after each probe is shortened
// by however long the probe took, so the cadence stays near one cycle.
func (p *poller) run(ctx context.Context) {
	for ctx.Err() == nil {
		start := p.clock.Now()
		observed := p.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		p.report(observed)

		timer := p.clock.Timer(cycleWait(p.cycle, p.clock.Since(start)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func cycleWait(cycle, elapsed time.Duration) time.Duration {
	return max(0, cycle-elapsed)
}

// udpProber sends ping on a dedicated socket and waits for pong.
type udpProber struct {
	conn    *net.UDPConn
	addr    *net.UDPAddr
	timeout time.Duration
	buf     []byte
	log     *zap.Logger
}

func newUDPProber(conn *net.UDPConn, p roster.Peer, timeout time.Duration, log *zap.Logger) *udpProber {
	return &udpProber{
		conn:    conn,
		addr:    p.HeartbeatAddr(),
		timeout: timeout,
		buf:     make([]byte, 256),
		log:     log,
	}
}

func (u *udpProber) probe(ctx context.Context) bool {
	sentAt := time.Now()
	if _, err := u.conn.WriteToUDP(wire.Datagram(wire.Ping), u.addr); err != nil {
		u.log.Debug("ping send failed", zap.Error(err))
		metrics.Probes.WithLabelValues("error").Inc()
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	_ = u.conn.SetReadDeadline(sentAt.Add(u.timeout))
	n, _, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			metrics.Probes.WithLabelValues("timeout").Inc()
		} else {
			u.log.Debug("pong receive failed", zap.Error(err))
			metrics.Probes.WithLabelValues("error").Inc()
		}
		return false
	}

	if !wire.IsPong(u.buf[:n]) {
		metrics.Probes.WithLabelValues("error").Inc()
		return false
	}
	metrics.Probes.WithLabelValues("pong").Inc()
	metrics.ProbeRTT.Observe(time.Since(sentAt).Seconds())
	return true
}

// runPoller owns the peer's heartbeat socket for the life of the poller.
func (n *Node) runPoller(ctx context.Context, ps *PeerState) {
	log := n.log.Named("poller").With(zap.String("peer", ps.peer.ID))

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		n.rep.logf(LevelError, "cannot open heartbeat socket for %s: %v", ps.peer.ID, err)
		return
	}
	ps.mu.Lock()
	ps.heartbeat = conn
	ps.mu.Unlock()
	defer func() {
		ps.mu.Lock()
		ps.heartbeat = nil
		ps.mu.Unlock()
		_ = conn.Close()
	}()

	// Cancellation cuts a pending receive short instead of waiting out the
	// timeout.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	addr := ps.peer.HeartbeatAddr()
	n.rep.logf(LevelInfo, "started polling %s@%s", ps.peer.ID, addr)

	p := &poller{
		probe:  newUDPProber(conn, ps.peer, n.cfg.ReceiveTimeout(), log).probe,
		report: func(observed bool) { n.sup.report(ps, observed) },
		clock:  n.clock,
		cycle:  n.cfg.CycleLength(),
	}
	p.run(ctx)

	log.Debug("poller stopped", zap.Stringer("addr", addr))
}
