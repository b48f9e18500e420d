package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterchat/internal/roster"
)

// stubConnect replaces the outbound session starter with one that records
// calls and returns tasks the test finishes by hand.
func stubConnect(n *Node) *[]*task {
	var started []*task
	n.sup.connect = func(ps *PeerState) *task {
		_, t := newTask(context.Background())
		started = append(started, t)
		return t
	}
	return &started
}

func TestSupervisor_RepeatedReportsLogOnce(t *testing.T) {
	sink := &recordingSink{}
	n := buildNode(t, testConfig(), sink, &recordingRunner{},
		roster.Peer{ID: "A", IP: loopback, UDPPort: 9001, TCPPort: 9002})
	started := stubConnect(n)

	for i := 0; i < 5; i++ {
		require.NoError(t, n.ReportLiveness("A", true))
	}
	assert.Equal(t, 1, sink.countLogs("A changed status to alive"))
	assert.Len(t, *started, 1, "one connect while the first is still running")
	assert.True(t, peerStatus(n, "A").Alive)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.ReportLiveness("A", false))
	}
	assert.Equal(t, 1, sink.countLogs("A changed status to not alive"))
	assert.False(t, peerStatus(n, "A").Alive)
}

func TestSupervisor_RepeatedAliveRetriesFinishedConnect(t *testing.T) {
	sink := &recordingSink{}
	n := buildNode(t, testConfig(), sink, &recordingRunner{},
		roster.Peer{ID: "A", IP: loopback, UDPPort: 9001, TCPPort: 9002})
	started := stubConnect(n)

	require.NoError(t, n.ReportLiveness("A", true))
	require.Len(t, *started, 1)

	// The first connect gave up.
	close((*started)[0].done)

	require.NoError(t, n.ReportLiveness("A", true))
	assert.Len(t, *started, 2)
	assert.Equal(t, 1, sink.countLogs("changed status"), "retry is not a transition")
}

func TestSupervisor_NotAliveCancelsSessions(t *testing.T) {
	n := buildNode(t, testConfig(), &recordingSink{}, &recordingRunner{},
		roster.Peer{ID: "A", IP: loopback, UDPPort: 9001, TCPPort: 9002})
	started := stubConnect(n)

	require.NoError(t, n.ReportLiveness("A", true))
	require.Len(t, *started, 1)

	ps := n.peers["A"]
	ictx, inbound := newTask(context.Background())
	ps.mu.Lock()
	ps.inboundSession = inbound
	ps.mu.Unlock()

	require.NoError(t, n.ReportLiveness("A", false))

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Nil(t, ps.connector)
	assert.Nil(t, ps.inboundSession)
	assert.Error(t, ictx.Err(), "inbound session cancelled")
}

func TestSupervisor_UnknownPeer(t *testing.T) {
	n := buildNode(t, testConfig(), &recordingSink{}, &recordingRunner{},
		roster.Peer{ID: "A", IP: loopback, UDPPort: 9001, TCPPort: 9002})

	err := n.ReportLiveness("Z", true)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestSupervisor_ClosingRefusesAlive(t *testing.T) {
	sink := &recordingSink{}
	n := buildNode(t, testConfig(), sink, &recordingRunner{},
		roster.Peer{ID: "A", IP: loopback, UDPPort: 9001, TCPPort: 9002})
	started := stubConnect(n)

	n.sup.closing.Store(true)
	require.NoError(t, n.ReportLiveness("A", true))

	assert.Empty(t, *started)
	assert.False(t, peerStatus(n, "A").Alive)
	assert.Zero(t, sink.countLogs("changed status"))
}
