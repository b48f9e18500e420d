package node

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenListener fails every Accept with an error that is not temporary.
type brokenListener struct {
	calls atomic.Int32
}

func (l *brokenListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	return nil, errors.New("listener broken")
}

func (l *brokenListener) Close() error   { return nil }
func (l *brokenListener) Addr() net.Addr { return &net.TCPAddr{IP: loopback} }

func TestAcceptLoopPacesPersistentErrors(t *testing.T) {
	sink := &recordingSink{}
	n := buildNode(t, testConfig(), sink, &recordingRunner{})
	ln := &brokenListener{}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		n.acceptLoop(ln)
	}()

	time.Sleep(5 * acceptRetryDelay / 2)
	n.sup.closing.Store(true)
	n.cancel()

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("accept loop did not stop")
	}
	calls := ln.calls.Load()
	require.GreaterOrEqual(t, calls, int32(2))
	assert.LessOrEqual(t, calls, int32(4))
	assert.GreaterOrEqual(t, sink.countLogs("accept: listener broken"), 2)
}
