package node

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rosterchat/internal/config"
	"rosterchat/internal/roster"
	"rosterchat/internal/wire"
)

var loopback = net.IPv4(127, 0, 0, 1)

const waitFor = 3 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Heartbeat.Cycle = "100ms"
	cfg.Heartbeat.ReceiveTimeout = "50ms"
	cfg.Node.FatalGrace = "10ms"
	cfg.Session.DialTimeout = "1s"
	cfg.Session.WriteTimeout = "1s"
	return cfg
}

type chatEntry struct {
	dir  Direction
	peer string
	text string
}

type logEntry struct {
	level Level
	text  string
}

type recordingSink struct {
	mu    sync.Mutex
	chats []chatEntry
	logs  []logEntry
}

func (s *recordingSink) ChatMessage(dir Direction, peerID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, chatEntry{dir: dir, peer: peerID, text: text})
}

func (s *recordingSink) Log(level Level, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logEntry{level: level, text: text})
}

func (s *recordingSink) countLogs(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c int
	for _, l := range s.logs {
		if strings.Contains(l.text, substr) {
			c++
		}
	}
	return c
}

func (s *recordingSink) hasLevel(level Level, substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.level == level && strings.Contains(l.text, substr) {
			return true
		}
	}
	return false
}

func (s *recordingSink) hasChat(dir Direction, peer, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.dir == dir && c.peer == peer && c.text == text {
			return true
		}
	}
	return false
}

type recordingRunner struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingRunner) Run(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingRunner) ran(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

// fakePeer stands in for a remote node: a heartbeat socket that can be
// told to answer or stay silent, and a chat listener that hands accepted
// connections to the test.
type fakePeer struct {
	id     string
	udp    *net.UDPConn
	ln     net.Listener
	answer atomic.Bool
	conns  chan net.Conn
	leaves chan *net.UDPAddr
}

func newFakePeer(t *testing.T, id string, answer bool) *fakePeer {
	t.Helper()
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: loopback})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	fp := &fakePeer{
		id:     id,
		udp:    udp,
		ln:     ln,
		conns:  make(chan net.Conn, 8),
		leaves: make(chan *net.UDPAddr, 8),
	}
	fp.answer.Store(answer)

	var accepted []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, c)
			mu.Unlock()
			fp.conns <- c
		}
	}()
	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := udp.ReadFromUDP(buf)
			if err != nil {
				return
			}
			switch wire.TrimLine(string(buf[:n])) {
			case wire.Ping:
				if fp.answer.Load() {
					_, _ = udp.WriteToUDP(wire.Datagram(wire.Pong), from)
				}
			case wire.Leave:
				select {
				case fp.leaves <- from:
				default:
				}
			}
		}
	}()

	t.Cleanup(func() {
		_ = udp.Close()
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range accepted {
			_ = c.Close()
		}
	})
	return fp
}

func (fp *fakePeer) record() roster.Peer {
	return roster.Peer{
		ID:      fp.id,
		IP:      loopback,
		UDPPort: uint16(fp.udp.LocalAddr().(*net.UDPAddr).Port),
		TCPPort: uint16(fp.ln.Addr().(*net.TCPAddr).Port),
	}
}

// accept waits for the node under test to connect.
func (fp *fakePeer) accept(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	select {
	case c := <-fp.conns:
		return c, bufio.NewReader(c)
	case <-time.After(waitFor):
		t.Fatalf("%s: no connection from node", fp.id)
		return nil, nil
	}
}

func buildNode(t *testing.T, cfg config.Config, sink Sink, runner Runner, peers ...roster.Peer) *Node {
	t.Helper()
	dir, err := roster.New(roster.Peer{ID: "B", IP: loopback}, peers)
	require.NoError(t, err)
	n := New(cfg, dir, sink, WithRunner(runner))
	t.Cleanup(func() { _ = n.Shutdown() })
	return n
}

func startNode(t *testing.T, sink Sink, runner Runner, peers ...roster.Peer) *Node {
	t.Helper()
	n := buildNode(t, testConfig(), sink, runner, peers...)
	require.NoError(t, n.Start(context.Background()))
	return n
}

func dialChat(t *testing.T, n *Node) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp4", n.ChatAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, bufio.NewReader(c)
}

func sendLine(t *testing.T, c net.Conn, line string) {
	t.Helper()
	_, err := c.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func readLine(t *testing.T, c net.Conn, r *bufio.Reader) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	s, err := r.ReadString('\n')
	require.NoError(t, err)
	return s
}

// identifyAs opens an inbound session to n and identifies it.
func identifyAs(t *testing.T, n *Node, id string) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, r := dialChat(t, n)
	sendLine(t, c, "id "+id)
	require.Eventually(t, func() bool {
		for _, st := range n.Status() {
			if st.ID == id && st.Inbound {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)
	return c, r
}

func peerStatus(n *Node, id string) PeerStatus {
	for _, st := range n.Status() {
		if st.ID == id {
			return st
		}
	}
	return PeerStatus{}
}
