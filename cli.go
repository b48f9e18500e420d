package main

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"rosterchat/internal/node"
)

// cliSink writes chat and log lines to a plain stream.
type cliSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *cliSink) ChatMessage(dir node.Direction, peerID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, formatChat(dir, peerID, text))
}

func (s *cliSink) Log(level node.Level, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, formatLog(level, text))
}

func formatChat(dir node.Direction, peerID, text string) string {
	if dir == node.Outgoing {
		return "> " + peerID + " " + text
	}
	return peerID + " " + text
}

func formatLog(level node.Level, text string) string {
	switch level {
	case node.LevelError:
		return "[ERR] " + text
	case node.LevelCritical:
		return "[CRIT] " + text
	default:
		return "[LOG] " + text
	}
}

// runCLI feeds input lines to handle until input ends or done closes.
// End of input shuts the node down.
func runCLI(in io.Reader, handle func(string), done <-chan struct{}, shutdown func()) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				shutdown()
				return
			}
			handle(line)
		case <-done:
			return
		}
	}
}
