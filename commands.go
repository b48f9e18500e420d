package main

import (
	"fmt"
	"strings"

	"rosterchat/internal/node"
)

// chatNode is the part of the node the command line drives.
type chatNode interface {
	Status() []node.PeerStatus
	SendToPeer(peerID, text string) error
	BroadcastToAlivePeers(text string) (int, error)
	SendExec(peerID, path string) error
	RequestLeave()
}

// commander turns a line of user input into a node operation. Node-side
// failures are reported by the node itself; commander only reports usage
// errors.
type commander struct {
	node chatNode
	out  node.Sink
}

func newCommander(n chatNode, out node.Sink) *commander {
	return &commander{node: n, out: out}
}

// handle runs one input line. Commands are matched by prefix.
func (c *commander) handle(input string) {
	line := strings.TrimSpace(input)

	switch {
	case line == "":
		return

	case strings.HasPrefix(line, "status"):
		c.status()

	case strings.HasPrefix(line, "leave"):
		c.node.RequestLeave()

	case strings.HasPrefix(line, "msg"):
		c.message(line[len("msg"):])

	case strings.HasPrefix(line, "bcast"):
		c.broadcast(line[len("bcast"):])

	case strings.HasPrefix(line, "exec"):
		c.exec(line[len("exec"):])

	case line == "help":
		c.help()

	default:
		c.out.Log(node.LevelError, line+" :unknown command")
	}
}

func (c *commander) status() {
	c.out.Log(node.LevelInfo, "STATUS")
	for _, p := range c.node.Status() {
		word := "alive"
		if !p.Alive {
			word = "not alive"
		}
		c.out.Log(node.LevelInfo, fmt.Sprintf("[%s] is %s%s", p.ID, word, sessionMarks(p)))
	}
}

func sessionMarks(p node.PeerStatus) string {
	var marks []string
	if p.Outbound {
		marks = append(marks, "out")
	}
	if p.Inbound {
		marks = append(marks, "in")
	}
	if len(marks) == 0 {
		return ""
	}
	return " (" + strings.Join(marks, ", ") + ")"
}

func (c *commander) message(args string) {
	id, text, ok := strings.Cut(strings.TrimSpace(args), " ")
	text = strings.TrimSpace(text)
	if !ok || id == "" || text == "" {
		c.out.Log(node.LevelError, "Usage: msg <id> <message>")
		return
	}
	_ = c.node.SendToPeer(id, text)
}

func (c *commander) broadcast(args string) {
	text := strings.TrimSpace(args)
	if text == "" {
		c.out.Log(node.LevelError, "Usage: bcast <message>")
		return
	}
	sent, err := c.node.BroadcastToAlivePeers(text)
	if sent == 0 && err == nil {
		c.out.Log(node.LevelInfo, "no peers alive")
	}
}

func (c *commander) exec(args string) {
	// The receiving peer runs the path with no arguments.
	fields := strings.Fields(args)
	if len(fields) != 2 {
		c.out.Log(node.LevelError, "Usage: exec <id> </path/to/command>")
		return
	}
	_ = c.node.SendExec(fields[0], fields[1])
}

func (c *commander) help() {
	for _, l := range helpLines {
		c.out.Log(node.LevelInfo, l)
	}
}

var helpLines = []string{
	"Available commands:",
	"  status                 show which peers are alive",
	"  msg <id> <message>     send a message to one peer",
	"  bcast <message>        send a message to every alive peer",
	"  exec <id> <path>       ask a peer to run a command",
	"  leave                  notify peers and quit",
	"  help                   show this help",
}
