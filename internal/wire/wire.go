// Package wire defines the heartbeat datagrams and the newline-delimited
// session protocol spoken between nodes.
package wire

import (
	"fmt"
	"strings"
)

// Heartbeat payloads.
const (
	Ping  = "ping"
	Pong  = "pong"
	Leave = "leave"
)

// Session line prefixes.
const (
	identifyPrefix = "id "
	execPrefix     = "exec "
)

// Kind classifies a session line.
type Kind int

const (
	KindChat Kind = iota
	KindIdentify
	KindLeave
	KindExec
)

func (k Kind) String() string {
	switch k {
	case KindIdentify:
		return "identify"
	case KindLeave:
		return "leave"
	case KindExec:
		return "exec"
	default:
		return "chat"
	}
}

// Line is one parsed session line. Arg is the peer id for KindIdentify,
// the command path for KindExec and the message body for KindChat.
type Line struct {
	Kind Kind
	Arg  string
}

// Parse classifies a line that has already had its terminator removed.
// Matching is by prefix: "leave" and "leaveXYZ" are both a leave.
func Parse(s string) Line {
	switch {
	case strings.HasPrefix(s, Leave):
		return Line{Kind: KindLeave}
	case strings.HasPrefix(s, execPrefix):
		return Line{Kind: KindExec, Arg: strings.TrimSpace(s[len(execPrefix):])}
	case s == "id" || strings.HasPrefix(s, identifyPrefix):
		return Line{Kind: KindIdentify, Arg: strings.TrimSpace(strings.TrimPrefix(s, "id"))}
	default:
		return Line{Kind: KindChat, Arg: s}
	}
}

// TrimLine strips a trailing "\n" or "\r\n".
func TrimLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// IsPing reports whether a heartbeat datagram is a ping.
func IsPing(payload []byte) bool {
	return TrimLine(string(payload)) == Ping
}

// IsPong reports whether a heartbeat datagram is a pong reply.
func IsPong(payload []byte) bool {
	return strings.HasPrefix(string(payload), Pong)
}

// Datagram returns the on-wire form of a heartbeat payload.
func Datagram(payload string) []byte {
	return []byte(payload + "\n")
}

// Identify returns the identification line a connecting node sends.
func Identify(selfID string) string {
	return identifyPrefix + selfID + "\n"
}

// Exec returns the line asking a peer to run path.
func Exec(path string) string {
	return execPrefix + path + "\n"
}

// Responses written back on a session connection.

func PromptIdentify() string {
	return "please identify by sending: id <name>\n"
}

func Unregistered(id string) string {
	return fmt.Sprintf("unregistered id %s\n", id)
}

func AlreadyConnected(id string) string {
	return fmt.Sprintf("%s is already connected\n", id)
}

func AlreadyIdentified(id string) string {
	return fmt.Sprintf("already identified as %s\n", id)
}
