package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"rosterchat/internal/node"
)

func TestCLISinkFormat(t *testing.T) {
	var out bytes.Buffer
	s := &cliSink{out: &out}

	s.ChatMessage(node.Incoming, "A", "hello")
	s.ChatMessage(node.Outgoing, "A", "hi back")
	s.Log(node.LevelNotice, "A changed status to alive")
	s.Log(node.LevelError, "dance :unknown command")

	assert.Equal(t, "A hello\n"+
		"> A hi back\n"+
		"[LOG] A changed status to alive\n"+
		"[ERR] dance :unknown command\n", out.String())
}

func TestRunCLIShutsDownAtEOF(t *testing.T) {
	var handled []string
	shutdowns := 0

	runCLI(strings.NewReader("status\nmsg A hi\n"),
		func(l string) { handled = append(handled, l) },
		make(chan struct{}),
		func() { shutdowns++ })

	assert.Equal(t, []string{"status", "msg A hi"}, handled)
	assert.Equal(t, 1, shutdowns)
}

func TestRunCLIStopsWhenNodeIsDone(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan struct{})
	close(done)
	shutdowns := 0

	runCLI(pr, func(string) {}, done, func() { shutdowns++ })
	assert.Zero(t, shutdowns)
}
