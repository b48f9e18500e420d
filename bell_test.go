package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterchat/internal/node"
)

func TestToneLength(t *testing.T) {
	s := tone(880, 120*time.Millisecond)

	var total int
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		total += n
		if !ok || n == 0 {
			break
		}
	}
	assert.Equal(t, bellRate.N(120*time.Millisecond), total)
}

func TestLoadSoundDefaultTone(t *testing.T) {
	buf, err := loadSound("")
	require.NoError(t, err)
	assert.Equal(t, bellRate.N(120*time.Millisecond), buf.Len())
}

func TestLoadSoundErrors(t *testing.T) {
	_, err := loadSound(filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorContains(t, err, "open bell file")

	_, err = loadSound("bell_test.go")
	assert.ErrorContains(t, err, "unsupported audio format")
}

func TestBellSinkPassesMessagesThrough(t *testing.T) {
	rec := &lineSink{}
	s := bellSink{Sink: rec, bell: newBell(false, "", nil)}

	s.ChatMessage(node.Incoming, "A", "hi")
	s.ChatMessage(node.Outgoing, "A", "bye")
	s.Log(node.LevelInfo, "ready")

	assert.Equal(t, []string{"A: hi", "A: bye"}, rec.chats)
	assert.Equal(t, []string{"ready"}, rec.lines)
}
