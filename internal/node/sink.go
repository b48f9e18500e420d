package node

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Direction says whether a chat message was received or sent.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

// Level is the severity of a user-visible log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelNotice:
		return "notice"
	case LevelError:
		return "error"
	default:
		return "crit"
	}
}

// Sink receives everything the node wants the user to see. Calls are
// serialized by the node; implementations need no locking of their own.
type Sink interface {
	ChatMessage(dir Direction, peerID, text string)
	Log(level Level, text string)
}

// reporter serializes writes to the sink and mirrors them into the
// diagnostic log. Debug lines only go to the diagnostic log.
type reporter struct {
	mu   sync.Mutex
	sink Sink
	log  *zap.Logger
}

func newReporter(sink Sink, log *zap.Logger) *reporter {
	return &reporter{sink: sink, log: log}
}

func (r *reporter) logf(level Level, format string, args ...any) {
	text := fmt.Sprintf(format, args...)

	switch level {
	case LevelDebug:
		r.log.Debug(text)
		return
	case LevelInfo, LevelNotice:
		r.log.Info(text, zap.Stringer("level", level))
	default:
		r.log.Error(text, zap.Stringer("level", level))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink.Log(level, text)
}

func (r *reporter) chat(dir Direction, peerID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink.ChatMessage(dir, peerID, text)
}
