package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"

	"rosterchat/internal/node"
)

const bellRate = beep.SampleRate(44100)

// bell plays a short sound when a chat message arrives. A nil bell is
// silent.
type bell struct {
	file string
	log  *zap.Logger

	initOnce sync.Once
	initErr  error
	sound    *beep.Buffer
	disabled atomic.Bool
}

func newBell(enabled bool, file string, log *zap.Logger) *bell {
	if !enabled {
		return nil
	}
	return &bell{file: file, log: log.Named("bell")}
}

// Ring starts playback and returns immediately. The first failure is
// logged and turns the bell off.
func (b *bell) Ring() {
	if b == nil || b.disabled.Load() {
		return
	}
	if err := b.play(); err != nil {
		if b.disabled.CompareAndSwap(false, true) {
			b.log.Warn("bell disabled", zap.Error(err))
		}
	}
}

func (b *bell) play() error {
	b.initOnce.Do(func() {
		if b.initErr = speaker.Init(bellRate, bellRate.N(time.Second/10)); b.initErr != nil {
			b.initErr = fmt.Errorf("failed to initialise speaker: %w", b.initErr)
			return
		}
		b.sound, b.initErr = loadSound(b.file)
	})
	if b.initErr != nil {
		return b.initErr
	}
	speaker.Play(b.sound.Streamer(0, b.sound.Len()))
	return nil
}

// loadSound decodes path into a buffer at bellRate, or synthesizes the
// default tone when path is empty.
func loadSound(path string) (*beep.Buffer, error) {
	buf := beep.NewBuffer(beep.Format{SampleRate: bellRate, NumChannels: 2, Precision: 2})
	if path == "" {
		buf.Append(tone(880, 120*time.Millisecond))
		return buf, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bell file: %w", err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	defer streamer.Close()

	buf.Append(beep.Resample(4, format.SampleRate, bellRate, streamer))
	return buf, nil
}

// tone is a sine wave at freq Hz lasting d.
func tone(freq float64, d time.Duration) beep.Streamer {
	var pos int
	sine := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := 0.3 * math.Sin(2*math.Pi*freq*float64(pos)/float64(bellRate))
			samples[i][0], samples[i][1] = v, v
			pos++
		}
		return len(samples), true
	})
	return beep.Take(bellRate.N(d), sine)
}

// bellSink rings on every incoming chat message before passing it on.
type bellSink struct {
	node.Sink
	bell *bell
}

func (s bellSink) ChatMessage(dir node.Direction, peerID, text string) {
	if dir == node.Incoming {
		s.bell.Ring()
	}
	s.Sink.ChatMessage(dir, peerID, text)
}
