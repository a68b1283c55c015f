// Package tts voices the interviewer's lines for the room.
package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-intake/internal/config"
)

// Request is one line to speak.
type Request struct {
	SessionID string
	Text      string
	Voice     string
}

// Chunk is a slice of 16-bit LE PCM. The last chunk of a line has Final set.
type Chunk struct {
	PCM   []byte
	Final bool
}

// Synthesizer streams the audio for req into emit. Returning an error from
// emit aborts synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request, emit func(Chunk) error) error
}

// NewSynthesizer selects a backend for cfg.Mode.
func NewSynthesizer(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return &mockSynth{sampleRate: cfg.SampleRate, channels: cfg.Channels}, nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// mockSynth emits silence, 60ms per word, as a single final chunk.
type mockSynth struct {
	sampleRate int
	channels   int
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request, emit func(Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := len(strings.Fields(req.Text)) * 60 * m.sampleRate / 1000
	return emit(Chunk{PCM: make([]byte, samples*2*max(m.channels, 1)), Final: true})
}
