// Package stt turns the patient's buffered room audio into final transcripts.
package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-intake/internal/config"
)

// Utterance is one complete stretch of patient speech as 16-bit LE PCM.
type Utterance struct {
	SessionID  string
	PCM        []byte
	SampleRate int
	Channels   int
}

// Result is the recognizer's reading of an utterance.
type Result struct {
	Text       string
	Confidence float64
}

type Recognizer interface {
	Recognize(ctx context.Context, u Utterance) (Result, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, u Utterance) (Result, error)

func (f RecognizerFunc) Recognize(ctx context.Context, u Utterance) (Result, error) {
	return f(ctx, u)
}

// NewRecognizer selects a backend for cfg.Mode.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return mockRecognizer{}, nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

type mockRecognizer struct{}

func (mockRecognizer) Recognize(_ context.Context, u Utterance) (Result, error) {
	return Result{Text: fmt.Sprintf("[mock transcript for %d bytes]", len(u.PCM))}, nil
}
