package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/loqalabs/loqa-intake/internal/config"
)

// ErrEmptyCompletion is returned by Complete when the backend produced no text.
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	TraceID     string
	// JSON asks the backend to constrain its output to a single JSON object.
	// Backends without such a mode ignore it.
	JSON bool
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// GeneratorFunc adapts a plain text-in/text-out function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	text, err := f(ctx, req)
	if err != nil {
		return err
	}
	return consumer(Chunk{SessionID: req.SessionID, Content: text, TraceID: req.TraceID})
}

// Complete drains a generator into a single string.
func Complete(ctx context.Context, g Generator, req Request) (string, error) {
	var b strings.Builder
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return b.String(), nil
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}
