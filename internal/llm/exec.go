package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs a local model wrapper (llama.cpp scripts and the like).
// The request goes to stdin as JSON. Stdout is either a JSON object with a
// content field or, for wrappers that print raw text, the completion itself.
// Invocations are serialized; local runners rarely tolerate parallel loads.
type execGenerator struct {
	argv []string
	mu   sync.Mutex
}

type execInput struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
	JSON        bool    `json:"json,omitempty"`
}

type execResponse struct {
	Content          *string `json:"content"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("llm command is empty")
	}
	return &execGenerator{argv: argv}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execInput{
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		JSON:        req.JSON,
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("llm command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	chunk := Chunk{SessionID: req.SessionID, Latency: time.Since(start), TraceID: req.TraceID}
	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err == nil && resp.Content != nil {
		chunk.Content = *resp.Content
		chunk.PromptTokens = resp.PromptTokens
		chunk.CompletionTokens = resp.CompletionTokens
	} else {
		chunk.Content = strings.TrimSpace(stdout.String())
	}
	return consumer(chunk)
}
