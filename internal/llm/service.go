package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers interviewer prompts published on llm.request and emits the
// reply on llm.response.final (plus partials for streaming backends).
type Service struct {
	cfg       config.LLMConfig
	bus       *bus.Client
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.LLMConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectLLMRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe LLM requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.LLMRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode llm request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		options := OptionsFromConfig(s.cfg)
		options.SessionID = req.SessionID
		options.Prompt = req.Prompt
		options.System = req.System
		options.MaxTokens = coalesceInt(req.MaxTokens, s.cfg.MaxTokens)
		if req.Temperature != 0 {
			options.Temperature = req.Temperature
		}
		options.TraceID = req.TraceID

		var (
			start    = time.Now()
			full     []byte
			lastSeen Chunk
		)
		err := s.generator.Generate(ctx, options, func(chunk Chunk) error {
			full = append(full, chunk.Content...)
			lastSeen = chunk
			if chunk.Partial {
				return s.publish(protocol.SubjectLLMResponsePartial, chunk, chunk.Content)
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("llm generation failed", slog.String("session_id", req.SessionID), slogError(err))
			return
		}
		lastSeen.SessionID = req.SessionID
		lastSeen.TraceID = req.TraceID
		lastSeen.Partial = false
		if err := s.publish(protocol.SubjectLLMResponseFinal, lastSeen, string(full)); err != nil {
			return
		}
		s.logger.Info("llm generation complete",
			slog.String("session_id", req.SessionID),
			slog.Duration("latency", time.Since(start)))
	}()
}

// publish emits content on subject; partial chunks carry only their delta,
// the final message carries the whole reply.
func (s *Service) publish(subject string, chunk Chunk, content string) error {
	if content == "" {
		return nil
	}
	msg := protocol.LLMResponse{
		SessionID:        chunk.SessionID,
		Content:          content,
		Partial:          chunk.Partial,
		TraceID:          chunk.TraceID,
		PromptTokens:     chunk.PromptTokens,
		CompletionTokens: chunk.CompletionTokens,
		LatencyMS:        chunk.Latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.logger.Warn("failed to publish llm response", slogError(err))
		return err
	}
	return nil
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
