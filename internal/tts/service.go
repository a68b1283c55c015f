package tts

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

const synthTimeout = 45 * time.Second

// Service speaks tts.request lines, streaming audio on tts.audio and marking
// the end of each line on tts.done.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe tts requests: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slog.String("error", err.Error()))
		return
	}
	if req.Text == "" {
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, synthTimeout)
		defer cancel()

		seq := 0
		err := s.synth.Synthesize(ctx, Request{SessionID: req.SessionID, Text: req.Text, Voice: voice}, func(c Chunk) error {
			packet := protocol.AudioChunk{
				SessionID:  req.SessionID,
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
				Sequence:   seq,
				PCM:        c.PCM,
				Final:      c.Final,
			}
			seq++
			return s.bus.PublishJSON(protocol.SubjectTTSAudio, packet)
		})
		status := protocol.TTSStatus{SessionID: req.SessionID, Completed: err == nil, Timestamp: time.Now().UTC()}
		if err != nil {
			s.logger.Warn("tts synthesis failed", slog.String("session_id", req.SessionID), slog.String("error", err.Error()))
		}
		if perr := s.bus.PublishJSON(protocol.SubjectTTSDone, status); perr != nil {
			s.logger.Warn("failed to publish tts status", slog.String("error", perr.Error()))
		}
	}()
}
