package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	recognizeTimeout = 45 * time.Second
	workerIdle       = time.Minute
	workerBacklog    = 8
)

// Service buffers audio.frame.<session> traffic until a frame marked final
// closes the utterance, then publishes its transcript on stt.text.final.
// Utterances of one session are recognized in order; sessions run in parallel.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	sub        *nats.Subscription
	logger     *slog.Logger

	mu      sync.Mutex
	buffers map[string][]byte
	workers map[string]chan Utterance

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "stt-service")),
		buffers:    make(map[string][]byte),
		workers:    make(map[string]chan Utterance),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
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

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = strings.TrimPrefix(msg.Subject, protocol.SubjectAudioFramePrefix+".")
	}
	s.accept(frame)
}

func (s *Service) accept(frame protocol.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[frame.SessionID] = append(s.buffers[frame.SessionID], frame.PCM...)
	if !frame.Final {
		return
	}
	pcm := s.buffers[frame.SessionID]
	delete(s.buffers, frame.SessionID)
	if len(pcm) == 0 {
		return
	}

	u := Utterance{
		SessionID:  frame.SessionID,
		PCM:        pcm,
		SampleRate: firstPositive(frame.SampleRate, s.cfg.SampleRate),
		Channels:   firstPositive(frame.Channels, s.cfg.Channels),
	}
	queue, ok := s.workers[u.SessionID]
	if !ok {
		queue = make(chan Utterance, workerBacklog)
		s.workers[u.SessionID] = queue
		s.wg.Add(1)
		go s.work(u.SessionID, queue)
	}
	select {
	case queue <- u:
	default:
		s.logger.Warn("dropping utterance, recognizer backlog full", slog.String("session_id", u.SessionID))
	}
}

// work recognizes one session's utterances in arrival order and retires
// itself after a quiet minute.
func (s *Service) work(sessionID string, queue chan Utterance) {
	defer s.wg.Done()
	idle := time.NewTimer(workerIdle)
	defer idle.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case u := <-queue:
			s.recognize(u)
			idle.Reset(workerIdle)
		case <-idle.C:
			s.mu.Lock()
			if len(queue) > 0 {
				s.mu.Unlock()
				idle.Reset(workerIdle)
				continue
			}
			delete(s.workers, sessionID)
			s.mu.Unlock()
			return
		}
	}
}

func (s *Service) recognize(u Utterance) {
	ctx, cancel := context.WithTimeout(s.ctx, recognizeTimeout)
	defer cancel()
	res, err := s.recognizer.Recognize(ctx, u)
	if err != nil {
		s.logger.Warn("stt recognition failed", slog.String("session_id", u.SessionID), slog.String("error", err.Error()))
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		return
	}
	msg := protocol.Transcript{
		SessionID:  u.SessionID,
		Text:       res.Text,
		Timestamp:  time.Now().UTC(),
		Confidence: res.Confidence,
	}
	if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, msg); err != nil {
		s.logger.Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
