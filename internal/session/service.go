package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Subscriber is the part of *nats.Conn the bus service needs.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Service feeds bus traffic into the orchestrator. Handlers only decode and
// enqueue; all session work happens on the session goroutines.
type Service struct {
	orch   *Orchestrator
	conn   Subscriber
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewService(orch *Orchestrator, conn Subscriber, logger *slog.Logger) *Service {
	return &Service{
		orch:   orch,
		conn:   conn,
		logger: logger.With(slog.String("component", "session-bus")),
	}
}

func (s *Service) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSessionStart, s.handleStart},
		{protocol.SubjectTranscriptFinal, s.handleTranscript},
		{protocol.SubjectLLMResponseFinal, s.handleModelReply},
		{protocol.SubjectTextStream, s.handleTextStream},
		{protocol.SubjectSessionIdle, s.handleIdle},
		{protocol.SubjectSessionSignal, s.handleSignal},
	}
	for _, h := range handlers {
		sub, err := s.conn.Subscribe(h.subject, h.handler)
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return len(s.subs) > 0
}

func (s *Service) handleStart(msg *nats.Msg) {
	var start protocol.SessionStart
	if !s.decode(msg, &start) {
		return
	}
	if _, err := s.orch.StartSession(start.SessionID); err != nil {
		s.warn("failed to start session", start.SessionID, err)
	}
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var tr protocol.Transcript
	if !s.decode(msg, &tr) || tr.Partial {
		return
	}
	s.warn("dropped transcript", tr.SessionID, s.orch.HandleSpeech(tr.SessionID, tr.Text))
}

func (s *Service) handleModelReply(msg *nats.Msg) {
	var resp protocol.LLMResponse
	if !s.decode(msg, &resp) || resp.Partial {
		return
	}
	s.warn("dropped model reply", resp.SessionID, s.orch.HandleModelReply(resp.SessionID, resp.Content, resp.TraceID))
}

func (s *Service) handleTextStream(msg *nats.Msg) {
	var ts protocol.TextStream
	if !s.decode(msg, &ts) {
		return
	}
	s.warn("dropped text stream", ts.SessionID, s.orch.HandleTextStream(ts.SessionID, ts.Speaker, ts.Text))
}

func (s *Service) handleIdle(msg *nats.Msg) {
	var idle protocol.SessionIdle
	if !s.decode(msg, &idle) {
		return
	}
	s.warn("dropped idle signal", idle.SessionID, s.orch.HandleIdle(idle.SessionID))
}

func (s *Service) handleSignal(msg *nats.Msg) {
	var sig protocol.Signal
	if !s.decode(msg, &sig) {
		return
	}
	if sig.Type != protocol.SignalGenerateReport {
		s.logger.Debug("ignoring signal", slog.String("type", sig.Type))
		return
	}
	id := sig.Data.Meta.SessionID
	dialogue, err := DecodeDialogue(sig.Data.Dialogue)
	if err != nil {
		s.warn("ignoring malformed dialogue", id, err)
		dialogue = nil
	}
	s.warn("dropped generate signal", id, s.orch.HandleGenerateReport(id, dialogue))
}

func (s *Service) decode(msg *nats.Msg, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.logger.Warn("failed to decode message", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return false
	}
	return true
}

// warn logs err unless it is nil. Events for closed sessions are expected
// and logged at debug.
func (s *Service) warn(msg, sessionID string, err error) {
	if err == nil {
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, ErrSessionClosed) {
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, msg, slog.String("session_id", sessionID), slog.String("error", err.Error()))
}
