// Package interview drives the spoken side of an intake: it prompts the
// interviewer model and hands its replies to speech synthesis.
package interview

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/loqalabs/loqa-intake/internal/transcript"
)

// Publisher is the slice of the bus the conductor needs. *bus.Client and
// *nats.Conn both satisfy it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

const personaPrompt = `You are Dr. Mira, an empathetic psychological AI assistant.
You must introduce yourself first (say your name).
Ask only 3 short and simple questions to understand the patient's situation, one question per reply.
Keep every reply to one or two sentences; it will be spoken aloud.
After the patient has answered the third question, thank them and end your reply with %s.
`

// SystemPrompt is the interviewer persona followed by the patient block.
func SystemPrompt(p profile.Profile, sentinel string) string {
	return fmt.Sprintf(personaPrompt, sentinel) + "\n" + p.PersonaText()
}

// Conductor publishes interviewer prompts on llm.request and spoken lines on
// tts.request. It holds no per-session state.
type Conductor struct {
	cfg      config.SessionConfig
	voice    string
	pub      Publisher
	sentinel *regexp.Regexp
	logger   *slog.Logger
}

func NewConductor(cfg config.SessionConfig, voice string, pub Publisher, logger *slog.Logger) *Conductor {
	return &Conductor{
		cfg:      cfg,
		voice:    voice,
		pub:      pub,
		sentinel: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(cfg.SentinelToken)),
		logger:   logger.With(slog.String("component", "interview")),
	}
}

// Greet speaks the opening line and returns it as the first AI turn.
func (c *Conductor) Greet(sessionID string) (transcript.Turn, error) {
	turn := transcript.Turn{Speaker: transcript.SpeakerAI, Text: c.cfg.Greeting}
	if strings.TrimSpace(turn.Text) == "" {
		return turn, nil
	}
	return turn, c.Speak(sessionID, turn.Text, "")
}

// Reply asks the interviewer model for its next line given the dialogue so
// far. The answer arrives asynchronously on llm.response.final.
func (c *Conductor) Reply(sessionID string, p profile.Profile, history []transcript.Turn) (string, error) {
	traceID := uuid.NewString()
	req := protocol.LLMRequest{
		SessionID: sessionID,
		Prompt:    FormatHistory(history),
		System:    SystemPrompt(p, c.cfg.SentinelToken),
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}
	if err := c.publish(protocol.SubjectLLMRequest, req); err != nil {
		return "", fmt.Errorf("publish llm request: %w", err)
	}
	c.logger.Debug("interviewer prompted",
		slog.String("session_id", sessionID),
		slog.String("trace_id", traceID),
		slog.Int("turns", len(history)))
	return traceID, nil
}

// Speak sends text to speech synthesis with the end-of-session marker
// removed. A line that is only the marker is not spoken.
func (c *Conductor) Speak(sessionID, text, traceID string) error {
	spoken := c.StripSentinel(text)
	if spoken == "" {
		return nil
	}
	req := protocol.TTSRequest{
		SessionID: sessionID,
		Text:      spoken,
		Voice:     c.voice,
		TraceID:   traceID,
	}
	if err := c.publish(protocol.SubjectTTSRequest, req); err != nil {
		return fmt.Errorf("publish tts request: %w", err)
	}
	return nil
}

func (c *Conductor) StripSentinel(text string) string {
	return strings.Join(strings.Fields(c.sentinel.ReplaceAllString(text, " ")), " ")
}

func (c *Conductor) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.pub.Publish(subject, data)
}

// FormatHistory renders the dialogue as the [AI]/[PATIENT] lines the
// interviewer model is prompted with.
func FormatHistory(turns []transcript.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		tag := "[PATIENT]"
		if t.Speaker == transcript.SpeakerAI {
			tag = "[AI]"
		}
		b.WriteString(tag)
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
