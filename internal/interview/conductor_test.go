package interview

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/loqalabs/loqa-intake/internal/transcript"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.msgs == nil {
		p.msgs = make(map[string][][]byte)
	}
	p.msgs[subject] = append(p.msgs[subject], data)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs[subject])
}

func TestGreetSpeaksAndReturnsTurn(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConductor(pub)

	turn, err := c.Greet("room-1")
	if err != nil {
		t.Fatalf("greet: %v", err)
	}
	if turn.Speaker != transcript.SpeakerAI || !strings.Contains(turn.Text, "Dr. Mira") {
		t.Fatalf("unexpected greeting turn %+v", turn)
	}
	var req protocol.TTSRequest
	if err := json.Unmarshal(pub.msgs[protocol.SubjectTTSRequest][0], &req); err != nil {
		t.Fatalf("decode tts request: %v", err)
	}
	if req.SessionID != "room-1" || req.Voice != "en-US" || req.Text != turn.Text {
		t.Fatalf("unexpected tts request %+v", req)
	}
}

func TestReplyPublishesPromptWithPersona(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConductor(pub)
	p := profile.Unknown()
	p.Name = "Jane Doe"

	history := []transcript.Turn{
		{Speaker: transcript.SpeakerAI, Text: "Hello"},
		{Speaker: transcript.SpeakerPatient, Text: " I feel tired "},
	}
	traceID, err := c.Reply("room-1", p, history)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	var req protocol.LLMRequest
	if err := json.Unmarshal(pub.msgs[protocol.SubjectLLMRequest][0], &req); err != nil {
		t.Fatalf("decode llm request: %v", err)
	}
	if req.Prompt != "[AI] Hello\n[PATIENT] I feel tired" {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}
	if req.TraceID != traceID || traceID == "" {
		t.Fatalf("trace id mismatch %q vs %q", req.TraceID, traceID)
	}
	for _, want := range []string{"Dr. Mira", "3 short", "[SESSION_END]", "- Name: Jane Doe"} {
		if !strings.Contains(req.System, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, req.System)
		}
	}
}

func TestSpeakStripsSentinel(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConductor(pub)

	if err := c.Speak("room-1", "Thank you, take care. [session_end]", "t1"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	var req protocol.TTSRequest
	if err := json.Unmarshal(pub.msgs[protocol.SubjectTTSRequest][0], &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Text != "Thank you, take care." {
		t.Fatalf("sentinel not stripped: %q", req.Text)
	}

	if err := c.Speak("room-1", "  [SESSION_END] ", ""); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if pub.count(protocol.SubjectTTSRequest) != 1 {
		t.Fatal("a sentinel-only line should not be spoken")
	}
}

func TestPublishErrorsAreWrapped(t *testing.T) {
	boom := errors.New("bus down")
	c := newTestConductor(&recordingPublisher{err: boom})
	if _, err := c.Reply("room-1", profile.Unknown(), nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped bus error, got %v", err)
	}
}

func newTestConductor(pub Publisher) *Conductor {
	cfg := config.Default().Session
	return NewConductor(cfg, "en-US", pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
