// Package transcript keeps the ordered dialogue of one interview.
package transcript

import (
	"strings"
	"sync"
)

type Speaker string

const (
	SpeakerAI      Speaker = "AI"
	SpeakerPatient Speaker = "Patient"
)

// ParseSpeaker maps loose external labels onto a Speaker. Anything that is
// not recognisably the assistant is the patient.
func ParseSpeaker(s string) Speaker {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ai", "assistant", "agent", "bot", "model", "doctor":
		return SpeakerAI
	default:
		return SpeakerPatient
	}
}

// Channel names the source an utterance arrived on.
type Channel string

const (
	ChannelSpeech     Channel = "speech"
	ChannelModel      Channel = "model"
	ChannelTextStream Channel = "text_stream"
)

// Turn is one attributed utterance.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Aggregator is an append-only turn log. Appends from concurrent channels
// are serialized; order is arrival order.
type Aggregator struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append records turn unless its text is blank. It reports whether the turn
// was kept.
func (a *Aggregator) Append(turn Turn) bool {
	if strings.TrimSpace(turn.Text) == "" {
		return false
	}
	a.mu.Lock()
	a.turns = append(a.turns, turn)
	a.mu.Unlock()
	return true
}

// Snapshot returns a copy of the log as of now.
func (a *Aggregator) Snapshot() []Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.turns)
}

// Render formats turns as "Speaker: text" lines.
func Render(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteString("\n")
	}
	return b.String()
}
