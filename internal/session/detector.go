package session

import (
	"strings"

	"github.com/loqalabs/loqa-intake/internal/transcript"
)

// Trigger names what ended an interview.
type Trigger string

const (
	TriggerSentinel   Trigger = "sentinel"
	TriggerIdle       Trigger = "idle"
	TriggerInactivity Trigger = "inactivity"
	TriggerSignal     Trigger = "signal"
)

// Detector decides when an interview is over. Whatever the trigger, the
// decision is committed through Session.Claim so it fires once per session.
type Detector struct {
	sentinel string
}

func NewDetector(sentinel string) *Detector {
	return &Detector{sentinel: strings.ToLower(strings.TrimSpace(sentinel))}
}

// IsEnd reports whether turn is an interviewer line carrying the sentinel.
func (d *Detector) IsEnd(turn transcript.Turn) bool {
	if d.sentinel == "" || turn.Speaker != transcript.SpeakerAI {
		return false
	}
	return strings.Contains(strings.ToLower(turn.Text), d.sentinel)
}

// Fire claims s for finalization. It returns false when another trigger got
// there first or the session is not interviewing.
func (d *Detector) Fire(s *Session) bool {
	return s.Claim()
}
