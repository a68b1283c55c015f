// Package session runs intake interviews from room start to report delivery.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/transcript"
)

type State int32

const (
	StateInitializing State = iota
	StateInterviewing
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInterviewing:
		return "interviewing"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one interview, keyed by room name.
type Session struct {
	ID        string
	CreatedAt time.Time

	state      atomic.Int32
	transcript *transcript.Aggregator
	events     chan event
	done       chan struct{}
	closeOnce  sync.Once

	mu         sync.RWMutex
	profile    profile.Profile
	hasProfile bool
	outcome    *Result
}

// Result summarizes how a session ended.
type Result struct {
	Trigger   Trigger   `json:"trigger"`
	Source    string    `json:"source"`
	Delivered bool      `json:"delivered"`
	ReportID  string    `json:"report_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Info is a read-only view of a session for the control API.
type Info struct {
	ID        string           `json:"session_id"`
	State     string           `json:"state"`
	PatientID string           `json:"patient_id,omitempty"`
	Turns     int              `json:"turns"`
	CreatedAt time.Time        `json:"created_at"`
	Profile   *profile.Profile `json:"profile,omitempty"`
	Result    *Result          `json:"result,omitempty"`
}

func newSession(id string, queueSize int, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		transcript: transcript.NewAggregator(),
		events:     make(chan event, queueSize),
		done:       make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Transcript() *transcript.Aggregator {
	return s.transcript
}

func (s *Session) Profile() (profile.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, s.hasProfile
}

func (s *Session) setProfile(p profile.Profile) {
	s.mu.Lock()
	s.profile = p
	s.hasProfile = true
	s.mu.Unlock()
}

// begin moves a freshly resolved session into the interview.
func (s *Session) begin() bool {
	return s.state.CompareAndSwap(int32(StateInitializing), int32(StateInterviewing))
}

// Claim is the only way into Finalizing. Exactly one caller ever gets true.
func (s *Session) Claim() bool {
	return s.state.CompareAndSwap(int32(StateInterviewing), int32(StateFinalizing))
}

func (s *Session) close(res *Result) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.outcome = res
		s.mu.Unlock()
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		ID:        s.ID,
		State:     s.State().String(),
		Turns:     s.transcript.Len(),
		CreatedAt: s.CreatedAt,
		Result:    s.outcome,
	}
	if s.hasProfile {
		p := s.profile
		info.Profile = &p
		info.PatientID = p.ID
	}
	return info
}
