package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/eventstore"
	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/loqalabs/loqa-intake/internal/report"
	"github.com/loqalabs/loqa-intake/internal/transcript"
)

var (
	ErrInvalidSession = errors.New("session id must not be empty")
	ErrSessionExists  = errors.New("session already exists")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionClosed  = errors.New("session is closed")
	ErrShuttingDown   = errors.New("orchestrator is shutting down")
)

// closedRetention is how long a closed session stays indexed so that late
// events for it are recognised and dropped.
const closedRetention = 10 * time.Minute

type ProfileFetcher interface {
	Fetch(ctx context.Context, sessionID string) profile.Profile
}

type Interviewer interface {
	Greet(sessionID string) (transcript.Turn, error)
	Reply(sessionID string, p profile.Profile, history []transcript.Turn) (string, error)
	Speak(sessionID, text, traceID string) error
}

type Synthesizer interface {
	Synthesize(ctx context.Context, p profile.Profile, turns []transcript.Turn, sessionID string) report.DiagnosticReport
}

type Deliverer interface {
	Deliver(ctx context.Context, r report.DiagnosticReport) report.Outcome
}

// Recorder persists the session timeline. *eventstore.Store satisfies it.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, patientID string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type Publisher interface {
	Publish(subject string, data []byte) error
}

// Deps are the collaborators an Orchestrator drives. Recorder and Publisher
// may be nil.
type Deps struct {
	Store       Store
	Profiles    ProfileFetcher
	Interviewer Interviewer
	Synthesizer Synthesizer
	Deliverer   Deliverer
	Recorder    Recorder
	Publisher   Publisher
}

// Orchestrator owns every session's lifecycle. Each session runs on its own
// goroutine and consumes its event queue in arrival order.
type Orchestrator struct {
	cfg       config.SessionConfig
	deps      Deps
	detector  *Detector
	metrics   *metrics
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
}

func NewOrchestrator(parent context.Context, cfg config.SessionConfig, deps Deps, logger *slog.Logger) *Orchestrator {
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	logger = logger.With(slog.String("component", "session-orchestrator"))
	ctx, cancel := context.WithCancel(parent)
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		detector:  NewDetector(cfg.SentinelToken),
		metrics:   initMetrics(deps.Store, logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		retention: closedRetention,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close stops accepting events, abandons running interviews and waits for
// in-flight report deliveries.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.cancel()
	o.mu.Unlock()
	o.wg.Wait()
}

// spawn registers s and starts fn on its own goroutine unless the
// orchestrator is closing.
func (o *Orchestrator) spawn(s *Session, fn func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	if !o.deps.Store.Put(s) {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
	return nil
}

func (o *Orchestrator) Get(id string) (*Session, bool) {
	return o.deps.Store.Get(id)
}

func (o *Orchestrator) List() []*Session {
	return o.deps.Store.List()
}

// StartSession opens an interview for the room id and returns immediately;
// profile resolution and the greeting happen on the session goroutine.
func (o *Orchestrator) StartSession(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidSession
	}
	s := newSession(id, o.cfg.QueueSize, o.now())
	if err := o.spawn(s, func() { o.run(s) }); err != nil {
		return nil, err
	}
	o.metrics.sessionStarted(o.ctx)
	return s, nil
}

// HandleSpeech records a final patient transcript and prompts the interviewer.
func (o *Orchestrator) HandleSpeech(id, text string) error {
	return o.enqueue(id, event{kind: eventSpeech, turn: transcript.Turn{Speaker: transcript.SpeakerPatient, Text: text}})
}

// HandleModelReply records an interviewer line and speaks it.
func (o *Orchestrator) HandleModelReply(id, text, traceID string) error {
	return o.enqueue(id, event{kind: eventModel, traceID: traceID, turn: transcript.Turn{Speaker: transcript.SpeakerAI, Text: text}})
}

// HandleTextStream records text pushed by the room. Blank speakers are the
// patient.
func (o *Orchestrator) HandleTextStream(id, speaker, text string) error {
	return o.enqueue(id, event{kind: eventTextStream, turn: transcript.Turn{Speaker: transcript.ParseSpeaker(speaker), Text: text}})
}

func (o *Orchestrator) HandleIdle(id string) error {
	return o.enqueue(id, event{kind: eventIdle})
}

// HandleGenerateReport ends the session now. A non-nil dialogue replaces the
// aggregated transcript. For a room with no live session the report is built
// from dialogue alone.
func (o *Orchestrator) HandleGenerateReport(id string, dialogue []transcript.Turn) error {
	ev := event{kind: eventSignal, dialogue: dialogue, hasDialogue: dialogue != nil}
	err := o.enqueue(id, ev)
	if !errors.Is(err, ErrUnknownSession) {
		return err
	}
	return o.standalone(id, dialogue)
}

func (o *Orchestrator) enqueue(id string, ev event) error {
	s, ok := o.deps.Store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	// Once finalizing, nothing more reaches the report.
	if s.State() >= StateFinalizing {
		return ErrSessionClosed
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-o.ctx.Done():
		return ErrShuttingDown
	}
}

func (o *Orchestrator) run(s *Session) {
	logger := o.logger.With(slog.String("session_id", s.ID))
	ctx := o.ctx

	o.resolve(ctx, s, logger)
	if !s.begin() {
		return
	}
	logger.Info("interview started")

	if turn, err := o.deps.Interviewer.Greet(s.ID); err != nil {
		logger.Warn("failed to speak greeting", slog.String("error", err.Error()))
	} else {
		o.appendTurn(ctx, s, turn, transcript.ChannelModel)
	}

	var (
		idle      *time.Timer
		idleC     <-chan time.Time
		idleAfter = time.Duration(o.cfg.IdleTimeoutMS) * time.Millisecond
	)
	if idleAfter > 0 {
		idle = time.NewTimer(idleAfter)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("interview abandoned on shutdown")
			o.closeSession(s, &Result{ClosedAt: o.now(), Error: ErrShuttingDown.Error()})
			return
		case <-idleC:
			if o.detector.Fire(s) {
				o.finalize(s, s.transcript.Snapshot(), TriggerInactivity, logger)
				return
			}
		case ev := <-s.events:
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(idleAfter)
			}
			if o.handle(ctx, s, ev, logger) {
				return
			}
		}
	}
}

func (o *Orchestrator) resolve(ctx context.Context, s *Session, logger *slog.Logger) {
	p := o.deps.Profiles.Fetch(ctx, s.ID)
	s.setProfile(p)
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.AppendSession(ctx, s.ID, p.ID); err != nil {
		logger.Warn("failed to record session", slog.String("error", err.Error()))
		return
	}
	o.record(ctx, s.ID, eventstore.TypeSessionOpened, "", p)
}

// handle applies one queued event and reports whether the session ended.
func (o *Orchestrator) handle(ctx context.Context, s *Session, ev event, logger *slog.Logger) bool {
	switch ev.kind {
	case eventSpeech:
		if !o.appendTurn(ctx, s, ev.turn, transcript.ChannelSpeech) {
			return false
		}
		p, _ := s.Profile()
		if _, err := o.deps.Interviewer.Reply(s.ID, p, s.transcript.Snapshot()); err != nil {
			logger.Warn("failed to prompt interviewer", slog.String("error", err.Error()))
		}
	case eventModel:
		if !o.appendTurn(ctx, s, ev.turn, transcript.ChannelModel) {
			return false
		}
		if err := o.deps.Interviewer.Speak(s.ID, ev.turn.Text, ev.traceID); err != nil {
			logger.Warn("failed to speak reply", slog.String("error", err.Error()))
		}
		if o.detector.IsEnd(ev.turn) && o.detector.Fire(s) {
			o.finalize(s, s.transcript.Snapshot(), TriggerSentinel, logger)
			return true
		}
	case eventTextStream:
		if !o.appendTurn(ctx, s, ev.turn, transcript.ChannelTextStream) {
			return false
		}
		if o.detector.IsEnd(ev.turn) && o.detector.Fire(s) {
			o.finalize(s, s.transcript.Snapshot(), TriggerSentinel, logger)
			return true
		}
	case eventIdle:
		if o.detector.Fire(s) {
			o.finalize(s, s.transcript.Snapshot(), TriggerIdle, logger)
			return true
		}
	case eventSignal:
		if o.detector.Fire(s) {
			turns := s.transcript.Snapshot()
			if ev.hasDialogue {
				turns = ev.dialogue
			}
			o.finalize(s, turns, TriggerSignal, logger)
			return true
		}
	}
	return false
}

func (o *Orchestrator) appendTurn(ctx context.Context, s *Session, turn transcript.Turn, ch transcript.Channel) bool {
	if !s.transcript.Append(turn) {
		return false
	}
	o.record(ctx, s.ID, eventstore.TypeTurn, ch, turn)
	return true
}

// standalone builds and ships a report for a room that has no live
// interview, using only the supplied dialogue.
func (o *Orchestrator) standalone(id string, dialogue []transcript.Turn) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidSession
	}
	s := newSession(id, 1, o.now())
	err := o.spawn(s, func() {
		logger := o.logger.With(slog.String("session_id", id))
		logger.Info("generating report for room without live interview")
		o.resolve(o.ctx, s, logger)
		if s.begin() && o.detector.Fire(s) {
			o.finalize(s, dialogue, TriggerSignal, logger)
		}
	})
	if errors.Is(err, ErrSessionExists) {
		// A session appeared concurrently; route the signal to it instead.
		ev := event{kind: eventSignal, dialogue: dialogue, hasDialogue: dialogue != nil}
		return o.enqueue(id, ev)
	}
	if err != nil {
		return err
	}
	o.metrics.sessionStarted(o.ctx)
	return nil
}

func (o *Orchestrator) finalize(s *Session, turns []transcript.Turn, trigger Trigger, logger *slog.Logger) {
	// Delivery must outlive shutdown of the interview itself.
	ctx := context.WithoutCancel(o.ctx)
	logger.Info("interview ended, synthesizing report",
		slog.String("trigger", string(trigger)),
		slog.Int("turns", len(turns)))

	p, ok := s.Profile()
	if !ok {
		p = profile.Unknown()
	}
	r := o.deps.Synthesizer.Synthesize(ctx, p, turns, s.ID)
	out := o.deps.Deliverer.Deliver(ctx, r)

	res := &Result{
		Trigger:   trigger,
		Source:    string(r.Source),
		Delivered: out.Delivered,
		ReportID:  out.ReportID,
		ClosedAt:  o.now(),
	}
	evtType := eventstore.TypeReportDelivered
	if out.Err != nil {
		res.Error = out.Err.Error()
		evtType = eventstore.TypeReportFailed
	}
	o.record(ctx, s.ID, evtType, "", res)
	o.publishReady(s.ID, r, res, logger)
	o.closeSession(s, res)
	o.metrics.sessionClosed(ctx, trigger)
	logger.Info("session closed", slog.Bool("delivered", out.Delivered), slog.String("source", res.Source))
}

func (o *Orchestrator) closeSession(s *Session, res *Result) {
	o.record(context.WithoutCancel(o.ctx), s.ID, eventstore.TypeSessionClosed, "", res)
	s.close(res)
	// Remove only if the index still points at this session.
	time.AfterFunc(o.retention, func() {
		if cur, ok := o.deps.Store.Get(s.ID); ok && cur == s {
			o.deps.Store.Remove(s.ID)
		}
	})
}

func (o *Orchestrator) publishReady(id string, r report.DiagnosticReport, res *Result, logger *slog.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	msg := protocol.ReportReady{
		SessionID: id,
		PatientID: r.PatientID,
		ReportID:  res.ReportID,
		Source:    res.Source,
		Delivered: res.Delivered,
		Error:     res.Error,
		Timestamp: res.ClosedAt,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := o.deps.Publisher.Publish(protocol.SubjectReportReady, data); err != nil {
		logger.Warn("failed to publish report status", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) record(ctx context.Context, id, typ string, ch transcript.Channel, payload any) {
	if o.deps.Recorder == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	evt := eventstore.Event{SessionID: id, Type: typ, Channel: string(ch), Payload: data, CreatedAt: o.now()}
	if err := o.deps.Recorder.AppendEvent(ctx, evt); err != nil {
		o.logger.Warn("failed to record session event",
			slog.String("session_id", id),
			slog.String("type", typ),
			slog.String("error", err.Error()))
	}
}
