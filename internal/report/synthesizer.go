package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/llm"
	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-intake/report"

const (
	sessionSetting   = "Voice intake interview"
	pendingDiagnosis = "Pending clinician review"
)

// Synthesizer asks the model for the clinical sections of a report and
// assembles the final document around them.
type Synthesizer struct {
	generator   llm.Generator
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
	synthesized metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewSynthesizer builds a Synthesizer. A nil generator means no model is
// available and every report uses the fallback sections.
func NewSynthesizer(generator llm.Generator, cfg config.ReportConfig, logger *slog.Logger) *Synthesizer {
	s := &Synthesizer{
		generator:   generator,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.SynthesisTimeoutMS) * time.Millisecond,
		logger:      logger.With(slog.String("component", "report-synthesizer")),
		now:         func() time.Time { return time.Now().UTC() },
		tracer:      otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)
	var err error
	if s.synthesized, err = meter.Int64Counter("intake.reports.synthesized",
		metric.WithDescription("Reports assembled, by section source")); err != nil {
		s.logger.Warn("failed to create counter", slog.String("error", err.Error()))
		s.synthesized = noop.Int64Counter{}
	}
	if s.latency, err = meter.Float64Histogram("intake.synthesis.latency_ms",
		metric.WithDescription("Model synthesis latency"),
		metric.WithUnit("ms")); err != nil {
		s.logger.Warn("failed to create histogram", slog.String("error", err.Error()))
		s.latency = noop.Float64Histogram{}
	}
	return s
}

// Synthesize always returns a complete report. Model failures of any kind
// are logged and replaced by the fallback sections.
func (s *Synthesizer) Synthesize(ctx context.Context, p profile.Profile, turns []transcript.Turn, sessionID string) DiagnosticReport {
	ctx, span := s.tracer.Start(ctx, "report.synthesize",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("dialogue.turns", len(turns)),
		))
	defer span.End()

	source := SourceModel
	sections, err := s.generate(ctx, p, turns, sessionID)
	if err != nil {
		source = SourceFallback
		sections = fallbackSections()
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis fell back")
		s.logger.Warn("report synthesis fell back to skeleton",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
	s.synthesized.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	span.SetAttributes(attribute.String("report.source", string(source)))

	return assemble(p, turns, sessionID, sections, source, s.now())
}

func (s *Synthesizer) generate(ctx context.Context, p profile.Profile, turns []transcript.Turn, sessionID string) (clinicalSections, error) {
	if s.generator == nil {
		return clinicalSections{}, errors.New("no model configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := llm.Complete(ctx, s.generator, llm.Request{
		SessionID:   sessionID,
		System:      synthesisSystemPrompt,
		Prompt:      synthesisPrompt(p, turns),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		JSON:        true,
	})
	s.latency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, llm.ErrEmptyCompletion) {
			return clinicalSections{}, ErrEmptyOutput
		}
		return clinicalSections{}, fmt.Errorf("synthesis request: %w", err)
	}
	return parseSections(text)
}

func assemble(p profile.Profile, turns []transcript.Turn, sessionID string, sections clinicalSections, source Source, now time.Time) DiagnosticReport {
	dialogue := make([]transcript.Turn, len(turns))
	copy(dialogue, turns)
	return DiagnosticReport{
		SessionID: sessionID,
		PatientID: p.ID,
		Overview: Overview{
			ClientName:       p.Name,
			Age:              p.Age,
			Gender:           p.Gender,
			Occupation:       p.Occupation,
			EducationLevel:   p.EducationLevel,
			MaritalStatus:    p.MaritalStatus,
			Notes:            p.Notes,
			Setting:          sessionSetting,
			SessionInfo:      fmt.Sprintf("Session %s, %d dialogue turns, %s", sessionID, len(turns), now.Format(time.RFC3339)),
			InitialDiagnosis: pendingDiagnosis,
			Scores:           []Score{},
		},
		Narrative:         sections.Narrative,
		RiskIndicators:    sections.RiskIndicators,
		ClinicalInference: sections.ClinicalInference,
		Dialogue:          dialogue,
		NotifiedToDoctor:  true,
		GeneratedAt:       now,
		Source:            source,
	}
}
