package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-intake/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBody = 4096

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Delivered bool
	Status    int
	Body      string
	ReportID  string
	Message   string
	Err       error
}

func (o Outcome) label() string {
	if o.Delivered {
		return "delivered"
	}
	return "failed"
}

// ackResponse is the backend's usual envelope; every field is optional.
type ackResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Deliverer posts finished reports to {backend}/reports exactly once.
type Deliverer struct {
	endpoint  string
	token     string
	client    *http.Client
	logger    *slog.Logger
	tracer    trace.Tracer
	delivered metric.Int64Counter
}

func NewDeliverer(cfg config.ReportConfig, client *http.Client, logger *slog.Logger) *Deliverer {
	if client == nil {
		timeout := time.Duration(cfg.DeliveryTimeoutMS) * time.Millisecond
		client = &http.Client{Timeout: timeout}
	}
	d := &Deliverer{
		endpoint: strings.TrimRight(cfg.BackendURL, "/") + "/reports",
		token:    cfg.BackendToken,
		client:   client,
		logger:   logger.With(slog.String("component", "report-deliverer")),
		tracer:   otel.Tracer(instrumentationName),
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("intake.reports.delivered",
		metric.WithDescription("Report delivery attempts, by outcome"))
	if err != nil {
		d.logger.Warn("failed to create counter", slog.String("error", err.Error()))
		counter = noop.Int64Counter{}
	}
	d.delivered = counter
	return d
}

// Deliver never retries. Failures are returned in the Outcome, never
// panicked or propagated further.
func (d *Deliverer) Deliver(ctx context.Context, r DiagnosticReport) Outcome {
	ctx, span := d.tracer.Start(ctx, "report.deliver",
		trace.WithAttributes(attribute.String("session.id", r.SessionID)))
	defer span.End()

	out := d.post(ctx, r)
	d.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", out.label())))
	span.SetAttributes(attribute.Int("http.status_code", out.Status))

	logger := d.logger.With(slog.String("session_id", r.SessionID))
	if !out.Delivered {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "delivery failed")
		logger.Error("report delivery failed",
			slog.Int("status", out.Status),
			slog.String("body", out.Body),
			slog.String("error", out.Err.Error()))
		return out
	}
	logger.Info("report delivered",
		slog.Int("status", out.Status),
		slog.String("report_id", out.ReportID),
		slog.String("message", out.Message))
	return out
}

func (d *Deliverer) post(ctx context.Context, r DiagnosticReport) Outcome {
	payload, err := json.Marshal(r)
	if err != nil {
		return Outcome{Err: fmt.Errorf("report marshal: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{Err: fmt.Errorf("report post: %w", err)}
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	body := strings.TrimSpace(string(b))
	out := Outcome{Status: resp.StatusCode, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Err = fmt.Errorf("%w: %s: %s", ErrDeliveryStatus, resp.Status, body)
		return out
	}

	out.Delivered = true
	var ack ackResponse
	if err := json.Unmarshal(b, &ack); err == nil {
		out.ReportID = ack.Data.ID
		out.Message = ack.Message
		if ack.Success != nil && !*ack.Success {
			d.logger.Warn("backend accepted report without success flag",
				slog.String("session_id", r.SessionID),
				slog.String("message", ack.Message))
		}
	}
	return out
}
