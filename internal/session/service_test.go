package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/interview"
	"github.com/loqalabs/loqa-intake/internal/llm"
	"github.com/loqalabs/loqa-intake/internal/natsserver"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/loqalabs/loqa-intake/internal/report"
)

func TestBusInterviewRoundTrip(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, discardLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, discardLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	var posts atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	// The interviewer model closes the interview on its first reply.
	var prompts atomic.Int32
	interviewerModel := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		prompts.Add(1)
		if !strings.Contains(req.Prompt, "[PATIENT] I feel tired") {
			t.Errorf("unexpected interviewer prompt %q", req.Prompt)
		}
		return "Thank you for sharing. [SESSION_END]", nil
	})
	llmSvc := llm.NewService(context.Background(), config.LLMConfig{Enabled: true, MaxTokens: 64, TimeoutMS: 2000}, client, interviewerModel, discardLogger())
	if err := llmSvc.Start(); err != nil {
		t.Fatalf("llm service: %v", err)
	}
	defer llmSvc.Close()

	cfg := config.Default()
	reportCfg := cfg.Report
	reportCfg.BackendURL = backend.URL
	orch := NewOrchestrator(context.Background(), cfg.Session, Deps{
		Profiles:    staticProfile(janeDoe()),
		Interviewer: interview.NewConductor(cfg.Session, "en-US", client, discardLogger()),
		Synthesizer: report.NewSynthesizer(nil, reportCfg, discardLogger()),
		Deliverer:   report.NewDeliverer(reportCfg, nil, discardLogger()),
		Publisher:   client,
	}, discardLogger())
	defer orch.Close()

	svc := NewService(orch, client.Conn(), discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("session service: %v", err)
	}
	defer svc.Close()

	ready, err := client.Conn().SubscribeSync(protocol.SubjectReportReady)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	spoken, err := client.Conn().SubscribeSync(protocol.SubjectTTSRequest)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	mustPublish(t, client, protocol.SubjectSessionStart, protocol.SessionStart{SessionID: "room-1"})
	s := waitForSession(t, orch, "room-1")
	waitForState(t, s, StateInterviewing)
	mustPublish(t, client, protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "room-1", Text: "I feel", Partial: true})
	mustPublish(t, client, protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "room-1", Text: "I feel tired"})

	msg, err := ready.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("waiting for report.ready: %v", err)
	}
	var rr protocol.ReportReady
	if err := json.Unmarshal(msg.Data, &rr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.SessionID != "room-1" || !rr.Delivered || rr.PatientID != "p1" {
		t.Fatalf("unexpected report.ready %+v", rr)
	}
	if posts.Load() != 1 || prompts.Load() != 1 {
		t.Fatalf("expected one delivery and one prompt, got %d/%d", posts.Load(), prompts.Load())
	}
	if got := s.Transcript().Len(); got != 3 {
		t.Fatalf("expected greeting, answer and closing line, got %d turns", got)
	}

	var lines []string
	for {
		m, err := spoken.NextMsg(200 * time.Millisecond)
		if err != nil {
			break
		}
		var req protocol.TTSRequest
		_ = json.Unmarshal(m.Data, &req)
		lines = append(lines, req.Text)
	}
	if len(lines) != 2 || lines[1] != "Thank you for sharing." {
		t.Fatalf("unexpected spoken lines %q", lines)
	}
}

func mustPublish(t *testing.T, client *bus.Client, subject string, v any) {
	t.Helper()
	if err := client.PublishJSON(subject, v); err != nil {
		t.Fatalf("publish %s: %v", subject, err)
	}
}

func waitForSession(t *testing.T, orch *Orchestrator, id string) *Session {
	t.Helper()
	var s *Session
	waitFor(t, func() bool {
		var ok bool
		s, ok = orch.Get(id)
		return ok
	})
	return s
}
