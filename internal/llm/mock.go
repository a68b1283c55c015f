package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// mockSentinel matches the default session.sentinel_token.
const mockSentinel = "[SESSION_END]"

var mockQuestions = []string{
	"How have you been feeling over the last two weeks?",
	"How are you sleeping at the moment?",
	"Is there anything that has been worrying you lately?",
}

// mockGenerator plays a scripted interviewer for local runs without a model.
// It asks one question per patient answer, then closes the interview. JSON
// requests get a minimal report document.
type mockGenerator struct {
	delay time.Duration
}

func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   mockReply(req),
		Latency:   m.delay,
		TraceID:   req.TraceID,
	})
}

func mockReply(req Request) string {
	if req.JSON {
		return fmt.Sprintf(`{"narrative":{"description":"Mock summary of a %d line interview.","symptom_markers":[],"physical_markers":[],"behavioral_markers":[]},`+
			`"risk_indicators":{"suicidal_ideation":"not reported","self_harm":"not reported","harm_to_others":"not reported","substance_use":"not reported","other_risks":[]},`+
			`"clinical_inference":{"primary_diagnosis":"No diagnosis (mock backend)","differential_diagnoses":[],"recommendations":["Review with a clinician"]}}`,
			strings.Count(req.Prompt, "\n"))
	}
	answers := strings.Count(req.Prompt, "[PATIENT]")
	if answers <= 0 {
		answers = 1
	}
	if answers > len(mockQuestions) {
		return "Thank you for sharing, a clinician will review this with you. " + mockSentinel
	}
	return mockQuestions[answers-1]
}
