package report

import (
	"strings"

	"github.com/loqalabs/loqa-intake/internal/profile"
	"github.com/loqalabs/loqa-intake/internal/transcript"
)

const synthesisSystemPrompt = `You are a clinical documentation assistant. You read a short psychological intake interview and summarize it for the treating clinician.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "narrative": {"description": "", "symptom_markers": [], "physical_markers": [], "behavioral_markers": []},
  "risk_indicators": {"suicidal_ideation": "", "self_harm": "", "harm_to_others": "", "substance_use": "", "other_risks": []},
  "clinical_inference": {"primary_diagnosis": "", "differential_diagnoses": [], "recommendations": []}
}
Only report what the patient actually said. Use "not reported" for risks that were not discussed.`

func synthesisPrompt(p profile.Profile, turns []transcript.Turn) string {
	var b strings.Builder
	b.WriteString(p.PersonaText())
	b.WriteString("\nInterview transcript:\n")
	b.WriteString(transcript.Render(turns))
	b.WriteString("\nWrite the JSON summary now.")
	return b.String()
}
