// Package report turns a finished interview into a structured diagnostic
// document and ships it to the clinical backend.
package report

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-intake/internal/transcript"
)

var (
	ErrEmptyOutput    = errors.New("report: empty model output")
	ErrMalformed      = errors.New("report: no well-formed JSON object in model output")
	ErrDeliveryStatus = errors.New("report: backend rejected report")
)

// Source records whether the clinical sections came from the model or from
// the built-in skeleton.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

type Score struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Overview struct {
	ClientName       string  `json:"client_name"`
	Age              string  `json:"age"`
	Gender           string  `json:"gender"`
	Occupation       string  `json:"occupation"`
	EducationLevel   string  `json:"education_level"`
	MaritalStatus    string  `json:"marital_status"`
	Notes            string  `json:"notes"`
	Setting          string  `json:"setting"`
	SessionInfo      string  `json:"session_info"`
	InitialDiagnosis string  `json:"initial_diagnosis"`
	Scores           []Score `json:"scores"`
}

type Narrative struct {
	Description       string   `json:"description"`
	SymptomMarkers    []string `json:"symptom_markers"`
	PhysicalMarkers   []string `json:"physical_markers"`
	BehavioralMarkers []string `json:"behavioral_markers"`
}

type RiskIndicators struct {
	SuicidalIdeation string   `json:"suicidal_ideation"`
	SelfHarm         string   `json:"self_harm"`
	HarmToOthers     string   `json:"harm_to_others"`
	SubstanceUse     string   `json:"substance_use"`
	OtherRisks       []string `json:"other_risks"`
}

type ClinicalInference struct {
	PrimaryDiagnosis      string   `json:"primary_diagnosis"`
	DifferentialDiagnoses []string `json:"differential_diagnoses"`
	Recommendations       []string `json:"recommendations"`
}

// DiagnosticReport is assembled once per session and not modified after.
type DiagnosticReport struct {
	SessionID         string            `json:"session_id"`
	PatientID         string            `json:"patient_id"`
	Overview          Overview          `json:"overview"`
	Narrative         Narrative         `json:"narrative"`
	RiskIndicators    RiskIndicators    `json:"risk_indicators"`
	ClinicalInference ClinicalInference `json:"clinical_inference"`
	Dialogue          []transcript.Turn `json:"dialogue"`
	DoctorNotes       string            `json:"doctor_notes"`
	NotifiedToDoctor  bool              `json:"notified_to_doctor"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Source            Source            `json:"source"`
}

// clinicalSections is the part of the report the model is asked to write.
type clinicalSections struct {
	Narrative         Narrative         `json:"narrative"`
	RiskIndicators    RiskIndicators    `json:"risk_indicators"`
	ClinicalInference ClinicalInference `json:"clinical_inference"`
}

const (
	fallbackDescription = "Automatic summary unavailable. Preliminary report generated from the interview transcript without model analysis."
	fallbackDiagnosis   = "Preliminary assessment"
	fallbackAdvice      = "Consultation recommended"
	notAssessed         = "not assessed"
)

func fallbackSections() clinicalSections {
	return clinicalSections{
		Narrative: Narrative{
			Description:       fallbackDescription,
			SymptomMarkers:    []string{},
			PhysicalMarkers:   []string{},
			BehavioralMarkers: []string{},
		},
		RiskIndicators: RiskIndicators{
			SuicidalIdeation: notAssessed,
			SelfHarm:         notAssessed,
			HarmToOthers:     notAssessed,
			SubstanceUse:     notAssessed,
			OtherRisks:       []string{},
		},
		ClinicalInference: ClinicalInference{
			PrimaryDiagnosis:      fallbackDiagnosis,
			DifferentialDiagnoses: []string{},
			Recommendations:       []string{fallbackAdvice},
		},
	}
}

// normalize replaces nil lists so the document always serializes arrays.
func (c *clinicalSections) normalize() {
	orEmpty := func(s *[]string) {
		if *s == nil {
			*s = []string{}
		}
	}
	orEmpty(&c.Narrative.SymptomMarkers)
	orEmpty(&c.Narrative.PhysicalMarkers)
	orEmpty(&c.Narrative.BehavioralMarkers)
	orEmpty(&c.RiskIndicators.OtherRisks)
	orEmpty(&c.ClinicalInference.DifferentialDiagnoses)
	orEmpty(&c.ClinicalInference.Recommendations)
}

func (c clinicalSections) empty() bool {
	return c.Narrative.Description == "" &&
		len(c.Narrative.SymptomMarkers) == 0 &&
		c.ClinicalInference.PrimaryDiagnosis == "" &&
		len(c.ClinicalInference.Recommendations) == 0
}
