// Package profile resolves the patient profile attached to an interview room.
package profile

import (
	"fmt"
	"strings"
)

// UnknownValue marks a field the upstream directory did not provide.
const UnknownValue = "unknown"

// Profile is the patient record an interview is conducted against. It is
// resolved once per session and not mutated afterwards.
type Profile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Age            string `json:"age"`
	Gender         string `json:"gender"`
	Occupation     string `json:"occupation"`
	EducationLevel string `json:"education_level"`
	MaritalStatus  string `json:"marital_status"`
	Notes          string `json:"notes"`
}

// Unknown returns a profile with every field defaulted.
func Unknown() Profile {
	return Profile{
		ID:             UnknownValue,
		Name:           UnknownValue,
		Age:            UnknownValue,
		Gender:         UnknownValue,
		Occupation:     UnknownValue,
		EducationLevel: UnknownValue,
		MaritalStatus:  UnknownValue,
	}
}

// IsUnknown reports whether p carries no upstream data at all.
func (p Profile) IsUnknown() bool {
	return p == Unknown()
}

// withDefaults fills blank fields with UnknownValue. Notes stay blank.
func (p Profile) withDefaults() Profile {
	def := func(s string) string {
		if s = strings.TrimSpace(s); s == "" {
			return UnknownValue
		}
		return s
	}
	p.ID = def(p.ID)
	p.Name = def(p.Name)
	p.Age = def(p.Age)
	p.Gender = def(p.Gender)
	p.Occupation = def(p.Occupation)
	p.EducationLevel = def(p.EducationLevel)
	p.MaritalStatus = def(p.MaritalStatus)
	p.Notes = strings.TrimSpace(p.Notes)
	return p
}

// PersonaText renders the patient block appended to the interviewer prompt.
func (p Profile) PersonaText() string {
	var b strings.Builder
	b.WriteString("Patient profile:\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.Name)
	fmt.Fprintf(&b, "- Age: %s\n", p.Age)
	fmt.Fprintf(&b, "- Gender: %s\n", p.Gender)
	fmt.Fprintf(&b, "- Occupation: %s\n", p.Occupation)
	fmt.Fprintf(&b, "- Education Level: %s\n", p.EducationLevel)
	fmt.Fprintf(&b, "- Marital Status: %s\n", p.MaritalStatus)
	fmt.Fprintf(&b, "- Notes: %s\n", p.Notes)
	return b.String()
}
