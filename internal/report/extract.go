package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// parseSections pulls the clinical sections out of raw model output. Models
// tend to wrap the document in prose or code fences, and sometimes echo an
// empty template first, so the first JSON object that carries clinical
// content wins.
func parseSections(raw string) (clinicalSections, error) {
	if strings.TrimSpace(raw) == "" {
		return clinicalSections{}, ErrEmptyOutput
	}
	data := []byte(raw)
	found := false
	var lastErr error
	for i := 0; i < len(data); i++ {
		if data[i] != '{' {
			continue
		}
		obj, ok := decodeObject(data[i:])
		if !ok {
			continue
		}
		found = true
		var sections clinicalSections
		if err := json.Unmarshal(obj, &sections); err != nil {
			lastErr = err
			continue
		}
		if sections.empty() {
			continue
		}
		sections.normalize()
		return sections, nil
	}
	switch {
	case !found:
		return clinicalSections{}, ErrMalformed
	case lastErr != nil:
		return clinicalSections{}, fmt.Errorf("%w: %v", ErrMalformed, lastErr)
	default:
		return clinicalSections{}, fmt.Errorf("%w: missing clinical sections", ErrMalformed)
	}
}

// decodeObject reports the complete JSON object at the start of data.
func decodeObject(data []byte) (json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var obj json.RawMessage
	if err := dec.Decode(&obj); err != nil || len(obj) == 0 || obj[0] != '{' {
		return nil, false
	}
	return obj, true
}
