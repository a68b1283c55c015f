package session

import (
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-intake/internal/transcript"
)

type eventKind int

const (
	eventSpeech eventKind = iota
	eventModel
	eventTextStream
	eventIdle
	eventSignal
)

// event is one queued input for a session goroutine.
type event struct {
	kind        eventKind
	turn        transcript.Turn
	traceID     string
	dialogue    []transcript.Turn
	hasDialogue bool
}

type wireTurn struct {
	Speaker string `json:"speaker"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

// DecodeDialogue parses an externally supplied dialogue. Items may use
// speaker/text or role/content. An absent or null dialogue yields nil.
func DecodeDialogue(raw json.RawMessage) ([]transcript.Turn, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []wireTurn
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode dialogue: %w", err)
	}
	turns := make([]transcript.Turn, 0, len(items))
	for _, it := range items {
		speaker := it.Speaker
		if speaker == "" {
			speaker = it.Role
		}
		text := it.Text
		if text == "" {
			text = it.Content
		}
		turns = append(turns, transcript.Turn{Speaker: transcript.ParseSpeaker(speaker), Text: text})
	}
	return turns, nil
}
