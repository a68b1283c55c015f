package transcript

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestAppendDiscardsBlankText(t *testing.T) {
	agg := NewAggregator()
	inputs := []Turn{
		{Speaker: SpeakerAI, Text: "Hello"},
		{Speaker: SpeakerPatient, Text: "   "},
		{Speaker: SpeakerPatient, Text: "\n\t"},
		{Speaker: SpeakerPatient, Text: "I feel tired"},
		{Speaker: SpeakerAI, Text: ""},
	}
	for _, in := range inputs {
		agg.Append(in)
	}
	want := []Turn{
		{Speaker: SpeakerAI, Text: "Hello"},
		{Speaker: SpeakerPatient, Text: "I feel tired"},
	}
	if got := agg.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestAppendKeepsDuplicates(t *testing.T) {
	agg := NewAggregator()
	agg.Append(Turn{Speaker: SpeakerPatient, Text: "yes"})
	agg.Append(Turn{Speaker: SpeakerPatient, Text: "yes"})
	if agg.Len() != 2 {
		t.Fatalf("expected duplicates to be kept, got %d turns", agg.Len())
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	agg := NewAggregator()
	agg.Append(Turn{Speaker: SpeakerAI, Text: "one"})
	snap := agg.Snapshot()
	agg.Append(Turn{Speaker: SpeakerAI, Text: "two"})
	snap[0].Text = "mutated"

	if len(snap) != 1 {
		t.Fatalf("snapshot grew with the live log: %+v", snap)
	}
	if got := agg.Snapshot()[0].Text; got != "one" {
		t.Fatalf("snapshot mutation leaked into the log: %q", got)
	}
}

func TestConcurrentChannelsPreservePerChannelOrder(t *testing.T) {
	agg := NewAggregator()
	const perChannel = 200
	var wg sync.WaitGroup
	for _, sp := range []Speaker{SpeakerAI, SpeakerPatient} {
		wg.Add(1)
		go func(sp Speaker) {
			defer wg.Done()
			for i := 0; i < perChannel; i++ {
				agg.Append(Turn{Speaker: sp, Text: fmt.Sprintf("%s-%d", sp, i)})
			}
		}(sp)
	}
	wg.Wait()

	snap := agg.Snapshot()
	if len(snap) != 2*perChannel {
		t.Fatalf("expected %d turns, got %d", 2*perChannel, len(snap))
	}
	next := map[Speaker]int{}
	for _, turn := range snap {
		want := fmt.Sprintf("%s-%d", turn.Speaker, next[turn.Speaker])
		if turn.Text != want {
			t.Fatalf("out of order turn: got %q want %q", turn.Text, want)
		}
		next[turn.Speaker]++
	}
}

func TestParseSpeaker(t *testing.T) {
	cases := map[string]Speaker{
		"AI":        SpeakerAI,
		"assistant": SpeakerAI,
		" Agent ":   SpeakerAI,
		"patient":   SpeakerPatient,
		"user":      SpeakerPatient,
		"":          SpeakerPatient,
	}
	for in, want := range cases {
		if got := ParseSpeaker(in); got != want {
			t.Fatalf("ParseSpeaker(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRender(t *testing.T) {
	got := Render([]Turn{{Speaker: SpeakerAI, Text: "Hello "}, {Speaker: SpeakerPatient, Text: "Hi"}})
	if got != "AI: Hello\nPatient: Hi\n" {
		t.Fatalf("unexpected render %q", got)
	}
}
