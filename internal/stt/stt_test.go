package stt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/natsserver"
	"github.com/loqalabs/loqa-intake/internal/protocol"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x10, 0x00, 0x00, 0x80}
	if err := encodeWAV(f, Utterance{PCM: pcm, SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rf.Close()
	dec := wav.NewDecoder(rf)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []int{1, -1, 16, -32768}
	if dec.SampleRate != 16000 || len(buf.Data) != len(want) {
		t.Fatalf("unexpected wav: rate=%d samples=%v", dec.SampleRate, buf.Data)
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestEncodeWAVRejectsOddPayload(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "odd.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := encodeWAV(f, Utterance{PCM: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestNewRecognizerModes(t *testing.T) {
	if _, err := NewRecognizer(config.STTConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := NewRecognizer(config.STTConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := NewRecognizer(config.STTConfig{Mode: "telepathy"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestServicePublishesFinalTranscriptPerUtterance(t *testing.T) {
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

	recognizer := RecognizerFunc(func(_ context.Context, u Utterance) (Result, error) {
		if u.SampleRate != 16000 || u.Channels != 1 {
			t.Errorf("unexpected format %d/%d", u.SampleRate, u.Channels)
		}
		if len(u.PCM) == 4 {
			return Result{Text: "I feel tired", Confidence: 0.9}, nil
		}
		return Result{Text: "second"}, nil
	})
	svc := NewService(context.Background(), config.STTConfig{Enabled: true, SampleRate: 16000, Channels: 1}, client, recognizer, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = client.Conn().Flush()

	subject := protocol.SubjectAudioFramePrefix + ".room-1"
	frames := []protocol.AudioFrame{
		{Sequence: 0, PCM: []byte{1, 0}},
		{Sequence: 1, PCM: []byte{2, 0}, Final: true},
		{Sequence: 2, PCM: []byte{3, 0, 4, 0, 5, 0}, Final: true},
	}
	for _, f := range frames {
		if err := client.PublishJSON(subject, f); err != nil {
			t.Fatalf("publish frame: %v", err)
		}
	}

	var got []protocol.Transcript
	for i := 0; i < 2; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("waiting for transcript %d: %v", i, err)
		}
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, tr)
	}
	if got[0].Text != "I feel tired" || got[0].SessionID != "room-1" || got[0].Partial {
		t.Fatalf("unexpected first transcript %+v", got[0])
	}
	if got[1].Text != "second" {
		t.Fatalf("utterances out of order: %+v", got)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
