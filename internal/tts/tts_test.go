package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/natsserver"
	"github.com/loqalabs/loqa-intake/internal/protocol"
)

type synthFunc func(ctx context.Context, req Request, emit func(Chunk) error) error

func (f synthFunc) Synthesize(ctx context.Context, req Request, emit func(Chunk) error) error {
	return f(ctx, req, emit)
}

func TestMockSynthLengthTracksWords(t *testing.T) {
	synth, err := NewSynthesizer(config.TTSConfig{Mode: "mock", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	var chunks []Chunk
	err = synth.Synthesize(context.Background(), Request{Text: "how are you feeling"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(chunks) != 1 || !chunks[0].Final {
		t.Fatalf("expected one final chunk, got %+v", chunks)
	}
	// 4 words * 60ms * 16 samples/ms * 2 bytes
	if got := len(chunks[0].PCM); got != 4*60*16*2 {
		t.Fatalf("unexpected pcm length %d", got)
	}
}

func TestMockSynthHonoursCancellation(t *testing.T) {
	synth, _ := NewSynthesizer(config.TTSConfig{Mode: "mock", SampleRate: 16000, Channels: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := synth.Synthesize(ctx, Request{Text: "hello"}, func(Chunk) error {
		t.Fatal("emit should not be called")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSynthesizerModes(t *testing.T) {
	if _, err := NewSynthesizer(config.TTSConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := NewSynthesizer(config.TTSConfig{Mode: "exec", Command: `piper "unterminated`}); err == nil {
		t.Fatal("expected error for unparsable command")
	}
	if _, err := NewSynthesizer(config.TTSConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestServiceStreamsChunksAndStatus(t *testing.T) {
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

	voices := make(chan string, 1)
	synth := synthFunc(func(_ context.Context, req Request, emit func(Chunk) error) error {
		voices <- req.Voice
		if err := emit(Chunk{PCM: []byte{1, 0}}); err != nil {
			return err
		}
		return emit(Chunk{PCM: []byte{2, 0}, Final: true})
	})
	cfg := config.TTSConfig{Enabled: true, Voice: "en-GB", SampleRate: 22050, Channels: 1}
	svc := NewService(context.Background(), cfg, client, synth, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	audio, err := client.Conn().SubscribeSync(protocol.SubjectTTSAudio)
	if err != nil {
		t.Fatalf("subscribe audio: %v", err)
	}
	done, err := client.Conn().SubscribeSync(protocol.SubjectTTSDone)
	if err != nil {
		t.Fatalf("subscribe done: %v", err)
	}
	_ = client.Conn().Flush()

	if err := client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{SessionID: "room-1", Text: "Hello there"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		msg, err := audio.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("waiting for chunk %d: %v", i, err)
		}
		var chunk protocol.AudioChunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		if chunk.Sequence != i || chunk.SessionID != "room-1" || chunk.SampleRate != 22050 {
			t.Fatalf("unexpected chunk %+v", chunk)
		}
		if chunk.Final != (i == 1) {
			t.Fatalf("chunk %d final=%v", i, chunk.Final)
		}
	}
	msg, err := done.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("waiting for status: %v", err)
	}
	var status protocol.TTSStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Completed || status.SessionID != "room-1" {
		t.Fatalf("unexpected status %+v", status)
	}
	if v := <-voices; v != "en-GB" {
		t.Fatalf("expected default voice, got %q", v)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
