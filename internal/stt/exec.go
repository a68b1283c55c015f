package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer writes each utterance to a temporary WAV file and runs an
// external recognizer (whisper.cpp wrappers and the like) on it. The command
// must print {"text": "...", "confidence": 0.9} on stdout.
type execRecognizer struct {
	argv     []string
	model    string
	language string
}

type execOutput struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("stt command is empty")
	}
	return &execRecognizer{argv: argv, model: cfg.ModelPath, language: cfg.Language}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, u Utterance) (Result, error) {
	f, err := os.CreateTemp("", "intake_utterance_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	werr := encodeWAV(f, u)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return Result{}, werr
	}

	args := append(append([]string{}, r.argv[1:]...), "--audio", f.Name())
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	if r.language != "" {
		args = append(args, "--language", r.language)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.argv[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("decode stt output: %w", err)
	}
	return Result{Text: strings.TrimSpace(out.Text), Confidence: out.Confidence}, nil
}

// encodeWAV writes u as a 16-bit PCM WAV stream.
func encodeWAV(w io.WriteSeeker, u Utterance) error {
	if len(u.PCM)%2 != 0 {
		return errors.New("pcm payload is not 16-bit aligned")
	}
	samples := make([]int, len(u.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(u.PCM[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: u.Channels, SampleRate: u.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, u.SampleRate, 16, u.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
