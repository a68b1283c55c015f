// Command intakectl checks intake configuration and pokes a running intake
// runtime over the bus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
	"github.com/loqalabs/loqa-intake/internal/protocol"
	"github.com/loqalabs/loqa-intake/internal/session"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'start', 'signal' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "signal":
		err = runSignal(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "intake.yaml", "Path to configuration file")
	_ = fs.Parse(args)
	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Println("config valid")
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "intake.yaml", "Path to configuration file")
	sessionID := fs.String("session", "", "Room name of the interview to open")
	_ = fs.Parse(args)
	if *sessionID == "" {
		return errors.New("-session is required")
	}
	return publish(*configPath, protocol.SubjectSessionStart, protocol.SessionStart{
		SessionID: *sessionID,
		Timestamp: time.Now().UTC(),
	})
}

// runSignal sends GENERATE_REPORT. -dialogue names a JSON file holding a
// list of {speaker,text} turns; "-" reads it from stdin.
func runSignal(args []string) error {
	fs := flag.NewFlagSet("signal", flag.ExitOnError)
	configPath := fs.String("config", "intake.yaml", "Path to configuration file")
	sessionID := fs.String("session", "", "Room name the report is for")
	dialoguePath := fs.String("dialogue", "", "Optional dialogue file replacing the live transcript")
	_ = fs.Parse(args)
	if *sessionID == "" {
		return errors.New("-session is required")
	}

	var raw json.RawMessage
	if *dialoguePath != "" {
		data, err := readInput(*dialoguePath)
		if err != nil {
			return fmt.Errorf("read dialogue: %w", err)
		}
		if _, err := session.DecodeDialogue(data); err != nil {
			return err
		}
		raw = data
	}
	return publish(*configPath, protocol.SubjectSessionSignal, protocol.Signal{
		Type: protocol.SignalGenerateReport,
		Data: protocol.SignalData{Dialogue: raw, Meta: protocol.SignalMeta{SessionID: *sessionID}},
	})
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func publish(configPath, subject string, v any) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := bus.Connect(context.Background(), cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.PublishJSON(subject, v); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := client.Conn().Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Printf("published %s\n", subject)
	return nil
}
