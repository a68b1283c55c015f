package natsserver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-intake/internal/bus"
	"github.com/loqalabs/loqa-intake/internal/config"
)

func TestStartDisabledReturnsNil(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, discardLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server, got %v %v", srv, err)
	}
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatal("nil server should have no client url")
	}
}

func TestEmbeddedRoundTrip(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, discardLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, discardLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if !client.Healthy() {
		t.Fatal("expected connected client")
	}

	sub, err := client.Conn().SubscribeSync("report.ready")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.PublishJSON("report.ready", map[string]string{"session_id": "room-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != `{"session_id":"room-1"}` {
		t.Fatalf("unexpected payload %s", msg.Data)
	}
}

func TestEmbeddedEnforcesToken(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, Token: "s3cret"}, discardLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	if _, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, discardLogger()); err == nil {
		t.Fatal("expected anonymous connect to be rejected")
	}

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		Token:          "s3cret",
		ConnectTimeout: 2000,
	}, discardLogger())
	if err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	client.Close()
}

func TestTokenAndUserAreExclusive(t *testing.T) {
	if _, err := Start(config.BusConfig{Embedded: true, Port: -1, Token: "t", Username: "u"}, discardLogger()); err == nil {
		t.Fatal("expected configuration error")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
