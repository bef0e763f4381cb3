package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestConnectToEmbeddedServerAndPublish(t *testing.T) {
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatalf("expected healthy connection")
	}

	sub, err := client.Conn().SubscribeSync("learnpod.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Publish(context.Background(), "learnpod.test", []byte("ping")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != "ping" {
		t.Fatalf("unexpected payload %q", msg.Data)
	}
	if _, err := client.JetStream().AccountInfo(); err != nil {
		t.Fatalf("expected jetstream enabled: %v", err)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatalf("expected error without servers")
	}
}

func TestStartSkipsExternalBroker(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: false}, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected no embedded server, got %v %v", srv, err)
	}
	srv.Shutdown()
}

func TestPublishFlushesWithoutCallerDeadline(t *testing.T) {
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	// Same shape as a signal.NotifyContext: cancellable, no deadline.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("expected context without deadline")
	}
	if err := client.Publish(ctx, "learnpod.run.completed", []byte("{}")); err != nil {
		t.Fatalf("publish without deadline: %v", err)
	}

	short, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := client.Publish(short, "learnpod.run.completed", []byte("{}")); err != nil {
		t.Fatalf("publish with deadline: %v", err)
	}
}
