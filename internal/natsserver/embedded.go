package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedServer wraps a NATS server instance so serve mode needs no external broker.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts an embedded NATS server with JetStream enabled. It
// returns nil when the bus is configured for an external broker. A negative
// port picks a free one.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "natsserver"))

	storeDir := cfg.StoreDir
	if storeDir == "" {
		storeDir = "./data/nats"
	}
	opts := &server.Options{
		ServerName: "learnpod",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within %s", readyTimeout)
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", storeDir))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// ClientURL is the address clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Shutdown gracefully shuts down the embedded NATS server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
