// Package notify announces finished runs on the bus. A downstream mailer
// subscribes to these subjects.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/learnpod/internal/protocol"
)

// Publishing is the part of the bus the publisher needs. *bus.Client satisfies it.
type Publishing interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type Publisher struct {
	bus    Publishing
	prefix string
	log    *slog.Logger
}

func NewPublisher(bus Publishing, subjectPrefix string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{bus: bus, prefix: subjectPrefix, log: log.With(slog.String("component", "notify"))}
}

func (p *Publisher) Completed(ctx context.Context, msg protocol.RunCompleted) error {
	return p.publish(ctx, protocol.Subject(p.prefix, protocol.SubjectRunCompleted), msg.RunID, msg)
}

func (p *Publisher) Failed(ctx context.Context, msg protocol.RunFailed) error {
	return p.publish(ctx, protocol.Subject(p.prefix, protocol.SubjectRunFailed), msg.RunID, msg)
}

func (p *Publisher) publish(ctx context.Context, subject, runID string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		return err
	}
	p.log.Info("run notification published", slog.String("subject", subject), slog.String("run_id", runID))
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Completed(context.Context, protocol.RunCompleted) error { return nil }
func (Discard) Failed(context.Context, protocol.RunFailed) error       { return nil }
