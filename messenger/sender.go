package messenger

import (
	"context"
	"log/slog"
	"roguestock-notifier/pkg/notifier"
	"time"
)

// Sender turns notices and replies into queued messages.
type Sender struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	loc        *time.Location
}

// New creates a sender on top of a dispatcher. A nil loc uses local time.
func New(dispatcher *Dispatcher, logger *slog.Logger, loc *time.Location) *Sender {
	if loc == nil {
		loc = time.Local
	}
	return &Sender{
		dispatcher: dispatcher,
		logger:     logger,
		loc:        loc,
	}
}

// Format renders a notice in the sender's time zone.
func (s *Sender) Format(n notifier.Notice) string {
	return FormatNotice(n, s.loc)
}

// Notify queues a stock notice for one subscriber.
// A nil error means the message was queued, not that it was delivered.
func (s *Sender) Notify(ctx context.Context, id string, n notifier.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("Queueing stock notice",
		"to", id,
		"item", n.Item.Key,
		"kind", n.Kind.String())
	return s.dispatcher.Enqueue(id, s.Format(n))
}

// SendText queues a plain reply.
func (s *Sender) SendText(ctx context.Context, id, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.dispatcher.Enqueue(id, text)
}
