// Package command interprets text sent by subscribers and builds the replies.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"roguestock-notifier/catalog"
	"roguestock-notifier/pkg/notifier"
	"roguestock-notifier/registry"
	"strings"
	"time"
)

// Registry interface for session bookkeeping.
type Registry interface {
	Touch(id string)
	Subscribe(id, key string) error
	UnsubscribeAll(id string) []registry.Elapsed
	Status(id string) registry.Report
	Count(id string) int
	Limit() int
	ClaimFirstNotice(key, id string) bool
	ReleaseFirstNotice(key, id string)
}

// Formatter interface for rendering stock notices.
type Formatter interface {
	Format(n notifier.Notice) string
}

// Replier interface for queueing replies to a subscriber.
type Replier interface {
	SendText(ctx context.Context, id, text string) error
}

// Config holds interpreter dependencies.
type Config struct {
	Catalog   *catalog.Catalog
	Registry  Registry
	Formatter Formatter
	Replier   Replier
	Logger    *slog.Logger
	Location  *time.Location
}

// Interpreter maps inbound text to registry operations and reply text.
type Interpreter struct {
	catalog   *catalog.Catalog
	registry  Registry
	formatter Formatter
	replier   Replier
	logger    *slog.Logger
	loc       *time.Location
}

// New creates an interpreter.
func New(cfg *Config) *Interpreter {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Interpreter{
		catalog:   cfg.Catalog,
		registry:  cfg.Registry,
		formatter: cfg.Formatter,
		replier:   cfg.Replier,
		logger:    cfg.Logger,
		loc:       loc,
	}
}

// Handle processes one text message from id and queues the reply.
// If the reply carried a first-check notice and could not be queued,
// the notice is handed back to the scheduler.
func (in *Interpreter) Handle(ctx context.Context, id, text string) error {
	reply, claimed := in.reply(id, text)
	if err := in.replier.SendText(ctx, id, reply); err != nil {
		if claimed != "" {
			in.registry.ReleaseFirstNotice(claimed, id)
		}
		return fmt.Errorf("queue reply: %w", err)
	}
	return nil
}

// HandlePostback answers a button press. Unknown payloads get no reply.
func (in *Interpreter) HandlePostback(ctx context.Context, id, payload string) error {
	var reply string
	switch payload {
	case "yes":
		reply = "Thanks!"
	case "no":
		reply = "Oops, try sending another image."
	default:
		in.logger.Debug("Ignoring unknown postback", "subscriber", id, "payload", payload)
		return nil
	}
	if err := in.replier.SendText(ctx, id, reply); err != nil {
		return fmt.Errorf("queue reply: %w", err)
	}
	return nil
}

// reply builds the answer to text. claimed names the item whose
// first-check notice the reply carries, if any.
func (in *Interpreter) reply(id, text string) (reply, claimed string) {
	raw := strings.TrimSpace(text)
	cmd := strings.ToLower(raw)
	in.registry.Touch(id)

	switch cmd {
	case "help":
		return in.help(), ""
	case "status":
		return in.status(id), ""
	case "stop":
		return in.stop(id), ""
	}

	err := in.registry.Subscribe(id, cmd)
	switch {
	case errors.Is(err, registry.ErrUnknownItem):
		return fmt.Sprintf("INVALID\nYou entered: %q.\n\nItem doesn't exist\nTry typing `help` for a list of all valid commands", raw), ""
	case errors.Is(err, registry.ErrLimitExceeded):
		return fmt.Sprintf("INVALID\nYou have reached max limit of \"%d\" items\n", in.registry.Limit()), ""
	case errors.Is(err, registry.ErrAlreadySubscribed):
		item, _ := in.catalog.Item(cmd)
		return fmt.Sprintf("INVALID\nAlready searching: %q.\n", item.ProductName), ""
	case err != nil:
		in.logger.Error("Subscribe failed", "subscriber", id, "item", cmd, "error", err)
		return "Something went wrong, please try again.", ""
	}

	in.logger.Info("Subscriber added", "subscriber", id, "item", cmd, "tracking", in.registry.Count(id))
	return in.acknowledge(id, cmd)
}

// acknowledge replies to a new subscription with the latest observed data.
// The first-check notice goes to whichever path claims it first; when the
// item has not been observed or the scheduler got there first, the reply
// only confirms the subscription.
func (in *Interpreter) acknowledge(id, key string) (string, string) {
	entry, _ := in.catalog.Entry(key)
	item := entry.Item()
	tracking := in.registry.Count(id)
	limit := in.registry.Limit()

	summary, checkedAt, ok := entry.Summary()
	if !ok {
		return searchingText(item, tracking, limit, "First check pending, results will follow shortly."), ""
	}
	if !in.registry.ClaimFirstNotice(key, id) {
		return searchingText(item, tracking, limit, "First check results are on the way."), ""
	}

	return in.formatter.Format(notifier.Notice{
		Item:      item,
		Kind:      notifier.FirstObservation,
		Summary:   summary,
		Tracking:  tracking,
		Limit:     limit,
		CheckedAt: checkedAt,
	}), key
}

func searchingText(item notifier.CatalogItem, tracking, limit int, note string) string {
	return fmt.Sprintf("Now searching for: %q.\nCurrently searching %d/%d items\n\n%s\nLink %s",
		item.ProductName, tracking, limit, note, item.URL)
}

func (in *Interpreter) help() string {
	var b strings.Builder
	b.WriteString("HELP MSG:\nSearch for the following items\n: ")
	for _, key := range in.catalog.Keys() {
		b.WriteString(key + "\n")
	}
	b.WriteString(" \nType `stop` to stop checking all items \n")
	return b.String()
}

func (in *Interpreter) status(id string) string {
	rep := in.registry.Status(id)

	var b strings.Builder
	fmt.Fprintf(&b, "STATUS %d/%d items:\n", len(rep.Items), rep.Limit)
	fmt.Fprintf(&b, "There are %d total users searching\n\n", rep.TotalUsers)
	for _, e := range rep.Items {
		fmt.Fprintf(&b, "%s / %s\nTime elapsed: %s\n\n", e.ProductName, e.Key, formatElapsed(e.Duration))
	}
	fmt.Fprintf(&b, "Last reset: %s\n", rep.StartedAt.In(in.loc).Format(notifier.TimeLayout))
	return b.String()
}

func (in *Interpreter) stop(id string) string {
	cleared := in.registry.UnsubscribeAll(id)
	in.logger.Info("Subscriber stopped", "subscriber", id, "items", len(cleared))

	var b strings.Builder
	fmt.Fprintf(&b, "STOP MSG:\nStopped checking %d item(s):\n\n", len(cleared))
	for _, e := range cleared {
		fmt.Fprintf(&b, "%s\nTime elapsed: %s\n\n", e.ProductName, formatElapsed(e.Duration))
	}
	return b.String()
}

// formatElapsed renders a duration as h:m:s without padding.
func formatElapsed(d time.Duration) string {
	s := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%d:%d", s/3600, s/60%60, s%60)
}
