package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Inbound answers messages arriving from a chat platform. Replies are queued by the handler.
type Inbound interface {
	Handle(ctx context.Context, senderID, text string) error
	HandlePostback(ctx context.Context, senderID, payload string) error
}

// TelegramProvider sends and receives messages through a Telegram bot.
// Recipient ids are Telegram chat ids in decimal form.
type TelegramProvider struct {
	bot    *tele.Bot
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewTelegramProvider creates a bot client. Offline skips the startup getMe call.
func NewTelegramProvider(token string, pollTimeout time.Duration, offline bool, logger *slog.Logger) (*TelegramProvider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: pollTimeout},
		Offline: offline,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramProvider{bot: b, logger: logger}, nil
}

// Send delivers text to a chat.
func (t *TelegramProvider) Send(ctx context.Context, recipientID, text string) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Listen long-polls for updates and passes them to h.
// It returns immediately; polling stops when ctx ends or Stop is called.
func (t *TelegramProvider) Listen(ctx context.Context, h Inbound) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		if err := h.Handle(ctx, strconv.FormatInt(chat.ID, 10), c.Text()); err != nil {
			t.logger.Warn("Reply not queued", "chat", chat.ID, "error", err)
		}
		return nil
	})

	t.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		chat := c.Chat()
		if cb == nil || chat == nil {
			return nil
		}
		if err := c.Respond(); err != nil {
			t.logger.Warn("Failed to answer callback", "error", err)
		}
		if err := h.HandlePostback(ctx, strconv.FormatInt(chat.ID, 10), cb.Data); err != nil {
			t.logger.Warn("Reply not queued", "chat", chat.ID, "error", err)
		}
		return nil
	})

	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	go func() {
		t.logger.Info("Telegram polling started")
		t.bot.Start()
		t.logger.Info("Telegram polling stopped")
	}()
}

// Stop ends long polling.
func (t *TelegramProvider) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.bot.Stop()
}

func parseChatID(id string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", id, err)
	}
	return chatID, nil
}
