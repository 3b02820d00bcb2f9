// Package messenger formats stock notices and delivers them through a chat platform.
package messenger

import (
	"context"
	"log/slog"
)

// Provider defines the interface for message delivery implementations.
type Provider interface {
	// Send delivers a plain text message to one recipient.
	Send(ctx context.Context, recipientID, text string) error
}

// MockProvider is a mock provider for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(ctx context.Context, recipientID, text string) error {
	m.logger.Info("MOCK MESSAGE",
		"to", recipientID,
		"text_length", len(text),
		"text", text)
	return nil
}
