package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultGraphURL is the Messenger Send API endpoint.
const DefaultGraphURL = "https://graph.facebook.com/v2.6/me/messages"

// SendError is returned when the platform rejects a message.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsSendError checks if an error is a platform rejection.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

// GraphProvider sends messages through the Messenger Send API.
type GraphProvider struct {
	pageToken string
	apiURL    string
	client    *http.Client
	logger    *slog.Logger
}

// NewGraphProvider creates a provider for a page access token.
// An empty apiURL selects DefaultGraphURL.
func NewGraphProvider(pageToken, apiURL string, logger *slog.Logger) *GraphProvider {
	if apiURL == "" {
		apiURL = DefaultGraphURL
	}
	return &GraphProvider{
		pageToken: pageToken,
		apiURL:    apiURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

type graphSendRequest struct {
	Recipient graphRecipient `json:"recipient"`
	Message   graphMessage   `json:"message"`
}

type graphRecipient struct {
	ID string `json:"id"`
}

type graphMessage struct {
	Text string `json:"text"`
}

// Send posts one text message. Failures are returned, never retried.
func (g *GraphProvider) Send(ctx context.Context, recipientID, text string) error {
	jsonData, err := json.Marshal(graphSendRequest{
		Recipient: graphRecipient{ID: recipientID},
		Message:   graphMessage{Text: text},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint, err := url.Parse(g.apiURL)
	if err != nil {
		return fmt.Errorf("parse API URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("access_token", g.pageToken)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &SendError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	g.logger.Debug("Send API request completed",
		"to", recipientID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
