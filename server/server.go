// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const maxBodyBytes = 1 << 20

// Inbound interface for answering subscriber messages. Replies are queued by the handler.
type Inbound interface {
	Handle(ctx context.Context, senderID, text string) error
	HandlePostback(ctx context.Context, senderID, payload string) error
}

// Poller interface for triggering checks.
type Poller interface {
	CheckAll(ctx context.Context) error
}

// IsBusy reports whether a poll error means a cycle is already running.
type IsBusy func(error) bool

// Server handles HTTP requests.
type Server struct {
	inbound     Inbound
	poller      Poller
	isBusy      IsBusy
	logger      *slog.Logger
	verifyToken string
	appSecret   string
}

// Config holds server configuration.
type Config struct {
	Inbound     Inbound
	Poller      Poller
	IsBusy      IsBusy
	Logger      *slog.Logger
	VerifyToken string
	AppSecret   string // Enables X-Hub-Signature-256 checks when set
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	isBusy := cfg.IsBusy
	if isBusy == nil {
		isBusy = func(error) bool { return false }
	}
	return &Server{
		inbound:     cfg.Inbound,
		poller:      cfg.Poller,
		isBusy:      isBusy,
		logger:      cfg.Logger,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/pollz", s.handlePoll)
	r.Get("/webhook", s.handleVerify)
	r.Post("/webhook", s.handleWebhook)
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, statusResponse{Status: "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered", "request_id", middleware.GetReqID(r.Context()))

	if err := s.poller.CheckAll(r.Context()); err != nil {
		if s.isBusy(err) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, statusResponse{Status: "busy", Error: err.Error()})
			return
		}
		s.logger.Error("Poll check failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, statusResponse{Status: "failed", Error: "check failed"})
		return
	}
	render.JSON(w, r, statusResponse{Status: "completed"})
}

// handleVerify answers the platform's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if mode != "subscribe" || s.verifyToken == "" ||
		!hmac.Equal([]byte(token), []byte(s.verifyToken)) {
		s.logger.Warn("Webhook verification rejected", "mode", mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.logger.Info("Webhook verified")
	render.PlainText(w, r, challenge)
}

type webhookEvent struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		Text string `json:"text"`
	} `json:"message,omitempty"`
	Postback *struct {
		Payload string `json:"payload"`
	} `json:"postback,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.appSecret != "" {
		if err := verifySignature(s.appSecret, r.Header.Get("X-Hub-Signature-256"), body); err != nil {
			s.logger.Warn("Webhook signature rejected", "error", err, "request_id", middleware.GetReqID(r.Context()))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if ev.Object != "page" {
		http.NotFound(w, r)
		return
	}

	for _, entry := range ev.Entry {
		for _, m := range entry.Messaging {
			s.dispatch(r.Context(), m)
		}
	}
	render.PlainText(w, r, "EVENT_RECEIVED")
}

func (s *Server) dispatch(ctx context.Context, m messagingEvent) {
	id := m.Sender.ID
	if id == "" {
		return
	}

	var err error
	switch {
	case m.Message != nil && m.Message.Text != "":
		err = s.inbound.Handle(ctx, id, m.Message.Text)
	case m.Postback != nil:
		err = s.inbound.HandlePostback(ctx, id, m.Postback.Payload)
	default:
		return
	}
	if err != nil {
		s.logger.Warn("Reply not queued", "to", id, "error", err)
	}
}

var errBadSignature = errors.New("signature mismatch")

// verifySignature checks a "sha256=<hex>" HMAC of body.
func verifySignature(secret, header string, body []byte) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return errors.New("missing sha256 signature")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}
