// Package server provides the HTTP ingress for inbound transport events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/oraclebot/internal/conversation"
	"github.com/raphaelgruber/oraclebot/internal/metrics"
	"github.com/raphaelgruber/oraclebot/internal/telegram"
)

// Dispatcher hands an inbound event to the conversation engine.
type Dispatcher interface {
	HandleMessage(ctx context.Context, msg conversation.Inbound) error
}

// Pinger reports durable store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// Server is the webhook ingress: it decodes transport events, hands them
// to the engine, and answers the transport with a bare status. End users
// only ever see conversational replies, never HTTP errors.
type Server struct {
	httpServer *http.Server
	engine     Dispatcher
	pinger     Pinger
	collector  *metrics.Collector
	logger     *slog.Logger
}

// New creates the ingress server. pinger and collector may be nil.
func New(port string, engine Dispatcher, pinger Pinger, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		pinger:    pinger,
		collector: collector,
		logger:    logger,
	}

	wrap := func(h http.Handler) http.Handler {
		return RecoverMiddleware(logger)(LoggingMiddleware(logger)(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhook", wrap(http.HandlerFunc(s.handleWebhook)))
	mux.Handle("GET /health", wrap(http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /stats", wrap(http.HandlerFunc(s.handleStats)))

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // analysis replies can be slow
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the routed handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("webhook ingress listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down webhook ingress")
	return s.httpServer.Shutdown(ctx)
}

// handleWebhook receives one transport event. Successful hand-off to the
// engine answers 200; any processing failure answers 500 and is logged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.logger.Error("failed to decode inbound update", "error", err)
		s.recordWebhook(start, false)
		http.Error(w, "bad update payload", http.StatusInternalServerError)
		return
	}

	msg, ok := inboundFromUpdate(update)
	if !ok {
		// Non-message updates (edits, channel posts) are acknowledged and
		// dropped; the transport must not retry them.
		s.recordWebhook(start, true)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.engine.HandleMessage(r.Context(), msg); err != nil {
		s.logger.Error("failed to process inbound update",
			"update_id", update.UpdateID, "user_id", msg.UserID, "error", err)
		s.recordWebhook(start, false)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	s.recordWebhook(start, true)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) recordWebhook(start time.Time, ok bool) {
	if s.collector == nil {
		return
	}
	if ok {
		s.collector.RecordTiming(metrics.OpWebhook, time.Since(start))
	} else {
		s.collector.RecordFailure(metrics.OpWebhook)
	}
}

// handleHealth reports liveness plus current store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := false
	if s.pinger != nil {
		database = s.pinger.Ping(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"database": database,
	})
}

// handleStats serves the metrics snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.collector == nil {
		_ = json.NewEncoder(w).Encode(metrics.Snapshot{})
		return
	}
	_ = json.NewEncoder(w).Encode(s.collector.Snapshot())
}

// inboundFromUpdate maps a transport update onto the engine's event type.
// Updates without a routable text message are not dispatched.
func inboundFromUpdate(update telegram.Update) (conversation.Inbound, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Text == "" {
		return conversation.Inbound{}, false
	}
	return conversation.Inbound{
		UserID:    m.From.ID,
		ChatID:    m.Chat.ID,
		FirstName: m.From.FirstName,
		Text:      m.Text,
	}, true
}
