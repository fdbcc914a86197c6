// Package server provides the HTTP server and routing for the trading
// bot: the chat platform webhook plus a set of read-only admin endpoints
// for operational visibility into trades, positions, alerts, and audit
// history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/config"
	"github.com/aristath/tradebot/internal/di"
	"github.com/aristath/tradebot/internal/domain"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
}

// Server wraps the chi router and HTTP listener.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	container *di.Container
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/webhook", func(r chi.Router) {
		r.Post("/interactions", s.handleInteraction)
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Get("/trades/{tradeID}", s.handleGetTrade)
		r.Get("/positions/{userID}", s.handleListPositions)
		r.Get("/alerts/{userID}", s.handleListAlerts)
		r.Get("/audit", s.handleListAudit)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// interactionPayload is the normalized webhook body this system expects
// from the chat platform; it maps 1:1 onto chat.Event.
type interactionPayload struct {
	Type      chat.EventType    `json:"type"`
	Command   string            `json:"command"`
	UserID    string            `json:"user_id"`
	ChannelID string            `json:"channel_id"`
	TriggerID string            `json:"trigger_id"`
	ViewID    string            `json:"view_id"`
	ActionID  string            `json:"action_id"`
	Values    map[string]string `json:"values"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var payload interactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	ev := chat.Event{
		Type:      payload.Type,
		UserID:    payload.UserID,
		ChannelID: payload.ChannelID,
		TriggerID: payload.TriggerID,
		ViewID:    payload.ViewID,
		ActionID:  payload.ActionID,
		Values:    payload.Values,
	}

	ctx := r.Context()
	var err error
	switch ev.Type {
	case chat.EventSlashCommand:
		user, getErr := s.container.Store.Users.GetByChatID(ctx, ev.UserID)
		if getErr != nil || user == nil {
			http.Error(w, "unknown user", http.StatusForbidden)
			return
		}
		err = s.container.Orch.HandleSlashCommand(ctx, payload.Command, ev, *user)
	case chat.EventBlockAction:
		err = s.container.Orch.HandleBlockAction(ctx, ev)
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err != nil {
		s.log.Error().Err(err).Str("action_id", ev.ActionID).Msg("interaction handling failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.container.LedgerDB.HealthCheck(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")
	trade, err := s.container.Store.Trades.Get(r.Context(), tradeID)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			http.Error(w, "trade not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if trade == nil {
		http.Error(w, "trade not found", http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(trade)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	positions, err := s.container.Store.Positions.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(positions)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	alerts, err := s.container.Store.Alerts.ListByOwner(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(alerts)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		http.Error(w, "correlation_id is required", http.StatusBadRequest)
		return
	}
	entries, err := s.container.Store.Audit.ListByCorrelationID(r.Context(), correlationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(entries)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
