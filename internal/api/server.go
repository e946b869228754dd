// Package api provides the HTTP boundary for the habitloop engine: decoding
// wire-format requests into the core's domain calls and encoding their
// results back to JSON. Validation of entity invariants happens in
// internal/core; this package only shapes the DTOs spec.md §6 describes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/evaluator"
	"github.com/habitloop/engine/internal/ingestion"
	"github.com/habitloop/engine/internal/notifications"
	"github.com/habitloop/engine/internal/policy"
	"github.com/habitloop/engine/internal/routines"
	"github.com/habitloop/engine/internal/storage"
)

// Server is the HTTP boundary in front of the ingestion coordinator and the
// rest of the core's read paths.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	coordinator *ingestion.Coordinator
	pipeline    *evaluator.ExecutionPipeline

	events           *storage.EventStore
	reminders        *storage.ReminderStore
	routines         *storage.RoutineStore
	routineReminders *storage.RoutineReminderStore
	preferences      *storage.PreferencesStore
	cooldowns        *storage.CooldownStore
	config           *storage.ConfigStore

	routineLearner *routines.Learner

	wsHub        *notifications.WSHub
	notifService *notifications.Service
	policies     *policy.Provider
	clock        clock.Clock
}

// Config wires every dependency the API surface drives.
type Config struct {
	Port             int
	Coordinator      *ingestion.Coordinator
	Pipeline         *evaluator.ExecutionPipeline
	Events           *storage.EventStore
	Reminders        *storage.ReminderStore
	Routines         *storage.RoutineStore
	RoutineReminders *storage.RoutineReminderStore
	Preferences      *storage.PreferencesStore
	Cooldowns        *storage.CooldownStore
	ConfigStore      *storage.ConfigStore
	RoutineLearner   *routines.Learner
	Notifications    *notifications.Service
	WSHub            *notifications.WSHub
	Policies         *policy.Provider
	Clock            clock.Clock
}

// New builds a Server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		coordinator:      cfg.Coordinator,
		pipeline:         cfg.Pipeline,
		events:           cfg.Events,
		reminders:        cfg.Reminders,
		routines:         cfg.Routines,
		routineReminders: cfg.RoutineReminders,
		preferences:      cfg.Preferences,
		cooldowns:        cfg.Cooldowns,
		config:           cfg.ConfigStore,
		routineLearner:   cfg.RoutineLearner,
		wsHub:            cfg.WSHub,
		notifService:     cfg.Notifications,
		policies:         cfg.Policies,
		clock:            cfg.Clock,
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         addrFor(cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func addrFor(port int) string {
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.handleIngestEvent)

		r.Route("/reminders", func(r chi.Router) {
			r.Get("/", s.handleListReminders)
			r.Get("/{id}", s.handleGetReminder)
			r.Post("/{id}/process", s.handleProcessReminder)
		})

		r.Route("/routines", func(r chi.Router) {
			r.Get("/", s.handleListRoutines)
			r.Get("/{id}/reminders", s.handleListRoutineReminders)
			r.Post("/reminders/{reminderId}/feedback", s.handleRoutineReminderFeedback)
		})

		r.Route("/preferences/{personId}", func(r chi.Router) {
			r.Get("/", s.handleGetPreferences)
			r.Put("/", s.handleUpdatePreferences)
		})

		r.Route("/cooldowns/{personId}/{actionType}", func(r chi.Router) {
			r.Get("/", s.handleGetCooldown)
			r.Put("/", s.handleSetCooldown)
		})

		r.Route("/config/{category}", func(r chi.Router) {
			r.Get("/", s.handleGetConfigCategory)
			r.Put("/{key}", s.handleSetConfigValue)
		})

		if s.notifService != nil {
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
			})
		}
	})

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWebSocket)
	}

	s.router = r
}

// Start begins serving HTTP requests. It blocks until Stop is called.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
