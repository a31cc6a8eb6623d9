// Command server runs the automation engine behind an HTTP surface: an event
// trigger endpoint, the administrative rule CRUD (each mutation invalidating
// the rule cache), and the execution audit trail.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/forumkit/automation/engine"
	"github.com/forumkit/automation/execution"
	"github.com/forumkit/automation/internal/logger"
	"github.com/forumkit/automation/rules"
	"github.com/forumkit/automation/sinks"
)

type config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        string `env:"PORT" envDefault:"8080"`

	// RedisAddr switches the idempotency store to Redis when set, for
	// horizontally replicated deployments.
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisRetention time.Duration `env:"REDIS_RETENTION" envDefault:"168h"`

	RuleCacheTTL time.Duration `env:"RULE_CACHE_TTL" envDefault:"30s"`
	PublishWait  time.Duration `env:"PUBLISH_WAIT" envDefault:"250ms"`

	MaxAttempts    int           `env:"ACTION_MAX_ATTEMPTS" envDefault:"4"`
	InitialBackoff time.Duration `env:"ACTION_INITIAL_BACKOFF" envDefault:"200ms"`
	MaxBackoff     time.Duration `env:"ACTION_MAX_BACKOFF" envDefault:"5s"`
	AttemptTimeout time.Duration `env:"ACTION_ATTEMPT_TIMEOUT" envDefault:"10s"`
}

type server struct {
	db     *sql.DB
	store  *rules.CachedStore
	pg     *rules.PostgresStore
	audit  execution.Auditor
	bus    *engine.Bus
	router *chi.Mux
	log    *slog.Logger
}

func newServer(cfg config, log *slog.Logger) (*server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newServerWithDB(db, cfg, log)
}

// newServerWithDB wires the server over an existing connection. Tests use it
// directly.
func newServerWithDB(db *sql.DB, cfg config, log *slog.Logger) (*server, error) {
	pgRules := rules.NewPostgresStore(db)
	store := rules.NewCachedStore(pgRules, rules.CacheConfig{TTL: cfg.RuleCacheTTL})

	pgRecords := execution.NewPostgresStore(db)
	var records execution.Store = pgRecords
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		records = execution.NewRedisStore(client, cfg.RedisRetention)
		log.Info("using redis idempotency store", slog.String("addr", cfg.RedisAddr))
	}

	registry := engine.NewDefaultRegistry(
		sinks.NewPostgresCreditsLedger(db),
		sinks.NewPostgresBadgeStore(db),
		sinks.NewPostgresNotifier(db),
	)
	executor := engine.NewExecutor(registry, records, engine.ExecutorConfig{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		AttemptTimeout: cfg.AttemptTimeout,
	}, log)
	bus := engine.NewBus(store, executor, engine.BusConfig{WaitBudget: cfg.PublishWait}, log)

	s := &server{
		db:    db,
		store: store,
		pg:    pgRules,
		audit: pgRecords,
		bus:   bus,
		log:   log,
	}
	s.setupRoutes()
	return s, nil
}

func (s *server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/events", s.handleTrigger)
	r.Get("/api/v1/events/{eventId}/executions", s.handleListExecutions)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Post("/reorder", s.handleReorderRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/enable", s.handleSetEnabled(true))
			r.Post("/disable", s.handleSetEnabled(false))
		})
	})

	s.router = r
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleTrigger publishes an event. The response reports what was scheduled;
// it never reports automation failures, which live in the audit trail.
func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !req.Type.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", req.Type), nil)
		return
	}

	ev, err := buildEvent(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err)
		return
	}

	result := s.bus.Publish(r.Context(), ev)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"eventId":    result.EventID,
		"candidates": result.Candidates,
		"matched":    result.Matched,
		"completed":  result.Completed,
	})
}

func (s *server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	records, err := s.audit.ListByEvent(r.Context(), eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}

	type executionResponse struct {
		EventID     string    `json:"eventId"`
		RuleID      int64     `json:"ruleId"`
		ActionIndex int       `json:"actionIndex"`
		Status      string    `json:"status"`
		Attempts    int       `json:"attempts"`
		LastError   string    `json:"lastError,omitempty"`
		ExecutedAt  time.Time `json:"executedAt"`
	}
	list := make([]executionResponse, 0, len(records))
	for _, rec := range records {
		list = append(list, executionResponse{
			EventID:     rec.Key.EventID,
			RuleID:      rec.Key.RuleID,
			ActionIndex: rec.Key.ActionIndex,
			Status:      string(rec.Status),
			Attempts:    rec.Attempts,
			LastError:   rec.LastError,
			ExecutedAt:  rec.ExecutedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": list})
}

func (s *server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.pg.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(0)
	if err := rules.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.store.Add(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}
	rule, err := s.store.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(id)
	if err := rules.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.store.Update(r.Context(), rule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := ruleID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ruleID(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid rule id", err)
			return
		}
		if err := s.store.SetEnabled(r.Context(), id, enabled); err != nil {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
	}
}

func (s *server) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids are required", nil)
		return
	}
	if err := s.store.Reorder(r.Context(), req.IDs); err != nil {
		respondError(w, http.StatusBadRequest, "failed to reorder rules", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ruleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "ruleId"), 10, 64)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	log := logger.New("automation")

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := newServer(cfg, log)
	if err != nil {
		log.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer srv.db.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", slog.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
