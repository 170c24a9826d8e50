package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/api/handler"
	mw "github.com/edvin/botplane/internal/api/middleware"
)

// HandlerBudget caps the work one control-plane request may do.
const HandlerBudget = 30 * time.Second

// Store is the part of the store the handlers read directly.
type Store interface {
	handler.DeploymentLookup
	handler.AgentStore
}

// Pinger reports whether a dependency is reachable. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Authenticator issues and checks operator tokens.
type Authenticator interface {
	handler.Authenticator
	mw.TokenValidator
}

// Services are the components the routes are served by.
type Services struct {
	Store        Store
	DB           Pinger
	Auth         Authenticator
	Lifecycle    handler.BotController
	Prober       handler.Prober
	Reconciler   handler.Reconciler
	Preflight    handler.PreflightRunner
	Migrator     handler.Migrator
	Whitelist    handler.WhitelistSyncer
	Provisioner  handler.Provisioner
	Verifier     handler.AgentVerifier
	Agent        handler.BotAgent
	Progression  handler.ProgressionService
	Realtime     http.Handler
	UpdateSecret string
}

type Server struct {
	router chi.Router
	logger zerolog.Logger
	svc    Services
}

func NewServer(logger zerolog.Logger, svc Services) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		svc:    svc,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
	s.router.Use(mw.CORS)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	login := handler.NewAuth(s.svc.Auth)
	s.router.Post("/auth/login", login.Login)

	s.router.Group(func(r chi.Router) {
		r.Use(mw.Auth(s.svc.Auth))

		// Instance creation polls the provider for an address and is bounded
		// by the provisioner's own attempt count instead.
		provision := handler.NewProvision(s.svc.Provisioner, s.svc.Verifier)
		r.Post("/provision-vps", provision.Create)

		if s.svc.Realtime != nil {
			r.Get("/realtime", s.svc.Realtime.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(mw.Budget(HandlerBudget))

			lifecycle := handler.NewLifecycle(s.svc.Lifecycle, s.svc.Preflight)
			r.Post("/bot-lifecycle", lifecycle.Handle)

			health := handler.NewHealth(s.svc.Store, s.svc.Prober, s.svc.Reconciler)
			r.Post("/check-vps-health", health.Check)

			preflight := handler.NewPreflight(s.svc.Preflight)
			r.Post("/trade-preflight", preflight.Run)

			migrate := handler.NewMigrate(s.svc.Migrator)
			r.Post("/migrate-vps", migrate.Handle)

			whitelist := handler.NewWhitelist(s.svc.Whitelist)
			r.Post("/sync-ip-whitelist", whitelist.Sync)

			r.Post("/vps-instance", provision.Instance)
			r.Post("/deploy-vps-api", provision.Verify)

			agent := handler.NewAgent(s.svc.Store, s.svc.Agent, s.svc.UpdateSecret)
			r.Post("/update-bot", agent.UpdateBot)
			r.Get("/ping-exchanges", agent.PingExchanges)

			progression := handler.NewProgression(s.svc.Progression)
			r.Get("/progression", progression.Get)
			r.Post("/progression/trades", progression.RecordTrade)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if s.svc.DB == nil {
		checks["db"] = "not configured"
		healthy = false
	} else if err := s.svc.DB.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
