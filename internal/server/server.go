// Package server exposes the HTTP surface: webhook ingestion, run
// inspection, PR approval, the SSE dashboard stream, health, and
// Prometheus metrics.
//
// Handlers never mutate pipeline state directly; webhooks go through
// the ingest service and approvals through the orchestrator, so every
// state change stays transactional with its job.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/ingest"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/metrics"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/provider"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/redact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
)

// Config holds the server's own knobs; everything stateful arrives
// through Deps.
type Config struct {
	Addr string
	// Environment gates the unsigned-webhook escape hatch: with no
	// secret configured, development accepts deliveries with a warning
	// and production refuses them.
	Environment string
	// WebhookSecret is shared by all providers.
	WebhookSecret string
}

// Approver enqueues the job that resumes a run parked for approval.
type Approver interface {
	ApproveRun(ctx context.Context, runID string, actor model.ActorIdentity) error
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the server's collaborators. Store, Ingest, Metrics, and Hub
// are required; Providers defaults to the process-wide registry and a
// nil Redactor to the default pattern set.
type Deps struct {
	Store     *store.Store
	Ingest    *ingest.Service
	Providers *provider.Registry
	Approver  Approver
	Hub       *Hub
	Metrics   *metrics.Metrics
	Redactor  *redact.Redactor
	Log       *zap.Logger
	// Ready is pinged by /health/ready; typically the database and
	// Redis.
	Ready []Pinger
}

// Server is the assembled HTTP API.
type Server struct {
	cfg       Config
	store     *store.Store
	ingest    *ingest.Service
	providers *provider.Registry
	approver  Approver
	hub       *Hub
	m         *metrics.Metrics
	red       *redact.Redactor
	log       *zap.Logger
	ready     []Pinger
	router    chi.Router
}

// New wires the router.
func New(cfg Config, d Deps) *Server {
	if d.Providers == nil {
		d.Providers = provider.Default()
	}
	if d.Redactor == nil {
		d.Redactor = redact.NewDefault()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		store:     d.Store,
		ingest:    d.Ingest,
		providers: d.Providers,
		approver:  d.Approver,
		hub:       d.Hub,
		m:         d.Metrics,
		red:       d.Redactor,
		log:       d.Log,
		ready:     d.Ready,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.m.Registry, promhttp.HandlerOpts{}))

	r.Post("/webhooks/{provider}", s.handleWebhook)

	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/artifact", s.handleArtifact)
		r.Get("/diff", s.handleDiff)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/events", s.handleRunEvents)
		r.Post("/approve-pr", s.handleApprovePR)
	})
	r.Get("/failures/{id}/explain", s.handleExplain)
	r.Post("/installations", s.handleUpsertInstallation)

	return r
}

// Handler returns the root handler, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then drains connections
// for up to 15 seconds. SSE needs the write timeout off; slow-client
// protection lives in the hub instead.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

// countRequests records every completed request against the chi route
// pattern, so path parameters do not explode the label space.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}
