// Command sre-agentd runs the self-healing CI service: the webhook and
// dashboard HTTP API and the pipeline worker pool, in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/artifact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/config"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/coord"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/ingest"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/llm"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logging"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/metrics"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/orchestrator"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/policy"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/redact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/sandbox"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/server"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/vcs"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sre-agentd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	coordClient, err := coord.Open(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}
	defer coordClient.Close()

	m := metrics.New()
	red := redact.NewDefault()

	pol := policy.Default()
	if cfg.SafetyPolicyPath != "" {
		if pol, err = policy.Load(cfg.SafetyPolicyPath); err != nil {
			return fmt.Errorf("load safety policy: %w", err)
		}
	}
	policyEngine, err := policy.NewEngine(pol)
	if err != nil {
		return fmt.Errorf("safety policy: %w", err)
	}

	gh := vcs.NewGitHub(cfg.GitHub.APIBaseURL, cfg.GitHub.Token)

	llmProvider, err := buildLLM(cfg.LLM, log)
	if err != nil {
		return err
	}

	runtime, err := buildRuntime(cfg, log)
	if err != nil {
		return err
	}
	validator := sandbox.New(runtime, artifact.NewSBOMStore(cfg.ArtifactsDir), red, cfg.Sandbox, log)

	orch := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Coord:     coordClient,
		VCS:       gh,
		LLM:       llmProvider,
		Policy:    policyEngine,
		Validator: validator,
		Redactor:  red,
		Metrics:   m,
		Log:       log,
		Pipeline:  cfg.Pipeline,
		LLMConfig: cfg.LLM,
	})

	pool := worker.New(st, orch, m, log, worker.Config{Count: cfg.WorkerCount})

	hub := server.NewHub()
	sub := coordClient.SubscribeDashboard(ctx)
	defer func() { _ = sub.Close() }()
	go hub.Bridge(sub.Events())

	srv := server.New(server.Config{
		Addr:          cfg.HTTPAddr,
		Environment:   cfg.Environment,
		WebhookSecret: cfg.GitHub.WebhookSecret,
	}, server.Deps{
		Store:    st,
		Ingest:   ingest.New(st, m, log),
		Approver: orch,
		Hub:      hub,
		Metrics:  m,
		Redactor: red,
		Log:      log,
		Ready:    []server.Pinger{st, coordClient},
	})

	log.Info("starting",
		zap.String("environment", cfg.Environment),
		zap.String("addr", cfg.HTTPAddr),
		zap.Int("workers", cfg.WorkerCount))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	return g.Wait()
}

// buildLLM resolves the configured model provider. No provider is a
// supported degraded mode: deterministic fixes still ship, everything
// needing a model parks or escalates.
func buildLLM(cfg config.LLMConfig, log *zap.Logger) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		log.Warn("no LLM provider configured; running deterministic-only")
		return nil, nil
	case "scripted":
		// Dry-run mode: every model call fails fast, exercising the
		// park/escalate paths end to end.
		return llm.WithBreaker(llm.NewScripted()), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// buildRuntime prefers Docker; development without a daemon falls back
// to the in-memory runtime so the rest of the pipeline stays usable.
func buildRuntime(cfg *config.Config, log *zap.Logger) (sandbox.Runtime, error) {
	rt, err := sandbox.NewDockerRuntime(log)
	if err == nil {
		return rt, nil
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("docker runtime: %w", err)
	}
	log.Warn("docker unavailable, using fake sandbox runtime", zap.Error(err))
	return sandbox.NewFakeRuntime(), nil
}
