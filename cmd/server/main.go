// Command server runs the run engine as a single process: it loads the
// skill catalog, registers the built-in campaign workflows, and serves the
// Run API Surface over HTTP while the orchestrator drains the
// run-orchestration queue in the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campaignforge/engine/internal/api"
	"github.com/campaignforge/engine/internal/artifact"
	"github.com/campaignforge/engine/internal/cache"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/fingerprint"
	"github.com/campaignforge/engine/internal/orchestrator"
	"github.com/campaignforge/engine/internal/orchestrator/engine/inmem"
	"github.com/campaignforge/engine/internal/orchestrator/queue"
	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/internal/provider/gateway"
	runstoreinmem "github.com/campaignforge/engine/internal/runstore/inmem"
	"github.com/campaignforge/engine/internal/secrets"
	"github.com/campaignforge/engine/internal/skill"
	"github.com/campaignforge/engine/internal/telemetry"
	"github.com/campaignforge/engine/internal/workflow"
	"github.com/campaignforge/engine/skills"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		listenAddr  = flag.String("listen", envOr("SERVER_LISTEN_ADDR", ":8080"), "HTTP listen address")
		catalogDir  = flag.String("catalog-dir", envOr("CATALOG_DIR", "catalog"), "Skill catalog directory")
		workspace   = flag.String("workspace-root", envOr("WORKSPACE_ROOT", "./workspace"), "Execution context workspace root")
		artifactDir = flag.String("artifact-dir", envOr("ARTIFACT_DIR", "./artifacts"), "Local artifact store directory")
		gatewayURL  = flag.String("gateway-url", os.Getenv("LITELLM_BASE_URL"), "LiteLLM-compatible gateway base URL")
		gatewayKey  = flag.String("gateway-key", os.Getenv("LITELLM_MASTER_KEY"), "LiteLLM-compatible gateway master key")
		useClue     = flag.Bool("clue-telemetry", os.Getenv("CLUE_TELEMETRY") == "true", "Use clue-backed logging/metrics instead of no-ops")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("server %s (commit: %s)\n", version, commit)
		return
	}

	var logger telemetry.Logger = telemetry.NewNoopLogger()
	var metrics telemetry.Metrics = telemetry.NewNoopMetrics()
	if *useClue {
		logger, metrics = telemetry.NewClueLogger(), telemetry.NewClueMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, serverConfig{
		listenAddr:  *listenAddr,
		catalogDir:  *catalogDir,
		workspace:   *workspace,
		artifactDir: *artifactDir,
		gatewayURL:  *gatewayURL,
		gatewayKey:  *gatewayKey,
		logger:      logger,
		metrics:     metrics,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

type serverConfig struct {
	listenAddr  string
	catalogDir  string
	workspace   string
	artifactDir string
	gatewayURL  string
	gatewayKey  string
	logger      telemetry.Logger
	metrics     telemetry.Metrics
}

// artifactChecker adapts artifact.Store to cache.ArtifactChecker so the
// Step Cache invalidates entries whose referenced artifact has since been
// deleted (§4.F freshness rule).
type artifactChecker struct {
	store artifact.Store
}

func (c artifactChecker) Exists(ctx context.Context, artifactID string) (bool, error) {
	_, stream, err := c.store.Get(ctx, artifactID)
	if err != nil {
		return false, nil
	}
	_ = stream.Close()
	return true, nil
}

func run(ctx context.Context, cfg serverConfig) error {
	artifacts, err := artifact.NewFSStore(cfg.artifactDir)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	skillRegistry := skill.NewRegistry(skill.WithLogger(cfg.logger))
	if err := skillRegistry.LoadCatalog(ctx, cfg.catalogDir); err != nil {
		return fmt.Errorf("load skill catalog: %w", err)
	}
	if errs := skillRegistry.ValidationErrors(); len(errs) > 0 {
		for _, e := range errs {
			cfg.logger.Warn(ctx, "skill catalog validation error", "path", e.Path, "reason", e.Reason)
		}
	}

	var provClient provider.Provider
	if cfg.gatewayURL != "" {
		gw, err := gateway.New(cfg.gatewayURL, cfg.gatewayKey)
		if err != nil {
			return fmt.Errorf("construct gateway provider: %w", err)
		}
		provClient = gw
	} else {
		provClient = noopProvider{}
	}

	if err := skills.Register(skillRegistry, provClient); err != nil {
		return fmt.Errorf("register skill handlers: %w", err)
	}

	workflowRegistry := workflow.NewRegistry(skillRegistry)
	if err := workflow.RegisterDefaults(workflowRegistry); err != nil {
		return fmt.Errorf("register workflows: %w", err)
	}

	runStore := runstoreinmem.New()

	q, err := queue.New(queue.Options{Client: queue.NewInMemoryClient()})
	if err != nil {
		return fmt.Errorf("construct queue: %w", err)
	}

	stepCache := cache.NewMemoryCache(cache.WithArtifactChecker(artifactChecker{store: artifacts}))

	fp := fingerprint.New()

	execFactory := execctx.NewFactory(cfg.workspace,
		execctx.WithArtifactStore(artifacts),
		execctx.WithSecretsFactory(func(tenantID, skillID string) secrets.Accessor {
			return secrets.New(secrets.WithScope(tenantID, skillID), secrets.WithLogger(cfg.logger))
		}),
		execctx.WithLoggerFactory(func(tenantID, runID, stepID, skillID string) telemetry.Logger {
			return cfg.logger
		}),
	)

	orch, err := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Engine:         inmem.New(),
		Queue:          q,
		RunStore:       runStore,
		Workflows:      workflowRegistry,
		Skills:         skillRegistry,
		Cache:          stepCache,
		Fingerprinter:  fp,
		ExecCtxFactory: execFactory,
		Artifacts:      artifacts,
		Logger:         cfg.logger,
		Metrics:        cfg.metrics,
	})
	if err != nil {
		return fmt.Errorf("construct orchestrator: %w", err)
	}
	if err := orch.Register(ctx); err != nil {
		return fmt.Errorf("register orchestrator workflow: %w", err)
	}
	stopConsuming, err := orch.Start(ctx)
	if err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer stopConsuming()

	runsHandler := api.NewRunsHandler(runStore, workflowRegistry, artifacts, q)
	router := api.NewRouter(api.RouterConfig{Runs: runsHandler, Logger: cfg.logger})

	httpServer := &http.Server{
		Addr:         cfg.listenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		cfg.logger.Info(ctx, "server listening", "addr", cfg.listenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	var runtimeErr error
	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			runtimeErr = fmt.Errorf("http shutdown: %w", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			runtimeErr = fmt.Errorf("http server: %w", err)
		}
	}
	return runtimeErr
}

// noopProvider backs the server when no gateway is configured; every call
// fails with GENERATION_FAILED rather than panicking on a nil Provider.
type noopProvider struct{}

func (noopProvider) GenerateImage(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errNoProviderConfigured
}

func (noopProvider) GenerateVideo(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errNoProviderConfigured
}

func (noopProvider) GenerateAudio(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errNoProviderConfigured
}

func (noopProvider) Generate3DAsset(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errNoProviderConfigured
}

func (noopProvider) GenerateText(ctx context.Context, req provider.TextRequest) (provider.TextResult, error) {
	return provider.TextResult{}, errNoProviderConfigured
}

var errNoProviderConfigured = fmt.Errorf("no generation provider configured: set -gateway-url/LITELLM_BASE_URL")

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
