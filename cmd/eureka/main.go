// Eureka is an automated vulnerability remediation daemon.
//
// It consumes APV (Actionable Prioritized Vulnerability) findings from a NATS
// JetStream stream, confirms them structurally with ast-grep, selects a
// remediation strategy, applies patches on isolated git branches, and opens
// pull requests for review.
//
// Usage:
//
//	# Start the daemon with defaults
//	eureka
//
//	# Point at a config file
//	eureka --config /etc/eureka/config.yaml
//
//	# Configure via environment
//	EUREKA_SERVER_PORT=9090 EUREKA_NATS_URL=nats://broker:4222 eureka
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	chromem "github.com/philippgille/chromem-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/cache"
	"github.com/fyrsmithlabs/eureka/internal/config"
	"github.com/fyrsmithlabs/eureka/internal/confirm"
	"github.com/fyrsmithlabs/eureka/internal/consumer"
	"github.com/fyrsmithlabs/eureka/internal/cost"
	"github.com/fyrsmithlabs/eureka/internal/fixstore"
	"github.com/fyrsmithlabs/eureka/internal/gitops"
	"github.com/fyrsmithlabs/eureka/internal/logging"
	"github.com/fyrsmithlabs/eureka/internal/metrics"
	"github.com/fyrsmithlabs/eureka/internal/orchestrator"
	"github.com/fyrsmithlabs/eureka/internal/strategy"
	"github.com/fyrsmithlabs/eureka/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "eureka",
	Short: "Automated vulnerability remediation daemon",
	Long: `eureka consumes vulnerability findings from a message broker, confirms
them against the codebase, and remediates them by dependency upgrade,
generated patch, or temporary network mitigation, opening a pull request
for every code change.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("eureka by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run starts the daemon and blocks until ctx is canceled.
//
// Initialization order:
//  1. Configuration and logger
//  2. Metrics registration
//  3. Infrastructure (NATS, dedup cache, git, GitHub)
//  4. Pipeline services (confirmer, cost tracker, strategies, orchestrator)
//  5. Ingestion consumer and HTTP server
//
// Returns nil on graceful shutdown.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting eureka",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("repo_root", cfg.Confirm.RepoRoot),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	orch, tracker, err := initPipeline(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing pipeline: %w", err)
	}

	cons, err := consumer.New(deps.natsConn, deps.dedup, orch, consumer.Config{
		Stream:        cfg.NATS.Stream,
		Subject:       cfg.NATS.Subject,
		DurableName:   cfg.NATS.DurableName,
		DLQSubject:    cfg.NATS.DLQSubject,
		BatchSize:     cfg.NATS.BatchSize,
		MaxDeliver:    cfg.NATS.MaxDeliver,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrent,
		DedupTTL:      cfg.NATS.DedupTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating consumer: %w", err)
	}
	if err := cons.Start(ctx); err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	srv := server.New(cfg.Server, orch, cons, tracker)

	logger.Info("eureka ready",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("stream", cfg.NATS.Stream),
		zap.String("subject", cfg.NATS.Subject),
	)

	err = srv.Start(ctx)

	// Drain in-flight APVs before tearing down infrastructure.
	cons.Stop()
	logger.Info("shutdown complete")

	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// dependencies holds infrastructure handles shared across the pipeline.
type dependencies struct {
	natsConn *nats.Conn
	dedup    cache.Provider
	logger   *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.dedup != nil {
		_ = d.dedup.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies connects to the broker and builds the dedup cache.
//
// A broker-backed KV bucket is preferred so deduplication survives restarts;
// when the bucket cannot be created the daemon degrades to an in-process
// cache rather than refusing to start.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))

	var dedup cache.Provider
	kv, err := cache.NewKVProvider(nc, cfg.NATS.DedupBucket, cfg.NATS.DedupTTL)
	if err != nil {
		logger.Warn("broker KV unavailable, using in-process dedup cache",
			zap.String("bucket", cfg.NATS.DedupBucket),
			zap.Error(err),
		)
		dedup = cache.NewMemoryProvider(time.Minute)
	} else {
		dedup = kv
	}

	return &dependencies{natsConn: nc, dedup: dedup, logger: logger}, nil
}

// initPipeline builds the confirmer, strategies, git integration, and
// orchestrator.
func initPipeline(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (*orchestrator.EurekaOrchestrator, *cost.Tracker, error) {
	engine := confirm.NewASTGrepEngine(confirm.ASTGrepConfig{
		Binary:  cfg.Confirm.ASTGrepBin,
		Timeout: cfg.Confirm.Timeout,
	}, logger)
	confirmer := confirm.NewVulnerabilityConfirmer(engine, cache.NewMemoryProvider(time.Minute), confirm.ConfirmerConfig{
		RepoRoot: cfg.Confirm.RepoRoot,
		MaxFiles: cfg.Confirm.MaxFiles,
		CacheTTL: cfg.Confirm.CacheTTL,
	}, logger)

	pricing := make(map[string]cost.ModelPricing, len(cfg.LLM.Pricing))
	for model, p := range cfg.LLM.Pricing {
		pricing[model] = cost.ModelPricing{
			InputPerToken:  p.InputPerToken,
			OutputPerToken: p.OutputPerToken,
		}
	}
	tracker := cost.NewTracker(cfg.LLM.MonthlyBudgetUSD, pricing, logger)

	registry, err := initStrategies(cfg, tracker, logger)
	if err != nil {
		return nil, nil, err
	}

	order := cfg.Strategy.Order
	if len(order) == 0 {
		order = strategy.DefaultOrder
	}
	order = registeredOnly(order, registry)

	selector, err := strategy.NewSelector(registry, order, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building strategy selector: %w", err)
	}
	logger.Info("strategies registered", zap.Strings("order", selector.Ordered()))

	git := gitops.NewOperations(cfg.Confirm.RepoRoot, gitops.OperationsConfig{
		RemoteName:  cfg.Git.RemoteName,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		Token:       cfg.GitHub.Token,
	}, logger)

	var pr orchestrator.PROpener
	if cfg.GitHub.Token.IsSet() && cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "" {
		creator, err := gitops.NewPRCreator(ctx, cfg.GitHub, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating PR client: %w", err)
		}
		pr = creator
	} else {
		logger.Warn("GitHub not configured, pull request creation disabled")
	}

	orch := orchestrator.New(confirmer, selector, git, pr, orchestrator.Config{
		APVTimeout: cfg.Orchestrator.APVTimeout,
	}, logger)
	return orch, tracker, nil
}

// initStrategies builds the strategy registry from configuration. The
// generative patch strategy needs model credentials and the coagulation
// strategy needs an enforcement point; each is skipped when unconfigured.
// Manual review is always registered.
func initStrategies(cfg *config.Config, tracker *cost.Tracker, logger *zap.Logger) ([]strategy.Strategy, error) {
	registry := []strategy.Strategy{
		strategy.NewDependencyUpgrade(cfg.Confirm.RepoRoot, logger),
	}

	if cfg.LLM.APIKey.IsSet() {
		opts := []openai.Option{
			openai.WithToken(cfg.LLM.APIKey.Value()),
			openai.WithModel(cfg.LLM.Model),
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating model client: %w", err)
		}

		examples, err := initFixStore(cfg, logger)
		if err != nil {
			return nil, err
		}

		registry = append(registry, strategy.NewLLMPatch(model, strategy.LLMPatchConfig{
			Model:             cfg.LLM.Model,
			Temperature:       cfg.LLM.Temperature,
			MaxTokens:         cfg.LLM.MaxTokens,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		}, tracker, examples, cfg.Confirm.RepoRoot, logger))
	} else {
		logger.Warn("no model credentials, generative patch strategy disabled")
	}

	if cfg.Coagulation.Enabled {
		enforcer := strategy.NewHTTPEnforcer(cfg.Coagulation.Endpoint, cfg.Coagulation.Token.Value(), logger)
		registry = append(registry, strategy.NewCoagulation(enforcer, cfg.Coagulation.RuleTTL, logger))
	}

	registry = append(registry, strategy.NewManualReview(logger))
	return registry, nil
}

// initFixStore opens the historical fix-example collection used to ground
// patch prompts. Returns nil when no path is configured and no credentials
// exist for the embedding provider.
func initFixStore(cfg *config.Config, logger *zap.Logger) (strategy.ExampleSource, error) {
	var embed chromem.EmbeddingFunc
	if cfg.LLM.APIKey.IsSet() {
		if cfg.LLM.BaseURL != "" {
			embed = chromem.NewEmbeddingFuncOpenAICompat(cfg.LLM.BaseURL, cfg.LLM.APIKey.Value(), "text-embedding-3-small", nil)
		} else {
			embed = chromem.NewEmbeddingFuncOpenAI(cfg.LLM.APIKey.Value(), chromem.EmbeddingModelOpenAI3Small)
		}
	} else if cfg.FixStore.Path == "" {
		return nil, nil
	}

	store, err := fixstore.New(fixstore.Config{
		Path:       cfg.FixStore.Path,
		Collection: cfg.FixStore.Collection,
		Compress:   cfg.FixStore.Compress,
	}, embed, logger)
	if err != nil {
		return nil, fmt.Errorf("opening fix store: %w", err)
	}
	return store, nil
}

// registeredOnly drops order entries for strategies that were not built, so
// disabling a strategy by configuration does not require editing the order.
func registeredOnly(order []string, registry []strategy.Strategy) []string {
	names := make(map[string]bool, len(registry))
	for _, s := range registry {
		names[s.Name()] = true
	}
	kept := make([]string, 0, len(order))
	for _, name := range order {
		if names[name] {
			kept = append(kept, name)
		}
	}
	return kept
}
