// Command researchflow-engine is the process entrypoint: it loads
// configuration, opens the SQLite store, wires the configured LLM
// provider's agent backend plus the deterministic calendar/extraction/
// delivery stubs, and runs the workflow engine's worker pool until a
// shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/agentadapter/ratelimit"
	"researchflow/pkg/agents/anthropic"
	"researchflow/pkg/agents/calendar"
	"researchflow/pkg/agents/delivery"
	"researchflow/pkg/agents/extraction"
	"researchflow/pkg/agents/gemini"
	"researchflow/pkg/agents/ollama"
	"researchflow/pkg/agents/openai"
	"researchflow/pkg/approval"
	"researchflow/pkg/config"
	"researchflow/pkg/engine"
	"researchflow/pkg/logx"
	"researchflow/pkg/metrics"
	"researchflow/pkg/persistence"
	"researchflow/pkg/tokencount"
)

func main() {
	var configPath string
	var instanceID string
	flag.StringVar(&configPath, "config", "", "Path to config.yaml (defaults built in if empty)")
	flag.StringVar(&instanceID, "instance-id", "", "Lease owner id for this engine process (default: hostname-pid)")
	flag.Parse()

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GetConfig()

	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := persistence.Initialize(cfg.Database.Path, instanceID); err != nil {
		log.Fatalf("initialize persistence: %v", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			log.Printf("close persistence: %v", err)
		}
	}()
	store := persistence.NewStore(persistence.GetDB())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor, limiters, err := buildExecutor(ctx, cfg.LLM, cfg.Agent.DefaultTimeout)
	if err != nil {
		log.Fatalf("build llm executor: %v", err)
	}
	defer limiters.Stop()

	recorder := metrics.NewRecorder()

	retryConfig := agentadapter.DefaultConfig.Retry
	retryConfig.MaxAttempts = cfg.Agent.Retry.MaxAttempts
	retryConfig.InitialDelay = cfg.Agent.Retry.InitialDelay
	retryConfig.MaxDelay = cfg.Agent.Retry.MaxDelay
	retryConfig.BackoffFactor = cfg.Agent.Retry.BackoffFactor
	adapterConfig := agentadapter.Config{
		Retry: retryConfig,
		Circuit: agentadapter.DefaultConfig.Circuit,
		Timeout: cfg.Agent.DefaultTimeout,
	}
	adapter := agentadapter.New(executor, adapterConfig)
	adapter.SetRecorder(recorder)

	eng := engine.New(store, adapter, instanceID, cfg.Engine, cfg.MaxIterations)
	eng.SetRecorder(recorder)

	approvalSvc := approval.New(store, eng)
	approvalSvc.SetRecorder(recorder)

	logger := logx.NewLogger("researchflow-engine")

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	stopSweeper := startTimeoutSweeper(ctx, approvalSvc, cfg.Approval.DefaultSLA, logger)
	defer stopSweeper()

	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      promhttp.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("stop engine: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown metrics server: %v", err)
	}
	logger.Info("shutdown complete")
}

// buildExecutor dispatches on the configured LLM provider, wraps it in a
// per-provider rate limiter sized from config.ModelDefaults, and combines
// it with the deterministic calendar/extraction/delivery backends so a
// single Adapter can serve every agent node in the graph. The returned
// *ratelimit.Registry owns that limiter's background refill timer; the
// caller must Stop it on shutdown.
func buildExecutor(ctx context.Context, llm config.LLMConfig, requestTimeout time.Duration) (agentadapter.Executor, *ratelimit.Registry, error) {
	var hosted agentadapter.Executor
	switch llm.Provider {
	case config.ProviderAnthropic:
		apiKey, err := config.GetSecret("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic api key: %w", err)
		}
		hosted = anthropic.New(apiKey, llm.Model)
	case config.ProviderOpenAI:
		apiKey, err := config.GetSecret("OPENAI_API_KEY")
		if err != nil {
			return nil, nil, fmt.Errorf("openai api key: %w", err)
		}
		hosted = openai.New(apiKey, llm.Model)
	case config.ProviderGemini:
		apiKey, err := config.GetSecret("GEMINI_API_KEY")
		if err != nil {
			return nil, nil, fmt.Errorf("gemini api key: %w", err)
		}
		hosted = gemini.New(apiKey, llm.Model)
	case config.ProviderOllama:
		baseURL, err := config.GetSecret("OLLAMA_BASE_URL")
		if err != nil || baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		ollamaExec, err := ollama.New(baseURL, llm.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("build ollama executor: %w", err)
		}
		hosted = ollamaExec
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", llm.Provider)
	}

	model := llm.Model
	if model == "" {
		model = defaultModelFor(llm.Provider)
	}
	tuning, ok := config.ModelDefaults[model]
	if !ok {
		return nil, nil, fmt.Errorf("no rate-limit tuning registered for model %q", model)
	}

	registry := ratelimit.NewRegistry(ctx, map[string]ratelimit.Config{
		llm.Provider: {TokensPerMinute: tuning.MaxTPM, MaxConcurrency: tuning.MaxConnections},
	}, requestTimeout)
	limiter, err := registry.Get(llm.Provider)
	if err != nil {
		registry.Stop()
		return nil, nil, fmt.Errorf("resolve rate limiter for %s: %w", llm.Provider, err)
	}
	counter, err := tokencount.NewCounter(model)
	if err != nil {
		registry.Stop()
		return nil, nil, fmt.Errorf("build token counter for %s: %w", model, err)
	}
	hosted = ratelimit.NewLimitedExecutor(hosted, limiter, counter)

	return &routedExecutor{
		hosted:     hosted,
		calendar:   calendar.New(0),
		extraction: extraction.New(""),
		delivery:   delivery.New(),
	}, registry, nil
}

// defaultModelFor returns the model a provider falls back to when
// llm.Model is left blank in config, mirroring each pkg/agents backend's
// own New() default.
func defaultModelFor(provider string) string {
	switch provider {
	case config.ProviderAnthropic:
		return config.ModelClaudeSonnet4
	case config.ProviderOpenAI:
		return config.ModelGPT5
	case config.ProviderGemini:
		return config.ModelGemini25Pro
	case config.ProviderOllama:
		return config.ModelOllamaLocal
	default:
		return ""
	}
}

// routedExecutor sends calendar/extraction/delivery tasks to their
// deterministic stub and everything else to the configured hosted-LLM
// backend, so one Adapter covers every task name the graph invokes.
type routedExecutor struct {
	hosted     agentadapter.Executor
	calendar   agentadapter.Executor
	extraction agentadapter.Executor
	delivery   agentadapter.Executor
}

func (r *routedExecutor) Execute(ctx context.Context, task agentadapter.Task, input map[string]any) (map[string]any, error) {
	switch task {
	case "calendar_agent.schedule_kickoff":
		return r.calendar.Execute(ctx, task, input)
	case "extraction_agent.extract":
		return r.extraction.Execute(ctx, task, input)
	case "delivery_agent.deliver":
		return r.delivery.Execute(ctx, task, input)
	default:
		return r.hosted.Execute(ctx, task, input)
	}
}

// startTimeoutSweeper runs approval.SweepTimeouts on a fixed interval
// until the returned stop function is called, which is independent of
// ctx so shutdown ordering in main doesn't matter.
func startTimeoutSweeper(ctx context.Context, svc *approval.Service, interval time.Duration, logger *logx.Logger) func() {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval / 4)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := svc.SweepTimeouts(ctx, time.Now().UTC())
				if err != nil {
					logger.Warn("sweep timeouts: %v", err)
					continue
				}
				if count > 0 {
					logger.Info("sweep timeouts: %d approvals timed out", count)
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
