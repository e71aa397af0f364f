// Command agentlens runs the trace and quality-metrics pipeline service:
// span export, live and retroactive evaluation, and dashboard analytics
// over one shared analytical store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentlens/analytics"
	"github.com/BaSui01/agentlens/backfill"
	"github.com/BaSui01/agentlens/config"
	"github.com/BaSui01/agentlens/evaluation"
	"github.com/BaSui01/agentlens/internal/metrics"
	"github.com/BaSui01/agentlens/llm"
	"github.com/BaSui01/agentlens/sandbox"
	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/trace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agentlens: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("agentlens", registry)

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	jobs, err := store.OpenJobStore(cfg.Redis)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}

	costs := trace.NewCostCalculator()
	exporter := trace.NewExporter(st, costs, cfg.Exporter, logger, collector)

	var provider llm.Provider
	if cfg.LLM.APIKey != "" {
		provider = llm.NewOpenAICompatProvider(cfg.LLM, logger)
	} else {
		logger.Warn("no llm api key configured, llm_judge metrics disabled")
	}
	var runner sandbox.Runner
	if dockerRunner, err := sandbox.NewDockerRunner(cfg.Sandbox, logger); err != nil {
		logger.Warn("sandbox unavailable, python_code metrics disabled", zap.Error(err))
	} else {
		runner = dockerRunner
	}

	evaluator := evaluation.NewEvaluator(provider, runner, costs, cfg.Evaluation, logger, collector)
	liveEval := evaluation.NewService(evaluator, st, st, logger)
	processor := backfill.NewProcessor(st, st, st, jobs, evaluator, cfg.Backfill, logger, collector)
	engine := analytics.NewEngine(st, logger, collector)

	srv := &server{
		exporter:  exporter,
		liveEval:  liveEval,
		processor: processor,
		engine:    engine,
		logger:    logger,
	}

	mux := http.NewServeMux()
	srv.routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agentlens listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := processor.Shutdown(ctx); err != nil {
		logger.Warn("backfill jobs did not drain in time", zap.Error(err))
	}
	return httpServer.Shutdown(ctx)
}
