package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"interview-pipeline/internal/audio"
	"interview-pipeline/internal/config"
	"interview-pipeline/internal/evaluator"
	"interview-pipeline/internal/models"
	"interview-pipeline/internal/scheduler"
	"interview-pipeline/internal/store"
	"interview-pipeline/internal/telemetry"
	"interview-pipeline/internal/transcriber"
)

func main() {
	cfg := config.Load()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	evalRegistry := evaluator.NewRegistry(evaluator.Baseline{}, cfg.ProviderTimeout, cfg.ProviderRetries, logger)
	if cfg.LLMBaseURL != "" {
		evalRegistry.Register(evaluator.NewLLM(evaluator.LLMConfig{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		}))
	}

	whisper := transcriber.NewWhisper(cfg.WhisperURL, nil)
	transRegistry := transcriber.NewRegistry(whisper, cfg.ProviderTimeout, cfg.ProviderRetries, logger)

	fetcher, err := audio.NewFetcher(ctx, cfg)
	if err != nil {
		log.Fatalf("init audio fetcher: %v", err)
	}

	var workers []*scheduler.Worker
	if cfg.FeedbackEnabled {
		p := scheduler.NewFeedbackPipeline(st, evalRegistry, cfg, logger)
		workers = append(workers, scheduler.NewWorker(models.KindFeedback, cfg.FeedbackPollInterval, p.RunCycle, logger))
	}
	if cfg.TranscriptionEnabled {
		p := scheduler.NewTranscriptionPipeline(st, transRegistry, fetcher, cfg, logger)
		workers = append(workers, scheduler.NewWorker(models.KindTranscription, cfg.TranscriptionPollInterval, p.RunCycle, logger))
	}
	if cfg.AbandonEnabled {
		p := scheduler.NewAbandonPipeline(st, cfg, logger)
		workers = append(workers, scheduler.NewWorker("abandon", cfg.AbandonPollInterval, p.RunCycle, logger))
	}
	if len(workers) == 0 {
		log.Fatalf("all pipelines disabled, nothing to run")
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker starting",
		"feedback", cfg.FeedbackEnabled,
		"transcription", cfg.TranscriptionEnabled,
		"abandon", cfg.AbandonEnabled,
		"provider_timeout", cfg.ProviderTimeout,
		"provider_retries", cfg.ProviderRetries)

	for _, w := range workers {
		w.Start(ctx)
	}
	<-ctx.Done()
	for _, w := range workers {
		w.Wait()
	}
	logger.Info("worker stopped")
}
