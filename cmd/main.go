package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kafwarehouse/internal/config"
	"github.com/jittakal/kafwarehouse/internal/decoder"
	"github.com/jittakal/kafwarehouse/internal/kafka"
	"github.com/jittakal/kafwarehouse/internal/observability"
	"github.com/jittakal/kafwarehouse/internal/pipeline"
	"github.com/jittakal/kafwarehouse/internal/retry"
	"github.com/jittakal/kafwarehouse/internal/server"
	"github.com/jittakal/kafwarehouse/internal/sink"
	"github.com/jittakal/kafwarehouse/internal/window"
	"github.com/jittakal/kafwarehouse/pkg/consumer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting kafka warehouse ingester",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	runCleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}
	defer runCleanup()

	// Schema registry decoder
	dec := decoder.New(decoder.Config{
		URL:     cfg.SchemaRegistry.URL,
		Timeout: time.Duration(cfg.SchemaRegistry.TimeoutMS) * time.Millisecond,
	}, logger, metrics)
	addCleanup("decoder", dec.Close)

	// Kafka source
	sourceConfig := kafka.SourceConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		SecurityProtocol:    cfg.Kafka.SecurityProtocol,
		SASLMechanism:       cfg.Kafka.SASLMechanism,
		SASLUsername:        cfg.Kafka.SASLUsername,
		SASLPassword:        cfg.Kafka.SASLPassword,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		ChannelBufferSize:   cfg.Kafka.Consumer.ChannelBufferSize,
	}
	source, err := kafka.NewSaramaSource(sourceConfig, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create kafka source: %w", err)
	}
	addCleanup("kafka-source", source.Close)

	// Late output publisher, active only under the route policy
	var latePub consumer.LatePublisher
	if cfg.Window.LatePolicy == window.LatePolicyRoute {
		pub, err := kafka.NewLateOutputPublisher(
			cfg.Kafka.BootstrapServers,
			sourceConfig,
			kafka.LateOutputConfig{
				Enabled:     true,
				TopicSuffix: cfg.Kafka.LateOutput.TopicSuffix,
			},
			logger,
			cfg.Application.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to create late output publisher: %w", err)
		}
		latePub = pub
		addCleanup("late-publisher", pub.Close)
	}

	// Destination sink
	retryConfig := retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dest, err := sink.Resolve(ctx, cfg.Sink, retryConfig, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to resolve sink: %w", err)
	}
	addCleanup("sink", dest.Close)

	// Pipeline
	p := pipeline.New(
		pipeline.Config{
			Topics: cfg.Kafka.Consumer.Topics,
			Window: window.Config{
				Size:            cfg.Window.Size(),
				AllowedLateness: cfg.Window.AllowedLateness(),
				LatePolicy:      cfg.Window.LatePolicy,
				DrainPolicy:     cfg.Window.DrainPolicy,
			},
			BufferSize: cfg.Kafka.Consumer.ChannelBufferSize,
		},
		source,
		dec,
		dest,
		latePub,
		window.SystemClock{},
		logger,
		metrics,
		metrics,
	)

	// HTTP servers for health and metrics
	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		server.NewPipelineHealth(p),
		registry,
		logger,
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("application started successfully")

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- p.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received termination signal")
	case err := <-pipelineErr:
		if err != nil && err != context.Canceled {
			logger.Error("pipeline error", "error", err)
			return err
		}
	}

	// Graceful shutdown: cancel triggers the drain policy, then wait for the
	// pipeline to finish inside the grace period.
	logger.Info("initiating graceful shutdown")
	cancel()

	gracePeriod := cfg.Shutdown.GracePeriod()
	select {
	case err := <-pipelineErr:
		if err != nil && err != context.Canceled {
			logger.Error("pipeline shutdown error", "error", err)
		}
	case <-time.After(gracePeriod):
		logger.Warn("shutdown grace period expired", "grace_period", gracePeriod)
	}

	logger.Info("application stopped successfully")
	return nil
}
