// Package main provides the entry point for the PDF discovery service server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/pdf-discovery-service/internal/collectors"
	"github.com/helixir/pdf-discovery-service/internal/collectors/arxiv"
	"github.com/helixir/pdf-discovery-service/internal/collectors/crossref"
	"github.com/helixir/pdf-discovery-service/internal/collectors/cvf"
	"github.com/helixir/pdf-discovery-service/internal/collectors/openreview"
	"github.com/helixir/pdf-discovery-service/internal/collectors/semanticscholar"
	"github.com/helixir/pdf-discovery-service/internal/config"
	"github.com/helixir/pdf-discovery-service/internal/dedup"
	"github.com/helixir/pdf-discovery-service/internal/discovery"
	"github.com/helixir/pdf-discovery-service/internal/observability"
	"github.com/helixir/pdf-discovery-service/internal/pdf"
	httpserver "github.com/helixir/pdf-discovery-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("pdf-discovery-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("pdf_discovery")

	// Deduplication engine and version selection.
	versions := dedup.NewVersionManager()
	engine := dedup.NewEngine(dedup.Config{
		TitleThreshold:  cfg.Dedup.TitleThreshold,
		AuthorThreshold: cfg.Dedup.AuthorThreshold,
	}, versions)

	// Discovery framework.
	framework := discovery.NewFramework(discovery.Config{
		MaxWorkers:      cfg.Discovery.MaxWorkers,
		TaskTimeout:     cfg.Discovery.TaskTimeout,
		ValidateWinners: cfg.Discovery.ValidateWinners,
	}, engine, versions, logger, metrics)

	framework.SetSourcePriorities(cfg.Versions.SourceRanks(), cfg.Versions.PreferPublished)
	framework.SetVenuePriorities(cfg.Versions.VenuePriority)

	if cfg.Discovery.ValidateWinners {
		framework.SetVerifier(pdf.NewVerifier(pdf.Config{
			Timeout:   cfg.Verifier.Timeout,
			UserAgent: cfg.Verifier.UserAgent,
		}))
	}

	registerCollectors(framework, cfg, logger)

	// Create HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:        cfg.Server.HTTPAddress(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    2 * time.Minute,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}
	httpSrv := httpserver.NewServer(httpCfg, framework, logger)

	// Channel to collect server errors.
	errCh := make(chan error, 1)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", httpCfg.Address).
		Int("collectors", len(framework.EnabledCollectors())).
		Msg("pdf-discovery-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down pdf-discovery-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("pdf-discovery-service shutdown complete")
	return nil
}

// registerCollectors builds and registers every enabled collector.
func registerCollectors(framework *discovery.Framework, cfg *config.Config, logger zerolog.Logger) {
	var registered []collectors.Collector

	if c := cfg.Collectors.ArXiv; c.Enabled {
		registered = append(registered, arxiv.New(arxiv.Config{
			BaseURL:    c.BaseURL,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			BurstSize:  c.BurstSize,
			MaxResults: c.MaxResults,
			Enabled:    true,
		}))
	}
	if c := cfg.Collectors.SemanticScholar; c.Enabled {
		registered = append(registered, semanticscholar.New(semanticscholar.Config{
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			Timeout:     c.Timeout,
			RateLimit:   c.RateLimit,
			BurstSize:   c.BurstSize,
			SearchLimit: c.MaxResults,
			Enabled:     true,
		}))
	}
	if c := cfg.Collectors.Crossref; c.Enabled {
		registered = append(registered, crossref.New(crossref.Config{
			BaseURL:   c.BaseURL,
			MailTo:    c.MailTo,
			Timeout:   c.Timeout,
			RateLimit: c.RateLimit,
			BurstSize: c.BurstSize,
			Enabled:   true,
		}))
	}
	if c := cfg.Collectors.OpenReview; c.Enabled {
		registered = append(registered, openreview.New(openreview.Config{
			BaseURL:   c.BaseURL,
			SiteURL:   c.SiteURL,
			Timeout:   c.Timeout,
			RateLimit: c.RateLimit,
			BurstSize: c.BurstSize,
			Enabled:   true,
		}))
	}
	if c := cfg.Collectors.CVF; c.Enabled {
		registered = append(registered, cvf.New(cvf.Config{
			BaseURL:   c.BaseURL,
			Timeout:   c.Timeout,
			RateLimit: c.RateLimit,
			BurstSize: c.BurstSize,
			Enabled:   true,
		}))
	}

	for _, c := range registered {
		framework.Register(c)
		logger.Info().Str("source", c.Source()).Str("name", c.Name()).Msg("collector registered")
	}
}
