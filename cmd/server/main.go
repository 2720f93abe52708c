package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jobpulse/scraper-agent/internal/activity"
	"github.com/jobpulse/scraper-agent/internal/analyzer"
	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/collector/rss"
	"github.com/jobpulse/scraper-agent/internal/collector/webhook"
	"github.com/jobpulse/scraper-agent/internal/config"
	"github.com/jobpulse/scraper-agent/internal/dispatch"
	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/export"
	"github.com/jobpulse/scraper-agent/internal/lock"
	"github.com/jobpulse/scraper-agent/internal/server"
	"github.com/jobpulse/scraper-agent/internal/storage/sqlite"
	"github.com/jobpulse/scraper-agent/pkg/logger"
	"github.com/jobpulse/scraper-agent/pkg/ratelimit"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "jobpulse-server",
		Short: "Adaptive scraping scheduler server",
		Long: `Serves the scheduling API and, optionally, runs the dispatch
loop from an in-process cron timer for deployments without an
external cron service.`,
		RunE: runServer,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting JobPulse scraper agent")

	repo, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	limiter := ratelimit.NewDefaultLimiter()

	// Collectors
	collectors := collector.NewManager()
	if cfg.Collectors.Webhook.Enabled {
		for _, c := range webhook.NewMultiple(cfg.Collectors.Webhook, limiter, log) {
			collectors.Register(c)
		}
	}
	if cfg.Collectors.RSS.Enabled {
		for _, c := range rss.NewMultiple(cfg.Collectors.RSS, limiter, log) {
			collectors.Register(c)
		}
	}
	log.Info().Strs("sources", collectors.Sources()).Msg("Collectors registered")

	// Listing analyzer; without an API key listings are stored unscored
	var an analyzer.Analyzer = analyzer.Nop{}
	if cfg.Anthropic.APIKey != "" {
		an = analyzer.NewClient(cfg.Anthropic, limiter, log)
	} else {
		log.Warn().Msg("No Anthropic API key configured, listing analysis disabled")
	}

	// Optional run-log export
	var exporter engine.RunExporter
	sheetsExporter, err := export.NewSheetsExporter(cfg.Export, limiter, log)
	if err != nil {
		return fmt.Errorf("failed to create sheets exporter: %w", err)
	}
	if sheetsExporter != nil {
		if err := sheetsExporter.InitializeSheet(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize run-log sheet")
		}
		exporter = sheetsExporter
	}

	// Optional distributed dispatch lock
	var locker lock.Locker
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLocker(context.Background(), cfg.Redis.URL, cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Info().Msg("Redis dispatch lock enabled")
	}

	eng := engine.New(repo, collectors, an, exporter, cfg.Scheduler.JobTimeout, log)
	dispatcher := dispatch.New(repo, eng, locker, cfg.Scheduler.RetryCooldown, log)

	scorer := activity.NewScorer()
	tracker := activity.NewTracker(repo, scorer, log)

	srv := server.New(repo, eng, dispatcher, tracker, collectors, cfg.Server.CronSecret, log)

	// Internal dispatch timer for deployments without an external cron service
	var c *cron.Cron
	if cfg.Scheduler.InternalTimer {
		c = cron.New(cron.WithLogger(cronLogger{log}))
		_, err := c.AddFunc(cfg.Scheduler.DispatchCron, func() {
			if _, err := dispatcher.RunDue(context.Background()); err != nil {
				log.Error().Err(err).Msg("Internal dispatch cycle failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule dispatch timer: %w", err)
		}
		c.Start()
		log.Info().Str("cron", cfg.Scheduler.DispatchCron).Msg("Internal dispatch timer started")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // synchronous dispatch batches can be slow
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	if c != nil {
		c.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	return nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}
