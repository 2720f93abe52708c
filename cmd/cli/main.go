package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobpulse/scraper-agent/internal/activity"
	"github.com/jobpulse/scraper-agent/internal/analyzer"
	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/collector/rss"
	"github.com/jobpulse/scraper-agent/internal/collector/webhook"
	"github.com/jobpulse/scraper-agent/internal/config"
	"github.com/jobpulse/scraper-agent/internal/dispatch"
	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
	"github.com/jobpulse/scraper-agent/internal/storage/sqlite"
	"github.com/jobpulse/scraper-agent/pkg/logger"
	"github.com/jobpulse/scraper-agent/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	repo    storage.Repository
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jobpulse",
		Short: "Adaptive scraping scheduler CLI",
		Long: `Operational CLI for the scraping scheduler: manage schedule
configs, trigger collection jobs, and inspect outcomes.`,
		PersistentPreRunE: initializeApp,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(configsCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(analyticsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	repo, err = sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// buildDispatcher wires the full execution stack for commands that run jobs.
// The CLI never takes the redis lock; the database claim alone protects
// against a concurrently running server.
func buildDispatcher() (*dispatch.Dispatcher, *engine.Engine) {
	limiter := ratelimit.NewDefaultLimiter()

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

	var an analyzer.Analyzer = analyzer.Nop{}
	if cfg.Anthropic.APIKey != "" {
		an = analyzer.NewClient(cfg.Anthropic, limiter, log)
	}

	eng := engine.New(repo, collectors, an, nil, cfg.Scheduler.JobTimeout, log)
	return dispatch.New(repo, eng, nil, cfg.Scheduler.RetryCooldown, log), eng
}

// ============ DISPATCH COMMANDS ============

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch cycle commands",
	}

	cmd.AddCommand(dispatchRunCmd())
	cmd.AddCommand(dispatchCheckCmd())
	cmd.AddCommand(dispatchStatusCmd())
	return cmd
}

func dispatchRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Execute all due schedule configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatcher, _ := buildDispatcher()

			batch, err := dispatcher.RunDue(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("\nDispatch complete in %s\n", batch.Duration.Round(time.Millisecond))
			fmt.Printf("  Processed: %d  Succeeded: %d  Failed: %d  Skipped: %d\n\n",
				batch.Processed, batch.Succeeded, batch.Failed, batch.Skipped)

			for _, r := range batch.Results {
				status := "OK"
				switch {
				case r.Skipped:
					status = "SKIPPED"
				case !r.Success:
					status = "FAILED"
				}
				fmt.Printf("  [%s] #%d %s", status, r.ConfigID, r.Name)
				if r.JobID != "" {
					fmt.Printf(" (job %s)", r.JobID)
				}
				if r.Error != "" {
					fmt.Printf(" - %s", r.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func dispatchCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-due",
		Short: "List due configs without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatcher, _ := buildDispatcher()

			due, err := dispatcher.CheckDue(context.Background())
			if err != nil {
				return err
			}

			if len(due) == 0 {
				fmt.Println("No configs due")
				return nil
			}

			fmt.Printf("\n%d config(s) due:\n\n", len(due))
			for _, c := range due {
				fmt.Printf("  #%d %s (%s, %s) due %s\n",
					c.ID, c.Name, c.Source, c.Cadence, c.NextRun.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func dispatchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the aggregate scheduler status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatcher, _ := buildDispatcher()

			status, err := dispatcher.Snapshot(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("\nScheduler status\n")
			fmt.Printf("  Configs:      %d total, %d enabled, %d due\n",
				status.TotalConfigs, status.EnabledConfigs, status.DueConfigs)
			fmt.Printf("  Jobs (24h):   %d total, %d completed, %d failed (%.1f%% success)\n",
				status.Jobs24h.Total, status.Jobs24h.Completed, status.Jobs24h.Failed, status.SuccessRate)
			if status.NextRun != nil {
				fmt.Printf("  Next run:     %s\n", status.NextRun.Format(time.RFC3339))
			}
			if status.LastRun != nil {
				fmt.Printf("  Last run:     %s\n", status.LastRun.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// ============ CONFIG COMMANDS ============

func configsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "Schedule config commands",
	}

	cmd.AddCommand(configsListCmd())
	cmd.AddCommand(configsCreateCmd())
	cmd.AddCommand(configsToggleCmd())
	cmd.AddCommand(configsDeleteCmd())
	cmd.AddCommand(configsInitCmd())
	return cmd
}

func configsListCmd() *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedule configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultConfigFilter()
			if enabledOnly {
				t := true
				filter.Enabled = &t
			}

			configs, err := repo.ListConfigs(context.Background(), filter)
			if err != nil {
				return err
			}

			if len(configs) == 0 {
				fmt.Println("No configs found")
				return nil
			}

			fmt.Printf("\n%-4s %-28s %-16s %-8s %-8s %-20s\n", "ID", "NAME", "SOURCE", "CADENCE", "ENABLED", "NEXT RUN")
			for _, c := range configs {
				nextRun := "-"
				if c.NextRun != nil {
					if c.Claimed() {
						nextRun = "running"
					} else {
						nextRun = c.NextRun.Format("2006-01-02 15:04")
					}
				}
				fmt.Printf("%-4d %-28s %-16s %-8s %-8t %-20s\n",
					c.ID, truncateStr(c.Name, 28), c.Source, c.Cadence, c.Enabled, nextRun)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled configs")
	return cmd
}

func configsCreateCmd() *cobra.Command {
	var (
		name       string
		source     string
		searchTerm string
		location   string
		maxResults int
		cadence    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule config",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := models.ParseCadence(cadence)
			if err != nil {
				return err
			}

			c := &models.ScheduleConfig{
				Name:       name,
				Source:     source,
				SearchTerm: searchTerm,
				Location:   location,
				MaxResults: maxResults,
				Cadence:    parsed,
				Enabled:    true,
			}
			if err := c.Validate(); err != nil {
				return err
			}
			c.NextRun = parsed.NextAfter(time.Now().UTC())

			if err := repo.CreateConfig(context.Background(), c); err != nil {
				return err
			}

			fmt.Printf("Created config #%d %s\n", c.ID, c.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "unique config name (required)")
	cmd.Flags().StringVar(&source, "source", "", "collector source (required)")
	cmd.Flags().StringVar(&searchTerm, "search", "", "search term")
	cmd.Flags().StringVar(&location, "location", "", "location filter")
	cmd.Flags().IntVar(&maxResults, "max-results", 25, "maximum results per run")
	cmd.Flags().StringVar(&cadence, "cadence", "daily", "hourly, daily, weekly, or manual")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("source")
	return cmd
}

func configsToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [config-id]",
		Short: "Enable or disable a schedule config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid config id: %s", args[0])
			}

			ctx := context.Background()
			c, err := repo.GetConfigByID(ctx, uint(id))
			if err != nil {
				return err
			}

			if err := repo.SetConfigEnabled(ctx, c.ID, !c.Enabled); err != nil {
				return err
			}

			state := "disabled"
			if !c.Enabled {
				state = "enabled"
			}
			fmt.Printf("Config #%d %s is now %s\n", c.ID, c.Name, state)
			return nil
		},
	}
}

func configsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [config-id]",
		Short: "Delete a schedule config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid config id: %s", args[0])
			}

			if err := repo.DeleteConfig(context.Background(), uint(id)); err != nil {
				return err
			}
			fmt.Printf("Deleted config #%d\n", id)
			return nil
		},
	}
}

func configsInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed the default schedule configs on a fresh install",
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatcher, _ := buildDispatcher()

			created, err := dispatcher.SeedDefaults(context.Background())
			if err != nil {
				return err
			}
			if created == 0 {
				fmt.Println("Configs already exist, nothing seeded")
				return nil
			}
			fmt.Printf("Seeded %d default config(s)\n", created)
			return nil
		},
	}
}

// ============ TRIGGER COMMAND ============

func triggerCmd() *cobra.Command {
	var (
		source     string
		searchTerm string
		location   string
		maxResults int
		configID   uint
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run a collection job synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng := buildDispatcher()
			ctx := context.Background()

			req := engine.JobRequest{
				Source:     source,
				SearchTerm: searchTerm,
				Location:   location,
				MaxResults: maxResults,
				Origin:     models.TriggerManual,
			}
			if configID > 0 {
				cfg, err := repo.GetConfigByID(ctx, configID)
				if err != nil {
					return err
				}
				req.Source = cfg.Source
				req.SearchTerm = cfg.SearchTerm
				req.Location = cfg.Location
				req.MaxResults = cfg.MaxResults
				req.ConfigID = &cfg.ID
			}

			job, err := eng.Run(ctx, req)
			if job != nil {
				fmt.Printf("\nJob %s: %s\n", job.ID, job.State)
				fmt.Printf("  %s\n", job.StatusMessage)
				fmt.Printf("  Found %d, stored %d\n", job.JobsFound, job.JobsStored)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "collector source")
	cmd.Flags().StringVar(&searchTerm, "search", "", "search term")
	cmd.Flags().StringVar(&location, "location", "", "location filter")
	cmd.Flags().IntVar(&maxResults, "max-results", 25, "maximum results")
	cmd.Flags().UintVar(&configID, "config", 0, "run with a config's parameters instead")
	return cmd
}

// ============ JOB COMMANDS ============

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Job ledger commands",
	}

	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsShowCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultJobFilter()
			if state != "" {
				parsed, err := models.ParseJobState(state)
				if err != nil {
					return err
				}
				filter.State = &parsed
			}

			jobs, err := repo.ListJobs(context.Background(), filter)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("No jobs found")
				return nil
			}

			fmt.Printf("\n%-38s %-16s %-10s %-10s %-7s %-20s\n", "ID", "SOURCE", "STATE", "ORIGIN", "STORED", "STARTED")
			for _, j := range jobs {
				fmt.Printf("%-38s %-16s %-10s %-10s %-7d %-20s\n",
					j.ID, j.Source, j.State, j.Origin, j.JobsStored, j.StartedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [job-id]",
		Short: "Show one job with its listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			job, err := repo.GetJobByID(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\nJob %s\n", job.ID)
			fmt.Printf("  Source:   %s (%q, %q)\n", job.Source, job.SearchTerm, job.Location)
			fmt.Printf("  State:    %s - %s\n", job.State, job.StatusMessage)
			fmt.Printf("  Origin:   %s (scheduled=%t)\n", job.Origin, job.Scheduled)
			fmt.Printf("  Started:  %s\n", job.StartedAt.Format(time.RFC3339))
			if job.CompletedAt != nil {
				fmt.Printf("  Finished: %s\n", job.CompletedAt.Format(time.RFC3339))
			}

			listings, err := repo.ListListings(ctx, job.ID)
			if err != nil {
				return err
			}
			if len(listings) > 0 {
				fmt.Printf("\n  %d listing(s):\n", len(listings))
				for _, l := range listings {
					score := ""
					if l.RelevanceScore > 0 {
						score = fmt.Sprintf(" [%.0f]", l.RelevanceScore)
					}
					fmt.Printf("   - %s at %s%s\n", truncateStr(l.Title, 50), truncateStr(l.Company, 30), score)
				}
			}
			return nil
		},
	}
}

// ============ ANALYTICS COMMAND ============

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics [session-token]",
		Short: "Show activity analytics for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := activity.NewTracker(repo, activity.NewScorer(), log)

			a, err := tracker.Analytics(context.Background(), args[0])
			if err != nil {
				return err
			}

			sess := a.Session
			fmt.Printf("\nSession %s\n", sess.SessionToken)
			fmt.Printf("  Visits:           %d (avg %.1f min)\n", sess.TotalVisits, sess.AvgSessionMinutes)
			fmt.Printf("  Refreshes:        %d manual, %d auto (%.1f%% manual)\n",
				sess.TotalManualRefreshes, sess.TotalAutoRefreshes, a.ManualRefreshRate)
			fmt.Printf("  Interactions 24h: %d\n", a.Interactions24h)
			fmt.Printf("  Activity score:   %d\n", a.ActivityScore)
			fmt.Printf("  Recommended:      every %d min\n", a.RecommendedFrequency)
			if sess.PreferredUpdateFrequency > 0 {
				fmt.Printf("  Current:          every %d min\n", sess.PreferredUpdateFrequency)
			}
			return nil
		},
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
