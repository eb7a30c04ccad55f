package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/maubry/mailtriage/internal/attachments"
	"github.com/maubry/mailtriage/internal/classifier"
	"github.com/maubry/mailtriage/internal/config"
	"github.com/maubry/mailtriage/internal/database"
	"github.com/maubry/mailtriage/internal/decoder"
	"github.com/maubry/mailtriage/internal/gmail"
	"github.com/maubry/mailtriage/internal/ingest"
	"github.com/maubry/mailtriage/internal/parser"
	"github.com/maubry/mailtriage/internal/sender"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mailtriage",
		Short:         "Property management email triage: fetch, classify and store incoming mail",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		ingestCmd(),
		migrateCmd(),
		maintainCmd(),
		sendCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds every wired component. Commands pick what they need.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *database.DB
	counters     *database.CounterService
	messages     *database.MessageRepo
	runs         *database.RunRepo
	store        *attachments.Store
	gmail        *gmail.Client
	orchestrator *ingest.Orchestrator
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newApp(ctx context.Context, includeSent bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	counters := database.NewCounterService(db)
	messages := database.NewMessageRepo(db, counters)
	runs := database.NewRunRepo(db)

	store, err := attachments.New(cfg.AttachmentsDir, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init attachment store: %w", err)
	}

	gmailClient, err := gmail.NewClient(gmail.Config{
		CredentialsPath: cfg.GmailCredentialsPath,
		TokenPath:       cfg.GmailTokenPath,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init gmail client: %w", err)
	}

	dec := decoder.New(store, parser.NewHTMLParser(), decoder.Owner{
		Name:  cfg.OwnerName,
		Email: cfg.OwnerEmail,
	}, logger)

	keywords := classifier.DefaultUrgencyKeywords()
	if cfg.UrgencyKeywordsPath != "" {
		keywords, err = classifier.LoadUrgencyKeywords(cfg.UrgencyKeywordsPath)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to load urgency keywords: %w", err)
		}
	}
	chat := classifier.NewChatClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	cls := classifier.New(chat, keywords, cfg.UrgencyThreshold, logger)

	orchestrator := ingest.New(gmailClient, dec, cls, messages, runs, ingest.Options{
		FetchLimit:      cfg.FetchLimit,
		IncludeOutbound: includeSent || cfg.IncludeSent,
	}, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		counters:     counters,
		messages:     messages,
		runs:         runs,
		store:        store,
		gmail:        gmailClient,
		orchestrator: orchestrator,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("starting mailtriage",
				"interval", a.cfg.PollInterval,
				"window", a.cfg.FetchWindow,
			)

			sched := ingest.NewScheduler(a.orchestrator, a.cfg.PollInterval, a.cfg.FetchWindow, a.logger)
			sched.Start(ctx)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh

			a.logger.Info("received shutdown signal", "signal", sig)
			cancel()
			sched.Stop()
			a.logger.Info("mailtriage stopped")
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	var window time.Duration
	var includeSent bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, includeSent)
			if err != nil {
				return err
			}
			defer a.close()

			if window == 0 {
				window = a.cfg.FetchWindow
			}
			summary, err := a.orchestrator.Run(ctx, time.Now().Add(-window))
			if err != nil {
				return err
			}

			a.logger.Info("ingestion finished",
				"processed", summary.Processed,
				"new", summary.New,
				"errors", len(summary.Errors),
			)
			for _, e := range summary.Errors {
				a.logger.Warn("ingestion error", "detail", e)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "how far back to fetch (default FETCH_WINDOW)")
	cmd.Flags().BoolVar(&includeSent, "include-sent", false, "also ingest outbound mail")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and seed data, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("database ready", "path", a.cfg.DatabasePath)
			return nil
		},
	}
}

func maintainCmd() *cobra.Command {
	var attachmentMaxAge time.Duration

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Compact and verify the database, reconcile counters, prune old attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.db.Maintain(ctx, a.logger)
			if err != nil {
				return fmt.Errorf("database maintenance failed: %w", err)
			}
			a.logger.Info("database maintenance done",
				"integrity_ok", report.IntegrityOK,
				"duration", report.Duration,
			)

			counts, err := a.counters.Recompute(ctx)
			if err != nil {
				return fmt.Errorf("counter recomputation failed: %w", err)
			}
			a.logger.Info("counters reconciled",
				"critical", counts.Critical,
				"high", counts.High,
				"unread", counts.Unread,
				"requires_action", counts.RequiresAction,
			)

			if attachmentMaxAge > 0 {
				cleanup, err := a.store.CleanupOlderThan(attachmentMaxAge)
				if err != nil {
					return fmt.Errorf("attachment cleanup failed: %w", err)
				}
				a.logger.Info("attachments pruned",
					"removed", cleanup.RemovedFiles,
					"freed_bytes", cleanup.FreedBytes,
				)
			}

			stats, err := a.store.Stats()
			if err == nil {
				a.logger.Info("attachment storage",
					"files", stats.TotalFiles,
					"total_bytes", stats.TotalBytes,
				)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&attachmentMaxAge, "prune-attachments-older-than", 0, "remove stored attachments older than this (0 disables)")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		to      []string
		cc      []string
		subject string
		body    string
		files   []string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Compose and send an email through the configured mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			if len(to) == 0 {
				return fmt.Errorf("at least one --to recipient is required")
			}

			snd := sender.New(a.gmail, a.logger)
			return snd.Send(ctx, sender.Draft{
				FromName:    a.cfg.OwnerName,
				FromEmail:   a.cfg.OwnerEmail,
				To:          to,
				Cc:          cc,
				Subject:     subject,
				Body:        body,
				Attachments: files,
			})
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "cc address (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&body, "body", "", "plain text body")
	cmd.Flags().StringSliceVar(&files, "attach", nil, "file to attach (repeatable)")
	return cmd
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
