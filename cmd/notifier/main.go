// The notifier mails each configured recipient their portfolio report
// on a cron schedule, or once with -once.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/invtrack/tracker-engine/internal/config"
	"github.com/invtrack/tracker-engine/internal/ledger"
	"github.com/invtrack/tracker-engine/internal/notify"
	"github.com/invtrack/tracker-engine/internal/quotes"
	"github.com/invtrack/tracker-engine/internal/report"
	"github.com/invtrack/tracker-engine/internal/store"
)

func main() {
	once := flag.Bool("once", false, "send the report immediately and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}
	if len(cfg.Recipients) == 0 {
		slog.Error("REPORT_RECIPIENTS not set, nothing to do")
		os.Exit(1)
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.SenderEmail == "" {
		slog.Error("MAILGUN_DOMAIN, MAILGUN_API_KEY and SENDER_EMAIL are required")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	provider := quotes.NewClient(cfg.AlphaVantageKey, quotes.WithCacheTTL(cfg.QuoteCacheTTL))
	lg := ledger.NewService(store.NewPostgresStore(pool))
	reporter := report.NewReporter(lg, provider, cfg.BaselineTicker)
	mailer := notify.NewMailgunMailer(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.SenderName, cfg.SenderEmail)
	job := notify.NewJob(reporter, mailer)

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := job.Run(ctx, cfg.Recipients); err != nil {
			slog.Error("report run finished with errors", "err", err)
		}
	}

	if *once {
		run()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReportSchedule, run); err != nil {
		slog.Error("invalid REPORT_SCHEDULE", "schedule", cfg.ReportSchedule, "err", err)
		os.Exit(1)
	}
	c.Start()
	slog.Info("notifier scheduled", "schedule", cfg.ReportSchedule, "recipients", len(cfg.Recipients))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down notifier...")
	<-c.Stop().Done()
}
