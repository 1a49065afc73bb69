// Package notify delivers the daily portfolio report by email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/invtrack/tracker-engine/internal/config"
	"github.com/invtrack/tracker-engine/internal/metrics"
	"github.com/invtrack/tracker-engine/internal/report"
)

// Mailer sends one email. Implementations must be safe for concurrent
// use.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailgunMailer sends mail through the Mailgun API.
type MailgunMailer struct {
	mg   *mailgun.MailgunImpl
	from string
}

// NewMailgunMailer creates a mailer for the given domain. senderName
// and senderEmail form the From header, "Name <email>".
func NewMailgunMailer(domain, apiKey, senderName, senderEmail string) *MailgunMailer {
	return &MailgunMailer{
		mg:   mailgun.NewMailgun(domain, apiKey),
		from: fmt.Sprintf("%s <%s>", senderName, senderEmail),
	}
}

func (m *MailgunMailer) Send(ctx context.Context, to, subject, body string) error {
	message := m.mg.NewMessage(m.from, subject, body, to)
	resp, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: send to %s: %w", to, err)
	}
	slog.Debug("mail accepted", "id", id, "resp", resp)
	return nil
}

// Job builds each recipient's portfolio report and mails it.
type Job struct {
	reporter *report.Reporter
	mailer   Mailer
}

// NewJob wires a report builder to a mailer.
func NewJob(reporter *report.Reporter, mailer Mailer) *Job {
	return &Job{reporter: reporter, mailer: mailer}
}

// Run sends the report to every recipient. Failures are logged and
// counted per recipient; the last error is returned so schedulers can
// flag the run, but one bad mailbox never blocks the rest.
func (j *Job) Run(ctx context.Context, recipients []config.Recipient) error {
	var lastErr error
	for _, r := range recipients {
		if err := j.sendOne(ctx, r); err != nil {
			metrics.EmailsTotal.WithLabelValues("error").Inc()
			slog.Error("report delivery failed", "email", r.Email, "user", r.UserID, "err", err)
			lastErr = err
			continue
		}
		metrics.EmailsTotal.WithLabelValues("ok").Inc()
		slog.Info("report delivered", "email", r.Email, "user", r.UserID)
	}
	return lastErr
}

func (j *Job) sendOne(ctx context.Context, r config.Recipient) error {
	rep, err := j.reporter.Build(ctx, r.UserID)
	if err != nil {
		return err
	}
	if len(rep.Rows) == 0 {
		slog.Info("no open positions, skipping report", "user", r.UserID)
		return nil
	}

	subject := "Stock Update - " + time.Now().UTC().Format("2006-01-02")
	return j.mailer.Send(ctx, r.Email, subject, rep.Table())
}
