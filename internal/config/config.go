// Package config loads runtime configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Recipient is one report subscriber: the portfolio owner and the
// address the daily report is mailed to.
type Recipient struct {
	Email  string
	UserID string
}

// Config holds all runtime settings. Values are read once at startup;
// nothing here is global, callers pass the struct down explicitly.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	AlphaVantageKey string
	QuoteCacheTTL   time.Duration

	BaselineTicker string

	ReportSchedule string
	Recipients     []Recipient

	MailgunDomain string
	MailgunAPIKey string
	SenderEmail   string
	SenderName    string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		AlphaVantageKey: os.Getenv("ALPHAVANTAGE_API_KEY"),
		BaselineTicker:  envOr("BASELINE_TICKER", "FXAIX"),
		ReportSchedule:  envOr("REPORT_SCHEDULE", "0 17 * * MON-FRI"),
		MailgunDomain:   os.Getenv("MAILGUN_DOMAIN"),
		MailgunAPIKey:   os.Getenv("MAILGUN_API_KEY"),
		SenderEmail:     os.Getenv("SENDER_EMAIL"),
		SenderName:      envOr("SENDER_NAME", "Investment Tracker"),
	}

	ttl := envOr("QUOTE_CACHE_TTL", "5m")
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return nil, fmt.Errorf("config: bad QUOTE_CACHE_TTL %q: %w", ttl, err)
	}
	cfg.QuoteCacheTTL = d

	if raw := os.Getenv("REPORT_RECIPIENTS"); raw != "" {
		recipients, err := ParseRecipients(raw)
		if err != nil {
			return nil, err
		}
		cfg.Recipients = recipients
	}

	return cfg, nil
}

// ParseRecipients parses the REPORT_RECIPIENTS format:
// "email:userID" entries separated by commas, e.g.
// "ana@example.com:user-1,bo@example.com:user-2".
func ParseRecipients(raw string) ([]Recipient, error) {
	var out []Recipient
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		email, userID, ok := strings.Cut(entry, ":")
		if !ok || email == "" || userID == "" {
			return nil, fmt.Errorf("config: bad recipient %q, want email:userID", entry)
		}
		out = append(out, Recipient{Email: email, UserID: userID})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: no recipients in %q", raw)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
