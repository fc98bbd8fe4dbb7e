package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        int
	DatabaseURL string

	LineChannelSecret      string
	LineChannelAccessToken string
	StripeWebhookSecret    string

	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string // bcrypt; takes precedence over AdminPassword

	RunnerAuthToken string
	RerunRichMenuID string

	// Cron spec for the plan-expiry sweep, evaluated in JST.
	ExpirySweepSpec string
}

func Load() Config {
	cfg := Config{
		Port:                   8080,
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		LineChannelSecret:      os.Getenv("LINE_CHANNEL_SECRET"),
		LineChannelAccessToken: os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		StripeWebhookSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AdminUsername:          os.Getenv("ADMIN_USERNAME"),
		AdminPassword:          os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash:      os.Getenv("ADMIN_PASSWORD_HASH"),
		RunnerAuthToken:        os.Getenv("RUNNER_AUTH_TOKEN"),
		RerunRichMenuID:        os.Getenv("RERUN_RICHMENU_ID"),
		ExpirySweepSpec:        "5 0 * * *",
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			cfg.Port = p
		}
	}
	if v := os.Getenv("EXPIRY_SWEEP_SPEC"); v != "" {
		cfg.ExpirySweepSpec = v
	}

	return cfg
}

func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}
