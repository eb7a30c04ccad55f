package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailtriage.db"`

	// Attachment storage
	AttachmentsDir string `env:"ATTACHMENTS_DIR" envDefault:"./data/attachments"`

	// Gmail
	GmailCredentialsPath string `env:"GMAIL_CREDENTIALS_PATH" envDefault:"./credentials/credentials.json"`
	GmailTokenPath       string `env:"GMAIL_TOKEN_PATH" envDefault:"./credentials/token.json"`

	// Classifier
	OpenAIAPIKey        string  `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL       string  `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel         string  `env:"OPENAI_MODEL" envDefault:"gpt-4-turbo-preview"`
	UrgencyThreshold    float64 `env:"URGENCY_THRESHOLD" envDefault:"0.8"`
	UrgencyKeywordsPath string  `env:"URGENCY_KEYWORDS_PATH"` // optional JSON keyword->score table

	// Ingestion
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30m"`
	FetchWindow  time.Duration `env:"FETCH_WINDOW" envDefault:"24h"`
	FetchLimit   int64         `env:"FETCH_LIMIT" envDefault:"100"`
	IncludeSent  bool          `env:"INCLUDE_SENT" envDefault:"false"`

	// Mailbox owner, used for outbound mail where headers are incomplete
	OwnerName  string `env:"OWNER_NAME"`
	OwnerEmail string `env:"OWNER_EMAIL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.FetchLimit <= 0 {
		return nil, fmt.Errorf("FETCH_LIMIT must be positive, got %d", cfg.FetchLimit)
	}
	if cfg.UrgencyThreshold < 0 || cfg.UrgencyThreshold > 1 {
		return nil, fmt.Errorf("URGENCY_THRESHOLD must be in [0,1], got %v", cfg.UrgencyThreshold)
	}
	if cfg.PollInterval < time.Minute {
		return nil, fmt.Errorf("POLL_INTERVAL must be at least 1m, got %s", cfg.PollInterval)
	}

	return cfg, nil
}
