// Package config loads server configuration from EVENTHUB_* environment
// variables, with a few command line overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Configuration validation errors.
var (
	ErrMissingDSN         = errors.New("dsn is required")
	ErrShortJWTSecret     = errors.New("jwt secret must be at least 16 bytes")
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidTokenTTL    = errors.New("token ttl must be positive")
	ErrInvalidInterval    = errors.New("reminder interval must be positive")
	ErrInvalidTaskWorkers = errors.New("task workers must be at least 1")
	ErrInvalidTaskQueue   = errors.New("task queue size must be at least 1")
	ErrInvalidRetries     = errors.New("register retries must be at least 1")
	ErrInvalidLogLevel    = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat   = errors.New("log format must be 'text' or 'json'")
	ErrMissingUploadDir   = errors.New("upload dir is required")
	ErrMissingEmailFrom   = errors.New("email from is required when smtp host is set")
	ErrMissingJWTSecret   = errors.New("jwt secret is required")
)

const minSecretLength = 16

type Config struct {
	Port      int           `env:"PORT" envDefault:"8080"`
	DSN       string        `env:"DSN"`
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	UploadDir string        `env:"UPLOAD_DIR" envDefault:"uploads/events"`
	PublicURL string        `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`

	SMTPHost    string `env:"SMTP_HOST"`
	SMTPPort    int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser    string `env:"SMTP_USER"`
	SMTPPass    string `env:"SMTP_PASS"`
	EmailFrom   string `env:"EMAIL_FROM"`
	EmailLocale string `env:"EMAIL_LOCALE" envDefault:"en-US"`

	ReminderInterval time.Duration `env:"REMINDER_INTERVAL" envDefault:"1m"`
	TaskWorkers      int           `env:"TASK_WORKERS" envDefault:"4"`
	TaskQueueSize    int           `env:"TASK_QUEUE_SIZE" envDefault:"256"`
	RegisterRetries  int           `env:"REGISTER_RETRIES" envDefault:"5"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the environment and then applies flags parsed from args.
func Load(args []string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "EVENTHUB_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("eventhub", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres connection string")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory for uploaded event images")
	fs.DurationVar(&cfg.ReminderInterval, "reminder-interval", cfg.ReminderInterval, "reminder sweep interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.DSN == "" {
		return ErrMissingDSN
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.JWTSecret) < minSecretLength {
		return ErrShortJWTSecret
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.TokenTTL <= 0 {
		return ErrInvalidTokenTTL
	}
	if c.UploadDir == "" {
		return ErrMissingUploadDir
	}
	if c.SMTPHost != "" && c.EmailFrom == "" {
		return ErrMissingEmailFrom
	}
	if c.ReminderInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.TaskWorkers < 1 {
		return ErrInvalidTaskWorkers
	}
	if c.TaskQueueSize < 1 {
		return ErrInvalidTaskQueue
	}
	if c.RegisterRetries < 1 {
		return ErrInvalidRetries
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return ErrInvalidLogFormat
	}
	return nil
}

func (c Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		return logrus.ParseLevel(c.LogLevel)
	}
	return 0, ErrInvalidLogLevel
}

// NewLogger builds the root logger. Call Validate first.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := c.Level(); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
