package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                 int           `env:"PORT" envDefault:"3333"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	DatabaseType         string        `env:"DATABASE_TYPE" envDefault:"sqlite"`
	RedisURL             string        `env:"REDIS_URL"`
	SessionSecret        string        `env:"SESSION_SECRET"`
	AllowedOrigins       []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	VoteMaxAttempts      int           `env:"VOTE_MAX_ATTEMPTS" envDefault:"3"`
	BroadcastQueueSize   int           `env:"BROADCAST_QUEUE_SIZE" envDefault:"1024"`
	ObserverBuffer       int           `env:"OBSERVER_BUFFER" envDefault:"16"`
	ObserverWriteTimeout time.Duration `env:"OBSERVER_WRITE_TIMEOUT" envDefault:"5s"`
	ReconcileOnStart     bool          `env:"RECONCILE_ON_START" envDefault:"false"`
}

// ParseFlags builds the config from .env, the environment and CLI flags.
// Flags win over environment variables.
func ParseFlags(args []string) (Config, error) {
	// A missing .env is fine; a malformed one is not
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	flags := flag.NewFlagSet("livepoll", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	flags.IntVar(&cfg.Port, "p", cfg.Port, "Server port")
	flags.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "Database URL")
	flags.StringVar(&cfg.DatabaseType, "t", cfg.DatabaseType, "Database type (sqlite or postgres)")
	flags.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL (enables shared tallies and cross-instance broadcast)")
	origins := flags.String("origins", strings.Join(cfg.AllowedOrigins, ","), "Comma separated CORS origins")

	// Secrets (prefer env variables, but allow CLI for dev)
	flags.StringVar(&cfg.SessionSecret, "session-secret", cfg.SessionSecret, "Session cookie signing secret (prefer env)")

	// Tuning
	flags.IntVar(&cfg.VoteMaxAttempts, "vote-attempts", cfg.VoteMaxAttempts, "Attempts per vote before reporting a conflict")
	flags.IntVar(&cfg.BroadcastQueueSize, "broadcast-queue", cfg.BroadcastQueueSize, "Pending broadcast capacity")
	flags.IntVar(&cfg.ObserverBuffer, "observer-buffer", cfg.ObserverBuffer, "Messages buffered per observer before it is dropped")
	flags.DurationVar(&cfg.ObserverWriteTimeout, "observer-write-timeout", cfg.ObserverWriteTimeout, "Write timeout per observer message")
	flags.BoolVar(&cfg.ReconcileOnStart, "reconcile", cfg.ReconcileOnStart, "Rebuild the Redis tallies from the ledger on start (only while no other instance serves)")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = splitList(*origins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and bounds.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if c.DatabaseType != "sqlite" && c.DatabaseType != "postgres" {
		return fmt.Errorf("database type must be sqlite or postgres, got %q", c.DatabaseType)
	}
	// Secrets - MUST be provided
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.VoteMaxAttempts < 1 {
		return errors.New("vote attempts must be at least 1")
	}
	if c.BroadcastQueueSize < 1 || c.ObserverBuffer < 1 {
		return errors.New("broadcast queue and observer buffer must be positive")
	}
	if c.ObserverWriteTimeout <= 0 {
		return errors.New("observer write timeout must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
