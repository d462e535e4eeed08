package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
)

type Config struct {
	Addr      string    `envconfig:"DRAFT_ADDR" default:":8080"`
	LogLevel  string    `envconfig:"DRAFT_LOG_LEVEL" default:"info"`
	Store     StoreKind `envconfig:"DRAFT_STORE" default:"memory"`
	DB        DB
	RedisAddr string `envconfig:"DRAFT_REDIS_ADDR"`
	// JWTSecret signs and verifies the bearer tokens that identify accounts.
	JWTSecret      string        `envconfig:"DRAFT_JWT_SECRET"`
	AllowedOrigins []string      `envconfig:"DRAFT_ALLOWED_ORIGINS"`
	SweepInterval  time.Duration `envconfig:"DRAFT_SWEEP_INTERVAL" default:"5s"`
	LobbyTTL       time.Duration `envconfig:"DRAFT_LOBBY_TTL" default:"24h"`
	// IdleAfter unloads unfinished lobbies nobody has watched for this long.
	IdleAfter     time.Duration `envconfig:"DRAFT_IDLE_AFTER" default:"10m"`
	ShutdownGrace time.Duration `envconfig:"DRAFT_SHUTDOWN_GRACE" default:"10s"`
}

type DB struct {
	URL string `envconfig:"DRAFT_DATABASE_URL"`
}

// Load reads an optional .env file and then the process environment. Values
// already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing the config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DB.URL == "" {
			return errors.New("DRAFT_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.SweepInterval <= 0 {
		return errors.New("DRAFT_SWEEP_INTERVAL must be positive")
	}
	if strings.TrimSpace(c.JWTSecret) == "" && c.Store == StorePostgres {
		return errors.New("DRAFT_JWT_SECRET is required outside of dev mode")
	}
	return nil
}
