// Package config loads service settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcclellann/fredInvest/pkg/plans"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LockBackendStore = "store"
	LockBackendRedis = "redis"
)

// Config is the resolved service configuration.
type Config struct {
	ServiceID string
	HTTPPort  int

	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	MaxDBConns  int32

	LockBackend string
	RedisURL    string
	LockKey     string
	LockTTL     time.Duration

	Schedule       string
	Workers        int
	Precision      int32
	MaturityPolicy string
	CronKey        string

	KafkaBrokers   []string
	KafkaTopic     string
	PublishTimeout time.Duration

	Plans []plans.Plan
}

type planEntry struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label"`
	AnnualRate   string `yaml:"annual_rate"`
	DurationDays int    `yaml:"duration_days"`
	MinAmount    string `yaml:"min_amount"`
	MaxAmount    string `yaml:"max_amount"`
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
	} `yaml:"service"`
	Store struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresURL string `yaml:"postgres_url"`
		MaxConns    int32  `yaml:"max_conns"`
	} `yaml:"store"`
	Lock struct {
		Backend    string `yaml:"backend"`
		RedisURL   string `yaml:"redis_url"`
		Key        string `yaml:"key"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"lock"`
	Payout struct {
		Schedule       string      `yaml:"schedule"`
		Workers        int         `yaml:"workers"`
		Precision      int32       `yaml:"precision"`
		MaturityPolicy string      `yaml:"maturity_policy"`
		Plans          []planEntry `yaml:"plans"`
	} `yaml:"payout"`
	Events struct {
		KafkaBrokers          []string `yaml:"kafka_brokers"`
		KafkaTopic            string   `yaml:"kafka_topic"`
		PublishTimeoutSeconds int      `yaml:"publish_timeout_seconds"`
	} `yaml:"events"`
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		ServiceID:      "fredinvest-payoutd",
		HTTPPort:       8080,
		StoreDriver:    StoreSQLite,
		SQLitePath:     "fredinvest.db",
		MaxDBConns:     10,
		LockBackend:    LockBackendStore,
		LockKey:        "investment_payout_lock",
		LockTTL:        10 * time.Minute,
		Schedule:       "0 0 * * *",
		Workers:        4,
		Precision:      8,
		MaturityPolicy: "mature_supersedes_accrual",
		KafkaTopic:     "investment.payouts",
		PublishTimeout: 10 * time.Second,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.ServiceID = envOrDefault("PAYOUT_SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.StoreDriver = envOrDefault("PAYOUT_STORE_DRIVER", cfg.StoreDriver)
	cfg.SQLitePath = envOrDefault("PAYOUT_SQLITE_PATH", cfg.SQLitePath)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.LockBackend = envOrDefault("PAYOUT_LOCK_BACKEND", cfg.LockBackend)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.LockKey = envOrDefault("PAYOUT_LOCK_KEY", cfg.LockKey)
	cfg.LockTTL = time.Duration(envInt("PAYOUT_LOCK_TTL_SECONDS", int(cfg.LockTTL.Seconds()))) * time.Second
	cfg.Schedule = envOrDefault("PAYOUT_SCHEDULE", cfg.Schedule)
	cfg.Workers = envInt("PAYOUT_WORKERS", cfg.Workers)
	cfg.Precision = int32(envInt("PAYOUT_PRECISION", int(cfg.Precision)))
	cfg.MaturityPolicy = envOrDefault("PAYOUT_MATURITY_POLICY", cfg.MaturityPolicy)
	cfg.CronKey = envOrDefault("CRON_KEY", cfg.CronKey)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("PAYOUT_KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.PublishTimeout = time.Duration(envInt("PAYOUT_PUBLISH_TIMEOUT_SECONDS", int(cfg.PublishTimeout.Seconds()))) * time.Second

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Store.Driver != "" {
		cfg.StoreDriver = f.Store.Driver
	}
	if f.Store.SQLitePath != "" {
		cfg.SQLitePath = f.Store.SQLitePath
	}
	if f.Store.PostgresURL != "" {
		cfg.DatabaseURL = f.Store.PostgresURL
	}
	if f.Store.MaxConns > 0 {
		cfg.MaxDBConns = f.Store.MaxConns
	}
	if f.Lock.Backend != "" {
		cfg.LockBackend = f.Lock.Backend
	}
	if f.Lock.RedisURL != "" {
		cfg.RedisURL = f.Lock.RedisURL
	}
	if f.Lock.Key != "" {
		cfg.LockKey = f.Lock.Key
	}
	if f.Lock.TTLSeconds > 0 {
		cfg.LockTTL = time.Duration(f.Lock.TTLSeconds) * time.Second
	}
	if f.Payout.Schedule != "" {
		cfg.Schedule = f.Payout.Schedule
	}
	if f.Payout.Workers > 0 {
		cfg.Workers = f.Payout.Workers
	}
	if f.Payout.Precision > 0 {
		cfg.Precision = f.Payout.Precision
	}
	if f.Payout.MaturityPolicy != "" {
		cfg.MaturityPolicy = f.Payout.MaturityPolicy
	}
	if len(f.Events.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Events.KafkaBrokers)
	}
	if f.Events.KafkaTopic != "" {
		cfg.KafkaTopic = f.Events.KafkaTopic
	}
	if f.Events.PublishTimeoutSeconds > 0 {
		cfg.PublishTimeout = time.Duration(f.Events.PublishTimeoutSeconds) * time.Second
	}
	for _, entry := range f.Payout.Plans {
		p, err := entry.toPlan()
		if err != nil {
			return fmt.Errorf("plan %q: %w", entry.ID, err)
		}
		cfg.Plans = append(cfg.Plans, p)
	}
	return nil
}

func (e planEntry) toPlan() (plans.Plan, error) {
	rate, err := decimal.NewFromString(e.AnnualRate)
	if err != nil {
		return plans.Plan{}, fmt.Errorf("annual_rate: %w", err)
	}
	minAmount, err := decimal.NewFromString(e.MinAmount)
	if err != nil {
		return plans.Plan{}, fmt.Errorf("min_amount: %w", err)
	}
	maxAmount, err := decimal.NewFromString(e.MaxAmount)
	if err != nil {
		return plans.Plan{}, fmt.Errorf("max_amount: %w", err)
	}
	label := e.Label
	if label == "" {
		label = e.ID
	}
	return plans.NewPlan(e.ID, label, rate, e.DurationDays, minAmount, maxAmount), nil
}

// Catalog returns the configured plans, or the built-in catalog when the
// config file lists none.
func (c Config) Catalog() (*plans.Catalog, error) {
	if len(c.Plans) == 0 {
		return plans.DefaultCatalog(), nil
	}
	return plans.NewCatalog(c.Plans...)
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("missing PAYOUT_SQLITE_PATH")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	switch c.LockBackend {
	case LockBackendStore:
	case LockBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("missing REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Precision <= 0 {
		return fmt.Errorf("precision must be positive")
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
