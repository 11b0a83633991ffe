package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env     string
	DB      db
	Redis   redis
	Server  server
	Logger  logger
	Sync    syncConfig
	Relay   relay
	Lockout lockout
}

type db struct {
	Driver      string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type redis struct {
	URL string `env:"REDIS_URL"`
}

type server struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES"`
}

type logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type syncConfig struct {
	APIKeys             []string      `env:"SYNC_API_KEYS"`
	Cascade             string        `env:"SYNC_CASCADE"`
	AuthorityPolicyFile string        `env:"AUTHORITY_POLICY_FILE"`
	ClaimLease          time.Duration `env:"SYNC_CLAIM_LEASE"`
	SettleLag           time.Duration `env:"SYNC_SETTLE_LAG"`
}

type relay struct {
	WebhookURL    string        `env:"WEBHOOK_URL"`
	WebhookAPIKey string        `env:"WEBHOOK_API_KEY"`
	Timeout       time.Duration `env:"WEBHOOK_TIMEOUT"`
	MaxRetries    int           `env:"RELAY_MAX_RETRIES"`
	BaseDelay     time.Duration `env:"RELAY_BASE_DELAY"`
	MaxDelay      time.Duration `env:"RELAY_MAX_DELAY"`
	StaleAfter    time.Duration `env:"RELAY_STALE_AFTER"`
}

// lockout overrides the per-type attempt thresholds; zero keeps the built-in policy.
type lockout struct {
	APIMaxAttempts    int           `env:"LOCKOUT_API_MAX_ATTEMPTS"`
	APIBlockDuration  time.Duration `env:"LOCKOUT_API_BLOCK"`
	VerifyMaxAttempts int           `env:"LOCKOUT_VERIFY_MAX_ATTEMPTS"`
	SweepInterval     time.Duration `env:"LOCKOUT_SWEEP_INTERVAL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("storage_driver", StoragePostgres)
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("max_body_bytes", int64(4<<20))
	v.SetDefault("sync_cascade", "none")
	v.SetDefault("sync_claim_lease", 5*time.Minute)
	v.SetDefault("sync_settle_lag", time.Second)
	v.SetDefault("webhook_timeout", 10*time.Second)
	v.SetDefault("relay_max_retries", 0)
	v.SetDefault("relay_base_delay", 200*time.Millisecond)
	v.SetDefault("relay_max_delay", 2*time.Second)
	v.SetDefault("relay_stale_after", 2*time.Minute)
	v.SetDefault("lockout_sweep_interval", 10*time.Minute)
}

// MustLoad reads the process configuration and exits when it is unusable.
func MustLoad() *Config {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load(viper.New())
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load builds a Config from v. Tests pass a viper instance with values set directly.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: db{
			Driver:      strings.ToLower(v.GetString("storage_driver")),
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Redis: redis{URL: v.GetString("redis_url")},
		Server: server{
			RunAddress:      v.GetString("run_address"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("max_body_bytes"),
		},
		Logger: logger{LogLevel: v.GetString("log_level")},
		Sync: syncConfig{
			APIKeys:             SplitList(v.GetString("sync_api_keys")),
			Cascade:             v.GetString("sync_cascade"),
			AuthorityPolicyFile: v.GetString("authority_policy_file"),
			ClaimLease:          v.GetDuration("sync_claim_lease"),
			SettleLag:           v.GetDuration("sync_settle_lag"),
		},
		Relay: relay{
			WebhookURL:    v.GetString("webhook_url"),
			WebhookAPIKey: v.GetString("webhook_api_key"),
			Timeout:       v.GetDuration("webhook_timeout"),
			MaxRetries:    v.GetInt("relay_max_retries"),
			BaseDelay:     v.GetDuration("relay_base_delay"),
			MaxDelay:      v.GetDuration("relay_max_delay"),
			StaleAfter:    v.GetDuration("relay_stale_after"),
		},
		Lockout: lockout{
			APIMaxAttempts:    v.GetInt("lockout_api_max_attempts"),
			APIBlockDuration:  v.GetDuration("lockout_api_block"),
			VerifyMaxAttempts: v.GetInt("lockout_verify_max_attempts"),
			SweepInterval:     v.GetDuration("lockout_sweep_interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.DB.DatabaseURI == "" {
			return fmt.Errorf("DATABASE_URI is required for storage driver %q", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.DB.Driver)
	}
	if c.Relay.MaxRetries < 0 {
		return fmt.Errorf("RELAY_MAX_RETRIES must not be negative")
	}
	if c.Sync.SettleLag < 0 {
		return fmt.Errorf("SYNC_SETTLE_LAG must not be negative")
	}
	// An empty key list is not rejected here: the gate reports it per request
	// as a server configuration error so operators see it in the audit trail.
	return nil
}

// SplitList parses a comma separated list, trimming blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}
