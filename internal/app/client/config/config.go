package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerAddress = "localhost:8080"
	defaultEnv           = "local"
	defaultConfigDir     = ".portalsync"
	defaultTimeout       = 30 * time.Second

	configName = "config"
	configType = "yaml"
)

type Config struct {
	Env           string
	ServerAddress string
	APIKey        string
	EnableTLS     bool
	Timeout       time.Duration
	ConfigDir     string
	DataPath      string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("server_address", defaultServerAddress)
	v.SetDefault("enable_tls", false)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("config_dir", "")
}

// Load reads the client configuration from an optional .env file, the yaml
// config file and the environment, in increasing precedence. An empty file
// path searches the config directory and the working directory.
func Load(v *viper.Viper, file string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	setDefaults(v)
	v.AutomaticEnv()

	dir, err := resolveDir(v.GetString("config_dir"))
	if err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
		v.SetConfigName(configName)
		v.SetConfigType(configType)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Env:           v.GetString("app_env"),
		ServerAddress: strings.TrimSpace(v.GetString("server_address")),
		APIKey:        strings.TrimSpace(v.GetString("api_key")),
		EnableTLS:     v.GetBool("enable_tls"),
		Timeout:       v.GetDuration("timeout"),
		ConfigDir:     dir,
		DataPath:      filepath.Join(dir, "state.db"),
	}
	if p := v.GetString("data_path"); p != "" {
		cfg.DataPath = p
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveDir(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, defaultConfigDir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// BaseURL is the server root with its scheme.
func (c *Config) BaseURL() string {
	if strings.HasPrefix(c.ServerAddress, "http://") || strings.HasPrefix(c.ServerAddress, "https://") {
		return strings.TrimRight(c.ServerAddress, "/")
	}
	scheme := "http://"
	if c.EnableTLS {
		scheme = "https://"
	}
	return scheme + strings.TrimRight(c.ServerAddress, "/")
}

// Save writes the connection settings to the yaml config file in ConfigDir
// and returns its path. The file holds the API key, so it is owner-only.
func (c *Config) Save() (string, error) {
	v := viper.New()
	v.Set("server_address", c.ServerAddress)
	v.Set("api_key", c.APIKey)
	v.Set("enable_tls", c.EnableTLS)
	v.Set("timeout", c.Timeout.String())

	path := filepath.Join(c.ConfigDir, configName+"."+configType)
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("chmod config: %w", err)
	}
	return path, nil
}
