// Package config loads server configuration from defaults, an optional YAML
// file, .env files and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHATMEMORY_DB_DRIVER.
const EnvPrefix = "CHATMEMORY"

type Config struct {
	DB     DBConfig     `yaml:"db" mapstructure:"db"`
	LLM    LLMConfig    `yaml:"llm" mapstructure:"llm"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Warm   WarmConfig   `yaml:"warm" mapstructure:"warm"`
}

type DBConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type LLMConfig struct {
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	Debug bool   `yaml:"debug" mapstructure:"debug"`
}

type ServerConfig struct {
	HTTPAddr   string  `yaml:"http_addr" mapstructure:"http_addr"`
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	TrustProxy bool    `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

type WarmConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
	Limit    int    `yaml:"limit" mapstructure:"limit"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultDBPath is the SQLite file used when none is configured.
func DefaultDBPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "chatmemory", "memory.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatmemory.db"
	}
	return filepath.Join(home, ".local", "share", "chatmemory", "memory.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.path", DefaultDBPath())
	v.SetDefault("db.dsn", "")
	v.SetDefault("llm.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.debug", false)
	v.SetDefault("server.http_addr", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("warm.schedule", "")
	v.SetDefault("warm.limit", 20)
}

// legacyEnv maps keys to the unprefixed variables the server has always read.
var legacyEnv = map[string]string{
	"db.path":     "MEMORY_DB_PATH",
	"log.debug":   "DEBUG",
	"llm.api_key": "ANTHROPIC_API_KEY",
}

// SearchPaths returns the config files tried, in order, when Load gets no path.
func SearchPaths() []string {
	paths := []string{"chatmemory.yaml"}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "chatmemory", "config.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chatmemory", "config.yaml"))
	}
	return paths
}

// Load builds a Config. An explicit path must exist; otherwise the first
// file from SearchPaths is used if present. Environment variables override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.Log.Debug {
		cfg.Log.Level = "debug"
	}
	cfg.DB.Path = os.ExpandEnv(cfg.DB.Path)
	cfg.DB.DSN = os.ExpandEnv(cfg.DB.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("config: db.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("config: db.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: invalid db.driver %q (must be sqlite, postgres, or memory)", c.DB.Driver)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: llm.temperature %v out of range [0, 2]", c.LLM.Temperature)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config: server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Warm.Limit < 0 {
		return fmt.Errorf("config: warm.limit must not be negative")
	}
	if c.Warm.Schedule != "" {
		if _, err := cron.ParseStandard(c.Warm.Schedule); err != nil {
			return fmt.Errorf("config: invalid warm.schedule %q: %w", c.Warm.Schedule, err)
		}
	}
	return nil
}
