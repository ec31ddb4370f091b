// Package config handles configuration loading for ashare.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/quantfleet/ashare/pkg/logger"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database"  yaml:"database"`
	LLM       LLMConfig       `mapstructure:"llm"       yaml:"llm"`
	Trading   TradingConfig   `mapstructure:"trading"   yaml:"trading"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"    yaml:"market"`
	Logging   logger.Config   `mapstructure:"logging"   yaml:"logging"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr returns the host:port string for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LLMConfig holds provider-independent LLM call settings. Credentials
// live in the database per provider, never here.
type LLMConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// TradingConfig holds simulation settings.
type TradingConfig struct {
	// LiveMode rejects orders outside the exchange trading sessions.
	LiveMode bool `mapstructure:"live_mode" yaml:"live_mode"`
}

// SchedulerConfig holds task execution settings.
type SchedulerConfig struct {
	Workers         int `mapstructure:"workers"           yaml:"workers"`
	MaxRetries      int `mapstructure:"max_retries"       yaml:"max_retries"`
	RetryDelaySec   int `mapstructure:"retry_delay_sec"   yaml:"retry_delay_sec"`
	AgentTimeoutSec int `mapstructure:"agent_timeout_sec" yaml:"agent_timeout_sec"`
}

// MarketConfig holds market data limits fed into prompt building.
type MarketConfig struct {
	HotStockLimit int `mapstructure:"hot_stock_limit" yaml:"hot_stock_limit"`
	NewsLimit     int `mapstructure:"news_limit"      yaml:"news_limit"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.ashare/config.yaml (home directory)
//  3. /etc/ashare/config.yaml (system)
//
// Environment variables override config file values.
// Format: ASHARE_<SECTION>_<KEY>, e.g., ASHARE_SERVER_PORT
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".ashare"))
	v.AddConfigPath("/etc/ashare")

	v.SetEnvPrefix("ASHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is not required to exist; defaults + env carry it.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("ASHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	// Database defaults
	v.SetDefault("database.path", "./data/ashare.db")

	// LLM defaults
	v.SetDefault("llm.timeout_sec", 60)

	// Trading defaults
	v.SetDefault("trading.live_mode", false)

	// Scheduler defaults
	v.SetDefault("scheduler.workers", 5)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.retry_delay_sec", 60)
	v.SetDefault("scheduler.agent_timeout_sec", 120)

	// Market defaults
	v.SetDefault("market.hot_stock_limit", 10)
	v.SetDefault("market.news_limit", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
