// Package config loads service configuration from file and environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Broker   Broker   `mapstructure:"broker"`
	Auth     Auth     `mapstructure:"auth"`
	Tracing  Tracing  `mapstructure:"tracing"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the PostgreSQL connection target. Empty means the
// in-memory store (data will not persist).
type Database struct {
	URL string `mapstructure:"url"`
}

// Broker holds the relay configuration: connection target, subscription
// target, and consumer-group identity.
type Broker struct {
	Address  string `mapstructure:"address"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

// Auth holds JWT issuance settings.
type Auth struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Tracing holds the OTLP exporter target. Empty disables export.
type Tracing struct {
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from config.yml in path (if present) with
// environment-variable overrides (e.g. BROKER_ADDRESS, DATABASE_URL).
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	hostname, _ := os.Hostname()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.url", "")
	v.SetDefault("broker.address", "localhost:6379")
	v.SetDefault("broker.stream", "trade-events")
	v.SetDefault("broker.group", "trade-group")
	v.SetDefault("broker.consumer", hostname)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("tracing.endpoint", "")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults suffice.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg)
	return cfg, err
}
