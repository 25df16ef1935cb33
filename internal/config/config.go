package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	APNS     APNSConfig     `yaml:"apns"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration. When Enabled is false the
// engine runs on the in-memory store only.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// APNSConfig holds the push provider configuration. When Enabled is false
// deferred notifications are logged and dropped.
type APNSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyFile    string `yaml:"key_file"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// DispatchConfig holds alert dispatch policy. These are deliberate policy
// constants, not tuning knobs: changing them changes who gets alerted.
type DispatchConfig struct {
	AlertTTLMinutes     int     `yaml:"alert_ttl_minutes"`
	DefaultRadiusKm     float64 `yaml:"default_radius_km"`
	NearbyQueryRadiusKm float64 `yaml:"nearby_query_radius_km"`
	NearbyQueryLimit    int     `yaml:"nearby_query_limit"`
	SweepSpec           string  `yaml:"sweep_spec"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dispatch.AlertTTLMinutes == 0 {
		c.Dispatch.AlertTTLMinutes = 60
	}
	if c.Dispatch.DefaultRadiusKm == 0 {
		c.Dispatch.DefaultRadiusKm = 10
	}
	if c.Dispatch.NearbyQueryRadiusKm == 0 {
		c.Dispatch.NearbyQueryRadiusKm = 50
	}
	if c.Dispatch.NearbyQueryLimit == 0 {
		c.Dispatch.NearbyQueryLimit = 20
	}
	if c.Dispatch.SweepSpec == "" {
		c.Dispatch.SweepSpec = "@every 1m"
	}
}

// AlertTTL returns the alert time-to-live as a duration.
func (c *DispatchConfig) AlertTTL() time.Duration {
	return time.Duration(c.AlertTTLMinutes) * time.Minute
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
