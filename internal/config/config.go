package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Pretty bool   `yaml:"pretty" toml:"pretty"`
	} `yaml:"log" toml:"log"`

	Database DatabaseConfig `yaml:"database" toml:"database"`
	Backup   BackupConfig   `yaml:"backup" toml:"backup"`

	Redis struct {
		Address  string `yaml:"address" toml:"address"`
		Password string `yaml:"password" toml:"password"`
		DB       int    `yaml:"db" toml:"db"`
	} `yaml:"redis" toml:"redis"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds" toml:"ttl_seconds"`
	} `yaml:"cache" toml:"cache"`

	HTTP struct {
		Port           int     `yaml:"port" toml:"port"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
		// AdminAPIKeys guard /api/v1/admin; empty leaves the admin routes open.
		AdminAPIKeys []string `yaml:"admin_api_keys" toml:"admin_api_keys"`
	} `yaml:"http" toml:"http"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled" toml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port" toml:"prometheus_port"`
	} `yaml:"monitoring" toml:"monitoring"`

	Schedule ScheduleConfig `yaml:"schedule" toml:"schedule"`

	Audit struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Path    string `yaml:"path" toml:"path"`
	} `yaml:"audit" toml:"audit"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite3 | postgres | memory
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	IntervalHours int    `yaml:"interval_hours" toml:"interval_hours"`
	Path          string `yaml:"path" toml:"path"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

type ScheduleConfig struct {
	PresetsPath          string `yaml:"presets_path" toml:"presets_path"`
	WatchIntervalSeconds int    `yaml:"watch_interval_seconds" toml:"watch_interval_seconds"`
	OfficeStart          string `yaml:"office_start" toml:"office_start"` // "09:00"
	OfficeEnd            string `yaml:"office_end" toml:"office_end"`     // "18:00"
}

// Load reads a YAML (or .toml) config file. ${ENV_VAR} placeholders are expanded before decoding.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err = toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	} else if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Database.Driver == "sqlite3" {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/studio.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RateLimitRPS <= 0 {
		c.HTTP.RateLimitRPS = 10
	}
	if c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = 20
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Schedule.WatchIntervalSeconds <= 0 {
		c.Schedule.WatchIntervalSeconds = 30
	}
	if c.Schedule.OfficeStart == "" {
		c.Schedule.OfficeStart = "09:00"
	}
	if c.Schedule.OfficeEnd == "" {
		c.Schedule.OfficeEnd = "18:00"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "reports"
	}

	// unset ${ADMIN_API_KEY} expands to an empty entry
	keys := c.HTTP.AdminAPIKeys[:0]
	for _, k := range c.HTTP.AdminAPIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.HTTP.AdminAPIKeys = keys
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}

	start, err := time.Parse("15:04", c.Schedule.OfficeStart)
	if err != nil {
		return fmt.Errorf("schedule.office_start: invalid format '%s', expected HH:MM", c.Schedule.OfficeStart)
	}
	end, err := time.Parse("15:04", c.Schedule.OfficeEnd)
	if err != nil {
		return fmt.Errorf("schedule.office_end: invalid format '%s', expected HH:MM", c.Schedule.OfficeEnd)
	}
	if !end.After(start) {
		return fmt.Errorf("schedule: office_end must be after office_start")
	}
	return nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Schedule.WatchIntervalSeconds) * time.Second
}

// OfficeHours returns the office band as whole hours, start <= hour < end.
func (c *Config) OfficeHours() (start, end int) {
	s, _ := time.Parse("15:04", c.Schedule.OfficeStart)
	e, _ := time.Parse("15:04", c.Schedule.OfficeEnd)
	return s.Hour(), e.Hour()
}
