// Package config handles application configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "ZAKUPBOT_CONFIG"

// Duration wraps time.Duration so YAML values like "30m" decode.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults for the zakup.sk.kz registry endpoints.
const (
	defaultListURL     = "https://zakup.sk.kz/eprocplan/open-api/plan-extract/filter"
	defaultDownloadURL = "https://zakup.sk.kz/eprocfilestorage/open-api/files/download"
)

// RegistryConfig describes the upstream procurement-plan registry.
type RegistryConfig struct {
	ListURL     string `yaml:"listUrl"`
	DownloadURL string `yaml:"downloadUrl"`
	Year        int    `yaml:"year"`
	PageSize    int    `yaml:"pageSize"`
	MaxPages    int    `yaml:"maxPages"`
}

// SMTPConfig describes the outbound mail transport. An empty Host or
// Sender disables mail delivery.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Sender   string `yaml:"sender"`
	Password string `yaml:"-"`
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string         `yaml:"-"`
	DatabasePath     string         `yaml:"databasePath"`
	DownloadDir      string         `yaml:"downloadDir"`
	LogLevel         string         `yaml:"logLevel"`
	AllowedUsers     []int64        `yaml:"allowedUsers"`
	TargetCodes      []string       `yaml:"targetCodes"`
	HeaderRows       int            `yaml:"headerRows"`
	CheckInterval    Duration       `yaml:"checkInterval"`
	Registry         RegistryConfig `yaml:"registry"`
	SMTP             SMTPConfig     `yaml:"smtp"`
}

// Load builds the configuration: defaults, then the YAML file named by
// ZAKUPBOT_CONFIG (if set), then environment variable overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if len(cfg.TargetCodes) == 0 {
		return nil, fmt.Errorf("at least one target TRU code is required")
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath:  "./data/bot.db",
		DownloadDir:   "./data/downloads",
		LogLevel:      "info",
		TargetCodes:   []string{"801019.000.000010"},
		HeaderRows:    10,
		CheckInterval: Duration(30 * time.Minute),
		Registry: RegistryConfig{
			ListURL:     defaultListURL,
			DownloadURL: defaultDownloadURL,
			Year:        time.Now().Year(),
			PageSize:    20,
			MaxPages:    20,
		},
		SMTP: SMTPConfig{Port: 587},
	}
}

func (c *Config) applyEnvOverrides() error {
	c.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TARGET_CODES"); v != "" {
		c.TargetCodes = splitList(v)
	}
	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CHECK_INTERVAL %q: %w", v, err)
		}
		c.CheckInterval = Duration(d)
	}
	if v := os.Getenv("PLAN_YEAR"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PLAN_YEAR %q: %w", v, err)
		}
		c.Registry.Year = year
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_SENDER"); v != "" {
		c.SMTP.Sender = v
	}
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		c.AllowedUsers = nil
		for _, s := range splitList(raw) {
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			c.AllowedUsers = append(c.AllowedUsers, uid)
		}
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// MailEnabled reports whether the SMTP transport is configured.
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.Sender != ""
}
