// Package config provides YAML-based configuration loading for mailslot,
// with environment variable overrides for container deployments.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported platforms and storage drivers.
const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
	PlatformSlack    = "slack"

	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverFile   = "file"
)

// scheduleParser accepts the five-field cron expressions the session reaper
// runs on.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config is the top-level mailslot configuration, loaded from mailslot.yaml.
type Config struct {
	Platform  string          `yaml:"platform"`
	Channel   string          `yaml:"channel"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	Storage   StorageConfig   `yaml:"storage"`
	Relay     RelayConfig     `yaml:"relay"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds Bot API credentials.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"` // sqlite database file
	Dir    string      `yaml:"dir"`  // directory for the file driver
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds connection settings for a MySQL-compatible server.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RelayConfig tunes the relay core.
type RelayConfig struct {
	// CountNamedPosts makes posts signed with a nickname consume a message
	// number too, so total_messages counts every relay.
	CountNamedPosts       *bool  `yaml:"count_named_posts"`
	MaxWorkers            int    `yaml:"max_workers"`
	BroadcastTimeoutSec   int    `yaml:"broadcast_timeout_sec"`
	SessionIdleTimeoutSec int    `yaml:"session_idle_timeout_sec"`
	ReaperCron            string `yaml:"reaper_cron"`
}

// DashboardConfig controls the read-only stats HTTP server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls logger output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// envOverrides maps environment variables onto Config fields. Only
// variables that are set take effect.
type envOverrides struct {
	BotToken        string `env:"BOT_TOKEN"`
	ChannelID       string `env:"CHANNEL_ID"`
	Platform        string `env:"MAILSLOT_PLATFORM"`
	DiscordToken    string `env:"DISCORD_BOT_TOKEN"`
	SlackAppToken   string `env:"SLACK_APP_TOKEN"`
	SlackBotToken   string `env:"SLACK_BOT_TOKEN"`
	StorageDriver   string `env:"MAILSLOT_STORAGE_DRIVER"`
	StoragePath     string `env:"MAILSLOT_STORAGE_PATH"`
	StorageDir      string `env:"MAILSLOT_STORAGE_DIR"`
	MySQLHost       string `env:"MAILSLOT_MYSQL_HOST"`
	MySQLPort       int    `env:"MAILSLOT_MYSQL_PORT"`
	MySQLUser       string `env:"MAILSLOT_MYSQL_USER"`
	MySQLPassword   string `env:"MAILSLOT_MYSQL_PASSWORD"`
	MySQLDatabase   string `env:"MAILSLOT_MYSQL_DATABASE"`
	DashboardPort   int    `env:"MAILSLOT_DASHBOARD_PORT"`
	LogLevel        string `env:"MAILSLOT_LOG_LEVEL"`
	CountNamedPosts *bool  `env:"MAILSLOT_COUNT_NAMED_POSTS"`
}

// Load reads a YAML config file from path, applies environment overrides
// and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, os.Environ())
}

// FromEnv builds a validated Config from environment variables alone.
func FromEnv() (*Config, error) {
	return parse(nil, os.Environ())
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the process environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, nil)
}

func parse(data []byte, environ []string) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	if environ != nil {
		if err := cfg.applyEnv(environ); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays set environment variables onto the config.
func (c *Config) applyEnv(environ []string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: env.ToMap(environ)}); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	setString(&c.Telegram.Token, o.BotToken)
	setString(&c.Channel, o.ChannelID)
	setString(&c.Platform, o.Platform)
	setString(&c.Discord.BotToken, o.DiscordToken)
	setString(&c.Slack.AppToken, o.SlackAppToken)
	setString(&c.Slack.BotToken, o.SlackBotToken)
	setString(&c.Storage.Driver, o.StorageDriver)
	setString(&c.Storage.Path, o.StoragePath)
	setString(&c.Storage.Dir, o.StorageDir)
	setString(&c.Storage.MySQL.Host, o.MySQLHost)
	setString(&c.Storage.MySQL.User, o.MySQLUser)
	setString(&c.Storage.MySQL.Password, o.MySQLPassword)
	setString(&c.Storage.MySQL.Database, o.MySQLDatabase)
	setString(&c.Log.Level, o.LogLevel)
	if o.MySQLPort != 0 {
		c.Storage.MySQL.Port = o.MySQLPort
	}
	if o.DashboardPort != 0 {
		c.Dashboard.Enabled = true
		c.Dashboard.Port = o.DashboardPort
	}
	if o.CountNamedPosts != nil {
		c.Relay.CountNamedPosts = o.CountNamedPosts
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformTelegram
	}
	c.Platform = strings.ToLower(c.Platform)
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Path == "" {
		c.Storage.Path = "mailslot.db"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "."
	}
	if c.Storage.MySQL.Host == "" {
		c.Storage.MySQL.Host = "127.0.0.1"
	}
	if c.Storage.MySQL.Port == 0 {
		c.Storage.MySQL.Port = 3306
	}
	if c.Storage.MySQL.User == "" {
		c.Storage.MySQL.User = "root"
	}
	if c.Storage.MySQL.Database == "" {
		c.Storage.MySQL.Database = "mailslot"
	}
	if c.Relay.CountNamedPosts == nil {
		v := true
		c.Relay.CountNamedPosts = &v
	}
	if c.Relay.MaxWorkers <= 0 {
		c.Relay.MaxWorkers = 32
	}
	if c.Relay.BroadcastTimeoutSec <= 0 {
		c.Relay.BroadcastTimeoutSec = 30
	}
	if c.Relay.SessionIdleTimeoutSec <= 0 {
		c.Relay.SessionIdleTimeoutSec = 1800
	}
	if c.Relay.ReaperCron == "" {
		c.Relay.ReaperCron = "*/5 * * * *"
	}
	if c.Dashboard.Port <= 0 {
		c.Dashboard.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Channel == "" {
		errs = append(errs, "channel is required")
	}
	switch c.Platform {
	case PlatformTelegram:
		if c.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required")
		}
	case PlatformDiscord:
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	case PlatformSlack:
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverMySQL, DriverFile:
	default:
		errs = append(errs, fmt.Sprintf("unsupported storage driver %q", c.Storage.Driver))
	}
	if _, err := scheduleParser.Parse(c.Relay.ReaperCron); err != nil {
		errs = append(errs, fmt.Sprintf("relay.reaper_cron %q is invalid: %v", c.Relay.ReaperCron, err))
	}
	if c.Dashboard.Port > 65535 {
		errs = append(errs, "dashboard.port must be <= 65535")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CountsNamedPosts reports whether nickname-signed posts consume a number.
func (c *Config) CountsNamedPosts() bool {
	return c.Relay.CountNamedPosts == nil || *c.Relay.CountNamedPosts
}
