// Package config holds the botfleet configuration: a YAML file the operator
// hand-edits, loaded with defaults for anything unset.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Hub       HubConfig       `yaml:"hub"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Slack     SlackConfig     `yaml:"slack"`
}

type GatewayConfig struct {
	Listen string `yaml:"listen"`
}

type HubConfig struct {
	QueueCapacity        int `yaml:"queue_capacity"`
	BufferCapacity       int `yaml:"buffer_capacity"`
	PollTimeoutSeconds   int `yaml:"poll_timeout_seconds"`
	BootstrapRounds      int `yaml:"bootstrap_rounds"`
	WatchIntervalSeconds int `yaml:"watch_interval_seconds"`
	MinPollIntervalMs    int `yaml:"min_poll_interval_ms"`
	StormThreshold       int `yaml:"conflict_storm_threshold"`
}

type ReconcileConfig struct {
	Schedule string `yaml:"schedule"` // robfig/cron spec, e.g. "@every 6h"
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		DataDir: DataDir(),
		Gateway: GatewayConfig{Listen: ":8090"},
		Hub: HubConfig{
			QueueCapacity:        256,
			BufferCapacity:       2000,
			PollTimeoutSeconds:   25,
			BootstrapRounds:      10,
			WatchIntervalSeconds: 3,
			MinPollIntervalMs:    200,
			StormThreshold:       5,
		},
		Reconcile: ReconcileConfig{Schedule: "@every 6h"},
	}
}

// ConfigPath returns the default configuration file path: ~/.botfleet/config.yaml.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botfleet/config.yaml"
	}
	return filepath.Join(home, ".botfleet", "config.yaml")
}

// DataDir returns the default botfleet data directory: ~/.botfleet.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botfleet"
	}
	return filepath.Join(home, ".botfleet")
}

// ResolveDataDir expands a leading ~ in the configured data dir.
func (c *Config) ResolveDataDir() string {
	dir := c.DataDir
	if dir == "" {
		return DataDir()
	}
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}
