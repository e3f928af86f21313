package config

import (
	"fmt"
	"time"
)

// Config represents a retort.yaml configuration file.
// All values are optional and act as defaults for retort command flags.
// CLI flags always override config values.
type Config struct {
	Channel  ChannelConfig  `yaml:"channel"`
	Executor ExecutorConfig `yaml:"executor"`
	Client   ClientConfig   `yaml:"client"`
	Journal  JournalConfig  `yaml:"journal"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// ChannelConfig holds the shared file-channel paths.
type ChannelConfig struct {
	CommandFile string `yaml:"command_file"`
	ReplyFile   string `yaml:"reply_file"`
}

// ExecutorConfig holds executor loop defaults from the config file.
type ExecutorConfig struct {
	Engine       string   `yaml:"engine"`
	PollInterval Duration `yaml:"poll_interval"`
}

// ClientConfig holds client driver defaults from the config file.
type ClientConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	AckTimeout   Duration `yaml:"ack_timeout"`
	ExecTimeout  Duration `yaml:"exec_timeout"`
	SendRetries  *int     `yaml:"send_retries,omitempty"`
}

// JournalConfig holds the exchange transcript defaults.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// AdapterConfig holds completion adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
