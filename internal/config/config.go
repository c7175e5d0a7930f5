package config

import "time"

// Config holds client configuration values.
type Config struct {
	BrokerURL      string        `mapstructure:"broker_url" yaml:"broker_url"`
	APIBaseURL     string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	Heartbeat      time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	Token          string        `mapstructure:"token" yaml:"token"`
	TokenFile      string        `mapstructure:"token_file" yaml:"token_file"`
}

// Default returns configuration matching the broker's documented settings:
// 4s heartbeats both directions, fixed 5s reconnect delay.
func Default() Config {
	return Config{
		BrokerURL:      "ws://localhost:8080/ws",
		APIBaseURL:     "http://localhost:8080",
		LogLevel:       "info",
		Heartbeat:      4 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.BrokerURL != "" {
		c.BrokerURL = other.BrokerURL
	}
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Heartbeat != 0 {
		c.Heartbeat = other.Heartbeat
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.TokenFile != "" {
		c.TokenFile = other.TokenFile
	}
}
