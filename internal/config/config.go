// Package config loads pool/transport/peer properties from YAML and
// environment variables with github.com/spf13/viper, the way
// thushan-olla/internal/config/config.go assembles its ServerConfig/
// ProxyConfig: defaults first, then a config file if present, then
// environment overrides via SetEnvPrefix/AutomaticEnv. This is the
// "internal/config loader" spec §3's properties otherwise leave as bare
// structs a caller must build by hand.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bloomberg/pushiko-sub000/peer"
	"github.com/bloomberg/pushiko-sub000/pool"
	"github.com/bloomberg/pushiko-sub000/transport"
)

// Config is the on-disk/environment shape; PeerName selects one of the
// built-in peer.Preset values, and the remaining fields override it.
type Config struct {
	PeerName string `mapstructure:"peer"`

	Pool struct {
		MinimumSize                  int           `mapstructure:"minimum_size"`
		MaximumSize                  int           `mapstructure:"maximum_size"`
		AcquisitionAttemptsThreshold int           `mapstructure:"acquisition_attempts_threshold"`
		MaximumPendingAcquisitions   int           `mapstructure:"maximum_pending_acquisitions"`
		ReaperDelay                  time.Duration `mapstructure:"reaper_delay"`
		SummaryInterval              time.Duration `mapstructure:"summary_interval"`
	} `mapstructure:"pool"`

	Transport struct {
		ConnectTimeout               time.Duration `mapstructure:"connect_timeout"`
		ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout"`
		MaximumConnectRetries        int           `mapstructure:"maximum_connect_retries"`
		MinRetryDelay                time.Duration `mapstructure:"min_retry_delay"`
		MaxRetryDelay                time.Duration `mapstructure:"max_retry_delay"`
		ProxyAddress                 string        `mapstructure:"proxy_address"`
	} `mapstructure:"transport"`
}

// DefaultConfig returns sane defaults for a pool of one-to-four connections.
func DefaultConfig() *Config {
	c := &Config{PeerName: "apns-production"}
	c.Pool.MinimumSize = 1
	c.Pool.MaximumSize = 4
	c.Pool.AcquisitionAttemptsThreshold = 4
	c.Pool.MaximumPendingAcquisitions = 256
	c.Pool.ReaperDelay = time.Minute
	c.Pool.SummaryInterval = 0
	c.Transport.ConnectTimeout = transport.DefaultProperties().ConnectTimeout
	c.Transport.ConnectionAcquisitionTimeout = transport.DefaultProperties().ConnectionAcquisitionTimeout
	c.Transport.MaximumConnectRetries = transport.DefaultProperties().MaximumConnectRetries
	c.Transport.MinRetryDelay = transport.DefaultProperties().MinRetryDelay
	c.Transport.MaxRetryDelay = transport.DefaultProperties().MaxRetryDelay
	return c
}

// Load reads config.yaml (if present) from the current directory or
// ./config, applies PUSHIKO_-prefixed environment overrides, and decodes
// into a Config seeded with DefaultConfig's values.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PUSHIKO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows; bind each one so an
	// environment override applies even when no config file sets it.
	for _, key := range []string{
		"peer",
		"pool.minimum_size", "pool.maximum_size", "pool.acquisition_attempts_threshold",
		"pool.maximum_pending_acquisitions", "pool.reaper_delay", "pool.summary_interval",
		"transport.connect_timeout", "transport.connection_acquisition_timeout",
		"transport.maximum_connect_retries", "transport.min_retry_delay",
		"transport.max_retry_delay", "transport.proxy_address",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
		if configFile := os.Getenv("PUSHIKO_CONFIG_FILE"); configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	return cfg, nil
}

// Peer resolves PeerName to a built-in preset.
func (c *Config) Peer() (peer.Preset, error) {
	switch c.PeerName {
	case "apns-production", "":
		return peer.APNsProduction, nil
	case "apns-development":
		return peer.APNsDevelopment, nil
	case "fcm":
		return peer.FCM, nil
	default:
		return peer.Preset{}, fmt.Errorf("config: unknown peer %q", c.PeerName)
	}
}

// PoolConfig builds a pool.Config from the decoded fields, naming it after
// the resolved peer.
func (c *Config) PoolConfig(name string) pool.Config {
	return pool.Config{
		Name:                         name,
		AcquisitionAttemptsThreshold: c.Pool.AcquisitionAttemptsThreshold,
		MaximumPendingAcquisitions:   c.Pool.MaximumPendingAcquisitions,
		MinimumSize:                  c.Pool.MinimumSize,
		MaximumSize:                  c.Pool.MaximumSize,
		ReaperDelay:                  c.Pool.ReaperDelay,
		SummaryInterval:              c.Pool.SummaryInterval,
	}
}

// TransportProperties builds transport.Properties from the decoded fields,
// layered over transport.DefaultProperties.
func (c *Config) TransportProperties() transport.Properties {
	p := transport.DefaultProperties()
	if c.Transport.ConnectTimeout > 0 {
		p.ConnectTimeout = c.Transport.ConnectTimeout
	}
	if c.Transport.ConnectionAcquisitionTimeout > 0 {
		p.ConnectionAcquisitionTimeout = c.Transport.ConnectionAcquisitionTimeout
	}
	if c.Transport.MaximumConnectRetries > 0 {
		p.MaximumConnectRetries = c.Transport.MaximumConnectRetries
	}
	if c.Transport.MinRetryDelay > 0 {
		p.MinRetryDelay = c.Transport.MinRetryDelay
	}
	if c.Transport.MaxRetryDelay > 0 {
		p.MaxRetryDelay = c.Transport.MaxRetryDelay
	}
	p.ProxyAddress = c.Transport.ProxyAddress
	return p
}
