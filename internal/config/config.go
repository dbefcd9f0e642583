package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Manager  ManagerConfig  `mapstructure:"manager" json:"manager"`
	Profiles ProfilesConfig `mapstructure:"profiles" json:"profiles"`
	Drivers  []DriverConfig `mapstructure:"drivers" json:"drivers"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port" json:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

type ManagerConfig struct {
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval" json:"default_poll_interval"`
	DefaultCycleTimeout time.Duration `mapstructure:"default_cycle_timeout" json:"default_cycle_timeout"`
	DefaultStaleAfter   time.Duration `mapstructure:"default_stale_after" json:"default_stale_after"`
	DefaultBadAfter     time.Duration `mapstructure:"default_bad_after" json:"default_bad_after"`
	DefaultWriteRetries int           `mapstructure:"default_write_retries" json:"default_write_retries"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths" json:"search_paths"`
}

type DriverConfig struct {
	Name         string            `mapstructure:"name" json:"name"`
	Kind         string            `mapstructure:"kind" json:"kind"`
	Endpoint     string            `mapstructure:"endpoint" json:"endpoint"`
	Username     string            `mapstructure:"username" json:"username,omitempty"`
	Password     string            `mapstructure:"password" json:"password,omitempty"`
	Timeout      time.Duration     `mapstructure:"timeout" json:"timeout,omitempty"`
	PollInterval time.Duration     `mapstructure:"poll_interval" json:"poll_interval,omitempty"`
	CycleTimeout time.Duration     `mapstructure:"cycle_timeout" json:"cycle_timeout,omitempty"`
	StaleAfter   time.Duration     `mapstructure:"stale_after" json:"stale_after,omitempty"`
	BadAfter     time.Duration     `mapstructure:"bad_after" json:"bad_after,omitempty"`
	WriteRetries *int              `mapstructure:"write_retries" json:"write_retries,omitempty"`
	Backoff      BackoffConfig     `mapstructure:"backoff" json:"backoff"`
	Options      map[string]string `mapstructure:"options" json:"options,omitempty"`
	Profile      string            `mapstructure:"profile" json:"profile,omitempty"`
	Variables    []VariableConfig  `mapstructure:"variables" json:"variables,omitempty"`
}

type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initial_delay,omitempty"`
	MaxDelay     time.Duration `mapstructure:"max_delay" json:"max_delay,omitempty"`
	Multiplier   float64       `mapstructure:"multiplier" json:"multiplier,omitempty"`
	Jitter       bool          `mapstructure:"jitter" json:"jitter"`
}

type VariableConfig struct {
	Address string `mapstructure:"address" json:"address" yaml:"address"`
	Type    string `mapstructure:"type" json:"type" yaml:"type"`
	Mode    string `mapstructure:"mode" json:"mode,omitempty" yaml:"mode"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8090)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("manager.default_poll_interval", "100ms")
	viper.SetDefault("manager.default_cycle_timeout", "1s")
	viper.SetDefault("manager.default_stale_after", "5s")
	viper.SetDefault("manager.default_bad_after", "30s")
	viper.SetDefault("manager.default_write_retries", 3)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SMTK")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	for i := range config.Drivers {
		if err := validator.ValidateDriver(&config.Drivers[i]); err != nil {
			return nil, fmt.Errorf("driver entry %d (%s): %w", i, config.Drivers[i].Name, err)
		}
	}

	return &config, nil
}

// ApplyDefaults fills the tunables a driver entry leaves empty from the
// manager-wide defaults.
func (c *Config) ApplyDefaults(d *DriverConfig) {
	if d.PollInterval <= 0 {
		d.PollInterval = c.Manager.DefaultPollInterval
	}
	if d.CycleTimeout <= 0 {
		d.CycleTimeout = c.Manager.DefaultCycleTimeout
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = c.Manager.DefaultStaleAfter
	}
	if d.BadAfter <= 0 {
		d.BadAfter = c.Manager.DefaultBadAfter
	}
	if d.WriteRetries == nil {
		retries := c.Manager.DefaultWriteRetries
		d.WriteRetries = &retries
	}
	if d.Timeout <= 0 {
		d.Timeout = d.CycleTimeout
	}
}
