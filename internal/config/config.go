package config

import "time"

// Config is the fully resolved runtime configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Poll     PollConfig     `mapstructure:"poll"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
}

// APIConfig locates and authenticates against the backend.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Key        string        `mapstructure:"key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UploadRate float64       `mapstructure:"upload_rate"`
}

// PollConfig tunes ingestion-job supervision.
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ErrorCeiling int           `mapstructure:"error_ceiling"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// ServerConfig configures the local HTTP surface (lectern serve).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects log level and output profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// RegistryConfig locates the local job registry.
type RegistryConfig struct {
	Root string `mapstructure:"root"`
}
