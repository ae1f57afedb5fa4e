// Package config loads runtime configuration, merging defaults, an optional
// lectern.yaml, LECTERN_* environment variables, and caller overrides, in
// ascending precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "LECTERN"

// Load resolves configuration. Overrides (if given) are applied last, which
// lets commands push flag values on top of file and env settings.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short env aliases for the two settings everyone needs.
	_ = v.BindEnv("api.base_url", envPrefix+"_API_URL")
	_ = v.BindEnv("api.key", envPrefix+"_API_KEY")

	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// Overrides use dotted keys (e.g. "api.base_url") and take precedence
	// over both file and environment.
	for _, o := range overrides {
		for key, val := range o {
			v.Set(key, val)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// configFilePath returns the config file to load, or "" for none. Explicit
// $LECTERN_CONFIG wins; otherwise ./lectern.yaml and the user config dir are
// checked.
func configFilePath() string {
	if p := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("lectern.yaml"); err == nil {
		return "lectern.yaml"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "lectern", "lectern.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	// API
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.upload_rate", 4.0)

	// Supervision
	v.SetDefault("poll.interval", "3s")
	v.SetDefault("poll.error_ceiling", 5)
	v.SetDefault("poll.fetch_timeout", "10s")

	// Local server
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	// Registry
	v.SetDefault("registry.root", defaultRegistryRoot())
}

func defaultRegistryRoot() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "lectern", "jobs")
}
