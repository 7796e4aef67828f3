package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. XVRUN_DISPLAY_NUMBER.
const EnvPrefix = "XVRUN"

// envOverrides maps config keys to the setter applied when the matching
// environment variable is present.
var envOverrides = map[string]func(c *Config, v string) error{
	"display.number": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid display number %q: %w", v, err)
		}
		c.Display.Number = n
		return nil
	},
	"display.geometry": func(c *Config, v string) error {
		c.Display.Geometry = v
		return nil
	},
	"display.server": func(c *Config, v string) error {
		c.Display.Server = v
		return nil
	},
	"display.policy": func(c *Config, v string) error {
		c.Display.Policy = v
		return nil
	},
	"readiness.strategy": func(c *Config, v string) error {
		c.Readiness.Strategy = v
		return nil
	},
	"readiness.timeout": func(c *Config, v string) error {
		return c.Readiness.Timeout.UnmarshalText([]byte(v))
	},
	"readiness.delay": func(c *Config, v string) error {
		return c.Readiness.Delay.UnmarshalText([]byte(v))
	},
	"launch.mode": func(c *Config, v string) error {
		c.Launch.Mode = v
		return nil
	},
	"monitor.logs_dir": func(c *Config, v string) error {
		c.Monitor.LogsDir = v
		return nil
	},
	"monitor.duration": func(c *Config, v string) error {
		return c.Monitor.Duration.UnmarshalText([]byte(v))
	},
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ApplyEnv overlays XVRUN_* environment variables onto cfg.
// Variables that are unset or empty leave the file/default value alone.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key := range envOverrides {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	for key, apply := range envOverrides {
		if !v.IsSet(key) {
			continue
		}
		if err := apply(cfg, v.GetString(key)); err != nil {
			return fmt.Errorf("%s: %w", EnvName(key), err)
		}
	}
	return nil
}
