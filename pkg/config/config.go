// Package config loads pulsebar settings from defaults, an optional YAML
// file, PULSEBAR_* environment variables and command-line flags, in that
// order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultSocket is the well-known server socket path.
	DefaultSocket = "/tmp/pulsebar.sock"
	// EnvPrefix is prepended to every environment override.
	EnvPrefix = "PULSEBAR"
	// FileName is looked up under the user config directory.
	FileName = "config.yaml"
)

// Config holds all runtime settings.
type Config struct {
	Socket     string `mapstructure:"socket"`
	LogFile    string `mapstructure:"log_file"`
	LogLevel   string `mapstructure:"log_level"`
	UsersFile  string `mapstructure:"users_file"`
	ReadBuffer int    `mapstructure:"read_buffer"`
	UI         UI     `mapstructure:"ui"`

	// Path of the file the config was read from, empty when none was found.
	Path string `mapstructure:"-"`
}

// UI holds dashboard settings.
type UI struct {
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	BarWidth      int           `mapstructure:"bar_width"`
	BarGap        int           `mapstructure:"bar_gap"`
	ChartPercent  int           `mapstructure:"chart_percent"`
}

// Load builds a Config. An explicit path must exist; without one the
// default location is used if present. Flags that were set on the command
// line override everything else; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = defaultPath()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = path
	cfg.UsersFile = expandHome(cfg.UsersFile)
	cfg.LogFile = expandHome(cfg.LogFile)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &cfg, nil
}

// flagKeys maps config keys to the flag names that may override them.
var flagKeys = map[string]string{
	"socket":     "socket",
	"log_file":   "log-file",
	"log_level":  "log-level",
	"users_file": "users-file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("users_file", defaultUsersFile())
	v.SetDefault("read_buffer", 1024)
	v.SetDefault("ui.frame_interval", "100ms")
	v.SetDefault("ui.bar_width", 5)
	v.SetDefault("ui.bar_gap", 1)
	v.SetDefault("ui.chart_percent", 80)
}

// Validate checks the config for values the server cannot run with.
func Validate(c *Config) []error {
	var errs []error

	if c.Socket == "" {
		errs = append(errs, fmt.Errorf("socket path is required"))
	}
	if c.ReadBuffer <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer must be positive, got %d", c.ReadBuffer))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.UI.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("ui.frame_interval must be positive, got %s", c.UI.FrameInterval))
	}
	if c.UI.BarWidth < 1 {
		errs = append(errs, fmt.Errorf("ui.bar_width must be at least 1, got %d", c.UI.BarWidth))
	}
	if c.UI.BarGap < 0 {
		errs = append(errs, fmt.Errorf("ui.bar_gap must not be negative, got %d", c.UI.BarGap))
	}
	if c.UI.ChartPercent < 10 || c.UI.ChartPercent > 90 {
		errs = append(errs, fmt.Errorf("ui.chart_percent must be between 10 and 90, got %d", c.UI.ChartPercent))
	}

	return errs
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func defaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(dir, "pulsebar", FileName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func defaultUsersFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "users.yaml"
	}
	return filepath.Join(dir, "pulsebar", "users.yaml")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
