// Package config holds process-wide settings: defaults, the project or user
// config.yaml, and REDLINE_* environment overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/redline/internal/eventbus"
)

var v *viper.Viper

// DirName is the per-project config directory.
const DirName = ".redline"

// Initialize sets up the viper singleton. Safe to call again; each call starts
// from scratch.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("REDLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := os.Getenv("REDLINE_CONFIG")
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("json", false)
	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
	v.SetDefault("actor", "")

	v.SetDefault("listen", "127.0.0.1:7878")
	v.SetDefault("allow-remote", false)
	v.SetDefault("token", "")
	v.SetDefault("state-dir", "")

	v.SetDefault("lock-window", 5*time.Second)
	v.SetDefault("flush-debounce", time.Second)
	v.SetDefault("watch-delay", 300*time.Millisecond)
	v.SetDefault("duplicate-window", 8)
	v.SetDefault("shrink-guard.min-bytes", 512)
	v.SetDefault("shrink-guard.ratio", 0.2)
	v.SetDefault("versions.max", 50)
	v.SetDefault("frontmatter", "yaml")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.interval", 30*time.Second)
}

// findConfigFile walks up from the working directory looking for
// .redline/config.yaml, then falls back to the user config directory.
func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; dir = filepath.Dir(dir) {
			p := filepath.Join(dir, DirName, "config.yaml")
			if _, err := os.Stat(p); err == nil {
				return p
			}
			if dir == filepath.Dir(dir) {
				break
			}
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "redline", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ConfigFileUsed returns the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// ResetForTesting drops the singleton.
func ResetForTesting() {
	v = nil
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a value for this process (flags bind through here).
func Set(key string, value any) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

// AllSettings returns every key with its effective value.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}

// StateDir is where serve.lock, version snapshots, and temp documents live.
func StateDir() string {
	if dir := GetString("state-dir"); dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "redline")
	}
	return filepath.Join(os.TempDir(), "redline")
}

// Hooks returns the external event handlers configured under "hooks".
func Hooks() ([]eventbus.ExternalHandlerConfig, error) {
	if v == nil || !v.IsSet("hooks") {
		return nil, nil
	}
	var hooks []eventbus.ExternalHandlerConfig
	if err := v.UnmarshalKey("hooks", &hooks); err != nil {
		return nil, fmt.Errorf("parse hooks: %w", err)
	}
	for i, h := range hooks {
		if h.Command == "" {
			return nil, fmt.Errorf("hooks[%d]: command is required", i)
		}
		if h.ID == "" {
			hooks[i].ID = fmt.Sprintf("hook-%d", i+1)
		}
	}
	return hooks, nil
}
