// Package config loads the daemon configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads path as YAML, or JSON when it ends in ".json". An empty path or
// a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		case strings.EqualFold(filepath.Ext(path), ".json"):
			if err := LoadJSON(data, cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		default:
			if err := LoadYAML(data, cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadYAML(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func LoadJSON(data []byte, cfg *Config) error {
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

// ApplyDefaults fills every unset field.
func (cfg *Config) ApplyDefaults() {
	if cfg.Rules.Source == "" {
		cfg.Rules.Source = SourceFiles
	}
	if cfg.Rules.Global == "" {
		cfg.Rules.Global = DefaultGlobalRules
	}
	if cfg.Rules.Local == "" {
		if home := HomeDir(); home != "" {
			cfg.Rules.Local = filepath.Join(home, DefaultLocalRules)
		}
	}
	if cfg.Tool == "" {
		cfg.Tool = DefaultTool
	}
	if cfg.MaxArgs == 0 {
		cfg.MaxArgs = DefaultMaxArgs
	}
	if cfg.MarkPeriod == 0 {
		cfg.MarkPeriod = Duration(DefaultMarkPeriod)
	}
	if cfg.Notify.Backend == "" {
		cfg.Notify.Backend = DefaultBackend
		if runtime.GOOS != "linux" {
			cfg.Notify.Backend = "fsnotify"
		}
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func (cfg *Config) Validate() error {
	var errs []error
	if cfg.MaxArgs <= 0 {
		errs = append(errs, fmt.Errorf("max_args must be positive, got %d", cfg.MaxArgs))
	}
	if cfg.MarkPeriod <= 0 {
		errs = append(errs, fmt.Errorf("mark_period must be positive, got %s", cfg.MarkPeriod))
	}
	if cfg.Tool == "" {
		errs = append(errs, errors.New("tool must be set"))
	}
	switch cfg.Rules.Source {
	case SourceFiles, SourceTool:
	default:
		errs = append(errs, fmt.Errorf("unknown rules.source %q", cfg.Rules.Source))
	}
	switch cfg.Notify.Backend {
	case "inotify", "fsnotify":
	default:
		errs = append(errs, fmt.Errorf("unknown notify.backend %q", cfg.Notify.Backend))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", cfg.Log.Format))
	}
	for _, p := range []string{cfg.Rules.Global, cfg.Rules.Local} {
		if p != "" && !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("rule list %q must be absolute", p))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// RuleFiles returns the configured rule-list paths, skipping unset ones.
func (cfg *Config) RuleFiles() []string {
	var out []string
	for _, p := range []string{cfg.Rules.Global, cfg.Rules.Local} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HomeDir returns $HOME, falling back to the password database.
func HomeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	if u, err := user.Current(); err == nil {
		return u.HomeDir
	}
	return ""
}
