package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGlobalRules = "/etc/qubes/always-open-in-dispvm.list"
	// DefaultLocalRules is relative to the user's home directory.
	DefaultLocalRules = ".config/qubes/always-open-in-dispvm.list"
	DefaultTool       = "/usr/bin/qvm-file-trust"
	DefaultMaxArgs    = 500
	DefaultMarkPeriod = time.Second
	DefaultBackend    = "inotify"
	DefaultLogFormat  = "text"
	DefaultLogLevel   = "info"

	SourceFiles = "files"
	SourceTool  = "tool"
)

type Config struct {
	Rules      RulesConfig  `yaml:"rules" json:"rules"`
	Tool       string       `yaml:"tool" json:"tool"`
	MaxArgs    int          `yaml:"max_args" json:"max_args"`
	MarkPeriod Duration     `yaml:"mark_period" json:"mark_period"`
	Notify     NotifyConfig `yaml:"notify" json:"notify"`
	Log        LogConfig    `yaml:"log" json:"log"`
}

type RulesConfig struct {
	// Source is "files" (parse the lists) or "tool" (ask the trust tool).
	Source string `yaml:"source" json:"source"`
	Global string `yaml:"global" json:"global"`
	Local  string `yaml:"local" json:"local"`
}

type NotifyConfig struct {
	Backend string `yaml:"backend" json:"backend"`
}

type LogConfig struct {
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
	Level  string `yaml:"level" json:"level"`
}

// Duration accepts "1s"-style strings in both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
