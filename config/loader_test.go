package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("HOME", "/home/user")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Rules.Global != DefaultGlobalRules {
		t.Errorf("Rules.Global = %q", cfg.Rules.Global)
	}
	if want := "/home/user/.config/qubes/always-open-in-dispvm.list"; cfg.Rules.Local != want {
		t.Errorf("Rules.Local = %q, want %q", cfg.Rules.Local, want)
	}
	if cfg.Tool != DefaultTool || cfg.MaxArgs != DefaultMaxArgs {
		t.Errorf("Tool/MaxArgs = %q/%d", cfg.Tool, cfg.MaxArgs)
	}
	if cfg.MarkPeriod.Std() != time.Second {
		t.Errorf("MarkPeriod = %s", cfg.MarkPeriod)
	}
	wantBackend := "inotify"
	if runtime.GOOS != "linux" {
		wantBackend = "fsnotify"
	}
	if cfg.Rules.Source != SourceFiles || cfg.Notify.Backend != wantBackend {
		t.Errorf("Source/Backend = %q/%q", cfg.Rules.Source, cfg.Notify.Backend)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustd.yaml")
	content := `
rules:
  source: tool
  global: /srv/global.list
  local: /srv/local.list
tool: /opt/bin/qvm-file-trust
max_args: 64
mark_period: 250ms
notify:
  backend: fsnotify
log:
  format: json
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Rules.Source != SourceTool || cfg.Rules.Global != "/srv/global.list" || cfg.Rules.Local != "/srv/local.list" {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if cfg.MaxArgs != 64 || cfg.MarkPeriod.Std() != 250*time.Millisecond {
		t.Errorf("MaxArgs/MarkPeriod = %d/%s", cfg.MaxArgs, cfg.MarkPeriod)
	}
	if cfg.Notify.Backend != "fsnotify" || cfg.Log.Format != "json" || cfg.Log.Level != "debug" {
		t.Errorf("Notify/Log = %+v/%+v", cfg.Notify, cfg.Log)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustd.json")
	if err := os.WriteFile(path, []byte(`{"max_args": 10, "mark_period": "2s"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxArgs != 10 || cfg.MarkPeriod.Std() != 2*time.Second {
		t.Errorf("MaxArgs/MarkPeriod = %d/%s", cfg.MaxArgs, cfg.MarkPeriod)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "negative max_args", content: "max_args: -1\n"},
		{name: "unknown backend", content: "notify:\n  backend: kqueue\n"},
		{name: "unknown source", content: "rules:\n  source: ldap\n"},
		{name: "relative rule list", content: "rules:\n  global: etc/list\n"},
		{name: "bad format", content: "log:\n  format: cef\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "trustd.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustd.yaml")
	if err := os.WriteFile(path, []byte("mark_period: soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an unparsable duration")
	}
}
