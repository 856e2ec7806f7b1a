package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"trustd/config"
	"trustd/logging"
	"trustd/policy"
)

var (
	configPath string

	flagGlobalRules string
	flagLocalRules  string
	flagSource      string
	flagTool        string
	flagMaxArgs     int
	flagPeriod      time.Duration
	flagBackend     string
	flagLogFile     string
	flagLogFormat   string
	flagLogLevel    string
)

var rootCmd = &cobra.Command{
	Use:     "trustd",
	Version: "dev",
	Short:   "Mark files landing in untrusted folders",
	Long: `trustd watches the folders named in the always-open-in-dispvm rule lists
and hands every file that appears in them to the trust tool, which marks it
untrusted so it is only ever opened in a disposable VM.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
	},
}

func setVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "configuration file (YAML, or JSON with a .json suffix)")
	pf.StringVar(&flagGlobalRules, "global-rules", "", "system-wide rule list")
	pf.StringVar(&flagLocalRules, "local-rules", "", "per-user rule list")
	pf.StringVar(&flagSource, "rules-source", "", `where roots come from: "files" or "tool"`)
	pf.StringVar(&flagTool, "tool", "", "trust tool invoked with --untrusted")
	pf.StringVar(&flagLogFile, "log-file", "", "log to this file instead of stderr")
	pf.StringVar(&flagLogFormat, "log-format", "", `log format: "text" or "json"`)
	pf.StringVar(&flagLogLevel, "log-level", "", "minimum log level")

	rootCmd.AddCommand(runCmd, rulesCmd, versionCmd)
}

// loadConfig reads the configuration file, then applies the flags that were
// set explicitly on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("global-rules", &cfg.Rules.Global, flagGlobalRules)
	set("local-rules", &cfg.Rules.Local, flagLocalRules)
	set("rules-source", &cfg.Rules.Source, flagSource)
	set("tool", &cfg.Tool, flagTool)
	set("backend", &cfg.Notify.Backend, flagBackend)
	set("log-file", &cfg.Log.File, flagLogFile)
	set("log-format", &cfg.Log.Format, flagLogFormat)
	set("log-level", &cfg.Log.Level, flagLogLevel)
	if flags.Changed("max-args") {
		cfg.MaxArgs = flagMaxArgs
	}
	if flags.Changed("period") {
		cfg.MarkPeriod = config.Duration(flagPeriod)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return logging.New(logging.Options{
		Path:   cfg.Log.File,
		Writer: stderr,
		Format: format,
		Level:  level,
	})
}

func newSource(cfg *config.Config, log *slog.Logger) policy.Source {
	if cfg.Rules.Source == config.SourceTool {
		return policy.ToolSource{Tool: cfg.Tool}
	}
	return policy.FileSource{
		Global: cfg.Rules.Global,
		Local:  cfg.Rules.Local,
		Home:   config.HomeDir(),
		Logger: log,
	}
}
