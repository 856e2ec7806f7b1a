package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustd/config"
	"trustd/core"
	"trustd/marker"
	"trustd/notify"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Resolve the rule lists, watch every listed folder recursively and mark
each file found there untrusted. Editing a rule list reloads it. SIGINT and
SIGTERM stop the daemon after a final marking pass.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&flagMaxArgs, "max-args", config.DefaultMaxArgs, "most paths passed to one tool invocation")
	f.DurationVar(&flagPeriod, "period", config.DefaultMarkPeriod, "interval between marking passes")
	f.StringVar(&flagBackend, "backend", config.DefaultBackend, `notification backend: "inotify" or "fsnotify"`)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, closer, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	fac, err := notify.Open(cfg.Notify.Backend)
	if err != nil {
		log.Error("cannot initialize change notification", "backend", cfg.Notify.Backend, "err", err)
		return fmt.Errorf("open %s: %w", cfg.Notify.Backend, err)
	}

	d := core.New(core.Options{
		Facility:   fac,
		Source:     newSource(cfg, log),
		RuleFiles:  cfg.RuleFiles(),
		Tool:       cfg.Tool,
		MaxArgs:    cfg.MaxArgs,
		MarkPeriod: cfg.MarkPeriod.Std(),
		Runner:     marker.ExecRunner{},
		Logger:     log,
	})

	ctx, stop := newSignalContext(cmd.Context())
	defer stop()

	log.Info("starting",
		"version", rootCmd.Version,
		"backend", cfg.Notify.Backend,
		"rules_source", cfg.Rules.Source,
		"tool", cfg.Tool,
		"max_args", cfg.MaxArgs,
		"period", cfg.MarkPeriod.Std())

	if err := d.Run(ctx); err != nil {
		log.Error("daemon failed", "err", err)
		return err
	}
	return nil
}
