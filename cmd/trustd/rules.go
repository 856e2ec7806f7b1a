package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var rulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the folders currently marked untrusted",
	Long: `Resolve the global and per-user rule lists the same way the daemon does
and print the resulting roots, one per line.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, closer, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closer.Close()

		rs, err := newSource(cfg, log).Resolve(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if rulesJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rs.Roots())
		}
		for _, root := range rs.Roots() {
			fmt.Fprintln(out, root)
		}
		return nil
	},
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "print the roots as a JSON array")
}
