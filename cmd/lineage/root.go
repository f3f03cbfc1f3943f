package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lineage/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Lineage records how data artifacts are derived from each other",
	Long: `Lineage is an in-process provenance ledger. Transformations report the
artifacts they produce; the ledger keeps a bounded window of immutable
snapshots, indexes their parent/child DAG and fans them out to sinks.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "Configuration file (yaml or json)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}
