package main

import (
	"github.com/aretw0/lineage/internal/cli"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Record a simulated predictive-maintenance pipeline",
	Long: `Runs a simulated feature pipeline (load, pivot, merge, fill, label, sort
and rolling features) through a ledger built from the configuration file.
Without configured sinks every snapshot is printed to the console.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		debug, _ := cmd.Flags().GetBool("debug")
		features, _ := cmd.Flags().GetInt("features")
		showGraph, _ := cmd.Flags().GetBool("graph")
		noBanner, _ := cmd.Flags().GetBool("no-banner")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()
		return cli.RunDemo(ctx, cli.DemoOptions{
			ConfigPath: configPath,
			Features:   features,
			Graph:      showGraph,
			Banner:     !noBanner,
			Debug:      debug,
			Out:        cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntP("features", "n", 4, "Number of rolling feature columns to add")
	demoCmd.Flags().BoolP("graph", "g", false, "Print the resulting lineage as a Mermaid graph")
	demoCmd.Flags().Bool("no-banner", false, "Do not print the banner")
}
