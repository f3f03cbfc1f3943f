package main

import (
	"github.com/aretw0/lineage/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lineage HTTP server",
	Long: `Starts a ledger built from the configuration file and exposes its history
over HTTP: snapshot queries, DAG relations, a Mermaid graph, live events (SSE),
Prometheus metrics and, with a sqlite sink, the lineage catalog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		debug, _ := cmd.Flags().GetBool("debug")
		addr, _ := cmd.Flags().GetString("addr")
		replay, _ := cmd.Flags().GetString("replay")
		export, _ := cmd.Flags().GetString("export")
		interval, _ := cmd.Flags().GetDuration("demo-interval")
		features, _ := cmd.Flags().GetInt("features")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()
		return cli.RunServe(ctx, cli.ServeOptions{
			ConfigPath:   configPath,
			Addr:         addr,
			Replay:       replay,
			Export:       export,
			DemoInterval: interval,
			DemoFeatures: features,
			Debug:        debug,
			Banner:       true,
			Out:          cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.addr)")
	serveCmd.Flags().String("replay", "", "Snapshot file to preload into the history")
	serveCmd.Flags().String("export", "", "Write the history to this file on shutdown (.zst compresses)")
	serveCmd.Flags().Duration("demo-interval", 0, "Run the demo pipeline at this interval (0 disables)")
	serveCmd.Flags().IntP("features", "n", 4, "Rolling feature columns per demo run")
}
