package main

import (
	"github.com/aretw0/lineage/internal/cli"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Rebuild a history from a snapshot file and render it",
	Long: `Reads a JSON Lines snapshot file (plain or zstd-compressed), replays it
into a fresh history and prints a summary, a Mermaid graph or the records.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		capacity, _ := cmd.Flags().GetInt("capacity")
		format, _ := cmd.Flags().GetString("format")
		op, _ := cmd.Flags().GetString("op")
		focus, _ := cmd.Flags().GetString("focus")

		return cli.Replay(cli.ReplayOptions{
			Path:     args[0],
			Capacity: capacity,
			Format:   format,
			Op:       op,
			Focus:    focus,
			Out:      cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Int("capacity", 0, "History capacity (0 keeps every record)")
	replayCmd.Flags().StringP("format", "f", cli.FormatSummary, "Output format: summary, mermaid or json")
	replayCmd.Flags().String("op", "", "Only show snapshots of this operation")
	replayCmd.Flags().String("focus", "", "Highlight the ancestry of this snapshot (mermaid)")
}
