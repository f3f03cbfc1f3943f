package main

import (
	"log/slog"

	"github.com/aretw0/lineage/internal/cli"
	"github.com/aretw0/lineage/internal/logging"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the snapshots published by a redis sink",
	Long:  `Subscribes to the events channel of a redis sink and prints every snapshot as it is recorded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		addr, _ := cmd.Flags().GetString("addr")
		password, _ := cmd.Flags().GetString("password")
		db, _ := cmd.Flags().GetInt("redis-db")
		prefix, _ := cmd.Flags().GetString("prefix")
		op, _ := cmd.Flags().GetString("op")

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()
		return cli.Watch(ctx, cli.WatchOptions{
			Addr:     addr,
			Password: password,
			DB:       db,
			Prefix:   prefix,
			Op:       op,
			Out:      cmd.OutOrStdout(),
			Logger:   logging.New(level, logging.FormatText),
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("addr", "localhost:6379", "Redis address")
	watchCmd.Flags().String("password", "", "Redis password")
	watchCmd.Flags().Int("redis-db", 0, "Redis database")
	watchCmd.Flags().String("prefix", "", "Key prefix of the redis sink")
	watchCmd.Flags().String("op", "", "Only print snapshots of this operation")
}
