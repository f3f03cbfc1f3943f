package main

import (
	"context"
	"path/filepath"

	"github.com/aretw0/lineage/internal/cli"
	"github.com/aretw0/lineage/pkg/adapters/sqlite"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Query the SQLite lineage catalog",
	Long:  `Lists the projects, runs and snapshot nodes persisted by a sqlite sink.`,
}

func catalogOptions(cmd *cobra.Command) cli.CatalogOptions {
	db, _ := cmd.Flags().GetString("db")
	format, _ := cmd.Flags().GetString("format")
	project, _ := cmd.Flags().GetString("project")
	tag, _ := cmd.Flags().GetString("tag")
	pipeline, _ := cmd.Flags().GetString("pipeline")
	run, _ := cmd.Flags().GetString("run")
	return cli.CatalogOptions{
		DB:     db,
		Format: format,
		Filter: sqlite.NodeFilter{Project: project, UserTag: tag, Pipeline: pipeline, RunUID: run},
		Out:    cmd.OutOrStdout(),
	}
}

func catalogSubcommand(use, short string, run func(context.Context, cli.CatalogOptions) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), catalogOptions(cmd))
		},
	}
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.PersistentFlags().String("db", filepath.Join(".lineage", "catalog.db"), "Catalog database file")
	catalogCmd.PersistentFlags().StringP("format", "f", cli.FormatSummary, "Output format: summary, json or mermaid")
	catalogCmd.PersistentFlags().StringP("project", "p", "", "Project name")
	catalogCmd.PersistentFlags().String("tag", "", "Project user tag")
	catalogCmd.PersistentFlags().String("pipeline", "", "Pipeline name")
	catalogCmd.PersistentFlags().String("run", "", "Run UID")

	catalogCmd.AddCommand(
		catalogSubcommand("projects", "List projects with their pipelines and run counts", cli.CatalogProjects),
		catalogSubcommand("runs", "List the runs of a project", cli.CatalogRuns),
		catalogSubcommand("nodes", "List the snapshot nodes of a project", cli.CatalogNodes),
		catalogSubcommand("dag", "Print the lineage DAG of a project", cli.CatalogDAG),
	)
}
