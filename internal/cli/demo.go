package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/lineage"
	"github.com/aretw0/lineage/internal/config"
	"github.com/aretw0/lineage/internal/presentation/graph"
	"github.com/aretw0/lineage/internal/presentation/tui"
	"github.com/aretw0/lineage/pkg/domain"
)

// DemoOptions configures RunDemo.
type DemoOptions struct {
	ConfigPath string
	Features   int
	Graph      bool
	Banner     bool
	Debug      bool
	Out        io.Writer
}

// RunDemo runs the simulated pipeline once through a ledger built from the
// config file. Without configured sinks, snapshots are printed to Out.
func RunDemo(ctx context.Context, opts DemoOptions) error {
	out := stdout(opts.Out)
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []config.SinkConfig{{Type: "console", Options: map[string]any{"color": isTerminal(out)}}}
	}

	logger := createLogger(cfg.Log, opts.Debug)
	ledgerOpts, err := cfg.LedgerOptions(ctx, config.Env{Logger: logger, Stdout: out, Stderr: os.Stderr})
	if err != nil {
		return err
	}
	ledger, err := lineage.New(ledgerOpts...)
	if err != nil {
		return err
	}

	if opts.Banner {
		tui.PrintBanner(out, lineage.Version)
	}

	res, runErr := RunPipeline(ctx, ledger, opts.Features)
	recs := historyRecords(ledger)
	closeErr := ledger.Close(ctx)
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}

	printSystemMessage(out, "%d reports, %d recorded, %d suppressed, %d retained",
		res.Reports, res.Recorded, res.Suppressed, len(recs))
	if opts.Graph {
		fmt.Fprint(out, graph.GenerateMermaid(recs, nil))
	}
	return nil
}

func historyRecords(ledger *lineage.Ledger) []domain.SnapshotRecord {
	snaps := ledger.History().Snapshots()
	recs := make([]domain.SnapshotRecord, len(snaps))
	for i, s := range snaps {
		recs[i] = s.Record()
	}
	return recs
}
