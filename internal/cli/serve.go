package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/lineage"
	"github.com/aretw0/lineage/internal/config"
	"github.com/aretw0/lineage/internal/presentation/tui"
	"github.com/aretw0/lineage/pkg/adapters/file"
	httpadapter "github.com/aretw0/lineage/pkg/adapters/http"
	"github.com/aretw0/lineage/pkg/adapters/sqlite"
	"github.com/aretw0/lineage/pkg/persistence/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ServeOptions configures RunServe.
type ServeOptions struct {
	ConfigPath   string
	Addr         string // overrides http.addr
	Replay       string // snapshot file preloaded into the history
	Export       string // history dump written on shutdown
	DemoInterval time.Duration
	DemoFeatures int
	Debug        bool
	Banner       bool
	Out          io.Writer
}

// Stack is a ledger with its HTTP surface.
type Stack struct {
	Config   config.Config
	Ledger   *lineage.Ledger
	Server   *httpadapter.Server
	Registry *prometheus.Registry
	Logger   *slog.Logger

	export string
}

// BuildStack wires the ledger described by cfg to an HTTP server. The first
// sqlite sink, if any, is served under /catalog.
func BuildStack(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ServeOptions) (*Stack, error) {
	ledgerOpts, err := cfg.LedgerOptions(ctx, config.Env{Logger: logger, Stdout: stdout(opts.Out), Stderr: os.Stderr})
	if err != nil {
		return nil, err
	}

	var reg *prometheus.Registry
	if cfg.HTTP.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		ledgerOpts = append(ledgerOpts, lineage.WithMetrics(reg))
	}

	ledger, err := lineage.New(ledgerOpts...)
	if err != nil {
		return nil, err
	}

	if opts.Replay != "" {
		recs, err := file.ReadRecords(opts.Replay)
		if err == nil {
			err = LoadRecords(ledger.History(), recs)
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("replay %s: %w", opts.Replay, err), ledger.Close(ctx))
		}
		logger.Info("history preloaded", "path", opts.Replay, "records", len(recs), "retained", ledger.History().Len())
	}

	serverOpts := []httpadapter.Option{
		httpadapter.WithBus(ledger.Bus()),
		httpadapter.WithVersion(lineage.Version),
		httpadapter.WithLogger(logger),
	}
	if reg != nil {
		serverOpts = append(serverOpts, httpadapter.WithGatherer(reg))
	}
	for _, w := range ledger.Writers() {
		if c, ok := middleware.Innermost(w.Sink()).(*sqlite.Catalog); ok {
			serverOpts = append(serverOpts, httpadapter.WithCatalog(c))
			break
		}
	}

	return &Stack{
		Config:   cfg,
		Ledger:   ledger,
		Server:   httpadapter.NewServer(ledger.History(), serverOpts...),
		Registry: reg,
		Logger:   logger,
		export:   opts.Export,
	}, nil
}

// Close detaches the event stream, exports the history when requested and
// closes the ledger.
func (s *Stack) Close(ctx context.Context) error {
	s.Server.Close()
	var errs []error
	if s.export != "" {
		recs := historyRecords(s.Ledger)
		if err := file.Export(s.export, recs); err != nil {
			errs = append(errs, err)
		} else {
			s.Logger.Info("history exported", "path", s.export, "records", len(recs))
		}
	}
	errs = append(errs, s.Ledger.Close(ctx))
	return errors.Join(errs...)
}

// runDemoLoop feeds the ledger with the simulated pipeline every interval.
func (s *Stack) runDemoLoop(ctx context.Context, interval time.Duration, features int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := RunPipeline(ctx, s.Ledger, features)
			if err != nil {
				if ctx.Err() == nil {
					s.Logger.Error("demo pipeline failed", "err", err)
				}
				return
			}
			s.Logger.Debug("demo pipeline reported", "recorded", res.Recorded, "suppressed", res.Suppressed)
		}
	}
}

// RunServe serves the ledger over HTTP until ctx is cancelled, then shuts the
// server down gracefully.
func RunServe(ctx context.Context, opts ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	logger := createLogger(cfg.Log, opts.Debug)

	stack, err := BuildStack(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}

	out := stdout(opts.Out)
	if opts.Banner {
		tui.PrintBanner(out, lineage.Version)
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: stack.Server.Handler(),
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("lineage server listening", "addr", srv.Addr, "capacity", cfg.History.Capacity)
		serverErrors <- srv.ListenAndServe()
	}()

	demoCtx, cancelDemo := context.WithCancel(ctx)
	demoDone := make(chan struct{})
	stopDemo := func() {
		cancelDemo()
		<-demoDone
	}
	go func() {
		defer close(demoDone)
		if opts.DemoInterval > 0 {
			stack.runDemoLoop(demoCtx, opts.DemoInterval, opts.DemoFeatures)
		}
	}()

	select {
	case err := <-serverErrors:
		stopDemo()
		closeErr := stack.Close(context.Background())
		return errors.Join(fmt.Errorf("server error: %w", err), closeErr)

	case <-ctx.Done():
		stopDemo()
		if sc, ok := ctx.(*SignalContext); ok && sc.Signal() != nil {
			printSystemMessage(out, "Start shutdown... Signal: %v", sc.Signal())
		}

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs []error
		// Streams are detached first so open /events requests can finish.
		stack.Server.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", 5*time.Second, "err", err)
			if err := srv.Close(); err != nil {
				errs = append(errs, fmt.Errorf("killing server: %w", err))
			}
		}
		errs = append(errs, stack.Close(shutdownCtx))
		printSystemMessage(out, "Lineage server stopped gracefully")
		return errors.Join(errs...)
	}
}
