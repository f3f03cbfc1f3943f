package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/lineage/pkg/adapters/console"
	"github.com/aretw0/lineage/pkg/adapters/redis"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Op       string
	Out      io.Writer
	Logger   *slog.Logger
}

// Watch follows the snapshots another process publishes to redis and prints
// them the way the console sink does, until ctx ends.
func Watch(ctx context.Context, opts WatchOptions) error {
	var ropts []redis.Option
	if opts.Prefix != "" {
		ropts = append(ropts, redis.WithPrefix(opts.Prefix))
	}
	store := redis.New(opts.Addr, opts.Password, opts.DB, ropts...)
	defer store.Close()
	return watchStore(ctx, store, opts)
}

func watchStore(ctx context.Context, store *redis.Store, opts WatchOptions) error {
	out := stdout(opts.Out)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	recs, err := store.Watch(ctx)
	if err != nil {
		return err
	}
	logger.Info("watching lineage events", "channel", store.Channel())

	sink := console.New(console.WithWriter(out), console.WithColor(isTerminal(out)))
	for rec := range recs {
		if opts.Op != "" && rec.Operation != opts.Op {
			continue
		}
		s, err := rec.Snapshot()
		if err != nil {
			logger.Warn("skipping malformed record", "id", rec.ID, "err", err)
			continue
		}
		if err := sink.Write(ctx, s); err != nil {
			return fmt.Errorf("print %s: %w", rec.ID, err)
		}
	}
	return nil
}
