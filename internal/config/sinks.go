package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/lineage"
	"github.com/aretw0/lineage/pkg/adapters/console"
	"github.com/aretw0/lineage/pkg/adapters/file"
	"github.com/aretw0/lineage/pkg/adapters/memory"
	"github.com/aretw0/lineage/pkg/adapters/redis"
	"github.com/aretw0/lineage/pkg/adapters/sqlite"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/persistence/middleware"
	"github.com/aretw0/lineage/pkg/ports"
	"github.com/aretw0/lineage/pkg/writer"
	"github.com/mitchellh/mapstructure"
)

// ConsoleOptions are the options of a "console" sink.
type ConsoleOptions struct {
	Stream        string `mapstructure:"stream"` // stdout (default) or stderr
	Prefix        string `mapstructure:"prefix"`
	Color         *bool  `mapstructure:"color"`
	ArtifactWidth *int   `mapstructure:"artifact_width"`
}

// FileOptions are the options of a "file" sink.
type FileOptions struct {
	Path     string `mapstructure:"path"`
	Compress *bool  `mapstructure:"compress"`
}

// RedisOptions are the options of a "redis" sink.
type RedisOptions struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SQLiteOptions are the options of a "sqlite" sink. Project fields default to
// the top-level config values.
type SQLiteOptions struct {
	Path           string `mapstructure:"path"`
	Project        string `mapstructure:"project"`
	Description    string `mapstructure:"description"`
	UserTag        string `mapstructure:"user_tag"`
	Pipeline       string `mapstructure:"pipeline"`
	LinkSequential bool   `mapstructure:"link_sequential"`
}

// Env carries the process resources sinks may need.
type Env struct {
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

type factory func(ctx context.Context, cfg Config, sc SinkConfig, env Env) (ports.SnapshotSink, error)

var factories = map[string]factory{
	"memory":  buildMemory,
	"console": buildConsole,
	"file":    buildFile,
	"redis":   buildRedis,
	"sqlite":  buildSQLite,
}

// SinkTypes lists the accepted values of sinks[].type.
func SinkTypes() []string {
	return []string{"console", "file", "memory", "redis", "sqlite"}
}

// DecodeOptions decodes sc.Options into out. Unknown keys are an error and
// strings such as "10m" decode into durations.
func (sc SinkConfig) DecodeOptions(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(sc.Options); err != nil {
		return fmt.Errorf("failed to decode %s sink options: %w", sc.Type, err)
	}
	return nil
}

// BuildSink creates the sink declared by sc.
func BuildSink(ctx context.Context, cfg Config, sc SinkConfig, env Env) (ports.SnapshotSink, error) {
	build, ok := factories[strings.ToLower(sc.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSink, sc.Type)
	}
	return build(ctx, cfg, sc, env)
}

// WriterOptions returns the writer options for the sink at index i.
func (c Config) WriterOptions(i int) []writer.Option {
	sc := c.Sinks[i]
	opts := []writer.Option{writer.WithName(c.sinkName(i))}
	if sc.Async {
		opts = append(opts, writer.WithAsync(sc.Buffer))
	}
	return opts
}

// sinkName is the explicit name, or the type with a suffix for repeats.
func (c Config) sinkName(i int) string {
	sc := c.Sinks[i]
	if sc.Name != "" {
		return sc.Name
	}
	name := strings.ToLower(sc.Type)
	seen := 0
	for _, other := range c.Sinks[:i] {
		if other.Name == "" && strings.EqualFold(other.Type, sc.Type) {
			seen++
		}
	}
	if seen > 0 {
		return fmt.Sprintf("%s#%d", name, seen+1)
	}
	return name
}

// LedgerOptions translates the whole configuration into lineage options,
// building every configured sink. On failure the sinks already built are closed.
func (c Config) LedgerOptions(ctx context.Context, env Env) ([]lineage.Option, error) {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	opts := []lineage.Option{
		lineage.WithCapacity(c.History.Capacity),
		lineage.WithRetention(c.Retention()),
		lineage.WithLogger(env.Logger),
	}
	var built []ports.SnapshotSink
	for i, sc := range c.Sinks {
		sink, err := BuildSink(ctx, c, sc, env)
		if err != nil {
			errs := []error{fmt.Errorf("sinks[%d]: %w", i, err)}
			for _, s := range built {
				errs = append(errs, s.Close())
			}
			return nil, errors.Join(errs...)
		}
		built = append(built, sink)
		if len(sc.Redact) > 0 {
			redact, err := middleware.NewRedactMiddleware(sc.Redact)
			if err != nil {
				errs := []error{fmt.Errorf("sinks[%d]: %w", i, err)}
				for _, s := range built {
					errs = append(errs, s.Close())
				}
				return nil, errors.Join(errs...)
			}
			sink = redact(sink)
		}
		opts = append(opts, lineage.WithSink(sink, c.WriterOptions(i)...))
	}
	return opts, nil
}

func buildMemory(_ context.Context, _ Config, sc SinkConfig, _ Env) (ports.SnapshotSink, error) {
	if len(sc.Options) > 0 {
		return nil, fmt.Errorf("memory sink takes no options")
	}
	return memory.NewStore(), nil
}

func buildConsole(_ context.Context, _ Config, sc SinkConfig, env Env) (ports.SnapshotSink, error) {
	var o ConsoleOptions
	if err := sc.DecodeOptions(&o); err != nil {
		return nil, err
	}
	var out io.Writer
	switch strings.ToLower(o.Stream) {
	case "", "stdout":
		out = env.Stdout
		if out == nil {
			out = os.Stdout
		}
	case "stderr":
		out = env.Stderr
		if out == nil {
			out = os.Stderr
		}
	default:
		return nil, fmt.Errorf("console sink: unknown stream %q", o.Stream)
	}

	opts := []console.Option{console.WithWriter(out)}
	if o.Prefix != "" {
		opts = append(opts, console.WithPrefix(o.Prefix))
	}
	if o.Color != nil {
		opts = append(opts, console.WithColor(*o.Color))
	}
	if o.ArtifactWidth != nil {
		opts = append(opts, console.WithArtifactWidth(*o.ArtifactWidth))
	}
	return console.New(opts...), nil
}

func buildFile(_ context.Context, _ Config, sc SinkConfig, _ Env) (ports.SnapshotSink, error) {
	var o FileOptions
	if err := sc.DecodeOptions(&o); err != nil {
		return nil, err
	}
	var opts []file.Option
	if o.Compress != nil {
		opts = append(opts, file.WithCompression(*o.Compress))
	}
	store, err := file.New(o.Path, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildRedis(_ context.Context, _ Config, sc SinkConfig, _ Env) (ports.SnapshotSink, error) {
	o := RedisOptions{Addr: "localhost:6379"}
	if err := sc.DecodeOptions(&o); err != nil {
		return nil, err
	}
	var opts []redis.Option
	if o.Prefix != "" {
		opts = append(opts, redis.WithPrefix(o.Prefix))
	}
	if o.TTL > 0 {
		opts = append(opts, redis.WithTTL(o.TTL))
	}
	return redis.New(o.Addr, o.Password, o.DB, opts...), nil
}

func buildSQLite(ctx context.Context, cfg Config, sc SinkConfig, env Env) (ports.SnapshotSink, error) {
	o := SQLiteOptions{
		Path:        filepath.Join(".lineage", "catalog.db"),
		Project:     cfg.Project,
		Description: cfg.Description,
		UserTag:     cfg.UserTag,
		Pipeline:    cfg.Pipeline,
	}
	if err := sc.DecodeOptions(&o); err != nil {
		return nil, err
	}
	if o.Pipeline == "" {
		return nil, errors.New("sqlite sink: a pipeline name is required to begin a run")
	}
	if err := os.MkdirAll(filepath.Dir(o.Path), 0755); err != nil {
		return nil, fmt.Errorf("sqlite sink: %w", err)
	}
	opts := []sqlite.Option{
		sqlite.WithProject(o.Project, o.Description, o.UserTag),
		sqlite.WithPipeline(o.Pipeline),
		sqlite.WithLinkSequential(o.LinkSequential),
	}
	if env.Logger != nil {
		opts = append(opts, sqlite.WithLogger(env.Logger))
	}
	catalog, err := sqlite.Open(ctx, o.Path, opts...)
	if err != nil {
		return nil, err
	}
	return catalog, nil
}
