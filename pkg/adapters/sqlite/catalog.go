package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/pkg/domain"
	_ "modernc.org/sqlite"
)

// DefaultProject names the project when none is configured.
const DefaultProject = "default"

// Catalog implements ports.SnapshotSink and ports.SnapshotReader on SQLite.
// Snapshots are written as nodes of the current run; BeginRun must be called
// first (or WithPipeline given to Open).
type Catalog struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger

	project     string
	description string
	userTag     string
	pipeline    string
	sequential  bool

	mu         sync.Mutex
	projectUID string
	runUID     string
	lastNode   string
	closed     bool
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithProject sets the project rows are filed under.
func WithProject(name, description, userTag string) Option {
	return func(c *Catalog) {
		c.project = name
		c.description = description
		c.userTag = userTag
	}
}

// WithPipeline begins a run for pipeline as soon as the catalog opens.
func WithPipeline(pipeline string) Option {
	return func(c *Catalog) {
		c.pipeline = pipeline
	}
}

// WithLinkSequential adds an edge from the run's previous node to every root
// snapshot, so a run reads as one chain even when reports carry no parents.
func WithLinkSequential(enabled bool) Option {
	return func(c *Catalog) {
		c.sequential = enabled
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// DSN builds a modernc.org/sqlite data source name with WAL and a busy timeout.
func DSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
}

// Open opens the database at path, applies the schema and returns a Catalog
// that owns the connection.
func Open(ctx context.Context, path string, opts ...Option) (*Catalog, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	c, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// New wraps an existing connection. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Catalog, error) {
	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)
	c := &Catalog{db: db, project: DefaultProject}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if c.pipeline != "" {
		if _, err := c.BeginRun(ctx, c.pipeline); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Init creates the catalog tables if they don't exist.
func (c *Catalog) Init(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for ad-hoc queries.
func (c *Catalog) DB() *sql.DB { return c.db }

// EnsureProject returns the uid of the configured project, creating its row on
// first use.
func (c *Catalog) EnsureProject(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureProject(ctx)
}

func (c *Catalog) ensureProject(ctx context.Context) (string, error) {
	if c.projectUID != "" {
		return c.projectUID, nil
	}
	var uid string
	err := c.db.QueryRowContext(ctx,
		`SELECT uid FROM projects WHERE name = ? AND user_tag = ?`, c.project, c.userTag).Scan(&uid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		uid = domain.NewID()
		_, err = c.db.ExecContext(ctx,
			`INSERT INTO projects (uid, name, description, user_tag, created_at) VALUES (?, ?, ?, ?, ?)`,
			uid, c.project, c.description, c.userTag, domain.FormatTimestamp(domain.Now()))
		if err != nil {
			return "", fmt.Errorf("insert project %s: %w", c.project, err)
		}
	case err != nil:
		return "", fmt.Errorf("lookup project %s: %w", c.project, err)
	}
	c.projectUID = uid
	return uid, nil
}

// BeginRun starts (or resumes a still running) run of pipeline. It fails with
// domain.ErrRunAlreadyStarted if this catalog already has an active run.
func (c *Catalog) BeginRun(ctx context.Context, pipeline string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runUID != "" {
		return "", fmt.Errorf("begin run %s: %w", pipeline, domain.ErrRunAlreadyStarted)
	}
	projectUID, err := c.ensureProject(ctx)
	if err != nil {
		return "", err
	}

	var uid string
	err = c.db.QueryRowContext(ctx,
		`SELECT uid FROM runs WHERE project_uid = ? AND pipeline = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		projectUID, pipeline, StatusRunning).Scan(&uid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		uid = domain.NewID()
		_, err = c.db.ExecContext(ctx,
			`INSERT INTO runs (uid, project_uid, pipeline, status, started_at) VALUES (?, ?, ?, ?, ?)`,
			uid, projectUID, pipeline, StatusRunning, domain.FormatTimestamp(domain.Now()))
		if err != nil {
			return "", fmt.Errorf("insert run %s: %w", pipeline, err)
		}
	case err != nil:
		return "", fmt.Errorf("lookup run %s: %w", pipeline, err)
	default:
		c.logger.Info("resuming running pipeline run", "pipeline", pipeline, "run", uid)
	}

	c.runUID = uid
	c.lastNode = ""
	return uid, nil
}

// RunUID returns the active run, or "".
func (c *Catalog) RunUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runUID
}

// FinishRun closes the active run with status.
func (c *Catalog) FinishRun(ctx context.Context, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishRun(ctx, status)
}

func (c *Catalog) finishRun(ctx context.Context, status string) error {
	if c.runUID == "" {
		return domain.ErrRunNotStarted
	}
	uid := c.runUID
	c.runUID = ""
	c.lastNode = ""
	_, err := c.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE uid = ?`,
		status, domain.FormatTimestamp(domain.Now()), uid)
	if err != nil {
		return fmt.Errorf("update run %s: %w", uid, err)
	}
	return nil
}

// Write inserts a node for s and its edges in one transaction. A failed write
// marks the run failed and ends it.
func (c *Catalog) Write(ctx context.Context, s *domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runUID == "" {
		return fmt.Errorf("write snapshot %s: %w", s.ID(), domain.ErrRunNotStarted)
	}
	if err := c.insert(ctx, s); err != nil {
		c.logger.Error("catalog write failed, marking run failed", "run", c.runUID, "id", s.ID(), "error", err)
		if ferr := c.finishRun(ctx, StatusFailed); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return err
	}
	c.lastNode = s.ID()
	return nil
}

func (c *Catalog) insert(ctx context.Context, s *domain.Snapshot) error {
	rec := s.Record()
	shape, err := json.Marshal(rec.Shape)
	if err != nil {
		return fmt.Errorf("marshal shape: %w", err)
	}
	parents, err := json.Marshal(rec.Parents)
	if err != nil {
		return fmt.Errorf("marshal parents: %w", err)
	}
	args := []byte("[]")
	if rec.Args != nil {
		if args, err = json.Marshal(rec.Args); err != nil {
			return fmt.Errorf("marshal args: %w", err)
		}
	}
	params := []byte("{}")
	if rec.Kwargs != nil {
		if params, err = json.Marshal(rec.Kwargs); err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO nodes (uid, run_uid, project_uid, operation, shape, parents, args_json, params_json, handle, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, c.runUID, c.projectUID, rec.Operation, string(shape), string(parents),
		string(args), string(params), int64(rec.Handle), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", rec.ID, err)
	}

	edgeParents := rec.Parents
	if len(edgeParents) == 0 && c.sequential && c.lastNode != "" {
		edgeParents = []string{c.lastNode}
	}
	if len(edgeParents) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (parent_uid, child_uid, run_uid) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare edge insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range edgeParents {
			if _, err := stmt.ExecContext(ctx, p, rec.ID, c.runUID); err != nil {
				return fmt.Errorf("insert edge %s -> %s: %w", p, rec.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit node %s: %w", rec.ID, err)
	}
	return nil
}

// Close finishes an active run as finished and closes an owned connection.
// Idempotent.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	if c.runUID != "" {
		errs = append(errs, c.finishRun(context.Background(), StatusFinished))
	}
	if c.owned {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
