package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/aretw0/lineage/internal/presentation/graph"
	"github.com/aretw0/lineage/internal/presentation/tui"
	"github.com/aretw0/lineage/pkg/adapters/sqlite"
	"github.com/aretw0/lineage/pkg/domain"
)

// CatalogOptions configures the catalog queries.
type CatalogOptions struct {
	DB     string
	Filter sqlite.NodeFilter
	Format string // summary (tables), json or mermaid
	Out    io.Writer
}

// openCatalog opens an existing catalog for reading. A missing file is an
// error instead of silently creating an empty database.
func openCatalog(ctx context.Context, path string) (*sqlite.Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("catalog %s does not exist", path)
		}
		return nil, err
	}
	return sqlite.Open(ctx, path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CatalogProjects lists projects with their pipelines and run counts.
func CatalogProjects(ctx context.Context, opts CatalogOptions) error {
	c, err := openCatalog(ctx, opts.DB)
	if err != nil {
		return err
	}
	defer c.Close()

	projects, err := c.ListSummaries(ctx)
	if err != nil {
		return err
	}
	out := stdout(opts.Out)
	if opts.Format == FormatJSON {
		return writeJSON(out, projects)
	}
	return tui.Print(out, tui.ProjectsTable(projects), isTerminal(out))
}

// CatalogRuns lists the runs of a project, optionally of one pipeline.
func CatalogRuns(ctx context.Context, opts CatalogOptions) error {
	c, err := openCatalog(ctx, opts.DB)
	if err != nil {
		return err
	}
	defer c.Close()

	runs, err := c.ListRuns(ctx, opts.Filter.Project, opts.Filter.Pipeline)
	if err != nil {
		return err
	}
	out := stdout(opts.Out)
	if opts.Format == FormatJSON {
		return writeJSON(out, runs)
	}
	return tui.Print(out, tui.RunsTable(runs), isTerminal(out))
}

// CatalogNodes lists the nodes matching the filter. A project is required.
func CatalogNodes(ctx context.Context, opts CatalogOptions) error {
	if opts.Filter.Project == "" {
		return errors.New("a project is required")
	}
	c, err := openCatalog(ctx, opts.DB)
	if err != nil {
		return err
	}
	defer c.Close()

	nodes, err := c.ListNodes(ctx, opts.Filter)
	if err != nil {
		return err
	}
	out := stdout(opts.Out)
	recs := nodeRecords(nodes)
	switch opts.Format {
	case FormatJSON:
		if nodes == nil {
			nodes = []sqlite.Node{}
		}
		return writeJSON(out, nodes)
	case FormatMermaid:
		_, err := fmt.Fprint(out, graph.GenerateMermaid(recs, nil))
		return err
	default:
		return tui.Print(out, tui.SnapshotTable(recs), isTerminal(out))
	}
}

// CatalogDAG prints the nodes and edges matching the filter. A project is required.
func CatalogDAG(ctx context.Context, opts CatalogOptions) error {
	if opts.Filter.Project == "" {
		return errors.New("a project is required")
	}
	c, err := openCatalog(ctx, opts.DB)
	if err != nil {
		return err
	}
	defer c.Close()

	dag, err := c.DAG(ctx, opts.Filter)
	if err != nil {
		return err
	}
	out := stdout(opts.Out)
	if opts.Format == FormatJSON {
		return writeJSON(out, dag)
	}
	_, err = fmt.Fprint(out, graph.GenerateMermaid(nodeRecords(dag.Nodes), nil))
	return err
}

func nodeRecords(nodes []sqlite.Node) []domain.SnapshotRecord {
	recs := make([]domain.SnapshotRecord, len(nodes))
	for i, n := range nodes {
		recs[i] = n.Record()
	}
	return recs
}
