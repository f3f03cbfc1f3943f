package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/lineage/pkg/domain"
)

const nodeColumns = `uid, run_uid, project_uid, operation, shape, parents, args_json, params_json, handle, timestamp`

// ListProjects returns every project, oldest first.
func (c *Catalog) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT uid, name, description, user_tag, created_at FROM projects ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.UID, &p.Name, &p.Description, &p.UserTag, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPipelines returns the distinct pipeline names, sorted. An empty project
// lists pipelines across all projects.
func (c *Catalog) ListPipelines(ctx context.Context, project string) ([]string, error) {
	q := `SELECT DISTINCT r.pipeline FROM runs r`
	var args []any
	if project != "" {
		q += ` JOIN projects p ON p.uid = r.project_uid WHERE p.name = ?`
		args = append(args, project)
	}
	q += ` ORDER BY r.pipeline`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListRuns returns the runs of project, optionally restricted to one pipeline,
// oldest first.
func (c *Catalog) ListRuns(ctx context.Context, project, pipeline string) ([]Run, error) {
	q := `SELECT r.uid, r.project_uid, r.pipeline, r.status, r.started_at, COALESCE(r.finished_at, '')
		FROM runs r JOIN projects p ON p.uid = r.project_uid WHERE p.name = ?`
	args := []any{project}
	if pipeline != "" {
		q += ` AND r.pipeline = ?`
		args = append(args, pipeline)
	}
	q += ` ORDER BY r.started_at, r.rowid`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.UID, &r.ProjectUID, &r.Pipeline, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSummaries groups every project's pipelines with their run counts.
func (c *Catalog) ListSummaries(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT p.name, p.user_tag, r.pipeline, COUNT(r.uid)
		FROM projects p LEFT JOIN runs r ON r.project_uid = p.uid
		GROUP BY p.uid, r.pipeline
		ORDER BY p.created_at, p.name, r.pipeline`)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []ProjectSummary
	for rows.Next() {
		var (
			name, tag string
			pipeline  sql.NullString
			runs      int
		)
		if err := rows.Scan(&name, &tag, &pipeline, &runs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].Name != name || out[n-1].UserTag != tag {
			out = append(out, ProjectSummary{Name: name, UserTag: tag, Pipelines: []PipelineSummary{}})
		}
		if pipeline.Valid {
			last := &out[len(out)-1]
			last.Pipelines = append(last.Pipelines, PipelineSummary{Name: pipeline.String, Runs: runs})
		}
	}
	return out, rows.Err()
}

// ListNodes returns the nodes matching f in write order.
func (c *Catalog) ListNodes(ctx context.Context, f NodeFilter) ([]Node, error) {
	q := `SELECT ` + prefixed("n.", nodeColumns) + ` FROM nodes n
		JOIN projects p ON p.uid = n.project_uid
		JOIN runs r ON r.uid = n.run_uid
		WHERE p.name = ? AND p.user_tag = ?`
	args := []any{f.Project, f.UserTag}
	switch {
	case f.RunUID != "":
		q += ` AND n.run_uid = ?`
		args = append(args, f.RunUID)
	case f.Pipeline != "":
		q += ` AND r.pipeline = ?`
		args = append(args, f.Pipeline)
	}
	q += ` ORDER BY n.seq`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DAG returns the nodes matching f and every edge touching them.
func (c *Catalog) DAG(ctx context.Context, f NodeFilter) (DAG, error) {
	nodes, err := c.ListNodes(ctx, f)
	if err != nil {
		return DAG{}, err
	}
	dag := DAG{Nodes: nodes, Edges: []Edge{}}
	if len(nodes) == 0 {
		dag.Nodes = []Node{}
		return dag, nil
	}

	ids := make([]any, len(nodes))
	for i, n := range nodes {
		ids[i] = n.UID
	}
	in := "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
	rows, err := c.db.QueryContext(ctx,
		`SELECT parent_uid, child_uid FROM edges WHERE parent_uid IN `+in+` OR child_uid IN `+in+` ORDER BY id`,
		append(ids, ids...)...)
	if err != nil {
		return DAG{}, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Parent, &e.Child); err != nil {
			return DAG{}, fmt.Errorf("scan edge: %w", err)
		}
		dag.Edges = append(dag.Edges, e)
	}
	return dag, rows.Err()
}

// Load returns the record of the node with id.
func (c *Catalog) Load(ctx context.Context, id string) (domain.SnapshotRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE uid = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SnapshotRecord{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.SnapshotRecord{}, err
	}
	return n.Record(), nil
}

// List returns every node id in write order.
func (c *Catalog) List(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT uid FROM nodes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list node ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Record converts a node back into a snapshot record.
func (n Node) Record() domain.SnapshotRecord {
	return domain.SnapshotRecord{
		ID:        n.UID,
		Timestamp: n.Timestamp,
		Operation: n.Operation,
		Shape:     n.Shape,
		Parents:   n.Parents,
		Args:      n.Args,
		Kwargs:    n.Params,
		Handle:    n.Handle,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (Node, error) {
	var (
		n                            Node
		shape, parents, args, params string
		handle                       int64
	)
	err := s.Scan(&n.UID, &n.RunUID, &n.ProjectUID, &n.Operation, &shape, &parents, &args, &params, &handle, &n.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, err
		}
		return Node{}, fmt.Errorf("scan node: %w", err)
	}
	n.Handle = uint64(handle)
	if err := json.Unmarshal([]byte(shape), &n.Shape); err != nil {
		return Node{}, fmt.Errorf("node %s shape: %w", n.UID, err)
	}
	if err := json.Unmarshal([]byte(parents), &n.Parents); err != nil {
		return Node{}, fmt.Errorf("node %s parents: %w", n.UID, err)
	}
	if err := json.Unmarshal([]byte(args), &n.Args); err != nil {
		return Node{}, fmt.Errorf("node %s args: %w", n.UID, err)
	}
	if err := json.Unmarshal([]byte(params), &n.Params); err != nil {
		return Node{}, fmt.Errorf("node %s params: %w", n.UID, err)
	}
	if len(n.Args) == 0 {
		n.Args = nil
	}
	if len(n.Params) == 0 {
		n.Params = nil
	}
	return n, nil
}

func prefixed(p, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = p + c
	}
	return strings.Join(parts, ", ")
}
