// Package sqlite keeps a queryable lineage catalog in SQLite: projects own
// pipeline runs, runs own nodes (one per snapshot), and edges link nodes.
package sqlite

// Schema for the catalog tables. Applied by Catalog.Init.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	uid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	user_tag TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE (name, user_tag)
);
CREATE TABLE IF NOT EXISTS runs (
	uid TEXT PRIMARY KEY,
	project_uid TEXT NOT NULL REFERENCES projects(uid),
	pipeline TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_uid, pipeline);
CREATE TABLE IF NOT EXISTS nodes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	run_uid TEXT NOT NULL REFERENCES runs(uid),
	project_uid TEXT NOT NULL,
	operation TEXT NOT NULL,
	shape TEXT NOT NULL,
	parents TEXT NOT NULL,
	args_json TEXT NOT NULL DEFAULT '[]',
	params_json TEXT NOT NULL DEFAULT '{}',
	handle INTEGER NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_run ON nodes(run_uid);
CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project_uid);
CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_uid TEXT NOT NULL,
	child_uid TEXT NOT NULL,
	run_uid TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_parent ON edges(parent_uid);
CREATE INDEX IF NOT EXISTS idx_edges_child ON edges(child_uid);
`

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Project is one row of the projects table.
type Project struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UserTag     string `json:"user_tag,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Run is one execution of a pipeline.
type Run struct {
	UID        string `json:"uid"`
	ProjectUID string `json:"project_uid"`
	Pipeline   string `json:"pipeline"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// Node is one recorded snapshot inside a run.
type Node struct {
	UID        string         `json:"uid"`
	RunUID     string         `json:"run_uid"`
	ProjectUID string         `json:"project_uid"`
	Operation  string         `json:"operation"`
	Shape      []int          `json:"shape"`
	Parents    []string       `json:"parents"`
	Args       []any          `json:"args,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Handle     uint64         `json:"handle,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Edge links a parent node to a child node.
type Edge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// DAG is the node and edge set of a query.
type DAG struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// PipelineSummary counts the runs of one pipeline.
type PipelineSummary struct {
	Name string `json:"name"`
	Runs int    `json:"runs"`
}

// ProjectSummary groups a project's pipelines.
type ProjectSummary struct {
	Name      string            `json:"name"`
	UserTag   string            `json:"user_tag,omitempty"`
	Pipelines []PipelineSummary `json:"pipelines"`
}

// NodeFilter narrows node and DAG queries. Project is required; RunUID wins
// over Pipeline when both are set.
type NodeFilter struct {
	Project  string
	UserTag  string
	Pipeline string
	RunUID   string
}
