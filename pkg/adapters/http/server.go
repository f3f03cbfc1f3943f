package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/internal/presentation/graph"
	"github.com/aretw0/lineage/pkg/adapters/sqlite"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/history"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Catalog is the read side of the SQLite lineage catalog served under /catalog.
type Catalog interface {
	ListSummaries(ctx context.Context) ([]sqlite.ProjectSummary, error)
	ListRuns(ctx context.Context, project, pipeline string) ([]sqlite.Run, error)
	ListNodes(ctx context.Context, f sqlite.NodeFilter) ([]sqlite.Node, error)
	DAG(ctx context.Context, f sqlite.NodeFilter) (sqlite.DAG, error)
}

var _ Catalog = (*sqlite.Catalog)(nil)

// Server answers lineage queries against a History.
type Server struct {
	History *history.History
	Streams *StreamManager
	Catalog Catalog

	gatherer prometheus.Gatherer
	version  string
	logger   *slog.Logger
	bus      *bus.Bus
}

// Option configures a Server.
type Option func(*Server)

// WithBus feeds /events from snapshot.created events published on b.
func WithBus(b *bus.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithCatalog mounts the catalog queries under /catalog.
func WithCatalog(c Catalog) Option {
	return func(s *Server) { s.Catalog = c }
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a Server over h. When a bus is configured the stream
// manager is attached to it; call Close to detach.
func NewServer(h *history.History, opts ...Option) *Server {
	s := &Server{
		History: h,
		version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(0, s.logger)
	if s.bus != nil {
		s.Streams.Attach(s.bus)
	}
	return s
}

// NewHandler creates the HTTP handler for h. It is NewServer(h, opts...).Handler().
func NewHandler(h *history.History, opts ...Option) http.Handler {
	return NewServer(h, opts...).Handler()
}

// Close detaches the stream manager from the bus and ends open event streams.
func (s *Server) Close() {
	s.Streams.Detach()
	s.Streams.DisconnectAll()
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/snapshots", s.ListSnapshots)
	r.Route("/snapshots/{id}", func(r chi.Router) {
		r.Get("/", s.GetSnapshot)
		r.Get("/parents", s.relation(s.History.ParentsOf))
		r.Get("/children", s.relation(s.History.ChildrenOf))
		r.Get("/ancestors", s.relation(func(id string) []string {
			return slices.Sorted(s.History.Ancestors(id))
		}))
		r.Get("/descendants", s.relation(func(id string) []string {
			return slices.Sorted(s.History.Descendants(id))
		}))
	})
	r.Get("/graph", s.GetGraph)
	r.Get("/events", s.SubscribeEvents)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.Catalog != nil {
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/projects", s.GetCatalogProjects)
			r.Get("/runs", s.GetCatalogRuns)
			r.Get("/nodes", s.GetCatalogNodes)
			r.Get("/dag", s.GetCatalogDAG)
		})
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"app":      "lineage-http",
		"version":  strings.TrimSpace(s.version),
		"size":     s.History.Len(),
		"capacity": s.History.Capacity(),
		"clients":  s.Streams.Len(),
	})
}

// records returns the retained window filtered by op, keeping the newest limit
// entries when limit is positive.
func (s *Server) records(op string, limit int) []domain.SnapshotRecord {
	recs := []domain.SnapshotRecord{}
	for snap := range s.History.Filter(op) {
		recs = append(recs, snap.Record())
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

// ListSnapshots handles GET /snapshots?op=&limit=.
func (s *Server) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, s.records(r.URL.Query().Get("op"), limit))
}

// GetSnapshot handles GET /snapshots/{id}.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.History.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("%s: %s", domain.ErrSnapshotNotFound, id), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Record())
}

type relationResponse struct {
	ID       string   `json:"id"`
	Retained bool     `json:"retained"`
	IDs      []string `json:"ids"`
}

// relation answers an adjacency query. Unknown IDs yield an empty list rather
// than 404: children of an evicted snapshot may still be retained.
func (s *Server) relation(fn func(string) []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ids := fn(id)
		if ids == nil {
			ids = []string{}
		}
		s.writeJSON(w, http.StatusOK, relationResponse{
			ID:       id,
			Retained: s.History.Contains(id),
			IDs:      ids,
		})
	}
}

// GetGraph handles GET /graph?op=&focus=, rendering the retained lineage as Mermaid.
// With focus, the snapshot and its ancestry are highlighted.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var overlay *graph.GraphOverlay
	if focus := q.Get("focus"); focus != "" {
		if !s.History.Contains(focus) {
			http.Error(w, fmt.Sprintf("%s: %s", domain.ErrSnapshotNotFound, focus), http.StatusNotFound)
			return
		}
		overlay = &graph.GraphOverlay{
			Focus:       focus,
			Highlighted: slices.Sorted(s.History.Ancestors(focus)),
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(s.records(q.Get("op"), 0), overlay))
}

// SubscribeEvents handles GET /events?op= (SSE). Each message is the JSON
// record of a newly created snapshot.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topic := r.URL.Query().Get("op")
	ch, cancel := s.Streams.Subscribe(topic)
	defer cancel()
	s.logger.Info("SSE: client subscribed", "op", topic)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: client disconnected", "op", topic)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func nodeFilter(r *http.Request) (sqlite.NodeFilter, error) {
	q := r.URL.Query()
	f := sqlite.NodeFilter{
		Project:  q.Get("project"),
		UserTag:  q.Get("tag"),
		Pipeline: q.Get("pipeline"),
		RunUID:   q.Get("run"),
	}
	if f.Project == "" {
		return f, fmt.Errorf("project is required")
	}
	return f, nil
}

func (s *Server) catalogError(w http.ResponseWriter, op string, err error) {
	http.Error(w, fmt.Sprintf("%s: %v", op, err), http.StatusInternalServerError)
	s.logger.Error("catalog query failed", "op", op, "error", err)
}

// GetCatalogProjects handles GET /catalog/projects.
func (s *Server) GetCatalogProjects(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.Catalog.ListSummaries(r.Context())
	if err != nil {
		s.catalogError(w, "projects", err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

// GetCatalogRuns handles GET /catalog/runs?project=&pipeline=.
func (s *Server) GetCatalogRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := s.Catalog.ListRuns(r.Context(), q.Get("project"), q.Get("pipeline"))
	if err != nil {
		s.catalogError(w, "runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// GetCatalogNodes handles GET /catalog/nodes?project=&tag=&pipeline=&run=.
func (s *Server) GetCatalogNodes(w http.ResponseWriter, r *http.Request) {
	f, err := nodeFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	nodes, err := s.Catalog.ListNodes(r.Context(), f)
	if err != nil {
		s.catalogError(w, "nodes", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

// GetCatalogDAG handles GET /catalog/dag?project=&tag=&pipeline=&run=.
func (s *Server) GetCatalogDAG(w http.ResponseWriter, r *http.Request) {
	f, err := nodeFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dag, err := s.Catalog.DAG(r.Context(), f)
	if err != nil {
		s.catalogError(w, "dag", err)
		return
	}
	s.writeJSON(w, http.StatusOK, dag)
}
