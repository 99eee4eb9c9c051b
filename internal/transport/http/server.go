// Package http exposes the orchestrator's operations over a plain JSON HTTP
// API, grounded on the teacher's internal/api/router.go mux wiring stripped
// to request-id/logging middleware and route registration (auth, CORS,
// rate-limit middleware are upstream concerns per spec §1 scope).
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/history"
	"github.com/nlsql/gateway/internal/orchestrator"
	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/schema"
	"github.com/nlsql/gateway/pkg/logger"
)

// Server wires the orchestrator and its supporting singletons behind the
// four operations spec §6 lists.
type Server struct {
	orc         *orchestrator.Orchestrator
	registry    *registry.Registry
	schemaCache *schema.Cache
	manager     *dbpool.Manager
	history     *history.Store
	logger      *slog.Logger
}

// NewServer builds a Server. Any of the pointers may be reused across
// process lifetime; Server itself holds no additional state. history may be
// nil, in which case completed requests are not logged.
func NewServer(orc *orchestrator.Orchestrator, reg *registry.Registry, schemaCache *schema.Cache, manager *dbpool.Manager, hist *history.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orc: orc, registry: reg, schemaCache: schemaCache, manager: manager, history: hist, logger: log}
}

// NewRouter builds the mux.Router exposing query/list_databases/
// refresh_schema/health under /api/v1.
func (s *Server) NewRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(logger.LoggingMiddleware(s.logger))

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	v1.HandleFunc("/databases", s.handleListDatabases).Methods(http.MethodGet)
	v1.HandleFunc("/databases", s.handleRegisterDatabase).Methods(http.MethodPost)
	v1.HandleFunc("/databases/{name}", s.handleUnregisterDatabase).Methods(http.MethodDelete)
	v1.HandleFunc("/databases/{name}/refresh", s.handleRefreshSchema).Methods(http.MethodPost)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	return router
}

type databaseSummary struct {
	Name    string `json:"name"`
	Dialect string `json:"dialect"`
}

type refreshResponse struct {
	OK bool `json:"ok"`
}

type poolHealth struct {
	Name  string `json:"name"`
	Open  int32  `json:"open"`
	InUse int32  `json:"in_use"`
}

type healthResponse struct {
	OK    bool         `json:"ok"`
	Pools []poolHealth `json:"pools"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ReturnMode == "" {
		req.ReturnMode = orchestrator.ReturnModeExecute
	}

	resp := s.orc.Handle(r.Context(), req)
	s.appendHistory(r.Context(), req.DatabaseName, resp)

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// appendHistory records a completed request (spec §3 Persisted state). A
// logging failure is reported, never surfaced to the HTTP caller.
func (s *Server) appendHistory(ctx context.Context, dbName string, resp *orchestrator.QueryResponse) {
	if s.history == nil {
		return
	}
	rec := history.Record{
		RequestID:    resp.RequestID,
		Timestamp:    time.Now(),
		DatabaseName: dbName,
		SQL:          resp.SQL,
		Success:      resp.Success,
		Source:       history.SourceNL,
	}
	if resp.Data != nil {
		rowCount := resp.Data.RowCount
		execMS := resp.Stats.ExecuteMS
		rec.RowCount = &rowCount
		rec.ExecutionMS = &execMS
	}
	if resp.Error != nil {
		rec.ErrorKind = string(resp.Error.Kind)
	}
	if err := s.history.Append(ctx, rec); err != nil {
		s.logger.Warn("failed to append query history", "error", err)
	}
}

// unregisterDrainDeadline bounds how long ClosePool waits for a pool to drain
// during an administrative unregister; past it, ClosePool returns the timeout
// error and the pool's close continues in the background.
const unregisterDrainDeadline = 10 * time.Second

type registerDatabaseRequest struct {
	Name             string   `json:"name"`
	Dialect          string   `json:"dialect"`
	URI              string   `json:"uri"`
	PoolMin          int32    `json:"pool_min"`
	PoolMax          int32    `json:"pool_max"`
	RowCap           int      `json:"row_cap"`
	AllowedTables    []string `json:"allowed_tables,omitempty"`
	StatementTimeout int64    `json:"statement_timeout_ms,omitempty"`
}

// handleRegisterDatabase implements spec §3's "administrative register
// operation": it adds the descriptor to the live registry so it is
// immediately reachable by query/list_databases/refresh_schema without a
// process restart. The pool itself opens lazily on first Acquire, same as a
// database registered at configuration load.
func (s *Server) handleRegisterDatabase(w http.ResponseWriter, r *http.Request) {
	var req registerDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PoolMin == 0 {
		req.PoolMin = 1
	}
	if req.PoolMax == 0 {
		req.PoolMax = 5
	}
	desc := registry.Descriptor{
		Name:             req.Name,
		Dialect:          registry.Dialect(req.Dialect),
		URI:              req.URI,
		PoolMin:          req.PoolMin,
		PoolMax:          req.PoolMax,
		RowCap:           req.RowCap,
		AllowedTables:    req.AllowedTables,
		StatementTimeout: time.Duration(req.StatementTimeout) * time.Millisecond,
	}
	if err := s.registry.Register(desc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("database registered", "db", desc.Name, "dialect", desc.Dialect)
	writeJSON(w, http.StatusCreated, databaseSummary{Name: desc.Name, Dialect: string(desc.Dialect)})
}

// handleUnregisterDatabase drains the database's pool (if one was opened)
// and removes it from the registry, per spec §3's "destroyed only by
// explicit unregister after its pool has been drained".
func (s *Server) handleUnregisterDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := s.registry.Get(name); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "database not registered: " + name})
		return
	}
	if err := s.manager.ClosePool(r.Context(), name, unregisterDrainDeadline); err != nil {
		s.logger.Warn("pool drain failed during unregister", "db", name, "error", err)
	}
	s.schemaCache.Invalidate(name)
	s.registry.Unregister(name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	descs := s.registry.List()
	out := make([]databaseSummary, len(descs))
	for i, d := range descs {
		out[i] = databaseSummary{Name: d.Name, Dialect: string(d.Dialect)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefreshSchema(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := s.registry.Get(name); !ok {
		writeJSON(w, http.StatusNotFound, refreshResponse{OK: false})
		return
	}
	s.schemaCache.Invalidate(name)
	if _, err := s.schemaCache.Get(r.Context(), name); err != nil {
		s.logger.Warn("refresh_schema failed", "db", name, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, refreshResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{OK: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	descs := s.registry.List()
	pools := make([]poolHealth, 0, len(descs))
	for _, d := range descs {
		stats, ok := s.manager.Stats(d.Name)
		if !ok {
			continue
		}
		pools = append(pools, poolHealth{Name: d.Name, Open: stats.TotalConns, InUse: stats.AcquiredConns})
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Pools: pools})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
