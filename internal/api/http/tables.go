package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arkilian/deltaschema/internal/catalog"
	dserrors "github.com/arkilian/deltaschema/internal/errors"
	"github.com/arkilian/deltaschema/internal/service"
	"github.com/arkilian/deltaschema/pkg/types"
)

// VersionInfo summarizes one registered derivation.
type VersionInfo struct {
	Version          int       `json:"version"`
	ID               string    `json:"id"`
	Fingerprint      string    `json:"fingerprint"`
	PartitionColumns []string  `json:"partition_columns"`
	CreatedAt        time.Time `json:"created_at"`
}

// StoredLogSchemaResponse is a registered log schema.
type StoredLogSchemaResponse struct {
	VersionInfo
	Table       string       `json:"table"`
	Schema      types.Schema `json:"schema"`
	TableSchema types.Schema `json:"table_schema"`
	RequestID   string       `json:"request_id,omitempty"`
}

// TableLogSchemaHandler handles GET /v1/tables/{table}/log-schema. The
// optional version query parameter selects a version; the latest is
// returned otherwise.
type TableLogSchemaHandler struct {
	deriver *service.Deriver
}

// NewTableLogSchemaHandler creates a new stored log schema handler.
func NewTableLogSchemaHandler(d *service.Deriver) *TableLogSchemaHandler {
	return &TableLogSchemaHandler{deriver: d}
}

// ServeHTTP handles the stored log schema HTTP request.
func (h *TableLogSchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	table := mux.Vars(r)["table"]

	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "version must be a positive integer", requestID)
			return
		}
		version = n
	}

	rec, err := h.deriver.Lookup(r.Context(), table, version)
	if err != nil {
		writeServiceError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, StoredLogSchemaResponse{
		VersionInfo: versionInfo(rec),
		Table:       rec.Table,
		Schema:      rec.Envelope,
		TableSchema: rec.TableSchema,
		RequestID:   requestID,
	})
}

// TableVersionsHandler handles GET /v1/tables/{table}/versions.
type TableVersionsHandler struct {
	deriver *service.Deriver
}

// NewTableVersionsHandler creates a new version listing handler.
func NewTableVersionsHandler(d *service.Deriver) *TableVersionsHandler {
	return &TableVersionsHandler{deriver: d}
}

// ServeHTTP handles the version listing HTTP request.
func (h *TableVersionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	table := mux.Vars(r)["table"]

	registry := h.deriver.Registry()
	if registry == nil {
		writeServiceError(w, dserrors.New(dserrors.ErrCategoryCatalog, dserrors.CodeVersionNotFound, "no registry configured"), requestID)
		return
	}
	records, err := registry.List(r.Context(), table)
	if err != nil {
		writeServiceError(w, err, requestID)
		return
	}
	if len(records) == 0 {
		writeServiceError(w, dserrors.New(dserrors.ErrCategoryCatalog, dserrors.CodeVersionNotFound, "table "+table+" is not registered"), requestID)
		return
	}

	versions := make([]VersionInfo, len(records))
	for i, rec := range records {
		versions[i] = versionInfo(rec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":      table,
		"versions":   versions,
		"request_id": requestID,
	})
}

// TablesHandler handles GET /v1/tables.
type TablesHandler struct {
	deriver *service.Deriver
}

// NewTablesHandler creates a new table listing handler.
func NewTablesHandler(d *service.Deriver) *TablesHandler {
	return &TablesHandler{deriver: d}
}

// ServeHTTP handles the table listing HTTP request.
func (h *TablesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	tables := []string{}
	if registry := h.deriver.Registry(); registry != nil {
		names, err := registry.Tables(r.Context())
		if err != nil {
			writeServiceError(w, err, requestID)
			return
		}
		tables = append(tables, names...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tables":     tables,
		"request_id": requestID,
	})
}

// StatsHandler handles GET /v1/stats, reporting the most derived tables.
type StatsHandler struct {
	deriver *service.Deriver
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(d *service.Deriver) *StatsHandler {
	return &StatsHandler{deriver: d}
}

// ServeHTTP handles the stats HTTP request.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	n := 10
	if v := r.URL.Query().Get("top"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "top must be a positive integer", requestID)
			return
		}
		n = parsed
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tables":     h.deriver.Stats().Top(n),
		"request_id": requestID,
	})
}

func versionInfo(rec *catalog.Record) VersionInfo {
	partitions := rec.PartitionColumns
	if partitions == nil {
		partitions = []string{}
	}
	return VersionInfo{
		Version:          rec.Version,
		ID:               rec.ID,
		Fingerprint:      rec.Fingerprint,
		PartitionColumns: partitions,
		CreatedAt:        rec.CreatedAt,
	}
}
