package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arkilian/deltaschema/internal/service"
	"github.com/arkilian/deltaschema/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

// DeriveRequest is the body of POST /v1/log-schema. TableSchema is either a
// schema object or a JSON string holding one, as stored in a metaData
// action's schemaString.
type DeriveRequest struct {
	TableSchema      json.RawMessage `json:"table_schema"`
	PartitionColumns []string        `json:"partition_columns"`
	Table            string          `json:"table,omitempty"`
}

// DeriveFromTableRequest is the body of POST /v1/log-schema/from-table.
type DeriveFromTableRequest struct {
	TablePath string `json:"table_path"`
}

// DeriveResponse carries a derived log schema.
type DeriveResponse struct {
	Schema           types.Schema `json:"schema"`
	Table            string       `json:"table,omitempty"`
	Version          int          `json:"version,omitempty"`
	Created          bool         `json:"created,omitempty"`
	PartitionColumns []string     `json:"partition_columns,omitempty"`
	LogVersion       *int64       `json:"log_version,omitempty"`
	RequestID        string       `json:"request_id,omitempty"`
}

// DeriveHandler handles POST /v1/log-schema requests.
type DeriveHandler struct {
	deriver *service.Deriver
}

// NewDeriveHandler creates a new derive handler.
func NewDeriveHandler(d *service.Deriver) *DeriveHandler {
	return &DeriveHandler{deriver: d}
}

// ServeHTTP handles the derive HTTP request.
func (h *DeriveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req DeriveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if len(req.TableSchema) == 0 {
		writeError(w, http.StatusBadRequest, "table_schema is required", requestID)
		return
	}

	tableSchema, err := decodeTableSchema(req.TableSchema)
	if err != nil {
		writeServiceError(w, err, requestID)
		return
	}

	res, err := h.deriver.DeriveFromSchema(r.Context(), req.Table, tableSchema, req.PartitionColumns)
	if err != nil {
		writeServiceError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, DeriveResponse{
		Schema:    res.Envelope,
		Table:     res.Table,
		Version:   res.Version,
		Created:   res.Created,
		RequestID: requestID,
	})
}

// DeriveFromTableHandler handles POST /v1/log-schema/from-table requests.
type DeriveFromTableHandler struct {
	deriver *service.Deriver
}

// NewDeriveFromTableHandler creates a new table derive handler.
func NewDeriveFromTableHandler(d *service.Deriver) *DeriveFromTableHandler {
	return &DeriveFromTableHandler{deriver: d}
}

// ServeHTTP handles the table derive HTTP request.
func (h *DeriveFromTableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req DeriveFromTableRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.TablePath == "" {
		writeError(w, http.StatusBadRequest, "table_path is required", requestID)
		return
	}

	res, err := h.deriver.DeriveFromTable(r.Context(), req.TablePath)
	if err != nil {
		writeServiceError(w, err, requestID)
		return
	}

	logVersion := res.Snapshot.Version
	writeJSON(w, http.StatusOK, DeriveResponse{
		Schema:           res.Envelope,
		Table:            res.Table,
		Version:          res.Version,
		Created:          res.Created,
		PartitionColumns: res.Snapshot.Metadata.PartitionColumns,
		LogVersion:       &logVersion,
		RequestID:        requestID,
	})
}

func decodeTableSchema(raw json.RawMessage) (types.Schema, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return types.Schema{}, &types.ParseError{Msg: "table_schema string is not valid JSON", Err: err}
		}
		return types.ParseSchemaString(s)
	}
	return types.ParseSchema(raw)
}
