package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkilian/deltaschema/internal/observability"
	"github.com/arkilian/deltaschema/internal/service"
)

// RouterConfig holds the dependencies of the API router.
type RouterConfig struct {
	Deriver *service.Deriver
	Metrics *observability.Metrics
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}

	router := mux.NewRouter().StrictSlash(true)
	router.Use(AccessLogMiddleware(logger, metrics))

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if h, err := openAPIHandler(); err != nil {
		logger.Error("openapi document unavailable", zap.Error(err))
	} else {
		router.Handle("/openapi.json", h).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(DefaultMiddleware(logger))
	api.Handle("/log-schema", NewDeriveHandler(cfg.Deriver)).Methods(http.MethodPost)
	api.Handle("/log-schema/from-table", NewDeriveFromTableHandler(cfg.Deriver)).Methods(http.MethodPost)
	api.Handle("/tables", NewTablesHandler(cfg.Deriver)).Methods(http.MethodGet)
	api.Handle("/tables/{table:.+}/log-schema", NewTableLogSchemaHandler(cfg.Deriver)).Methods(http.MethodGet)
	api.Handle("/tables/{table:.+}/versions", NewTableVersionsHandler(cfg.Deriver)).Methods(http.MethodGet)
	api.Handle("/stats", NewStatsHandler(cfg.Deriver)).Methods(http.MethodGet)

	return router
}

func openAPIHandler() (http.Handler, error) {
	doc, err := LoadOpenAPI(context.Background())
	if err != nil {
		return nil, err
	}
	return NewOpenAPIHandler(doc)
}
