// Package service ties log reading, log schema derivation, arrow conversion
// and the derivation registry into the operations exposed by the CLI and
// the HTTP API.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/arkilian/deltaschema/internal/arrowconv"
	"github.com/arkilian/deltaschema/internal/catalog"
	"github.com/arkilian/deltaschema/internal/checkpoint"
	"github.com/arkilian/deltaschema/internal/deltalog"
	dserrors "github.com/arkilian/deltaschema/internal/errors"
	"github.com/arkilian/deltaschema/internal/observability"
	"github.com/arkilian/deltaschema/internal/storage"
	"github.com/arkilian/deltaschema/pkg/logschema"
	"github.com/arkilian/deltaschema/pkg/types"
)

// Derivation sources, used as metric labels.
const (
	SourceSchema = "schema"
	SourceTable  = "table"
)

// Result is the outcome of a derivation.
type Result struct {
	Table    string
	Envelope types.Schema
	// Arrow is set when arrow conversion is enabled.
	Arrow *arrow.Schema
	// Version is the registry version, 0 when nothing was registered.
	Version int
	// Created reports whether Version was newly inserted.
	Created bool
	// Snapshot is set for table sources.
	Snapshot *deltalog.Snapshot
}

// Deriver derives log schemas from table schemas or from table logs.
type Deriver struct {
	factory   *logschema.Factory
	arrowOpts arrowconv.Options
	toArrow   bool

	storage  storage.ObjectStorage
	logs     *deltalog.Reader
	registry catalog.Registry

	metrics *observability.Metrics
	stats   *observability.DerivationStats
	logger  *zap.Logger
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithFactory sets the log schema factory.
func WithFactory(f *logschema.Factory) Option {
	return func(d *Deriver) { d.factory = f }
}

// WithArrow enables arrow conversion of every derived envelope.
func WithArrow(opts arrowconv.Options) Option {
	return func(d *Deriver) {
		d.toArrow = true
		d.arrowOpts = opts
	}
}

// WithStorage enables table sources read from store.
func WithStorage(store storage.ObjectStorage, concurrency int, cacheDir string) Option {
	return func(d *Deriver) {
		d.storage = store
		d.logs = deltalog.NewReader(store, concurrency, cacheDir)
	}
}

// WithRegistry records named derivations in r.
func WithRegistry(r catalog.Registry) Option {
	return func(d *Deriver) { d.registry = r }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Deriver) { d.metrics = m }
}

// WithStats sets the derivation statistics tracker.
func WithStats(s *observability.DerivationStats) Option {
	return func(d *Deriver) { d.stats = s }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option {
	return func(d *Deriver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDeriver creates a deriver with the default factory and no storage
// or registry.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		factory: logschema.NewFactory(),
		metrics: observability.NewMetrics(nil),
		stats:   observability.NewDerivationStats(time.Hour),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the configured registry, or nil.
func (d *Deriver) Registry() catalog.Registry {
	return d.registry
}

// Stats returns the derivation statistics tracker.
func (d *Deriver) Stats() *observability.DerivationStats {
	return d.stats
}

// DeriveFromSchema builds the log schema of a table schema. When table is
// non-empty and a registry is configured the result is registered under
// that name.
func (d *Deriver) DeriveFromSchema(ctx context.Context, table string, tableSchema types.Schema, partitionColumns []string) (*Result, error) {
	start := time.Now()
	res, err := d.derive(ctx, table, tableSchema, partitionColumns)
	d.observe(SourceSchema, table, partitionColumns, start, res, err)
	return res, err
}

// DeriveFromTable reads the log of the table at tablePath and builds the
// log schema of its current metadata. The table path is the registry key.
func (d *Deriver) DeriveFromTable(ctx context.Context, tablePath string) (*Result, error) {
	start := time.Now()
	snap, err := d.snapshot(ctx, tablePath)
	if err != nil {
		d.observe(SourceTable, tablePath, nil, start, nil, err)
		return nil, err
	}

	res, err := d.derive(ctx, tablePath, snap.Metadata.Schema, snap.Metadata.PartitionColumns)
	if res != nil {
		res.Snapshot = snap
	}
	d.observe(SourceTable, tablePath, snap.Metadata.PartitionColumns, start, res, err)
	return res, err
}

// VerifyLatestCheckpoint checks that the newest checkpoint of the table at
// tablePath carries every column of the table's derived log schema. It
// returns the verified checkpoint version.
func (d *Deriver) VerifyLatestCheckpoint(ctx context.Context, tablePath string) (int64, error) {
	res, err := d.DeriveFromTable(ctx, tablePath)
	if err != nil {
		return 0, err
	}
	if len(res.Snapshot.Checkpoints) == 0 {
		return 0, dserrors.New(dserrors.ErrCategoryCheckpoint, dserrors.CodeCheckpointRead,
			fmt.Sprintf("table %s has no checkpoints", tablePath))
	}
	version := res.Snapshot.Checkpoints[len(res.Snapshot.Checkpoints)-1]

	envelope := res.Arrow
	if envelope == nil {
		if envelope, err = arrowconv.ToArrowSchema(res.Envelope, d.arrowOpts); err != nil {
			return 0, err
		}
	}

	objectPath := storage.JoinPath(tablePath, deltalog.LogDir, checkpoint.FileName(version))
	data, err := d.storage.Get(ctx, objectPath)
	if err != nil {
		return 0, storageError(objectPath, err)
	}
	info, err := checkpoint.ReadSchema(ctx, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	if err := checkpoint.Verify(envelope, info.Schema); err != nil {
		d.logger.Warn("checkpoint does not match log schema",
			zap.String("table", tablePath), zap.Int64("checkpoint", version), zap.Error(err))
		return version, dserrors.Wrap(dserrors.ErrCategoryCheckpoint, dserrors.CodeCheckpointMismatch,
			fmt.Sprintf("checkpoint %d of %s", version, tablePath), err)
	}

	d.logger.Info("checkpoint verified",
		zap.String("table", tablePath), zap.Int64("checkpoint", version), zap.Int64("rows", info.NumRows))
	return version, nil
}

// Lookup returns a registered derivation; version 0 means the latest.
func (d *Deriver) Lookup(ctx context.Context, table string, version int) (*catalog.Record, error) {
	if d.registry == nil {
		return nil, dserrors.New(dserrors.ErrCategoryCatalog, dserrors.CodeVersionNotFound, "no registry configured")
	}
	if version == 0 {
		return d.registry.Latest(ctx, table)
	}
	return d.registry.Get(ctx, table, version)
}

func (d *Deriver) derive(ctx context.Context, table string, tableSchema types.Schema, partitionColumns []string) (*Result, error) {
	res := &Result{
		Table:    table,
		Envelope: d.factory.Build(tableSchema, partitionColumns),
	}

	if d.toArrow {
		a, err := arrowconv.ToArrowSchema(res.Envelope, d.arrowOpts)
		if err != nil {
			return nil, err
		}
		res.Arrow = a
	}

	if table != "" && d.registry != nil {
		rec, created, err := d.registry.Register(ctx, table, tableSchema, partitionColumns, res.Envelope)
		if err != nil {
			return nil, err
		}
		res.Version = rec.Version
		res.Created = created
		if created {
			d.metrics.RegistryVersions.WithLabelValues("created").Inc()
			d.logger.Info("registered log schema version",
				zap.String("table", table), zap.Int("version", rec.Version), zap.String("fingerprint", rec.Fingerprint))
		} else {
			d.metrics.RegistryVersions.WithLabelValues("unchanged").Inc()
		}
	}
	return res, nil
}

func (d *Deriver) snapshot(ctx context.Context, tablePath string) (*deltalog.Snapshot, error) {
	if d.logs == nil {
		return nil, dserrors.NewValidationError("table sources need storage")
	}
	snap, err := d.logs.Snapshot(ctx, tablePath)
	if err == nil {
		return snap, nil
	}

	var pe *types.ParseError
	switch {
	case errors.As(err, &pe):
		return nil, err
	case errors.Is(err, deltalog.ErrNoMetadata):
		return nil, dserrors.NewParseError(dserrors.CodeInvalidLog, "read delta log", err)
	case errors.Is(err, deltalog.ErrTableNotFound):
		return nil, dserrors.NewStorageError(dserrors.CodeObjectNotFound, "read delta log", err)
	default:
		return nil, storageError(tablePath, err)
	}
}

func (d *Deriver) observe(source, table string, partitions []string, start time.Time, res *Result, err error) {
	elapsed := time.Since(start)
	d.metrics.DeriveDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	d.stats.RecordDerivation(table, partitions, err != nil)

	if err != nil {
		d.metrics.Derivations.WithLabelValues(source, "error").Inc()
		d.logger.Warn("derivation failed",
			zap.String("source", source), zap.String("table", table), zap.Error(err))
		return
	}

	d.metrics.Derivations.WithLabelValues(source, "ok").Inc()
	d.metrics.EnvelopeColumns.Observe(float64(countColumns(res.Envelope.Fields)))
	d.logger.Debug("derived log schema",
		zap.String("source", source),
		zap.String("table", table),
		zap.Strings("partitions", partitions),
		zap.Duration("elapsed", elapsed))
}

func storageError(objectPath string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return dserrors.NewStorageError(dserrors.CodeObjectNotFound, objectPath, err)
	}
	return dserrors.NewStorageError(dserrors.CodeDownloadFailed, objectPath, err)
}

func countColumns(fields []types.Field) int {
	n := 0
	for _, f := range fields {
		n++
		if st, ok := f.Type.(types.StructType); ok {
			n += countColumns(st.Fields)
		}
	}
	return n
}
