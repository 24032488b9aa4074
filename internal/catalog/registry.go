package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	dserrors "github.com/arkilian/deltaschema/internal/errors"
	"github.com/arkilian/deltaschema/pkg/types"
)

// Registry versions the log schemas derived for each table.
type Registry interface {
	// Register records a derivation. If the table's latest record has the
	// same fingerprint it is returned unchanged with created=false;
	// otherwise a new version is inserted.
	Register(ctx context.Context, table string, tableSchema types.Schema, partitionColumns []string, envelope types.Schema) (rec *Record, created bool, err error)

	// Get returns one version of a table's derivation.
	Get(ctx context.Context, table string, version int) (*Record, error)

	// Latest returns the highest version of a table's derivation.
	Latest(ctx context.Context, table string) (*Record, error)

	// List returns every version of a table's derivation, ascending.
	List(ctx context.Context, table string) ([]*Record, error)

	// Tables returns the names of all registered tables, sorted.
	Tables(ctx context.Context) ([]string, error)

	// Close closes the registry database connection.
	Close() error
}

// Record is one registered derivation.
type Record struct {
	ID               string
	Table            string
	Version          int
	Fingerprint      string
	PartitionColumns []string
	TableSchema      types.Schema
	Envelope         types.Schema
	CreatedAt        time.Time
}

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
	now    func() time.Time
}

// Open opens or creates the registry database at dbPath.
func Open(dbPath string) (*SQLiteRegistry, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &SQLiteRegistry{db: db, dbPath: dbPath, now: time.Now}

	// The file must exist before the read-only pool can open it
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	r.readDB = readDB

	return r, nil
}

func (r *SQLiteRegistry) initSchema() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Register records a derivation for table.
func (r *SQLiteRegistry) Register(ctx context.Context, table string, tableSchema types.Schema, partitionColumns []string, envelope types.Schema) (*Record, bool, error) {
	if table == "" {
		return nil, false, dserrors.NewValidationError("table name is required")
	}

	fingerprint, err := Fingerprint(tableSchema, partitionColumns, envelope)
	if err != nil {
		return nil, false, dserrors.NewInternalError("fingerprint derivation", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reads go through the write connection so the check and the insert
	// see the same state.
	latest, err := r.latest(ctx, r.db, table)
	if err != nil && dserrors.GetCode(err) != dserrors.CodeVersionNotFound {
		return nil, false, err
	}
	if latest != nil && latest.Fingerprint == fingerprint {
		return latest, false, nil
	}

	rec := &Record{
		ID:               uuid.NewString(),
		Table:            table,
		Version:          1,
		Fingerprint:      fingerprint,
		PartitionColumns: append([]string{}, partitionColumns...),
		TableSchema:      tableSchema.Clone(),
		Envelope:         envelope.Clone(),
		CreatedAt:        r.now().UTC().Truncate(time.Second),
	}
	if latest != nil {
		rec.Version = latest.Version + 1
	}

	tableJSON, err := types.MarshalSchema(tableSchema)
	if err != nil {
		return nil, false, dserrors.NewInternalError("marshal table schema", err)
	}
	envelopeJSON, err := types.MarshalSchema(envelope)
	if err != nil {
		return nil, false, dserrors.NewInternalError("marshal envelope", err)
	}
	partitionsJSON, err := json.Marshal(rec.PartitionColumns)
	if err != nil {
		return nil, false, dserrors.NewInternalError("marshal partition columns", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO derivations (
			derivation_id, table_name, version, fingerprint,
			partition_columns, table_schema, envelope, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, table, rec.Version, fingerprint,
		string(partitionsJSON), string(tableJSON), snappy.Encode(nil, envelopeJSON), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, false, dserrors.NewCatalogError(dserrors.CodeWriteFailed,
			fmt.Sprintf("insert %s version %d", table, rec.Version), err)
	}

	return rec, true, nil
}

const selectColumns = `SELECT derivation_id, table_name, version, fingerprint,
	partition_columns, table_schema, envelope, created_at FROM derivations`

// Get returns one version of a table's derivation.
func (r *SQLiteRegistry) Get(ctx context.Context, table string, version int) (*Record, error) {
	row := r.readDB.QueryRowContext(ctx, selectColumns+` WHERE table_name = ? AND version = ?`, table, version)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, dserrors.NewCatalogError(dserrors.CodeVersionNotFound,
			fmt.Sprintf("table %q has no version %d", table, version), nil)
	}
	return rec, err
}

// Latest returns the highest version of a table's derivation.
func (r *SQLiteRegistry) Latest(ctx context.Context, table string) (*Record, error) {
	return r.latest(ctx, r.readDB, table)
}

func (r *SQLiteRegistry) latest(ctx context.Context, db *sql.DB, table string) (*Record, error) {
	row := db.QueryRowContext(ctx, selectColumns+` WHERE table_name = ? ORDER BY version DESC LIMIT 1`, table)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, dserrors.NewCatalogError(dserrors.CodeVersionNotFound,
			fmt.Sprintf("table %q has no registered versions", table), nil)
	}
	return rec, err
}

// List returns every version of a table's derivation, ascending.
func (r *SQLiteRegistry) List(ctx context.Context, table string) ([]*Record, error) {
	rows, err := r.readDB.QueryContext(ctx, selectColumns+` WHERE table_name = ? ORDER BY version ASC`, table)
	if err != nil {
		return nil, dserrors.NewCatalogError(dserrors.CodeCorruptEntry, "list derivations", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dserrors.NewCatalogError(dserrors.CodeCorruptEntry, "iterate derivations", err)
	}
	return records, nil
}

// Tables returns the names of all registered tables, sorted.
func (r *SQLiteRegistry) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.readDB.QueryContext(ctx, `SELECT DISTINCT table_name FROM derivations ORDER BY table_name`)
	if err != nil {
		return nil, dserrors.NewCatalogError(dserrors.CodeCorruptEntry, "list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dserrors.NewCatalogError(dserrors.CodeCorruptEntry, "scan table name", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Close closes the registry database connections.
func (r *SQLiteRegistry) Close() error {
	// Close read connection first, then write connection
	if err := r.readDB.Close(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec            Record
		partitionsJSON string
		tableJSON      string
		compressed     []byte
		createdAtUnix  int64
	)
	err := s.Scan(&rec.ID, &rec.Table, &rec.Version, &rec.Fingerprint,
		&partitionsJSON, &tableJSON, &compressed, &createdAtUnix)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, dserrors.NewCatalogError(dserrors.CodeCorruptEntry, "scan derivation", err)
	}

	if err := json.Unmarshal([]byte(partitionsJSON), &rec.PartitionColumns); err != nil {
		return nil, corrupt(rec, "partition columns", err)
	}
	if rec.TableSchema, err = types.ParseSchemaString(tableJSON); err != nil {
		return nil, corrupt(rec, "table schema", err)
	}
	envelopeJSON, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, corrupt(rec, "envelope blob", err)
	}
	if rec.Envelope, err = types.ParseSchema(envelopeJSON); err != nil {
		return nil, corrupt(rec, "envelope", err)
	}
	rec.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return &rec, nil
}

func corrupt(rec Record, what string, err error) error {
	return dserrors.NewCatalogError(dserrors.CodeCorruptEntry,
		fmt.Sprintf("%s version %d: bad %s", rec.Table, rec.Version, what), err)
}
