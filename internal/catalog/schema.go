// Package catalog provides the derivation registry, a SQLite database that
// versions the log schemas derived for each table.
package catalog

// CreateDerivationsTableSQL creates the derivations table. Each row is one
// registered version of a table's log schema; the envelope column holds the
// snappy-compressed JSON of the derived schema.
const CreateDerivationsTableSQL = `
CREATE TABLE IF NOT EXISTS derivations (
    derivation_id TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    version INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    partition_columns TEXT NOT NULL,
    table_schema TEXT NOT NULL,
    envelope BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (table_name, version)
)`

// CreateDerivationsIndexesSQL creates lookup indexes.
var CreateDerivationsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_derivations_fingerprint ON derivations(table_name, fingerprint)`,
}

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	return append([]string{CreateDerivationsTableSQL}, CreateDerivationsIndexesSQL...)
}
