// Package checkpoint reads and writes Delta checkpoint files, the parquet
// snapshots of a table's log whose columns follow the log schema.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/hashicorp/go-multierror"

	"github.com/arkilian/deltaschema/internal/storage"
	"github.com/arkilian/deltaschema/pkg/types"
)

// Info describes an opened checkpoint.
type Info struct {
	Schema       *arrow.Schema
	NumRows      int64
	NumRowGroups int
}

// FileName returns the checkpoint file name for a table version.
func FileName(version int64) string {
	return fmt.Sprintf("%020d.checkpoint.parquet", version)
}

// ReadSchema opens a parquet checkpoint and returns its arrow schema and row
// count. Every failure is a *types.CheckpointReadError.
func ReadSchema(ctx context.Context, r parquet.ReaderAtSeeker) (*Info, error) {
	return readSchema(ctx, "", r)
}

// ReadFile is ReadSchema on a local file.
func ReadFile(ctx context.Context, path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.CheckpointReadError{Source: path, Err: err}
	}
	defer f.Close()
	return readSchema(ctx, path, f)
}

func readSchema(ctx context.Context, source string, r parquet.ReaderAtSeeker) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.CheckpointReadError{Source: source, Err: err}
	}

	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, &types.CheckpointReadError{Source: source, Err: err}
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, &types.CheckpointReadError{Source: source, Err: err}
	}
	schema, err := fr.Schema()
	if err != nil {
		return nil, &types.CheckpointReadError{Source: source, Err: err}
	}

	return &Info{
		Schema:       schema,
		NumRows:      pf.NumRows(),
		NumRowGroups: pf.NumRowGroups(),
	}, nil
}

// Verify reports every column path of the envelope that the checkpoint
// schema lacks. All missing paths are returned together inside a
// *types.CheckpointReadError; nil means the checkpoint covers the envelope.
func Verify(envelope, checkpoint *arrow.Schema) error {
	have := make(map[string]struct{})
	for _, p := range ColumnPaths(checkpoint) {
		have[p] = struct{}{}
	}

	var result *multierror.Error
	for _, p := range ColumnPaths(envelope) {
		if _, ok := have[p]; !ok {
			result = multierror.Append(result, fmt.Errorf("missing column %q", p))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return &types.CheckpointReadError{Err: err}
	}
	return nil
}

// ColumnPaths lists the dotted path of every field in the schema, parents
// before children, descending into structs.
func ColumnPaths(s *arrow.Schema) []string {
	var out []string
	for _, f := range s.Fields() {
		out = appendPaths(out, "", f)
	}
	return out
}

func appendPaths(out []string, prefix string, f arrow.Field) []string {
	path := f.Name
	if prefix != "" {
		path = prefix + "." + f.Name
	}
	out = append(out, path)
	if st, ok := f.Type.(*arrow.StructType); ok {
		for _, child := range st.Fields() {
			out = appendPaths(out, path, child)
		}
	}
	return out
}

// WriteEmpty writes a checkpoint with the given schema and no rows. The
// arrow schema is stored in the file metadata so that readers recover it
// exactly.
func WriteEmpty(w io.Writer, schema *arrow.Schema) error {
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("create checkpoint writer: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close checkpoint writer: %w", err)
	}
	return nil
}

// ErrCheckpointExists is returned by Publish when the target checkpoint is
// already present and overwrite is false.
var ErrCheckpointExists = errors.New("checkpoint already exists")

// Publish writes an empty checkpoint for version into store under logPath,
// staging it in a temporary local file, and returns its object path.
func Publish(ctx context.Context, store storage.ObjectStorage, logPath string, version int64, schema *arrow.Schema, overwrite bool) (string, error) {
	objectPath := storage.JoinPath(logPath, FileName(version))
	if !overwrite {
		exists, err := store.Exists(ctx, objectPath)
		if err != nil {
			return "", fmt.Errorf("check checkpoint %s: %w", objectPath, err)
		}
		if exists {
			return "", fmt.Errorf("%w: %s", ErrCheckpointExists, objectPath)
		}
	}

	tmp, err := os.CreateTemp("", "deltaschema-*.checkpoint.parquet")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteEmpty(tmp, schema); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close staging file: %w", err)
	}
	if err := store.Upload(ctx, tmp.Name(), objectPath); err != nil {
		return "", fmt.Errorf("upload checkpoint %s: %w", objectPath, err)
	}
	return objectPath, nil
}
