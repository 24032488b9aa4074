package checkpoint

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/arkilian/deltaschema/pkg/types"
)

// Columns holding the table-level actions of a checkpoint.
const (
	columnMetaData = "metaData"
	columnProtocol = "protocol"
)

// Actions holds the table-level actions of a checkpoint, each rendered as
// the JSON object a commit file carries for it. A nil field means no row of
// the checkpoint has that action.
type Actions struct {
	MetaData []byte
	Protocol []byte
}

// ReadActions reads the metaData and protocol actions of a checkpoint.
// Only the leaf columns of those two actions are decoded, so the add and
// remove rows of large checkpoints are skipped. Map values come out as
// arrays of {"key","value"} objects. Every failure is a
// *types.CheckpointReadError naming source.
func ReadActions(ctx context.Context, source string, r parquet.ReaderAtSeeker) (*Actions, error) {
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

	var leaves []int
	for i := range fr.Manifest.Fields {
		f := &fr.Manifest.Fields[i]
		if name := f.Field.Name; name == columnMetaData || name == columnProtocol {
			leaves = appendLeaves(leaves, f)
		}
	}

	out := &Actions{}
	if len(leaves) == 0 || pf.NumRowGroups() == 0 {
		return out, nil
	}
	rowGroups := make([]int, pf.NumRowGroups())
	for i := range rowGroups {
		rowGroups[i] = i
	}

	tbl, err := fr.ReadRowGroups(ctx, leaves, rowGroups)
	if err != nil {
		return nil, &types.CheckpointReadError{Source: source, Err: err}
	}
	defer tbl.Release()

	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		row, err := firstValue(col.Data())
		if err != nil {
			return nil, &types.CheckpointReadError{Source: source, Err: err}
		}
		switch col.Name() {
		case columnMetaData:
			out.MetaData = row
		case columnProtocol:
			out.Protocol = row
		}
	}
	return out, nil
}

func appendLeaves(out []int, f *pqarrow.SchemaField) []int {
	if f.IsLeaf() {
		return append(out, f.ColIndex)
	}
	for i := range f.Children {
		out = appendLeaves(out, &f.Children[i])
	}
	return out
}

// firstValue returns the JSON of the first non-null value of c, or nil.
func firstValue(c *arrow.Chunked) ([]byte, error) {
	for _, chunk := range c.Chunks() {
		for i := 0; i < chunk.Len(); i++ {
			if chunk.IsNull(i) {
				continue
			}
			return json.Marshal(chunk.GetOneForMarshal(i))
		}
	}
	return nil, nil
}
