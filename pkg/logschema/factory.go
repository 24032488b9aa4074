package logschema

import (
	"github.com/samber/lo"

	"github.com/arkilian/deltaschema/pkg/types"
)

// Names of the fields injected into the add action.
const (
	FieldPartitionValuesParsed = "partitionValues_parsed"
	FieldStatsParsed           = "stats_parsed"
	FieldMinValues             = "minValues"
	FieldMaxValues             = "maxValues"
	FieldNullCounts            = "nullCounts"
)

// Option configures a Factory.
type Option func(*Factory)

// WithMapFields keeps the map-typed template fields, for downstreams that
// support map<string,string>.
func WithMapFields() Option {
	return func(f *Factory) {
		f.library = MapLibrary()
	}
}

// WithLibrary uses a custom template library. A nil library means
// DefaultLibrary.
func WithLibrary(lib *Library) Option {
	return func(f *Factory) {
		f.library = lib
	}
}

// Factory creates schemas representing the Delta log of specific tables.
// A Factory holds no mutable state and is safe for concurrent use.
type Factory struct {
	library *Library
}

// NewFactory creates a factory backed by DefaultLibrary unless an option
// says otherwise.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{library: DefaultLibrary()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Library returns the template library backing the factory. The zero
// Factory uses DefaultLibrary.
func (f *Factory) Library() *Library {
	if f.library == nil {
		return DefaultLibrary()
	}
	return f.library
}

// Build merges the table schema into the log schema. Table fields named in
// partitionColumns (exact, case-sensitive match) become
// add.partitionValues_parsed; the remaining fields become the minValues,
// maxValues and nullCounts structs of add.stats_parsed. Partition names
// absent from the table are ignored. The input is not modified.
func (f *Factory) Build(tableSchema types.Schema, partitionColumns []string) types.Schema {
	isPartition := func(field types.Field, _ int) bool {
		return lo.Contains(partitionColumns, field.Name)
	}
	partitionFields := lo.Filter(tableSchema.Fields, isPartition)
	dataFields := lo.Filter(tableSchema.Fields, func(field types.Field, i int) bool {
		return !isPartition(field, i)
	})

	lib := f.Library()
	envelope := make([]types.Field, 0, lib.Len())
	for _, action := range lib.actions {
		fields := cloneFields(action.Fields)

		if action.Name == ActionAdd {
			if len(partitionFields) > 0 {
				fields = append(fields, structField(FieldPartitionValuesParsed, cloneFields(partitionFields)))
			}
			if len(dataFields) > 0 {
				fields = append(fields, structField(FieldStatsParsed, []types.Field{
					structField(FieldMinValues, cloneFields(dataFields)),
					structField(FieldMaxValues, cloneFields(dataFields)),
					structField(FieldNullCounts, cloneFields(dataFields)),
				}))
			}
		}

		envelope = append(envelope, structField(action.Name, fields))
	}

	return types.Schema{Fields: envelope}
}

func structField(name string, fields []types.Field) types.Field {
	return types.NewField(name, types.StructType{Fields: fields}, true)
}

func cloneFields(fields []types.Field) []types.Field {
	return lo.Map(fields, func(field types.Field, _ int) types.Field {
		return field.Clone()
	})
}
