// Package arrowconv converts Delta schemas into Apache Arrow schemas so that
// checkpoint files can be written and read through the parquet stack.
package arrowconv

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/arkilian/deltaschema/pkg/types"
)

// ListElementName is the name of the item field of converted arrays.
const ListElementName = "element"

// Options controls the conversion.
type Options struct {
	// SupportMaps converts map types to arrow maps. When false a map
	// anywhere in the schema is a ConversionError.
	SupportMaps bool
}

var primitiveTypes = map[types.PrimitiveType]arrow.DataType{
	types.PrimitiveString:    arrow.BinaryTypes.String,
	types.PrimitiveLong:      arrow.PrimitiveTypes.Int64,
	types.PrimitiveInteger:   arrow.PrimitiveTypes.Int32,
	types.PrimitiveShort:     arrow.PrimitiveTypes.Int16,
	types.PrimitiveByte:      arrow.PrimitiveTypes.Int8,
	types.PrimitiveFloat:     arrow.PrimitiveTypes.Float32,
	types.PrimitiveDouble:    arrow.PrimitiveTypes.Float64,
	types.PrimitiveBoolean:   arrow.FixedWidthTypes.Boolean,
	types.PrimitiveBinary:    arrow.BinaryTypes.Binary,
	types.PrimitiveDate:      arrow.FixedWidthTypes.Date32,
	types.PrimitiveTimestamp: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"},
}

// ToArrowSchema converts a schema field by field.
func ToArrowSchema(s types.Schema, opts Options) (*arrow.Schema, error) {
	fields, err := toArrowFields(s.Fields, "", opts)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema(fields, nil), nil
}

// ToArrowType converts a single data type.
func ToArrowType(dt types.DataType, opts Options) (arrow.DataType, error) {
	return toArrowType(dt, "", opts)
}

// ToArrowField converts a single field, carrying its metadata.
func ToArrowField(f types.Field, opts Options) (arrow.Field, error) {
	return toArrowField(f, "", opts)
}

func toArrowFields(fields []types.Field, prefix string, opts Options) ([]arrow.Field, error) {
	out := make([]arrow.Field, 0, len(fields))
	for _, f := range fields {
		af, err := toArrowField(f, prefix, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, af)
	}
	return out, nil
}

func toArrowField(f types.Field, prefix string, opts Options) (arrow.Field, error) {
	path := joinPath(prefix, f.Name)
	typ, err := toArrowType(f.Type, path, opts)
	if err != nil {
		return arrow.Field{}, err
	}
	return arrow.Field{
		Name:     f.Name,
		Type:     typ,
		Nullable: f.Nullable,
		Metadata: toArrowMetadata(f.Metadata),
	}, nil
}

func toArrowType(dt types.DataType, path string, opts Options) (arrow.DataType, error) {
	switch t := dt.(type) {
	case types.PrimitiveType:
		return primitiveToArrow(t, path)
	case types.StructType:
		fields, err := toArrowFields(t.Fields, path, opts)
		if err != nil {
			return nil, err
		}
		return arrow.StructOf(fields...), nil
	case types.ArrayType:
		elem, err := toArrowType(t.ElementType, joinPath(path, ListElementName), opts)
		if err != nil {
			return nil, err
		}
		return arrow.ListOfField(arrow.Field{Name: ListElementName, Type: elem, Nullable: t.ContainsNull}), nil
	case types.MapType:
		if !opts.SupportMaps {
			return nil, &types.ConversionError{Path: path, Msg: "map types are not supported"}
		}
		key, err := toArrowType(t.KeyType, joinPath(path, "key"), opts)
		if err != nil {
			return nil, err
		}
		value, err := toArrowType(t.ValueType, joinPath(path, "value"), opts)
		if err != nil {
			return nil, err
		}
		m := arrow.MapOf(key, value)
		m.SetItemNullable(t.ValueContainsNull)
		return m, nil
	case nil:
		return nil, &types.ConversionError{Path: path, Msg: "missing type"}
	default:
		return nil, &types.ConversionError{Path: path, Msg: fmt.Sprintf("unexpected type %T", dt)}
	}
}

func primitiveToArrow(p types.PrimitiveType, path string) (arrow.DataType, error) {
	if typ, ok := primitiveTypes[p]; ok {
		return typ, nil
	}
	if precision, scale, ok := p.Decimal(); ok {
		return &arrow.Decimal128Type{Precision: int32(precision), Scale: int32(scale)}, nil
	}
	return nil, &types.ConversionError{Path: path, Msg: fmt.Sprintf("unsupported primitive type %q", string(p))}
}

func toArrowMetadata(md map[string]string) arrow.Metadata {
	if len(md) == 0 {
		return arrow.Metadata{}
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = md[k]
	}
	return arrow.NewMetadata(keys, values)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
