// Package types provides the schema type algebra of a Delta table and its
// JSON wire codec.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Primitive type names of the Delta schema serialization format.
const (
	PrimitiveString    PrimitiveType = "string"
	PrimitiveLong      PrimitiveType = "long"
	PrimitiveInteger   PrimitiveType = "integer"
	PrimitiveShort     PrimitiveType = "short"
	PrimitiveByte      PrimitiveType = "byte"
	PrimitiveFloat     PrimitiveType = "float"
	PrimitiveDouble    PrimitiveType = "double"
	PrimitiveBoolean   PrimitiveType = "boolean"
	PrimitiveBinary    PrimitiveType = "binary"
	PrimitiveDate      PrimitiveType = "date"
	PrimitiveTimestamp PrimitiveType = "timestamp"
)

// Wire tags of the complex types.
const (
	TypeNameStruct = "struct"
	TypeNameArray  = "array"
	TypeNameMap    = "map"
)

var knownPrimitives = map[PrimitiveType]struct{}{
	PrimitiveString:    {},
	PrimitiveLong:      {},
	PrimitiveInteger:   {},
	PrimitiveShort:     {},
	PrimitiveByte:      {},
	PrimitiveFloat:     {},
	PrimitiveDouble:    {},
	PrimitiveBoolean:   {},
	PrimitiveBinary:    {},
	PrimitiveDate:      {},
	PrimitiveTimestamp: {},
}

// DataType is a node of a schema type tree. It is one of PrimitiveType,
// StructType, ArrayType or MapType.
type DataType interface {
	// TypeName returns the wire tag of the node: the primitive name for
	// primitives, "struct", "array" or "map" otherwise.
	TypeName() string

	isDataType()
}

// PrimitiveType is a leaf type named by a bare JSON string. Names outside the
// well-known set are kept verbatim.
type PrimitiveType string

// TypeName returns the primitive name.
func (p PrimitiveType) TypeName() string { return string(p) }

func (PrimitiveType) isDataType() {}

// Known reports whether p is one of the well-known primitive names or a
// decimal(p,s) type.
func (p PrimitiveType) Known() bool {
	if _, ok := knownPrimitives[p]; ok {
		return true
	}
	_, _, ok := p.Decimal()
	return ok
}

// Decimal parses a "decimal(precision,scale)" primitive.
func (p PrimitiveType) Decimal() (precision, scale int, ok bool) {
	s := strings.ReplaceAll(string(p), " ", "")
	if !strings.HasPrefix(s, "decimal(") || !strings.HasSuffix(s, ")") {
		return 0, 0, false
	}
	ps, ss, found := strings.Cut(s[len("decimal("):len(s)-1], ",")
	if !found {
		return 0, 0, false
	}
	precision, err := strconv.Atoi(ps)
	if err != nil || precision < 1 || precision > 38 {
		return 0, 0, false
	}
	scale, err = strconv.Atoi(ss)
	if err != nil || scale < 0 || scale > precision {
		return 0, 0, false
	}
	return precision, scale, true
}

// StructType is an ordered list of fields. Field order is significant.
type StructType struct {
	Fields []Field
}

// TypeName returns "struct".
func (StructType) TypeName() string { return TypeNameStruct }

func (StructType) isDataType() {}

// Field returns the field with the given name (case-sensitive).
func (s StructType) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the field names in order.
func (s StructType) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ArrayType is a list of elements of a single type.
type ArrayType struct {
	// ElementType is the type of every element
	ElementType DataType

	// ContainsNull indicates whether elements may be null
	ContainsNull bool
}

// TypeName returns "array".
func (ArrayType) TypeName() string { return TypeNameArray }

func (ArrayType) isDataType() {}

// MapType is a key/value mapping.
type MapType struct {
	KeyType           DataType
	ValueType         DataType
	ValueContainsNull bool
}

// TypeName returns "map".
func (MapType) TypeName() string { return TypeNameMap }

func (MapType) isDataType() {}

// Field is a named, possibly nested column.
type Field struct {
	// Name is the column name, unique within its enclosing struct
	Name string

	// Type is the column data type
	Type DataType

	// Nullable indicates whether the column can contain NULL values
	Nullable bool

	// Metadata is opaque column metadata. Keys prefixed with "delta." are
	// reserved for the implementation.
	Metadata map[string]string
}

// NewField creates a field with empty metadata.
func NewField(name string, typ DataType, nullable bool) Field {
	return Field{Name: name, Type: typ, Nullable: nullable, Metadata: map[string]string{}}
}

// Clone returns a deep copy of the field.
func (f Field) Clone() Field {
	md := make(map[string]string, len(f.Metadata))
	for k, v := range f.Metadata {
		md[k] = v
	}
	return Field{Name: f.Name, Type: CloneDataType(f.Type), Nullable: f.Nullable, Metadata: md}
}

// Equal reports deep equality. Nil and empty metadata are equal.
func (f Field) Equal(other Field) bool {
	if f.Name != other.Name || f.Nullable != other.Nullable {
		return false
	}
	if len(f.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range f.Metadata {
		if ov, ok := other.Metadata[k]; !ok || ov != v {
			return false
		}
	}
	return EqualDataType(f.Type, other.Type)
}

// Schema is the top-level struct of a table. It is serialized with a
// redundant "type":"struct" tag.
type Schema struct {
	Fields []Field
}

// NewSchema creates a schema from the given fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Struct returns the schema as a StructType.
func (s Schema) Struct() StructType {
	return StructType{Fields: s.Fields}
}

// Field returns the top-level field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	return s.Struct().Field(name)
}

// FieldNames returns the top-level field names in order.
func (s Schema) FieldNames() []string {
	return s.Struct().FieldNames()
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	return Schema{Fields: cloneFields(s.Fields)}
}

// Equal reports deep equality of two schemas.
func (s Schema) Equal(other Schema) bool {
	return equalFields(s.Fields, other.Fields)
}

// String returns the JSON serialization of the schema.
func (s Schema) String() string {
	b, err := MarshalSchema(s)
	if err != nil {
		return fmt.Sprintf("<invalid schema: %v>", err)
	}
	return string(b)
}

// CloneDataType returns a deep copy of a data type tree.
func CloneDataType(dt DataType) DataType {
	switch t := dt.(type) {
	case StructType:
		return StructType{Fields: cloneFields(t.Fields)}
	case ArrayType:
		return ArrayType{ElementType: CloneDataType(t.ElementType), ContainsNull: t.ContainsNull}
	case MapType:
		return MapType{
			KeyType:           CloneDataType(t.KeyType),
			ValueType:         CloneDataType(t.ValueType),
			ValueContainsNull: t.ValueContainsNull,
		}
	default:
		return dt
	}
}

// EqualDataType reports deep equality of two data type trees.
func EqualDataType(a, b DataType) bool {
	switch at := a.(type) {
	case PrimitiveType:
		bt, ok := b.(PrimitiveType)
		return ok && at == bt
	case StructType:
		bt, ok := b.(StructType)
		return ok && equalFields(at.Fields, bt.Fields)
	case ArrayType:
		bt, ok := b.(ArrayType)
		return ok && at.ContainsNull == bt.ContainsNull && EqualDataType(at.ElementType, bt.ElementType)
	case MapType:
		bt, ok := b.(MapType)
		return ok && at.ValueContainsNull == bt.ValueContainsNull &&
			EqualDataType(at.KeyType, bt.KeyType) && EqualDataType(at.ValueType, bt.ValueType)
	case nil:
		return b == nil
	default:
		return false
	}
}

// ContainsMap reports whether a map type occurs anywhere in the tree.
func ContainsMap(dt DataType) bool {
	switch t := dt.(type) {
	case MapType:
		return true
	case ArrayType:
		return ContainsMap(t.ElementType)
	case StructType:
		for _, f := range t.Fields {
			if ContainsMap(f.Type) {
				return true
			}
		}
	}
	return false
}

func cloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

func equalFields(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
