package types

import (
	"fmt"
	"sort"

	"github.com/valyala/fastjson"
)

// The wire format carries no explicit variant tag for data types: primitives
// are bare strings and complex types are objects recognized by their "type"
// tag together with the keys that tag requires.

var (
	parserPool fastjson.ParserPool
	arenaPool  fastjson.ArenaPool
)

// ParseSchema decodes a top-level schema:
//
//	{"type":"struct","fields":[...]}
func ParseSchema(data []byte) (Schema, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return Schema{}, &ParseError{Msg: "invalid JSON", Err: err}
	}
	return decodeSchemaValue(v)
}

// ParseSchemaString decodes a schema from its string form, as found in the
// schemaString of a metaData action.
func ParseSchemaString(s string) (Schema, error) {
	return ParseSchema([]byte(s))
}

// ParseDataType decodes a single data type.
func ParseDataType(data []byte) (DataType, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, &ParseError{Msg: "invalid JSON", Err: err}
	}
	return decodeDataType(v, "")
}

// ParseFields decodes a JSON array of fields.
func ParseFields(data []byte) ([]Field, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, &ParseError{Msg: "invalid JSON", Err: err}
	}
	return decodeFields(v, "")
}

// MarshalSchema encodes a schema with its "type":"struct" tag.
func MarshalSchema(s Schema) ([]byte, error) {
	a := arenaPool.Get()
	defer arenaPool.Put(a)

	v, err := encodeStruct(a, s.Fields, "")
	if err != nil {
		return nil, err
	}
	return v.MarshalTo(nil), nil
}

// MarshalDataType encodes a single data type.
func MarshalDataType(dt DataType) ([]byte, error) {
	a := arenaPool.Get()
	defer arenaPool.Put(a)

	v, err := encodeDataType(a, dt, "")
	if err != nil {
		return nil, err
	}
	return v.MarshalTo(nil), nil
}

// MarshalFields encodes a list of fields as a JSON array.
func MarshalFields(fields []Field) ([]byte, error) {
	a := arenaPool.Get()
	defer arenaPool.Put(a)

	v, err := encodeFields(a, fields, "")
	if err != nil {
		return nil, err
	}
	return v.MarshalTo(nil), nil
}

// MarshalJSON implements json.Marshaler.
func (s Schema) MarshalJSON() ([]byte, error) {
	return MarshalSchema(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schema) UnmarshalJSON(data []byte) error {
	decoded, err := ParseSchema(data)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f Field) MarshalJSON() ([]byte, error) {
	a := arenaPool.Get()
	defer arenaPool.Put(a)

	v, err := encodeField(a, f, "")
	if err != nil {
		return nil, err
	}
	return v.MarshalTo(nil), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(data []byte) error {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return &ParseError{Msg: "invalid JSON", Err: err}
	}
	decoded, err := decodeField(v, "")
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

func decodeSchemaValue(v *fastjson.Value) (Schema, error) {
	o, err := v.Object()
	if err != nil {
		return Schema{}, parseErrorf("", "schema must be an object, got %s", v.Type())
	}
	tag, err := requiredString(o, "type", "")
	if err != nil {
		return Schema{}, err
	}
	if tag != TypeNameStruct {
		return Schema{}, parseErrorf("type", "schema type must be %q, got %q", TypeNameStruct, tag)
	}
	st, err := decodeStruct(o, "")
	if err != nil {
		return Schema{}, err
	}
	return Schema{Fields: st.Fields}, nil
}

func decodeDataType(v *fastjson.Value, path string) (DataType, error) {
	switch v.Type() {
	case fastjson.TypeString:
		name, _ := v.StringBytes()
		if len(name) == 0 {
			return nil, parseErrorf(path, "empty primitive type name")
		}
		return PrimitiveType(name), nil
	case fastjson.TypeObject:
		o, _ := v.Object()
		tag, err := requiredString(o, "type", path)
		if err != nil {
			return nil, err
		}
		switch tag {
		case TypeNameStruct:
			return decodeStruct(o, path)
		case TypeNameArray:
			return decodeArray(o, path)
		case TypeNameMap:
			return decodeMap(o, path)
		default:
			return nil, parseErrorf(join(path, "type"), "unknown complex type %q", tag)
		}
	default:
		return nil, parseErrorf(path, "data type must be a string or an object, got %s", v.Type())
	}
}

func decodeStruct(o *fastjson.Object, path string) (StructType, error) {
	fv := o.Get("fields")
	if fv == nil {
		return StructType{}, parseErrorf(path, "struct is missing required key %q", "fields")
	}
	fields, err := decodeFields(fv, join(path, "fields"))
	if err != nil {
		return StructType{}, err
	}
	return StructType{Fields: fields}, nil
}

func decodeArray(o *fastjson.Object, path string) (ArrayType, error) {
	ev := o.Get("elementType")
	if ev == nil {
		return ArrayType{}, parseErrorf(path, "array is missing required key %q", "elementType")
	}
	containsNull, err := requiredBool(o, "containsNull", path)
	if err != nil {
		return ArrayType{}, err
	}
	elem, err := decodeDataType(ev, join(path, "elementType"))
	if err != nil {
		return ArrayType{}, err
	}
	return ArrayType{ElementType: elem, ContainsNull: containsNull}, nil
}

func decodeMap(o *fastjson.Object, path string) (MapType, error) {
	kv := o.Get("keyType")
	if kv == nil {
		return MapType{}, parseErrorf(path, "map is missing required key %q", "keyType")
	}
	vv := o.Get("valueType")
	if vv == nil {
		return MapType{}, parseErrorf(path, "map is missing required key %q", "valueType")
	}
	valueContainsNull, err := requiredBool(o, "valueContainsNull", path)
	if err != nil {
		return MapType{}, err
	}
	key, err := decodeDataType(kv, join(path, "keyType"))
	if err != nil {
		return MapType{}, err
	}
	value, err := decodeDataType(vv, join(path, "valueType"))
	if err != nil {
		return MapType{}, err
	}
	return MapType{KeyType: key, ValueType: value, ValueContainsNull: valueContainsNull}, nil
}

func decodeFields(v *fastjson.Value, path string) ([]Field, error) {
	items, err := v.Array()
	if err != nil {
		return nil, parseErrorf(path, "fields must be an array, got %s", v.Type())
	}
	fields := make([]Field, 0, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		f, err := decodeField(item, itemPath)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[f.Name]; dup {
			return nil, parseErrorf(itemPath, "duplicate field name %q (first declared at index %d)", f.Name, prev)
		}
		seen[f.Name] = i
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeField(v *fastjson.Value, path string) (Field, error) {
	o, err := v.Object()
	if err != nil {
		return Field{}, parseErrorf(path, "field must be an object, got %s", v.Type())
	}
	name, err := requiredString(o, "name", path)
	if err != nil {
		return Field{}, err
	}
	tv := o.Get("type")
	if tv == nil {
		return Field{}, parseErrorf(path, "field %q is missing required key %q", name, "type")
	}
	typ, err := decodeDataType(tv, join(path, "type"))
	if err != nil {
		return Field{}, err
	}
	nullable, err := requiredBool(o, "nullable", path)
	if err != nil {
		return Field{}, err
	}
	md, err := decodeMetadata(o.Get("metadata"), join(path, "metadata"))
	if err != nil {
		return Field{}, err
	}
	return Field{Name: name, Type: typ, Nullable: nullable, Metadata: md}, nil
}

func decodeMetadata(v *fastjson.Value, path string) (map[string]string, error) {
	if v == nil {
		return nil, parseErrorf(path, "missing required key %q", "metadata")
	}
	o, err := v.Object()
	if err != nil {
		return nil, parseErrorf(path, "metadata must be an object, got %s", v.Type())
	}
	md := make(map[string]string, o.Len())
	var visitErr error
	o.Visit(func(key []byte, val *fastjson.Value) {
		if visitErr != nil {
			return
		}
		s, err := val.StringBytes()
		if err != nil {
			visitErr = parseErrorf(join(path, string(key)), "metadata value must be a string, got %s", val.Type())
			return
		}
		md[string(key)] = string(s)
	})
	if visitErr != nil {
		return nil, visitErr
	}
	return md, nil
}

func requiredString(o *fastjson.Object, key, path string) (string, error) {
	v := o.Get(key)
	if v == nil {
		return "", parseErrorf(path, "missing required key %q", key)
	}
	s, err := v.StringBytes()
	if err != nil {
		return "", parseErrorf(join(path, key), "must be a string, got %s", v.Type())
	}
	return string(s), nil
}

func requiredBool(o *fastjson.Object, key, path string) (bool, error) {
	v := o.Get(key)
	if v == nil {
		return false, parseErrorf(path, "missing required key %q", key)
	}
	b, err := v.Bool()
	if err != nil {
		return false, parseErrorf(join(path, key), "must be a boolean, got %s", v.Type())
	}
	return b, nil
}

func encodeDataType(a *fastjson.Arena, dt DataType, path string) (*fastjson.Value, error) {
	switch t := dt.(type) {
	case PrimitiveType:
		if t == "" {
			return nil, parseErrorf(path, "empty primitive type name")
		}
		return a.NewString(string(t)), nil
	case StructType:
		return encodeStruct(a, t.Fields, path)
	case ArrayType:
		elem, err := encodeDataType(a, t.ElementType, join(path, "elementType"))
		if err != nil {
			return nil, err
		}
		o := a.NewObject()
		o.Set("type", a.NewString(TypeNameArray))
		o.Set("elementType", elem)
		o.Set("containsNull", newBool(a, t.ContainsNull))
		return o, nil
	case MapType:
		key, err := encodeDataType(a, t.KeyType, join(path, "keyType"))
		if err != nil {
			return nil, err
		}
		value, err := encodeDataType(a, t.ValueType, join(path, "valueType"))
		if err != nil {
			return nil, err
		}
		o := a.NewObject()
		o.Set("type", a.NewString(TypeNameMap))
		o.Set("keyType", key)
		o.Set("valueType", value)
		o.Set("valueContainsNull", newBool(a, t.ValueContainsNull))
		return o, nil
	case nil:
		return nil, parseErrorf(path, "missing data type")
	default:
		return nil, parseErrorf(path, "unsupported data type %T", dt)
	}
}

func encodeStruct(a *fastjson.Arena, fields []Field, path string) (*fastjson.Value, error) {
	fv, err := encodeFields(a, fields, join(path, "fields"))
	if err != nil {
		return nil, err
	}
	o := a.NewObject()
	o.Set("type", a.NewString(TypeNameStruct))
	o.Set("fields", fv)
	return o, nil
}

func encodeFields(a *fastjson.Arena, fields []Field, path string) (*fastjson.Value, error) {
	arr := a.NewArray()
	for i, f := range fields {
		fv, err := encodeField(a, f, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		arr.SetArrayItem(i, fv)
	}
	return arr, nil
}

func encodeField(a *fastjson.Arena, f Field, path string) (*fastjson.Value, error) {
	typ, err := encodeDataType(a, f.Type, join(path, "type"))
	if err != nil {
		return nil, err
	}

	// metadata keys are emitted sorted so output is reproducible
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	md := a.NewObject()
	for _, k := range keys {
		md.Set(k, a.NewString(f.Metadata[k]))
	}

	o := a.NewObject()
	o.Set("name", a.NewString(f.Name))
	o.Set("type", typ)
	o.Set("nullable", newBool(a, f.Nullable))
	o.Set("metadata", md)
	return o, nil
}

func newBool(a *fastjson.Arena, b bool) *fastjson.Value {
	if b {
		return a.NewTrue()
	}
	return a.NewFalse()
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
