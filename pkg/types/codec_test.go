package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoColumnSchema = `{"type":"struct","fields":[` +
	`{"name":"pcol","type":"integer","nullable":true,"metadata":{}},` +
	`{"name":"col1","type":"integer","nullable":true,"metadata":{}}]}`

func TestParseDataType_Primitive(t *testing.T) {
	dt, err := ParseDataType([]byte(`"long"`))
	require.NoError(t, err)
	assert.Equal(t, PrimitiveLong, dt)

	out, err := MarshalDataType(dt)
	require.NoError(t, err)
	assert.Equal(t, `"long"`, string(out))
}

func TestParseDataType_UnknownPrimitivePassesThrough(t *testing.T) {
	dt, err := ParseDataType([]byte(`"geography"`))
	require.NoError(t, err)
	assert.Equal(t, PrimitiveType("geography"), dt)
	assert.False(t, dt.(PrimitiveType).Known())

	out, err := MarshalDataType(dt)
	require.NoError(t, err)
	assert.Equal(t, `"geography"`, string(out))
}

func TestParseDataType_NestedRoundTrip(t *testing.T) {
	in := `{"type":"array","elementType":{"type":"map","keyType":"string","valueType":"long","valueContainsNull":true},"containsNull":false}`

	dt, err := ParseDataType([]byte(in))
	require.NoError(t, err)

	arr, ok := dt.(ArrayType)
	require.True(t, ok, "expected array, got %T", dt)
	assert.False(t, arr.ContainsNull)
	m, ok := arr.ElementType.(MapType)
	require.True(t, ok, "expected map element, got %T", arr.ElementType)
	assert.Equal(t, PrimitiveString, m.KeyType)
	assert.Equal(t, PrimitiveLong, m.ValueType)
	assert.True(t, m.ValueContainsNull)

	out, err := MarshalDataType(dt)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestParseDataType_UnknownKeysDropped(t *testing.T) {
	dt, err := ParseDataType([]byte(`{"containsNull":true,"extra":[1,2],"type":"array","elementType":"string"}`))
	require.NoError(t, err)

	out, err := MarshalDataType(dt)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"array","elementType":"string","containsNull":true}`, string(out))
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(twoColumnSchema))
	require.NoError(t, err)

	require.Len(t, s.Fields, 2)
	assert.Equal(t, []string{"pcol", "col1"}, s.FieldNames())
	for _, f := range s.Fields {
		assert.Equal(t, PrimitiveInteger, f.Type)
		assert.True(t, f.Nullable)
		assert.NotNil(t, f.Metadata)
		assert.Empty(t, f.Metadata)
	}

	out, err := MarshalSchema(s)
	require.NoError(t, err)
	assert.Equal(t, twoColumnSchema, string(out))
}

func TestParseSchema_Metadata(t *testing.T) {
	in := `{"type":"struct","fields":[{"name":"id","type":"long","nullable":false,` +
		`"metadata":{"z":"last","delta.generationExpression":"1","a":"first"}}]}`

	s, err := ParseSchema([]byte(in))
	require.NoError(t, err)
	f, ok := s.Field("id")
	require.True(t, ok)
	assert.False(t, f.Nullable)
	assert.Equal(t, map[string]string{"a": "first", "delta.generationExpression": "1", "z": "last"}, f.Metadata)

	out, err := MarshalSchema(s)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"struct","fields":[{"name":"id","type":"long","nullable":false,`+
		`"metadata":{"a":"first","delta.generationExpression":"1","z":"last"}}]}`, string(out))
}

func TestParseSchema_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		path  string
	}{
		{"invalid json", `{"type":`, ""},
		{"not an object", `"struct"`, ""},
		{"schema not struct", `{"type":"array","elementType":"string","containsNull":true}`, "type"},
		{"missing fields", `{"type":"struct"}`, ""},
		{"fields not array", `{"type":"struct","fields":{}}`, "fields"},
		{"field missing name", `{"type":"struct","fields":[{"type":"long","nullable":true,"metadata":{}}]}`, "fields[0]"},
		{"field missing type", `{"type":"struct","fields":[{"name":"a","nullable":true,"metadata":{}}]}`, "fields[0]"},
		{"field missing nullable", `{"type":"struct","fields":[{"name":"a","type":"long","metadata":{}}]}`, "fields[0]"},
		{"field missing metadata", `{"type":"struct","fields":[{"name":"a","type":"long","nullable":true}]}`, "fields[0].metadata"},
		{"nullable not bool", `{"type":"struct","fields":[{"name":"a","type":"long","nullable":"yes","metadata":{}}]}`, "fields[0].nullable"},
		{"metadata value not string", `{"type":"struct","fields":[{"name":"a","type":"long","nullable":true,"metadata":{"k":1}}]}`, "fields[0].metadata.k"},
		{"number as type", `{"type":"struct","fields":[{"name":"a","type":7,"nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"empty primitive", `{"type":"struct","fields":[{"name":"a","type":"","nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"duplicate names", `{"type":"struct","fields":[` +
			`{"name":"a","type":"long","nullable":true,"metadata":{}},` +
			`{"name":"a","type":"string","nullable":true,"metadata":{}}]}`, "fields[1]"},
		{"array missing containsNull", `{"type":"struct","fields":[{"name":"a","type":{"type":"array","elementType":"long"},"nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"array missing elementType", `{"type":"struct","fields":[{"name":"a","type":{"type":"array","containsNull":true},"nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"map missing valueType", `{"type":"struct","fields":[{"name":"a","type":{"type":"map","keyType":"string","valueContainsNull":true},"nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"map tag with array shape", `{"type":"struct","fields":[{"name":"a","type":{"type":"map","elementType":"long","containsNull":true},"nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"struct shape without tag", `{"type":"struct","fields":[{"name":"a","type":{"fields":[]},"nullable":true,"metadata":{}}]}`, "fields[0].type"},
		{"unknown complex tag", `{"type":"struct","fields":[{"name":"a","type":{"type":"union","fields":[]},"nullable":true,"metadata":{}}]}`, "fields[0].type.type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.input))
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected ParseError, got %T: %v", err, err)
			assert.Equal(t, tt.path, pe.Path)
		})
	}
}

func TestParseSchema_InvalidJSONKeepsCause(t *testing.T) {
	_, err := ParseSchema([]byte(`{`))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.NotNil(t, errors.Unwrap(pe))
}

func TestMarshalDataType_Errors(t *testing.T) {
	_, err := MarshalDataType(ArrayType{ContainsNull: true})
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "elementType", pe.Path)

	_, err = MarshalDataType(PrimitiveType(""))
	require.Error(t, err)
}

func TestSchema_JSONInterfaces(t *testing.T) {
	type envelope struct {
		Schema Schema `json:"schema"`
	}

	var in envelope
	require.NoError(t, json.Unmarshal([]byte(`{"schema":`+twoColumnSchema+`}`), &in))
	require.Len(t, in.Schema.Fields, 2)

	out, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"schema":`+twoColumnSchema+`}`, string(out))

	var bad envelope
	err = json.Unmarshal([]byte(`{"schema":{"type":"struct"}}`), &bad)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestField_JSONInterfaces(t *testing.T) {
	in := `{"name":"tags","type":{"type":"array","elementType":"string","containsNull":true},"nullable":true,"metadata":{}}`

	var f Field
	require.NoError(t, json.Unmarshal([]byte(in), &f))
	assert.Equal(t, "tags", f.Name)
	assert.Equal(t, ArrayType{ElementType: PrimitiveString, ContainsNull: true}, f.Type)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields([]byte(`[{"name":"a","type":"date","nullable":true,"metadata":{}}]`))
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, PrimitiveDate, fields[0].Type)

	out, err := MarshalFields(fields)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"a","type":"date","nullable":true,"metadata":{}}]`, string(out))

	_, err = ParseFields([]byte(`{}`))
	require.Error(t, err)
}

func TestSchema_String(t *testing.T) {
	s, err := ParseSchema([]byte(twoColumnSchema))
	require.NoError(t, err)
	assert.Equal(t, twoColumnSchema, s.String())
}
