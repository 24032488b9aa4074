package logschema

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arkilian/deltaschema/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const twoColumnTable = `{
	"type": "struct",
	"fields": [
		{ "name": "pcol", "type": "integer", "nullable": true, "metadata": {} },
		{ "name": "col1", "type": "integer", "nullable": true, "metadata": {} }
	]
}`

func mustParseSchema(t *testing.T, s string) types.Schema {
	t.Helper()
	schema, err := types.ParseSchema([]byte(s))
	require.NoError(t, err)
	return schema
}

func actionFields(t *testing.T, envelope types.Schema, action string) []types.Field {
	t.Helper()
	f, ok := envelope.Field(action)
	require.True(t, ok, "envelope has no %q action", action)
	st, ok := f.Type.(types.StructType)
	require.True(t, ok, "%q must be a struct, got %T", action, f.Type)
	return st.Fields
}

func structFields(t *testing.T, fields []types.Field, name string) []types.Field {
	t.Helper()
	f, ok := types.StructType{Fields: fields}.Field(name)
	require.True(t, ok, "missing field %q", name)
	st, ok := f.Type.(types.StructType)
	require.True(t, ok, "%q must be a struct, got %T", name, f.Type)
	return st.Fields
}

func names(fields []types.Field) []string {
	return types.StructType{Fields: fields}.FieldNames()
}

var addTemplateNames = []string{"path", "size", "modificationTime", "dataChange", "stats"}

func TestFactory_OnePartitionOneDataColumn(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"pcol"})

	require.Len(t, envelope.Fields, 5)
	assert.Equal(t, []string{"metaData", "protocol", "txn", "add", "remove"}, envelope.FieldNames())

	assert.Len(t, actionFields(t, envelope, ActionMetaData), 7)
	assert.Len(t, actionFields(t, envelope, ActionProtocol), 2)
	assert.Len(t, actionFields(t, envelope, ActionTxn), 2)
	assert.Equal(t, addTemplateNames, names(actionFields(t, envelope, ActionRemove)))

	add := actionFields(t, envelope, ActionAdd)
	require.Len(t, add, 7)
	assert.Equal(t, append(append([]string{}, addTemplateNames...), FieldPartitionValuesParsed, FieldStatsParsed), names(add))

	partitions := structFields(t, add, FieldPartitionValuesParsed)
	require.Len(t, partitions, 1)
	assert.True(t, table.Fields[0].Equal(partitions[0]))

	stats := structFields(t, add, FieldStatsParsed)
	assert.Equal(t, []string{FieldMinValues, FieldMaxValues, FieldNullCounts}, names(stats))
	for _, name := range []string{FieldMinValues, FieldMaxValues, FieldNullCounts} {
		inner := structFields(t, stats, name)
		require.Len(t, inner, 1, name)
		assert.True(t, table.Fields[1].Equal(inner[0]), name)
	}
}

func TestFactory_NoPartitions(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, nil)

	add := actionFields(t, envelope, ActionAdd)
	require.Len(t, add, 6)
	_, hasPartitions := types.StructType{Fields: add}.Field(FieldPartitionValuesParsed)
	assert.False(t, hasPartitions)

	stats := structFields(t, add, FieldStatsParsed)
	for _, name := range []string{FieldMinValues, FieldMaxValues, FieldNullCounts} {
		assert.Equal(t, []string{"pcol", "col1"}, names(structFields(t, stats, name)), name)
	}
}

func TestFactory_AllPartitions(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"pcol", "col1"})

	add := actionFields(t, envelope, ActionAdd)
	require.Len(t, add, 6)
	_, hasStats := types.StructType{Fields: add}.Field(FieldStatsParsed)
	assert.False(t, hasStats)
	assert.Equal(t, []string{"pcol", "col1"}, names(structFields(t, add, FieldPartitionValuesParsed)))
}

func TestFactory_PartitionOrderFollowsTable(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"col1", "pcol"})

	add := actionFields(t, envelope, ActionAdd)
	assert.Equal(t, []string{"pcol", "col1"}, names(structFields(t, add, FieldPartitionValuesParsed)))
}

func TestFactory_EmptyTable(t *testing.T) {
	envelope := NewFactory().Build(types.NewSchema(), nil)

	require.Len(t, envelope.Fields, 5)
	assert.Equal(t, addTemplateNames, names(actionFields(t, envelope, ActionAdd)))
}

func TestFactory_UnknownPartitionIgnored(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"missing", "pcol"})

	add := actionFields(t, envelope, ActionAdd)
	assert.Equal(t, []string{"pcol"}, names(structFields(t, add, FieldPartitionValuesParsed)))

	onlyUnknown := NewFactory().Build(table, []string{"missing"})
	add = actionFields(t, onlyUnknown, ActionAdd)
	_, hasPartitions := types.StructType{Fields: add}.Field(FieldPartitionValuesParsed)
	assert.False(t, hasPartitions)
}

func TestFactory_PartitionMatchIsCaseSensitive(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"PCOL"})

	add := actionFields(t, envelope, ActionAdd)
	_, hasPartitions := types.StructType{Fields: add}.Field(FieldPartitionValuesParsed)
	assert.False(t, hasPartitions)
	stats := structFields(t, add, FieldStatsParsed)
	assert.Equal(t, []string{"pcol", "col1"}, names(structFields(t, stats, FieldMinValues)))
}

func TestFactory_NestedTypesKeptVerbatim(t *testing.T) {
	table := mustParseSchema(t, `{"type":"struct","fields":[
		{"name":"region","type":"string","nullable":false,"metadata":{"comment":"partition"}},
		{"name":"tags","type":{"type":"array","elementType":"string","containsNull":false},"nullable":true,"metadata":{}},
		{"name":"attrs","type":{"type":"map","keyType":"string","valueType":{"type":"struct","fields":[
			{"name":"v","type":"double","nullable":true,"metadata":{}}]},"valueContainsNull":true},"nullable":true,"metadata":{}}
	]}`)

	envelope := NewFactory().Build(table, []string{"region"})
	add := actionFields(t, envelope, ActionAdd)

	partitions := structFields(t, add, FieldPartitionValuesParsed)
	require.Len(t, partitions, 1)
	assert.True(t, table.Fields[0].Equal(partitions[0]))
	assert.False(t, partitions[0].Nullable)
	assert.Equal(t, "partition", partitions[0].Metadata["comment"])

	stats := structFields(t, add, FieldStatsParsed)
	for _, name := range []string{FieldMinValues, FieldMaxValues, FieldNullCounts} {
		inner := structFields(t, stats, name)
		require.Len(t, inner, 2)
		assert.True(t, table.Fields[1].Equal(inner[0]))
		assert.True(t, table.Fields[2].Equal(inner[1]))
	}
}

func TestFactory_ReservedNamesInTable(t *testing.T) {
	table := types.NewSchema(
		types.NewField(FieldStatsParsed, types.PrimitiveString, true),
		types.NewField(FieldMinValues, types.PrimitiveLong, true),
		types.NewField(FieldPartitionValuesParsed, types.PrimitiveString, true),
	)

	envelope := NewFactory().Build(table, []string{FieldPartitionValuesParsed})
	add := actionFields(t, envelope, ActionAdd)

	assert.Equal(t, []string{FieldPartitionValuesParsed}, names(structFields(t, add, FieldPartitionValuesParsed)))
	stats := structFields(t, add, FieldStatsParsed)
	assert.Equal(t, []string{FieldStatsParsed, FieldMinValues}, names(structFields(t, stats, FieldMinValues)))
}

func TestFactory_NullabilityAndMetadata(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"pcol"})

	for _, f := range envelope.Fields {
		assert.True(t, f.Nullable, f.Name)
		assert.Empty(t, f.Metadata, f.Name)
	}

	add := actionFields(t, envelope, ActionAdd)
	for _, f := range add {
		assert.True(t, f.Nullable, f.Name)
		assert.Empty(t, f.Metadata, f.Name)
	}
	for _, f := range structFields(t, add, FieldStatsParsed) {
		assert.True(t, f.Nullable, f.Name)
		assert.Empty(t, f.Metadata, f.Name)
	}
}

func TestFactory_DoesNotAliasInput(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	before := table.Clone()
	envelope := NewFactory().Build(table, nil)

	add := actionFields(t, envelope, ActionAdd)
	stats := structFields(t, add, FieldStatsParsed)
	minValues := structFields(t, stats, FieldMinValues)
	minValues[0].Metadata["touched"] = "yes"
	minValues[0].Name = "renamed"

	assert.True(t, before.Equal(table))
	assert.Equal(t, "pcol", structFields(t, stats, FieldMaxValues)[0].Name)
	assert.Empty(t, structFields(t, stats, FieldMaxValues)[0].Metadata)

	// the template library is unaffected as well
	fresh := NewFactory().Build(table, nil)
	assert.Equal(t, addTemplateNames, names(actionFields(t, fresh, ActionRemove)))
	assert.Empty(t, actionFields(t, fresh, ActionAdd)[0].Metadata)
}

func TestFactory_Deterministic(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	factory := NewFactory()

	first, err := types.MarshalSchema(factory.Build(table, []string{"pcol"}))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := types.MarshalSchema(NewFactory().Build(table, []string{"pcol"}))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestFactory_ZeroValueUsesDefaultLibrary(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	want := NewFactory().Build(table, []string{"pcol"})

	var zero Factory
	assert.True(t, zero.Build(table, []string{"pcol"}).Equal(want))
	assert.Same(t, DefaultLibrary(), zero.Library())

	nilLib := NewFactory(WithLibrary(nil))
	assert.True(t, nilLib.Build(table, []string{"pcol"}).Equal(want))
}

func TestFactory_ConcurrentBuild(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	factory := NewFactory()
	expected := factory.Build(table, []string{"pcol"})

	var wg sync.WaitGroup
	results := make([]types.Schema, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = factory.Build(table, []string{"pcol"})
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.True(t, expected.Equal(got), "result %d differs", i)
	}
}

func TestFactory_OutputRoundTrips(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory().Build(table, []string{"pcol"})

	encoded, err := types.MarshalSchema(envelope)
	require.NoError(t, err)
	decoded, err := types.ParseSchema(encoded)
	require.NoError(t, err)
	assert.True(t, envelope.Equal(decoded))
}

func TestFactory_WithMapFields(t *testing.T) {
	table := mustParseSchema(t, twoColumnTable)
	envelope := NewFactory(WithMapFields()).Build(table, []string{"pcol"})

	require.Len(t, envelope.Fields, 5)

	metaData := actionFields(t, envelope, ActionMetaData)
	assert.Len(t, metaData, 8)
	assert.Equal(t, []string{"provider", "options"}, names(structFields(t, metaData, "format")))

	configuration, ok := types.StructType{Fields: metaData}.Field("configuration")
	require.True(t, ok)
	assert.Equal(t, types.MapType{
		KeyType:           types.PrimitiveString,
		ValueType:         types.PrimitiveString,
		ValueContainsNull: true,
	}, configuration.Type)

	add := actionFields(t, envelope, ActionAdd)
	assert.Equal(t, []string{"path", "size", "modificationTime", "dataChange", "stats", "partitionValues",
		FieldPartitionValuesParsed, FieldStatsParsed}, names(add))
	assert.Len(t, actionFields(t, envelope, ActionRemove), 6)
}
