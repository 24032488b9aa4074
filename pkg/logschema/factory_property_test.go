package logschema

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/deltaschema/pkg/types"
)

var propertyColumnTypes = []types.DataType{
	types.PrimitiveString,
	types.PrimitiveLong,
	types.PrimitiveDate,
	types.ArrayType{ElementType: types.PrimitiveInteger, ContainsNull: true},
	types.StructType{Fields: []types.Field{types.NewField("x", types.PrimitiveDouble, true)}},
}

// tableCase is a generated table schema and the partition columns chosen
// from it, plus some names that are not columns at all.
type tableCase struct {
	Schema     types.Schema
	Partitions []string
}

func genTableCase() gopter.Gen {
	column := gopter.CombineGens(gen.IntRange(0, len(propertyColumnTypes)-1), gen.Bool(), gen.Bool())
	return gen.SliceOf(column).Map(func(cols [][]interface{}) tableCase {
		var tc tableCase
		for i, c := range cols {
			name := fmt.Sprintf("c%d", i)
			tc.Schema.Fields = append(tc.Schema.Fields,
				types.NewField(name, propertyColumnTypes[c[0].(int)], c[1].(bool)))
			if c[2].(bool) {
				tc.Partitions = append(tc.Partitions, name)
			}
		}
		tc.Partitions = append(tc.Partitions, "not_a_column")
		return tc
	})
}

func isPartitionColumn(tc tableCase, name string) bool {
	for _, p := range tc.Partitions {
		if p == name {
			return true
		}
	}
	return false
}

func subsequence(tc tableCase, partition bool) []types.Field {
	var out []types.Field
	for _, f := range tc.Schema.Fields {
		if isPartitionColumn(tc, f.Name) == partition {
			out = append(out, f)
		}
	}
	return out
}

func addFields(envelope types.Schema) types.StructType {
	f, _ := envelope.Field(ActionAdd)
	st, _ := f.Type.(types.StructType)
	return st
}

func innerStruct(st types.StructType, name string) (types.StructType, bool) {
	f, ok := st.Field(name)
	if !ok {
		return types.StructType{}, false
	}
	inner, ok := f.Type.(types.StructType)
	return inner, ok && f.Nullable && len(f.Metadata) == 0
}

func sameFields(a, b []types.Field) bool {
	return types.EqualDataType(types.StructType{Fields: a}, types.StructType{Fields: b})
}

func TestProperty_EnvelopeLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.MaxSize = 12
	properties := gopter.NewProperties(parameters)
	factory := NewFactory()

	properties.Property("envelope always has the five actions", prop.ForAll(
		func(tc tableCase) bool {
			envelope := factory.Build(tc.Schema, tc.Partitions)
			got := envelope.FieldNames()
			want := []string{ActionMetaData, ActionProtocol, ActionTxn, ActionAdd, ActionRemove}
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] || !envelope.Fields[i].Nullable || len(envelope.Fields[i].Metadata) != 0 {
					return false
				}
			}
			return true
		},
		genTableCase(),
	))

	properties.Property("partitionValues_parsed holds the partition subsequence", prop.ForAll(
		func(tc tableCase) bool {
			want := subsequence(tc, true)
			got, ok := innerStruct(addFields(factory.Build(tc.Schema, tc.Partitions)), FieldPartitionValuesParsed)
			if len(want) == 0 {
				return !ok
			}
			return ok && sameFields(want, got.Fields)
		},
		genTableCase(),
	))

	properties.Property("stats_parsed holds the data subsequence three times", prop.ForAll(
		func(tc tableCase) bool {
			want := subsequence(tc, false)
			stats, ok := innerStruct(addFields(factory.Build(tc.Schema, tc.Partitions)), FieldStatsParsed)
			if len(want) == 0 {
				return !ok
			}
			if !ok || len(stats.Fields) != 3 {
				return false
			}
			for i, name := range []string{FieldMinValues, FieldMaxValues, FieldNullCounts} {
				if stats.Fields[i].Name != name {
					return false
				}
				inner, ok := innerStruct(stats, name)
				if !ok || !sameFields(want, inner.Fields) {
					return false
				}
			}
			return true
		},
		genTableCase(),
	))

	properties.Property("identical inputs give equal outputs", prop.ForAll(
		func(tc tableCase) bool {
			return factory.Build(tc.Schema, tc.Partitions).Equal(NewFactory().Build(tc.Schema, tc.Partitions))
		},
		genTableCase(),
	))

	properties.TestingRun(t)
}
