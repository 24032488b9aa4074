package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/arkilian/deltaschema/internal/errors"
	"github.com/arkilian/deltaschema/pkg/logschema"
	"github.com/arkilian/deltaschema/pkg/types"
)

func openRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

var (
	eventsV1 = types.NewSchema(
		types.NewField("id", types.PrimitiveLong, false),
		types.NewField("date", types.PrimitiveDate, true),
	)
	eventsV2 = types.NewSchema(
		types.NewField("id", types.PrimitiveLong, false),
		types.NewField("date", types.PrimitiveDate, true),
		types.NewField("score", types.PrimitiveDouble, true),
	)
)

func register(t *testing.T, r *SQLiteRegistry, table string, s types.Schema, partitions []string) (*Record, bool) {
	t.Helper()
	envelope := logschema.NewFactory().Build(s, partitions)
	rec, created, err := r.Register(context.Background(), table, s, partitions, envelope)
	require.NoError(t, err)
	return rec, created
}

func TestRegister_VersionsOnChange(t *testing.T) {
	r := openRegistry(t)

	first, created := register(t, r, "events", eventsV1, []string{"date"})
	assert.True(t, created)
	assert.Equal(t, 1, first.Version)
	assert.Len(t, first.Fingerprint, 32)
	assert.NotEmpty(t, first.ID)

	same, created := register(t, r, "events", eventsV1, []string{"date"})
	assert.False(t, created)
	assert.Equal(t, first.ID, same.ID)
	assert.Equal(t, 1, same.Version)

	second, created := register(t, r, "events", eventsV2, []string{"date"})
	assert.True(t, created)
	assert.Equal(t, 2, second.Version)

	third, created := register(t, r, "events", eventsV2, nil)
	assert.True(t, created, "partition change is a new version")
	assert.Equal(t, 3, third.Version)

	other, _ := register(t, r, "clicks", eventsV1, nil)
	assert.Equal(t, 1, other.Version)
}

func TestGetLatestList(t *testing.T) {
	r := openRegistry(t)
	ctx := context.Background()

	register(t, r, "events", eventsV1, []string{"date"})
	register(t, r, "events", eventsV2, []string{"date"})

	v1, err := r.Get(ctx, "events", 1)
	require.NoError(t, err)
	assert.True(t, v1.TableSchema.Equal(eventsV1))
	assert.Equal(t, []string{"date"}, v1.PartitionColumns)
	assert.True(t, v1.Envelope.Equal(logschema.NewFactory().Build(eventsV1, []string{"date"})))

	latest, err := r.Latest(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.True(t, latest.TableSchema.Equal(eventsV2))

	all, err := r.List(ctx, "events")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, 2, all[1].Version)

	tables, err := r.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, tables)
}

func TestNotFound(t *testing.T) {
	r := openRegistry(t)
	ctx := context.Background()
	register(t, r, "events", eventsV1, nil)

	_, err := r.Get(ctx, "events", 9)
	assert.Equal(t, dserrors.CodeVersionNotFound, dserrors.GetCode(err))

	_, err = r.Latest(ctx, "nope")
	assert.Equal(t, dserrors.CodeVersionNotFound, dserrors.GetCode(err))

	list, err := r.List(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegister_RequiresTable(t *testing.T) {
	r := openRegistry(t)
	_, _, err := r.Register(context.Background(), "", eventsV1, nil, eventsV1)
	assert.Equal(t, dserrors.ErrCategoryValidation, dserrors.GetCategory(err))
}

func TestRegister_Concurrent(t *testing.T) {
	r := openRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			envelope := logschema.NewFactory().Build(eventsV1, nil)
			_, _, err := r.Register(context.Background(), "events", eventsV1, nil, envelope)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := r.List(context.Background(), "events")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(path)
	require.NoError(t, err)
	register(t, r, "events", eventsV1, nil)
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	latest, err := r.Latest(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestFingerprint(t *testing.T) {
	envelope := logschema.NewFactory().Build(eventsV1, []string{"date"})
	a, err := Fingerprint(eventsV1, []string{"date"}, envelope)
	require.NoError(t, err)
	b, err := Fingerprint(eventsV1.Clone(), []string{"date"}, envelope.Clone())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Fingerprint(eventsV1, []string{"da", "te"}, envelope)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "partition boundaries are part of the fingerprint")

	joined, err := Fingerprint(eventsV1, []string{"a\x00b"}, envelope)
	require.NoError(t, err)
	split, err := Fingerprint(eventsV1, []string{"a", "b"}, envelope)
	require.NoError(t, err)
	assert.NotEqual(t, joined, split, "a separator byte inside a name is not a boundary")

	none, err := Fingerprint(eventsV1, nil, envelope)
	require.NoError(t, err)
	empty, err := Fingerprint(eventsV1, []string{""}, envelope)
	require.NoError(t, err)
	assert.NotEqual(t, none, empty)
}
