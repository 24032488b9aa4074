package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/deltaschema/internal/checkpoint"
	"github.com/arkilian/deltaschema/internal/deltalog"
	"github.com/arkilian/deltaschema/pkg/logschema"
	"github.com/arkilian/deltaschema/pkg/types"
)

const eventsSchema = `{"type":"struct","fields":[` +
	`{"name":"id","type":"long","nullable":false,"metadata":{}},` +
	`{"name":"date","type":"date","nullable":true,"metadata":{}},` +
	`{"name":"tags","type":{"type":"array","elementType":"string","containsNull":true},"nullable":true,"metadata":{}}]}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "deltaschema version dev (commit: unknown)\n", out)
}

func TestDeriveCommand_SchemaFile(t *testing.T) {
	schemaPath := writeFile(t, t.TempDir(), "events.json", eventsSchema)

	out, err := execute(t, "", "derive", "--schema", schemaPath, "--partitions", "date")
	require.NoError(t, err)

	got, err := types.ParseSchema([]byte(out))
	require.NoError(t, err)
	table, err := types.ParseSchemaString(eventsSchema)
	require.NoError(t, err)
	assert.True(t, got.Equal(logschema.NewFactory().Build(table, []string{"date"})))
}

func TestDeriveCommand_StdinSchemaString(t *testing.T) {
	out, err := execute(t, strconv.Quote(eventsSchema), "derive", "--schema", "-", "--arrow")
	require.NoError(t, err)
	assert.Contains(t, out, "stats_parsed")
	assert.Contains(t, out, "list<element: utf8")
}

func TestDeriveCommand_Errors(t *testing.T) {
	_, err := execute(t, "", "derive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--schema is required")

	_, err = execute(t, `{"type":"struct","fields":[{"name":"a"}]}`, "derive", "--schema", "-")
	var pe *types.ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = execute(t, "", "derive", "--schema", "x.json", "--table-path", "t")
	assert.Error(t, err)
}

func TestDeriveCommand_TablePath(t *testing.T) {
	tableDir := t.TempDir()
	writeFile(t, tableDir, filepath.Join(deltalog.LogDir, "00000000000000000000.json"),
		fmt.Sprintf(`{"protocol":{"minReaderVersion":1,"minWriterVersion":2}}
{"metaData":{"id":"e","schemaString":%s,"partitionColumns":["date"]}}
`, strconv.Quote(eventsSchema)))

	out, err := execute(t, "", "derive", "--table-path", tableDir, "--pretty")
	require.NoError(t, err)
	assert.Contains(t, out, "\n  ")
	assert.Contains(t, out, `"partitionValues_parsed"`)

	_, err = execute(t, "", "derive", "--table-path", t.TempDir())
	assert.Error(t, err)
}

func TestCheckpointCommands(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "events.json", eventsSchema)
	logDir := filepath.Join(dir, "table", deltalog.LogDir)

	out, err := execute(t, "", "init-checkpoint", "--schema", schemaPath, "--partitions", "date", "--dir", logDir, "--version", "4")
	require.NoError(t, err)
	cpPath := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(logDir, checkpoint.FileName(4)), cpPath)

	_, err = execute(t, "", "init-checkpoint", "--schema", schemaPath, "--dir", logDir, "--version", "4")
	require.Error(t, err, "existing checkpoints are not overwritten")
	assert.Contains(t, err.Error(), "--force")

	out, err = execute(t, "", "verify-checkpoint", "--file", cpPath, "--schema", schemaPath, "--partitions", "date")
	require.NoError(t, err)
	assert.Contains(t, out, "matches the log schema (0 rows")

	// Without the partition, date is expected under stats_parsed.
	_, err = execute(t, "", "verify-checkpoint", "--file", cpPath, "--schema", schemaPath)
	require.Error(t, err)
	var cre *types.CheckpointReadError
	require.ErrorAs(t, err, &cre)
	assert.Contains(t, err.Error(), `add.stats_parsed.minValues.date`)

	writeFile(t, logDir, "00000000000000000004.json",
		fmt.Sprintf(`{"metaData":{"id":"e","schemaString":%s,"partitionColumns":["date"]}}`, strconv.Quote(eventsSchema)))
	out, err = execute(t, "", "verify-checkpoint", "--table-path", filepath.Join(dir, "table"))
	require.NoError(t, err)
	assert.Equal(t, "checkpoint 4 matches the log schema\n", out)

	_, err = execute(t, "", "verify-checkpoint", "--schema", schemaPath)
	assert.Error(t, err)
}

func TestInitCheckpointCommand_TablePath(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "events.json", eventsSchema)
	tableDir := filepath.Join(dir, "events")
	writeFile(t, tableDir, filepath.Join(deltalog.LogDir, "00000000000000000002.json"),
		fmt.Sprintf(`{"metaData":{"id":"e","schemaString":%s,"partitionColumns":["date"]}}`, strconv.Quote(eventsSchema)))

	out, err := execute(t, "", "init-checkpoint", "--schema", schemaPath, "--partitions", "date",
		"--table-path", tableDir, "--version", "2")
	require.NoError(t, err)
	assert.Equal(t, tableDir+"/"+deltalog.LogDir+"/"+checkpoint.FileName(2), strings.TrimSpace(out))
	assert.FileExists(t, filepath.Join(tableDir, deltalog.LogDir, checkpoint.FileName(2)))

	_, err = execute(t, "", "init-checkpoint", "--schema", schemaPath, "--table-path", tableDir, "--version", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	out, err = execute(t, "", "verify-checkpoint", "--table-path", tableDir)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint 2 matches the log schema\n", out)

	// Replace it with a checkpoint that lacks the partition split.
	_, err = execute(t, "", "init-checkpoint", "--schema", schemaPath, "--table-path", tableDir, "--version", "2", "--force")
	require.NoError(t, err)
	_, err = execute(t, "", "verify-checkpoint", "--table-path", tableDir)
	assert.Error(t, err)

	_, err = execute(t, "", "init-checkpoint", "--schema", schemaPath, "--table-path", tableDir, "--dir", dir)
	assert.Error(t, err)
}
