package nfsexport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supernifty/cloudman/pkg/shell"
)

func newTestTable(t *testing.T) (*Table, *shell.Fake, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exports")
	runner := shell.NewFake()
	return NewTable(path, "", runner), runner, path
}

func TestAddCreatesEntryAndReloads(t *testing.T) {
	table, runner, path := newTestTable(t)

	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyData"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/galaxyData\t"+DefaultOptions+"\n", string(data))
	assert.True(t, runner.Ran("exportfs -ra"))
}

func TestAddIsIdempotent(t *testing.T) {
	table, _, path := newTestTable(t)

	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyData"))
	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyData"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, len(splitLines(string(data))))
}

func TestFind(t *testing.T) {
	table, _, _ := newTestTable(t)

	idx, err := table.Find("/mnt/galaxyData")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyData"))
	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyIndices"))

	idx, err = table.Find("/mnt/galaxyIndices")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestFindIgnoresCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports")
	content := "# managed exports\n\n/mnt/galaxyData\t" + DefaultOptions + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table := NewTable(path, "", shell.NewFake())
	idx, err := table.Find("/mnt/galaxyData")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestRemoveDeletesEntry(t *testing.T) {
	table, runner, path := newTestTable(t)

	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyData"))
	require.NoError(t, table.Add(context.Background(), "/mnt/galaxyIndices"))
	require.NoError(t, table.Remove(context.Background(), "/mnt/galaxyData"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/mnt/galaxyData\t")
	assert.Contains(t, string(data), "/mnt/galaxyIndices")
	assert.True(t, runner.Ran("exportfs"))
}

func TestRemoveAbsentEntrySkipsReload(t *testing.T) {
	table, runner, _ := newTestTable(t)

	require.NoError(t, table.Remove(context.Background(), "/mnt/never"))
	assert.False(t, runner.Ran("exportfs"))
}

func TestMissingExportsFileIsEmptyTable(t *testing.T) {
	table := NewTable(filepath.Join(t.TempDir(), "absent"), "", shell.NewFake())

	idx, err := table.Find("/mnt/galaxyData")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
