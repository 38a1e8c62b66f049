package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

func newDir(t *testing.T) *Dir {
	t.Helper()

	dir, err := New(t.TempDir())
	require.NoError(t, err)

	return dir
}

func TestWrite_CreatesAndOverwrites(t *testing.T) {
	t.Parallel()

	dir := newDir(t)
	path := dir.CollectionPath("uarc", "17")

	require.NoError(t, dir.Write(path, []byte("<ead>v1</ead>")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<ead>v1</ead>", string(content))

	require.NoError(t, dir.Write(path, []byte("<ead>v2</ead>")))

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<ead>v2</ead>", string(content))
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := newDir(t)
	path := dir.AgentPath("123")

	require.NoError(t, dir.Write(path, []byte("<creator/>")))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "123.xml", entries[0].Name())
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	dir := newDir(t)

	assert.NoError(t, dir.Remove(dir.AgentPath("missing")))
}

func TestList_ReturnsStagedFilesWithIdentifiers(t *testing.T) {
	t.Parallel()

	dir := newDir(t)

	require.NoError(t, dir.Write(dir.CollectionPath("uarc", "17"), []byte("<ead/>")))
	require.NoError(t, dir.Write(dir.CollectionPath("mss", "42"), []byte("<ead/>")))
	require.NoError(t, dir.Write(dir.AgentPath("9"), []byte("<creator/>")))

	collections, err := dir.List(aspace.KindCollection)
	require.NoError(t, err)
	require.Len(t, collections, 2)

	ids := map[string]bool{}
	for _, f := range collections {
		ids[f.Identifier] = true

		assert.Equal(t, aspace.KindCollection, f.Kind)
		assert.Positive(t, f.Size)
	}

	assert.True(t, ids["17"])
	assert.True(t, ids["42"])

	agents, err := dir.List(aspace.KindAgent)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "9", agents[0].Identifier)
}

func TestPurge_EmptiesOneKindOnly(t *testing.T) {
	t.Parallel()

	dir := newDir(t)

	require.NoError(t, dir.Write(dir.CollectionPath("uarc", "17"), []byte("<ead/>")))
	require.NoError(t, dir.Write(dir.AgentPath("9"), []byte("<creator/>")))

	require.NoError(t, dir.Purge(aspace.KindCollection))

	collections, err := dir.List(aspace.KindCollection)
	require.NoError(t, err)
	assert.Empty(t, collections)

	agents, err := dir.List(aspace.KindAgent)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}
