package runlog

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleReport struct {
	RunID    string `json:"run_id"`
	Exported int    `json:"exported"`
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 10, 0)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := sampleReport{RunID: "abc", Exported: 42}

	require.NoError(t, store.Save(started, "abc", in))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Path, "run-20260301T120000Z-abc.json.lz4")

	var out sampleReport

	require.NoError(t, store.Load(entries[0].Path, &out))
	assert.Equal(t, in, out)
}

func TestSave_ContentIsCompressed(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 10, 0)

	require.NoError(t, store.Save(time.Now(), "x", sampleReport{RunID: "x"}))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(entries[0].Path)
	require.NoError(t, err)

	// lz4 frame magic number.
	require.GreaterOrEqual(t, len(raw), 4)
	assert.Equal(t, []byte{0x04, 0x22, 0x4d, 0x18}, raw[:4])
}

func TestPrune_EnforcesKeepCount(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), 2, 0)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.Save(base.Add(time.Duration(i)*time.Hour), "r", sampleReport{}))
	}

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest reports survive.
	assert.Contains(t, entries[0].Path, "20260301T040000Z")
	assert.Contains(t, entries[1].Path, "20260301T030000Z")
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir()+"/nope", 5, 0)

	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
