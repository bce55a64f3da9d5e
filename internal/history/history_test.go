package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndUpdateRunRoundTrip(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runID, err := store.StartRun("example.com", "https://example.com/start", started)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	entries, err := store.List("example.com")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, runID, entries[0].RunID)
	assert.True(t, entries[0].EndedAt.IsZero())
	assert.False(t, entries[0].IsComplete)

	ended := started.Add(5 * time.Minute)
	err = store.UpdateRun(Entry{
		RunID:       runID,
		TotalLinks:  10,
		TotalBlocks: 40,
		Succeeded:   9,
		Failed:      1,
		FreeLinks:   2,
		FreeBlocks:  3,
		IsComplete:  true,
		EndedAt:     ended,
	})
	require.NoError(t, err)

	entries, err = store.List("example.com")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, 10, e.TotalLinks)
	assert.Equal(t, 40, e.TotalBlocks)
	assert.Equal(t, 9, e.Succeeded)
	assert.Equal(t, 1, e.Failed)
	assert.True(t, e.IsComplete)
	assert.WithinDuration(t, ended, e.EndedAt, time.Second)
}

func TestListOrdersMostRecentFirstAndFiltersByHost(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.StartRun("a.com", "https://a.com", base)
	require.NoError(t, err)
	_, err = store.StartRun("a.com", "https://a.com", base.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.StartRun("b.com", "https://b.com", base)
	require.NoError(t, err)

	entries, err := store.List("a.com")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].StartedAt.After(entries[1].StartedAt))

	entries, err = store.List("missing.com")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
