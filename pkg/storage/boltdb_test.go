package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/monagent/pkg/types"
)

func newStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(jid string, at time.Time) *JobRecord {
	return &JobRecord{
		Result: types.JobResult{
			ID:      "node1.example.com",
			JID:     jid,
			Success: true,
			Command: "ceph.cluster_stats",
			Args:    map[string]any{"cluster_name": "ceph"},
			Return:  map[string]any{"total_bytes": 1000},
		},
		CompletedAt: at,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveJobRecord(record("j1", at)))

	got, err := store.GetJobRecord("j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", got.Result.JID)
	assert.True(t, got.Result.Success)
	assert.Equal(t, "ceph.cluster_stats", got.Result.Command)
	assert.Equal(t, map[string]any{"total_bytes": float64(1000)}, got.Result.Return)
	assert.True(t, at.Equal(got.CompletedAt))
}

func TestGetMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.GetJobRecord("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveWithoutJobID(t *testing.T) {
	store := newStore(t)
	assert.Error(t, store.SaveJobRecord(record("", time.Now())))
}

func TestListMostRecentFirst(t *testing.T) {
	store := newStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveJobRecord(record("b", base.Add(time.Minute))))
	require.NoError(t, store.SaveJobRecord(record("a", base.Add(2*time.Minute))))
	require.NoError(t, store.SaveJobRecord(record("c", base)))

	records, err := store.ListJobRecords()
	require.NoError(t, err)
	var jids []string
	for _, r := range records {
		jids = append(jids, r.Result.JID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, jids)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SaveJobRecord(record("j1", time.Now())))

	require.NoError(t, store.DeleteJobRecord("j1"))
	_, err := store.GetJobRecord("j1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// deleting a missing record is not an error
	assert.NoError(t, store.DeleteJobRecord("j1"))
}

func TestPrune(t *testing.T) {
	store := newStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveJobRecord(record(fmt.Sprintf("j%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	deleted, err := store.PruneJobRecords(10)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	deleted, err = store.PruneJobRecords(2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	records, err := store.ListJobRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "j4", records[0].Result.JID)
	assert.Equal(t, "j3", records[1].Result.JID)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveJobRecord(record("j1", time.Now())))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetJobRecord("j1")
	assert.NoError(t, err)
}
