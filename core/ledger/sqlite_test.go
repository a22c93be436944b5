package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSQLiteAppendAndLookupRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	stored, inserted, err := store.Append(context.Background(), testEntry("K1"))
	require.NoError(t, err)
	require.True(t, inserted)

	found, err := store.Lookup(context.Background(), "corr-1", "K1")
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, stored.EventID, found.EventID)
	assert.Equal(t, EventSimulationDispatched, found.EventType)
	assert.Equal(t, map[string]string{"simulation_id": "sim-1"}, found.Payload)
	assert.True(t, stored.RecordedAt.Equal(found.RecordedAt))
}

func TestSQLiteDuplicateKeyReturnsOriginal(t *testing.T) {
	store, _ := openTestStore(t)

	first, inserted, err := store.Append(context.Background(), testEntry("K1"))
	require.NoError(t, err)
	require.True(t, inserted)

	repeat := testEntry("K1")
	repeat.TurnID = "turn-2"
	second, inserted, err := store.Append(context.Background(), repeat)
	require.NoError(t, err)

	assert.False(t, inserted)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, "turn-1", second.TurnID)
}

func TestSQLiteEntriesSurviveReopen(t *testing.T) {
	store, path := openTestStore(t)

	stored, _, err := store.Append(context.Background(), testEntry("K1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	found, err := reopened.Lookup(context.Background(), "corr-1", "K1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, stored.EventID, found.EventID)
}

func TestSQLiteLookupAbsentIsNilNotError(t *testing.T) {
	store, _ := openTestStore(t)

	found, err := store.Lookup(context.Background(), "corr-1", "K-missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLiteListOrdersByRecordedAt(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}

	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLite(path, WithSQLiteClock(clock))
	require.NoError(t, err)
	defer store.Close()

	for _, key := range []string{"K1", "K2", "K3"} {
		_, _, err := store.Append(context.Background(), testEntry(key))
		require.NoError(t, err)
	}

	entries, err := store.List(context.Background(), "corr-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "K1", entries[0].IdempotencyKey)
	assert.Equal(t, "K3", entries[2].IdempotencyKey)
	assert.True(t, entries[0].RecordedAt.Before(entries[2].RecordedAt))
}

func TestSQLiteConcurrentAppendsKeepOneRowPerKey(t *testing.T) {
	store, _ := openTestStore(t)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = store.Append(context.Background(), testEntry("K1"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "racer %d", i)
	}

	entries, err := store.List(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLiteMigrationIsIdempotent(t *testing.T) {
	store, path := openTestStore(t)
	require.NoError(t, store.Close())

	again, err := OpenSQLite(path)
	require.NoError(t, err)
	defer again.Close()

	_, inserted, err := again.Append(context.Background(), testEntry("K1"))
	require.NoError(t, err)
	assert.True(t, inserted)
}
