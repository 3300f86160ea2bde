package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	want := testSnapshot("BA117-2026-10-19", 3, flight.StatusBoarding, "A10")
	require.NoError(t, s.Put(ctx, want))

	got, ok, err := s.Get(ctx, want.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Revision, got.Revision)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Gate, got.Gate)
	assert.Equal(t, want.Terminal, got.Terminal)
	assert.True(t, want.ObservedAt.Equal(got.ObservedAt), "observed_at = %v, want %v", got.ObservedAt, want.ObservedAt)
	assert.True(t, want.ScheduledDeparture.Equal(got.ScheduledDeparture))
	assert.True(t, got.EstimatedDeparture.IsZero(), "unknown times stay unknown")
}

func TestSQLiteStore_GetAbsent(t *testing.T) {
	s := openTestSQLite(t)

	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	require.NoError(t, s.Put(ctx, testSnapshot("F1", 1, flight.StatusScheduled, "A1")))
	require.NoError(t, s.Put(ctx, testSnapshot("F1", 2, flight.StatusDelayed, "A2")))

	got, ok, err := s.Get(ctx, "F1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Revision)
	assert.Equal(t, "A2", got.Gate)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_AllOrderedByID(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	for _, id := range []string{"F3", "F1", "F2"} {
		require.NoError(t, s.Put(ctx, testSnapshot(id, 1, flight.StatusScheduled, "A1")))
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"F1", "F2", "F3"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestSQLiteStore_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testSnapshot("F1", 7, flight.StatusLanded, "B4")))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "F1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Revision)
	assert.Equal(t, flight.StatusLanded, got.Status)
}

func TestSQLiteStore_PutAfterCloseWrapsWriteFailure(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Put(context.Background(), testSnapshot("F1", 1, flight.StatusScheduled, "A1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriteFailed))
}

func TestSQLiteStore_ReadsAfterCloseFail(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	_, _, err = s.Get(context.Background(), "F1")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.All(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	err = s.Put(context.Background(), testSnapshot("F1", 1, flight.StatusScheduled, "A1"))
	assert.ErrorIs(t, err, ErrClosed)
}
