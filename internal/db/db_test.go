package db

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "zncc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenDB_Pragmas(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// already at latest
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='zncc_runs'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='zncc_runs'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func sampleRun(sweepID string, cc int) *RunRecord {
	return &RunRecord{
		SweepID:              sweepID,
		Backend:              "threadpool",
		Width:                735,
		Height:               504,
		ResizeFactor:         4,
		MaxDisp:              32,
		WinSize:              9,
		CCThresh:             cc,
		OccThresh:            2,
		WithCrossChecking:    true,
		WithOcclusionFilling: true,
		WithNormalization:    true,
		MatchingMs:           123.5,
		PostProcessingMs:     4.25,
		OccludedFraction:     0.125,
		MeanDisparity:        17.5,
		OutputPath:           "out/disp.png",
	}
}

func TestRunStore_InsertGet(t *testing.T) {
	t.Parallel()

	store := NewRunStore(openTestDB(t))
	rec := sampleRun("", 4)
	rec.Degraded = true
	rec.DegradedReason = "accel: alloc: OUT_OF_RESOURCES"
	rec.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)

	require.NoError(t, store.InsertRun(rec))
	_, err := uuid.Parse(rec.RunID)
	require.NoError(t, err, "run id is generated")

	got, err := store.GetRun(rec.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	_, err = store.GetRun("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_Sweeps(t *testing.T) {
	t.Parallel()

	store := NewRunStore(openTestDB(t))
	sweep := &SweepRecord{
		LeftPath:  "data/im0.png",
		RightPath: "data/im1.png",
		Request:   json.RawMessage(`{"cc":[0,4,8]}`),
	}
	require.NoError(t, store.InsertSweep(sweep))
	assert.NotEmpty(t, sweep.SweepID)
	assert.Equal(t, SweepRunning, sweep.Status)

	for _, cc := range []int{0, 4, 8} {
		require.NoError(t, store.InsertRun(sampleRun(sweep.SweepID, cc)))
	}
	require.NoError(t, store.InsertRun(sampleRun("", 1)))

	runs, err := store.ListSweepRuns(sweep.SweepID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, cc := range []int{0, 4, 8} {
		assert.Equal(t, cc, runs[i].CCThresh)
		assert.Equal(t, sweep.SweepID, runs[i].SweepID)
	}

	all, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	done := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, store.CompleteSweep(sweep.SweepID, done, ""))
	got, err := store.GetSweep(sweep.SweepID)
	require.NoError(t, err)
	assert.Equal(t, SweepComplete, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.JSONEq(t, `{"cc":[0,4,8]}`, string(got.Request))

	assert.ErrorIs(t, store.CompleteSweep("missing", done, "boom"), ErrNotFound)
	_, err = store.GetSweep("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_FailedSweepAndForeignKey(t *testing.T) {
	t.Parallel()

	store := NewRunStore(openTestDB(t))
	sweep := &SweepRecord{LeftPath: "l.png", RightPath: "r.png"}
	require.NoError(t, store.InsertSweep(sweep))
	require.NoError(t, store.CompleteSweep(sweep.SweepID, time.Now(), "decode failed"))

	got, err := store.GetSweep(sweep.SweepID)
	require.NoError(t, err)
	assert.Equal(t, SweepFailed, got.Status)
	assert.Equal(t, "decode failed", got.Error)

	assert.Error(t, store.InsertRun(sampleRun("no-such-sweep", 0)), "runs must reference an existing sweep")
}

func TestListRuns_Limit(t *testing.T) {
	t.Parallel()

	store := NewRunStore(openTestDB(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := sampleRun("", i)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.InsertRun(rec))
	}

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 4, runs[0].CCThresh, "newest first")
	assert.Equal(t, 3, runs[1].CCThresh)
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("success after retry", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		t.Parallel()
		calls := 0
		other := errors.New("constraint failed")
		err := retryOnBusy(func() error {
			calls++
			return other
		})
		assert.Same(t, other, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return busy
		})
		assert.ErrorIs(t, err, busy)
		assert.Equal(t, maxBusyAttempts, calls)
	})

	assert.False(t, isSQLiteBusy(nil))
	assert.True(t, isSQLiteBusy(errors.New("SQLITE_BUSY")))
}
