package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/logoforge/logoforge/pkg/api/store"
	"github.com/logoforge/logoforge/pkg/config"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func createRun(t *testing.T, s store.Store, runID string, ownerID uint) {
	t.Helper()

	require.NoError(t, s.CreateRun(context.Background(), &store.Run{
		RunID:   runID,
		OwnerID: ownerID,
		Inputs: datatypes.JSONMap{
			"input_text": "a fox logo",
		},
	}))
}

func TestStore_CreateAndGetRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "run-1", 7)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, uint(7), run.OwnerID)
	assert.Equal(t, "a fox logo", run.Inputs["input_text"])
	assert.Empty(t, run.Status)
	assert.Empty(t, run.ImageURL)
	assert.Nil(t, run.Progress)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestStore_ListRuns_OwnerScopedNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)

	for i, r := range []store.Run{
		{RunID: "old", OwnerID: 1},
		{RunID: "new", OwnerID: 1},
		{RunID: "other", OwnerID: 2},
	} {
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateRun(ctx, &r))
	}

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)

	for _, r := range runs {
		assert.Equal(t, uint(1), r.OwnerID)
	}
}

func TestStore_MergeRunUpdate_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.MergeRunUpdate(
		context.Background(), "missing",
		store.RunUpdate{Status: strPtr(store.StatusRunning)},
	)
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestStore_MergeRunUpdate_LastWriterWinsBeforeTerminal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "run-1", 1)

	_, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		Status:     strPtr(store.StatusRunning),
		LiveStatus: strPtr("sampling"),
		Progress:   floatPtr(0.7),
	})
	require.NoError(t, err)

	// Progress is latest-wins, not max-wins.
	run, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		LiveStatus: strPtr("uploading"),
		Progress:   floatPtr(0.4),
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusRunning, run.Status)
	assert.Equal(t, "uploading", run.LiveStatus)
	require.NotNil(t, run.Progress)
	assert.InDelta(t, 0.4, *run.Progress, 1e-9)
}

func TestStore_MergeRunUpdate_TerminalStatusNeverReverted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "run-1", 1)

	_, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		Status:     strPtr(store.StatusSuccess),
		LiveStatus: strPtr(store.StatusSuccess),
	})
	require.NoError(t, err)

	// A stale non-terminal event must not regress the stored state.
	_, err = s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		Status:     strPtr(store.StatusRunning),
		LiveStatus: strPtr("sampling"),
		Progress:   floatPtr(0.2),
	})
	require.NoError(t, err)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusSuccess, run.Status)
	assert.Equal(t, store.StatusSuccess, run.LiveStatus)
	assert.Nil(t, run.Progress)
}

func TestStore_MergeRunUpdate_ImageWriteOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "run-1", 1)

	_, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		ImageURL: strPtr("https://img/first.png"),
	})
	require.NoError(t, err)

	_, err = s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		ImageURL: strPtr("https://img/second.png"),
	})
	require.NoError(t, err)

	// An empty image value never clears the stored one.
	_, err = s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		ImageURL: strPtr(""),
	})
	require.NoError(t, err)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/first.png", run.ImageURL)
}

func TestStore_MergeRunUpdate_ImageLandsAfterTerminal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "run-1", 1)

	_, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		Status: strPtr(store.StatusSuccess),
	})
	require.NoError(t, err)

	// The output event may arrive after the terminal status was
	// recorded; the image must still be stored.
	_, err = s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
		ImageURL: strPtr("https://img/late.png"),
	})
	require.NoError(t, err)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/late.png", run.ImageURL)
}

func TestStore_MergeRunUpdate_ConcurrentWriters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "run-1", 1)

	// One writer delivers the terminal success with an image, the
	// other a stale running update. Regardless of interleaving, the
	// terminal state and image must win.
	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
			Status:   strPtr(store.StatusSuccess),
			ImageURL: strPtr("X"),
		})
		assert.NoError(t, err)
	}()

	go func() {
		defer wg.Done()

		_, err := s.MergeRunUpdate(ctx, "run-1", store.RunUpdate{
			Status:   strPtr(store.StatusRunning),
			Progress: floatPtr(0.4),
		})
		assert.NoError(t, err)
	}()

	wg.Wait()

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusSuccess, run.Status)
	assert.Equal(t, "X", run.ImageURL)
}

func TestStore_ListActiveRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRun(t, s, "pending", 1)
	createRun(t, s, "running", 1)
	createRun(t, s, "done", 1)
	createRun(t, s, "resolved", 1)

	_, err := s.MergeRunUpdate(ctx, "running", store.RunUpdate{
		Status: strPtr(store.StatusRunning),
	})
	require.NoError(t, err)

	_, err = s.MergeRunUpdate(ctx, "done", store.RunUpdate{
		Status: strPtr(store.StatusFailed),
	})
	require.NoError(t, err)

	_, err = s.MergeRunUpdate(ctx, "resolved", store.RunUpdate{
		ImageURL: strPtr("https://img/x.png"),
	})
	require.NoError(t, err)

	active, err := s.ListActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	ids := []string{active[0].RunID, active[1].RunID}
	assert.ElementsMatch(t, []string{"pending", "running"}, ids)
}

func TestStore_SeedUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedUsers(ctx, []config.BasicAuthUser{
		{Username: "alice", Password: "secret", Role: "admin"},
	}))

	user, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, "admin", user.Role)
	assert.Equal(t, store.SourceConfig, user.Source)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "secret", user.PasswordHash)

	// Re-seeding updates the config-sourced user in place.
	require.NoError(t, s.SeedUsers(ctx, []config.BasicAuthUser{
		{Username: "alice", Password: "rotated", Role: "user"},
	}))

	updated, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user", updated.Role)
}
