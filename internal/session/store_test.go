package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx/internal/config"
	"tx/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenPath(config.DriverModernc, filepath.Join(t.TempDir(), "state", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock advances one second per call.
func fakeClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func sampleRecipe() pipeline.Recipe {
	return pipeline.Recipe{
		Provider:     "codex",
		Profile:      "review",
		Pre:          []string{"status", "diff"},
		Post:         []string{"log"},
		Wrap:         "tmux",
		Vars:         map[string]string{"model": "o3"},
		ProviderArgs: []string{"--search"},
		Cwd:          "/work",
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = fakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	snap, err := s.Record(ctx, pipeline.SessionContext{Label: "refactor", Path: "/work"}, sampleRecipe())
	require.NoError(t, err)
	assert.Len(t, snap.ID, 36)
	assert.False(t, snap.CreatedAt.IsZero())
	assert.Equal(t, snap.CreatedAt, snap.UpdatedAt)

	got, err := s.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Equal(t, "codex", got.Provider())
	assert.Equal(t, sampleRecipe(), got.Recipe)

	byPrefix, err := s.Get(ctx, snap.ShortID())
	require.NoError(t, err)
	assert.Equal(t, snap.ID, byPrefix.ID)
}

func TestStore_RecordKeepsGivenID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap, err := s.Record(ctx, pipeline.SessionContext{ID: "fixed-id", Label: "l", Path: "/w"}, sampleRecipe())
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", snap.ID)

	got, err := s.Get(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "l", got.Label)
	assert.Equal(t, "/w", got.Path)
}

func TestStore_GetErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{"abc-1", "abc-2"} {
		require.NoError(t, s.Save(ctx, &Snapshot{ID: id, Recipe: pipeline.Recipe{Provider: "codex"}}))
	}
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrAmbiguous)
	got, err := s.Get(ctx, "abc-2")
	require.NoError(t, err)
	assert.Equal(t, "abc-2", got.ID)
}

func TestStore_ProviderIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	snap, err := s.Record(ctx, pipeline.SessionContext{}, sampleRecipe())
	require.NoError(t, err)

	snap.Recipe.Provider = "claude"
	err = s.Save(ctx, &snap)
	var conflict *pipeline.ProviderConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "codex", conflict.Recorded)
	assert.Equal(t, pipeline.ExitConflict, pipeline.ExitCode(err))

	got, err := s.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "codex", got.Provider())
}

func TestStore_SaveUpdatesKeepCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	snap, err := s.Record(ctx, pipeline.SessionContext{Label: "first"}, sampleRecipe())
	require.NoError(t, err)
	created := snap.CreatedAt

	snap.Label = "renamed"
	snap.Recipe.Pre = append(snap.Recipe.Pre, "extra")
	require.NoError(t, s.Save(ctx, &snap))
	assert.Equal(t, created, snap.CreatedAt)
	assert.True(t, snap.UpdatedAt.After(created))

	got, err := s.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
	assert.Equal(t, []string{"status", "diff", "extra"}, got.Recipe.Pre)
	assert.Equal(t, created, got.CreatedAt)

	assert.ErrorIs(t, s.Save(ctx, &Snapshot{}), ErrNoProvider)
}

func TestStore_ListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.now = fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	a, err := s.Record(ctx, pipeline.SessionContext{Label: "a"}, pipeline.Recipe{Provider: "codex"})
	require.NoError(t, err)
	b, err := s.Record(ctx, pipeline.SessionContext{Label: "b"}, pipeline.Recipe{Provider: "claude"})
	require.NoError(t, err)
	c, err := s.Record(ctx, pipeline.SessionContext{Label: "c"}, pipeline.Recipe{Provider: "codex"})
	require.NoError(t, err)

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(all))

	require.NoError(t, s.Touch(ctx, a.ID, "tok-123"))
	all, err = s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids(all))
	assert.Equal(t, "tok-123", all[0].ResumeToken)

	codex, err := s.List(ctx, ListOptions{Provider: "codex", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(codex))
}

func TestStore_DeleteAndTouchMissing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	snap, err := s.Record(ctx, pipeline.SessionContext{Label: "gone"}, sampleRecipe())
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, snap.ID))
	_, err = s.Get(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, snap.ID), ErrNotFound)
	assert.ErrorIs(t, s.Touch(ctx, snap.ID, ""), ErrNotFound)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := OpenPath("", path)
	require.NoError(t, err)
	snap, err := s.Record(ctx, pipeline.SessionContext{Label: "persist", Path: "/p"}, sampleRecipe())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(config.StoreConfig{Driver: config.DriverModernc, Path: path})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Label)
	assert.Equal(t, path, s.Path())
}

func TestStore_CgoDriver(t *testing.T) {
	s, err := OpenPath(config.DriverCgo, filepath.Join(t.TempDir(), "cgo.db"))
	if err != nil {
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	snap, err := s.Record(ctx, pipeline.SessionContext{Label: "cgo"}, sampleRecipe())
	require.NoError(t, err)
	got, err := s.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleRecipe(), got.Recipe)
}

func TestOpenPath_UnknownDriver(t *testing.T) {
	_, err := OpenPath("postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "unsupported session store driver")
}

func TestSnapshot_Context(t *testing.T) {
	snap := Snapshot{ID: "0123456789abcdef", Label: "", Path: "/p", ResumeToken: "tok"}
	assert.Equal(t, pipeline.SessionContext{ID: snap.ID, Path: "/p", ResumeToken: "tok"}, snap.Context())
	assert.Equal(t, "01234567", snap.DisplayLabel())
	snap.Label = "named"
	assert.Equal(t, "named", snap.DisplayLabel())
}

func ids(snaps []Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}
