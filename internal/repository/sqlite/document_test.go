package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" gives every test a fresh, isolated database that disappears when
// the connection closes. The pool is capped at one connection, so the whole
// test sees the same in-memory database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type counterDoc struct {
	Name  string   `json:"name"`
	Count int64    `json:"count"`
	Tags  []string `json:"tags"`
}

func getCounter(t *testing.T, db *DB, id string) counterDoc {
	t.Helper()
	doc, err := db.Get(context.Background(), "counters", id)
	require.NoError(t, err)
	var c counterDoc
	require.NoError(t, doc.DataTo(&c))
	return c
}

// =========================================================================
// GET / SET
// =========================================================================

func TestGet_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get(context.Background(), "counters", "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSet_ReplacesWholeDocument(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, repository.Set("counters", "a", repository.Fields{"name": "first", "count": 3})))
	require.NoError(t, db.Commit(ctx, repository.Set("counters", "a", repository.Fields{"name": "second"})))

	c := getCounter(t, db, "a")
	assert.Equal(t, "second", c.Name)
	assert.Equal(t, int64(0), c.Count, "Set must drop fields that are not written")
}

func TestMerge_CreatesAndOverlays(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, repository.Merge("counters", "a", repository.Fields{"name": "first"})))
	require.NoError(t, db.Commit(ctx, repository.Merge("counters", "a", repository.Fields{"count": 9})))

	c := getCounter(t, db, "a")
	assert.Equal(t, "first", c.Name)
	assert.Equal(t, int64(9), c.Count)
}

func TestUpdate_MissingDocumentFails(t *testing.T) {
	db := newTestDB(t)

	err := db.Commit(context.Background(), repository.Update("counters", "ghost", repository.Fields{"count": 1}))
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// TRANSFORMS
// =========================================================================

func TestIncrement(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Missing field counts as zero.
	require.NoError(t, db.Commit(ctx, repository.Merge("counters", "a", repository.Fields{"count": repository.Increment{By: 1}})))
	require.NoError(t, db.Commit(ctx, repository.Merge("counters", "a", repository.Fields{"count": repository.Increment{By: 1}})))
	require.NoError(t, db.Commit(ctx, repository.Update("counters", "a", repository.Fields{"count": repository.Increment{By: 5}})))

	assert.Equal(t, int64(7), getCounter(t, db, "a").Count)
}

func TestIncrement_NonNumericFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, repository.Set("counters", "a", repository.Fields{"count": "many"})))
	err := db.Commit(ctx, repository.Update("counters", "a", repository.Fields{"count": repository.Increment{By: 1}}))
	assert.Error(t, err)
}

func TestArrayUnion_SkipsDuplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, repository.Merge("counters", "a", repository.Fields{"tags": repository.ArrayUnion{Values: []string{"x", "y"}}})))
	require.NoError(t, db.Commit(ctx, repository.Merge("counters", "a", repository.Fields{"tags": repository.ArrayUnion{Values: []string{"y", "z"}}})))

	assert.Equal(t, []string{"x", "y", "z"}, getCounter(t, db, "a").Tags)
}

// =========================================================================
// ATOMICITY
// =========================================================================

func TestCommit_AllOrNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, repository.Set("counters", "a", repository.Fields{"count": 1})))

	// Second write targets a missing document, so the first must not land.
	err := db.Commit(ctx,
		repository.Update("counters", "a", repository.Fields{"count": repository.Increment{By: 1}}),
		repository.Update("counters", "missing", repository.Fields{"count": 1}),
	)
	require.Error(t, err)

	assert.Equal(t, int64(1), getCounter(t, db, "a").Count)
}

func TestRunTransaction_ErrorPassesThroughUnchanged(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Write(ctx, repository.Set("counters", "a", repository.Fields{"count": 1})); err != nil {
			return err
		}
		return apperror.Duplicate("already done")
	})
	if !errors.Is(err, apperror.ErrDuplicate) {
		t.Fatalf("RunTransaction() error = %v, want ErrDuplicate", err)
	}

	_, err = db.Get(ctx, "counters", "a")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "rolled back write must not be visible")
}

func TestRunTransaction_ReadsOwnWrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Write(ctx, repository.Merge("counters", "a", repository.Fields{"count": 41})); err != nil {
			return err
		}
		doc, err := tx.Get(ctx, "counters", "a")
		if err != nil {
			return err
		}
		var c counterDoc
		if err := doc.DataTo(&c); err != nil {
			return err
		}
		return tx.Write(ctx, repository.Update("counters", "a", repository.Fields{"count": c.Count + 1}))
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), getCounter(t, db, "a").Count)
}

func TestQuery_ReturnsCollectionOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx,
		repository.Set("counters", "a", repository.Fields{"count": 1}),
		repository.Set("counters", "b", repository.Fields{"count": 2}),
		repository.Set("other", "c", repository.Fields{"count": 3}),
	))

	snap, err := db.Query(ctx, "counters")
	require.NoError(t, err)
	require.Len(t, snap.Docs, 2)
	assert.Equal(t, "a", snap.Docs[0].ID)
	assert.Equal(t, "b", snap.Docs[1].ID)

	empty, err := db.Query(ctx, "nothing")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestWrite_RejectsEmptyPath(t *testing.T) {
	db := newTestDB(t)

	err := db.Commit(context.Background(), repository.Set("counters", "", repository.Fields{}))
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}
