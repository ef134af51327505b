package sqlite

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sakif/crono-esfera/internal/repository"
)

// snapshots records every snapshot a listener receives.
type snapshots struct {
	mu   sync.Mutex
	seen []int
}

func (s *snapshots) record(snap repository.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, len(snap.Docs))
}

func (s *snapshots) last() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return 0, false
	}
	return s.seen[len(s.seen)-1], true
}

func TestSubscribeCollection_ReplaysThenFollows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Commit(ctx, repository.Set("sectors", "0", repository.Fields{"id": 0})))

	var got snapshots
	sub, err := db.SubscribeCollection(ctx, "sectors", got.record)
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool {
		n, ok := got.last()
		return ok && n == 1
	}, time.Second, 5*time.Millisecond, "initial state must be replayed")

	require.NoError(t, db.Commit(ctx,
		repository.Set("sectors", "1", repository.Fields{"id": 1}),
		repository.Set("sectors", "2", repository.Fields{"id": 2}),
	))

	require.Eventually(t, func() bool {
		n, _ := got.last()
		return n == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeCollection_IgnoresOtherCollections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var got snapshots
	sub, err := db.SubscribeCollection(ctx, "sectors", got.record)
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool { _, ok := got.last(); return ok }, time.Second, 5*time.Millisecond)

	got.mu.Lock()
	before := len(got.seen)
	got.mu.Unlock()

	require.NoError(t, db.Commit(ctx, repository.Set("users", "u1", repository.Fields{"totalLikes": 0})))
	time.Sleep(50 * time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, before, len(got.seen))
}

func TestSubscribeDocument_NilWhileMissing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	docs := make(chan *repository.Document, 8)
	sub, err := db.SubscribeDocument(ctx, "users", "u1", func(d *repository.Document) { docs <- d })
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case d := <-docs:
		assert.Nil(t, d)
	case <-time.After(time.Second):
		t.Fatal("no initial callback")
	}

	require.NoError(t, db.Commit(ctx, repository.Merge("users", "u1", repository.Fields{"totalLikes": 2})))

	select {
	case d := <-docs:
		require.NotNil(t, d)
		assert.Equal(t, "u1", d.ID)
	case <-time.After(time.Second):
		t.Fatal("no callback after write")
	}
}

func TestSubscription_StopSilencesCallbacks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var got snapshots
	sub, err := db.SubscribeCollection(ctx, "sectors", got.record)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := got.last(); return ok }, time.Second, 5*time.Millisecond)

	sub.Stop()
	sub.Stop() // idempotent

	got.mu.Lock()
	before := len(got.seen)
	got.mu.Unlock()

	require.NoError(t, db.Commit(ctx, repository.Set("sectors", "9", repository.Fields{"id": 9})))
	time.Sleep(50 * time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, before, len(got.seen))
}

func TestClose_StopsSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	db, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = db.SubscribeCollection(context.Background(), "sectors", func(repository.Snapshot) {})
	require.NoError(t, err)
	_, err = db.SubscribeDocument(context.Background(), "stats", "global", func(*repository.Document) {})
	require.NoError(t, err)

	require.NoError(t, db.Close())
}
