package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
)

func TestEnsureProfile_CreatesOnFirstSight(t *testing.T) {
	store := newTestStore(t)
	svc := NewProfileService(store, discardLogger())

	p, err := svc.EnsureProfile(context.Background(), model.Identity{UID: "u1", DisplayName: "ana"})
	require.NoError(t, err)

	assert.Equal(t, "ANA", p.DisplayName)
	assert.Equal(t, "https://api.dicebear.com/7.x/pixel-art/svg?seed=u1", p.AvatarRef)

	stored := loadProfile(t, store, "u1")
	assert.Equal(t, "ANA", stored.DisplayName)
	assert.Equal(t, []string{}, stored.LikedSectorKeys)
	assert.Zero(t, stored.TotalLikes)
}

func TestEnsureProfile_DefaultName(t *testing.T) {
	store := newTestStore(t)
	svc := NewProfileService(store, discardLogger())

	p, err := svc.EnsureProfile(context.Background(), model.Identity{UID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultDisplayName, p.DisplayName)
}

func TestEnsureProfile_NeverResyncs(t *testing.T) {
	store := newTestStore(t)
	svc := NewProfileService(store, discardLogger())
	ctx := context.Background()

	_, err := svc.EnsureProfile(ctx, model.Identity{UID: "u1", DisplayName: "first", PhotoURL: "a.png"})
	require.NoError(t, err)
	p, err := svc.EnsureProfile(ctx, model.Identity{UID: "u1", DisplayName: "second", PhotoURL: "b.png"})
	require.NoError(t, err)

	assert.Equal(t, "FIRST", p.DisplayName)
	assert.Equal(t, "a.png", p.AvatarRef)
}

func TestEnsureProfile_KeepsCountersFromLikes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	// Liked before ever signing in: only totalLikes exists.
	require.NoError(t, store.Commit(ctx, repository.Merge(model.UsersCollection, "u1", repository.Fields{
		"totalLikes": repository.Increment{By: 3},
	})))

	svc := NewProfileService(store, discardLogger())
	p, err := svc.EnsureProfile(ctx, model.Identity{UID: "u1", DisplayName: "late"})
	require.NoError(t, err)

	assert.Equal(t, "LATE", p.DisplayName)
	assert.Equal(t, int64(3), loadProfile(t, store, "u1").TotalLikes)
}

func TestEnsureProfile_Anonymous(t *testing.T) {
	svc := NewProfileService(newTestStore(t), discardLogger())
	_, err := svc.EnsureProfile(context.Background(), model.Identity{})
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
}

func TestProfile_NotFound(t *testing.T) {
	svc := NewProfileService(newTestStore(t), discardLogger())
	_, err := svc.Profile(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRecordVisit_IncrementsStats(t *testing.T) {
	store := newTestStore(t)
	svc := NewProfileService(store, discardLogger())
	ctx := context.Background()

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Visits)

	require.NoError(t, svc.RecordVisit(ctx))
	require.NoError(t, svc.RecordVisit(ctx))

	st, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Visits)
}

func TestRecordVisit_BackendFailure(t *testing.T) {
	svc := NewProfileService(failingStore{newTestStore(t)}, discardLogger())
	assert.ErrorIs(t, svc.RecordVisit(context.Background()), errBackendDown)
}
