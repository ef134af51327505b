package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
	"github.com/sakif/crono-esfera/internal/repository/sqlite"
)

// =========================================================================
// TEST STORE
// =========================================================================
//
// Services run against a real in-memory SQLite store: transactions, field
// transforms and rollbacks are exactly what is under test, and a mock would
// have to re-implement all of them.
//
// failingStore wraps that store and makes every write path fail, standing in
// for a backend that is down.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var errBackendDown = errors.New("backend unavailable")

type failingStore struct {
	repository.DocumentStore
}

func (f failingStore) Commit(context.Context, ...repository.Write) error {
	return errBackendDown
}

func (f failingStore) RunTransaction(context.Context, func(context.Context, repository.Tx) error) error {
	return errBackendDown
}

func seedSector(t *testing.T, store repository.DocumentStore, s model.Sector) {
	t.Helper()
	fields, err := repository.StructFields(s)
	require.NoError(t, err)
	require.NoError(t, store.Commit(context.Background(), repository.Set(model.SectorsCollection, s.DocID(), fields)))
}

func loadSector(t *testing.T, store repository.DocumentStore, id int) model.Sector {
	t.Helper()
	doc, err := store.Get(context.Background(), model.SectorsCollection, model.SectorDocID(id))
	require.NoError(t, err)
	var s model.Sector
	require.NoError(t, doc.DataTo(&s))
	return s
}

func loadProfile(t *testing.T, store repository.DocumentStore, uid string) model.UserProfile {
	t.Helper()
	doc, err := store.Get(context.Background(), model.UsersCollection, uid)
	require.NoError(t, err)
	var p model.UserProfile
	require.NoError(t, doc.DataTo(&p))
	return p
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}
