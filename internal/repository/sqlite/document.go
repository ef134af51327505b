package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/repository"
)

// compile-time check that *DB implements repository.DocumentStore
var _ repository.DocumentStore = (*DB)(nil)

// querier is the subset of *sql.DB and *sql.Tx the read helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get reads one document. Returns apperror.ErrNotFound if it doesn't exist.
func (db *DB) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	return getDocument(ctx, db.conn, collection, id)
}

func getDocument(ctx context.Context, q querier, collection, id string) (*repository.Document, error) {
	doc := repository.Document{Collection: collection, ID: id}
	var data string

	err := q.QueryRowContext(ctx,
		`SELECT data, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound(collection, id)
		}
		return nil, fmt.Errorf("sqlite: getting %s/%s: %w", collection, id, err)
	}

	doc.Data = json.RawMessage(data)
	return &doc, nil
}

// Query returns every document of a collection, ordered by id.
//
// Ids are compared as text, so callers that care about numeric order (the
// sector registry) sort the decoded values themselves.
func (db *DB) Query(ctx context.Context, collection string) (repository.Snapshot, error) {
	snap := repository.Snapshot{Collection: collection}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, data, updated_at FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return snap, fmt.Errorf("sqlite: querying %s: %w", collection, err)
	}
	defer rows.Close()

	for rows.Next() {
		doc := repository.Document{Collection: collection}
		var data string
		if err := rows.Scan(&doc.ID, &data, &doc.UpdatedAt); err != nil {
			return snap, fmt.Errorf("sqlite: scanning %s row: %w", collection, err)
		}
		doc.Data = json.RawMessage(data)
		snap.Docs = append(snap.Docs, doc)
	}

	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("sqlite: iterating %s rows: %w", collection, err)
	}

	return snap, nil
}

// Commit applies every write atomically: either all of them are visible
// afterwards or none is.
func (db *DB) Commit(ctx context.Context, writes ...repository.Write) error {
	return db.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, w := range writes {
			if err := tx.Write(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunTransaction runs fn inside one SQL transaction.
//
// If fn returns an error the transaction is rolled back and the error is
// returned unchanged, so apperror sentinels raised inside fn (NotFound,
// Duplicate, ...) survive. Listeners are woken only after a successful commit.
//
// fn must use tx for every read and write: the pool has a single connection,
// so calling db.Get from inside fn would wait on itself.
func (db *DB) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	tx := &txn{tx: sqlTx, touched: make(map[docRef]struct{})}

	if err := fn(ctx, tx); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}

	db.hub.notify(tx.touched)
	return nil
}

type docRef struct {
	collection string
	id         string
}

// txn implements repository.Tx over a *sql.Tx.
type txn struct {
	tx      *sql.Tx
	touched map[docRef]struct{}
}

func (t *txn) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	return getDocument(ctx, t.tx, collection, id)
}

// Write applies w immediately inside the transaction.
//
// The existing body is decoded with UseNumber so integer counters survive a
// round trip without turning into float64.
func (t *txn) Write(ctx context.Context, w repository.Write) error {
	if w.Collection == "" || w.ID == "" {
		return apperror.ValidationFailed("path", "write needs a collection and an id")
	}

	body := map[string]any{}

	if w.Kind != repository.WriteSet {
		existing, err := getDocument(ctx, t.tx, w.Collection, w.ID)
		switch {
		case err == nil:
			dec := json.NewDecoder(bytes.NewReader(existing.Data))
			dec.UseNumber()
			if err := dec.Decode(&body); err != nil {
				return fmt.Errorf("sqlite: decoding %s/%s: %w", w.Collection, w.ID, err)
			}
		case errors.Is(err, apperror.ErrNotFound) && w.Kind == repository.WriteMerge:
			// merge creates the document
		default:
			return err
		}
	}

	for field, value := range w.Fields {
		resolved, err := resolveField(body[field], value)
		if err != nil {
			return fmt.Errorf("sqlite: %s %s/%s field %q: %w", w.Kind, w.Collection, w.ID, field, err)
		}
		body[field] = resolved
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sqlite: encoding %s/%s: %w", w.Collection, w.ID, err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		w.Collection, w.ID, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing %s/%s: %w", w.Collection, w.ID, err)
	}

	t.touched[docRef{collection: w.Collection, id: w.ID}] = struct{}{}
	return nil
}

// resolveField computes the stored value of a field given its current value
// and the value (or transform) being written.
func resolveField(current, next any) (any, error) {
	switch v := next.(type) {
	case repository.Increment:
		return addNumber(current, v.By)
	case *repository.Increment:
		return addNumber(current, v.By)
	case repository.ArrayUnion:
		return unionStrings(current, v.Values)
	case *repository.ArrayUnion:
		return unionStrings(current, v.Values)
	default:
		return next, nil
	}
}

func addNumber(current any, by int64) (any, error) {
	switch c := current.(type) {
	case nil:
		return by, nil
	case json.Number:
		if n, err := c.Int64(); err == nil {
			return n + by, nil
		}
		f, err := c.Float64()
		if err != nil {
			return nil, fmt.Errorf("increment on non-numeric value %q", c.String())
		}
		return f + float64(by), nil
	case int:
		return int64(c) + by, nil
	case int64:
		return c + by, nil
	case float64:
		if c == math.Trunc(c) {
			return int64(c) + by, nil
		}
		return c + float64(by), nil
	default:
		return nil, fmt.Errorf("increment on non-numeric value of type %T", current)
	}
}

func unionStrings(current any, values []string) (any, error) {
	var out []string
	switch c := current.(type) {
	case nil:
	case []any:
		for _, item := range c {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("array union on array holding %T", item)
			}
			out = append(out, s)
		}
	case []string:
		out = append(out, c...)
	default:
		return nil, fmt.Errorf("array union on non-array value of type %T", current)
	}

	seen := make(map[string]struct{}, len(out)+len(values))
	for _, s := range out {
		seen[s] = struct{}{}
	}
	for _, s := range values {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
