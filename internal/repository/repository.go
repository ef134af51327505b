// Package repository defines the storage collaborators the application talks to.
//
// TWO STORES:
//   - DocumentStore is the real-time, shared store: collections of JSON
//     documents, full-snapshot subscriptions, atomic batches and transactions,
//     field transforms (Increment, ArrayUnion) usable inside a batch.
//   - KVStore is the local, per-device key/value store used for history and
//     one-off flags. It is never synchronised.
//
// Services depend on these interfaces only; repository/sqlite provides the
// implementation used by the server and by the tests.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Document is one stored JSON object.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	UpdatedAt  time.Time
}

// DataTo decodes the document body into v.
func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Snapshot is the full content of a collection at one point in time.
type Snapshot struct {
	Collection string
	Docs       []Document
}

// Empty reports whether the collection had no documents.
func (s Snapshot) Empty() bool {
	return len(s.Docs) == 0
}

// Fields is a partial document. Values are plain JSON-encodable values or
// one of the transforms below.
type Fields map[string]any

// Increment adds By to a numeric field. A missing field counts as zero.
type Increment struct {
	By int64
}

// ArrayUnion appends the values not already present in a string array field.
type ArrayUnion struct {
	Values []string
}

// StructFields converts any JSON-encodable struct into Fields so it can be
// written with Set or Merge.
func StructFields(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	return f, nil
}

// WriteKind selects how a Write combines with the existing document.
type WriteKind int

const (
	// WriteSet replaces the whole document.
	WriteSet WriteKind = iota
	// WriteMerge overlays the fields, creating the document if absent.
	WriteMerge
	// WriteUpdate overlays the fields and fails with ErrNotFound if absent.
	WriteUpdate
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteMerge:
		return "merge"
	case WriteUpdate:
		return "update"
	}
	return fmt.Sprintf("WriteKind(%d)", int(k))
}

// Write is one operation of a batch.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Fields     Fields
}

// Set builds a replace write.
func Set(collection, id string, fields Fields) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Fields: fields}
}

// Merge builds a create-or-overlay write.
func Merge(collection, id string, fields Fields) Write {
	return Write{Kind: WriteMerge, Collection: collection, ID: id, Fields: fields}
}

// Update builds an overlay write on an existing document.
func Update(collection, id string, fields Fields) Write {
	return Write{Kind: WriteUpdate, Collection: collection, ID: id, Fields: fields}
}

// Tx is the view a transaction function gets. Reads observe earlier writes
// made in the same transaction.
type Tx interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Write(ctx context.Context, w Write) error
}

// Subscription is a live listener. Stop blocks until no further callback
// will run; it must not be called from inside the listener's own callback.
type Subscription interface {
	Stop()
}

// DocumentStore is the document-sync backend.
//
// CONSISTENCY:
// Commit and RunTransaction are all-or-nothing. Listeners receive full
// snapshots after each change, coalesced: a slow listener sees the latest
// state, not every intermediate one. Subscribing replays the current state
// immediately.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string) (Snapshot, error)
	Commit(ctx context.Context, writes ...Write) error
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	SubscribeCollection(ctx context.Context, collection string, fn func(Snapshot)) (Subscription, error)
	// SubscribeDocument calls fn with nil while the document does not exist.
	SubscribeDocument(ctx context.Context, collection, id string, fn func(*Document)) (Subscription, error)
}

// KVStore is the local persistent key/value store.
type KVStore interface {
	GetValue(ctx context.Context, key string) (value string, ok bool, err error)
	SetValue(ctx context.Context, key, value string) error
}
