// Package history keeps the signed-in user's own claims on this device.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
)

// MaxItems bounds the stored list; the oldest entries are evicted first.
const MaxItems = 50

// IntroSeenKey is the flag set once the intro was dismissed. Each browser
// has its own copy, see IntroKey.
const IntroSeenKey = "crono_intro_seen"

// IntroKey is the storage key of device's intro flag. Without a device id
// the shared IntroSeenKey is used.
func IntroKey(device string) string {
	if device == "" {
		return IntroSeenKey
	}
	return IntroSeenKey + "_" + device
}

// Key is the storage key of uid's history.
func Key(uid string) string {
	return "crono_history_" + uid
}

// Store reads and writes history lists through a KVStore.
type Store struct {
	kv     repository.KVStore
	logger *slog.Logger
}

func NewStore(kv repository.KVStore, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Load returns uid's history, newest first. A missing or unreadable entry is
// an empty history: local storage is a passive cache and never blocks the UI.
func (s *Store) Load(ctx context.Context, uid string) ([]model.HistoryItem, error) {
	raw, ok, err := s.kv.GetValue(ctx, Key(uid))
	if err != nil {
		return nil, fmt.Errorf("history: loading %s: %w", uid, err)
	}
	if !ok || raw == "" {
		return []model.HistoryItem{}, nil
	}

	var items []model.HistoryItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn("discarding corrupt history", slog.String("uid", uid), slog.String("error", err.Error()))
		return []model.HistoryItem{}, nil
	}
	return items, nil
}

// Prepend adds item at the front of uid's history and trims it to MaxItems.
// It returns the list as stored.
func (s *Store) Prepend(ctx context.Context, uid string, item model.HistoryItem) ([]model.HistoryItem, error) {
	items, err := s.Load(ctx, uid)
	if err != nil {
		return nil, err
	}

	items = append([]model.HistoryItem{item}, items...)
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("history: encoding: %w", err)
	}
	if err := s.kv.SetValue(ctx, Key(uid), string(raw)); err != nil {
		return nil, fmt.Errorf("history: saving %s: %w", uid, err)
	}
	return items, nil
}

// IntroSeen reports whether the intro overlay was already dismissed on device.
func (s *Store) IntroSeen(ctx context.Context, device string) (bool, error) {
	v, ok, err := s.kv.GetValue(ctx, IntroKey(device))
	if err != nil {
		return false, fmt.Errorf("history: reading intro flag: %w", err)
	}
	return ok && v == "true", nil
}

// MarkIntroSeen persists device's intro flag.
func (s *Store) MarkIntroSeen(ctx context.Context, device string) error {
	if err := s.kv.SetValue(ctx, IntroKey(device), "true"); err != nil {
		return fmt.Errorf("history: writing intro flag: %w", err)
	}
	return nil
}

// NewItem builds the entry recorded after a successful claim.
func NewItem(sectorID int, media model.Media, title string, timestampMs int64) model.HistoryItem {
	return model.HistoryItem{
		ID:        fmt.Sprintf("%d-%d", sectorID, timestampMs),
		Media:     media,
		Title:     title,
		Timestamp: timestampMs,
	}
}
