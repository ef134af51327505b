// Package notify holds the user-facing, auto-expiring message list.
package notify

import (
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/crono-esfera/internal/model"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 6 * time.Second

// Scheduler runs fn after d on the owner's goroutine. *eventloop.Loop
// satisfies it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) *time.Timer
}

// Queue is an append-only list whose items remove themselves after TTL.
//
// THREADING:
// Queue is not safe for concurrent use. It lives on a client session's event
// loop: Push is called from the loop and the expiry callbacks are delivered
// back onto the same loop by the Scheduler.
//
// Each item schedules its own removal, independently of the others. Duplicate
// messages are not coalesced.
type Queue struct {
	ttl      time.Duration
	sched    Scheduler
	now      func() time.Time
	onChange func([]model.Notification)
	logger   *slog.Logger

	items  []model.Notification
	timers map[string]*time.Timer
}

// NewQueue builds a queue. onChange (optional) receives a copy of the visible
// list after every insertion and removal.
func NewQueue(sched Scheduler, ttl time.Duration, onChange func([]model.Notification), logger *slog.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		ttl:      ttl,
		sched:    sched,
		now:      time.Now,
		onChange: onChange,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Push appends a message and schedules its removal. Returns the new item.
func (q *Queue) Push(message string) model.Notification {
	n := model.Notification{
		ID:        xid.New().String(),
		Message:   message,
		CreatedAt: q.now(),
	}
	q.items = append(q.items, n)
	q.timers[n.ID] = q.sched.AfterFunc(q.ttl, func() { q.remove(n.ID) })

	q.logger.Debug("notification pushed", slog.String("id", n.ID), slog.String("message", message))
	q.changed()
	return n
}

// Items returns the visible notifications in insertion order.
func (q *Queue) Items() []model.Notification {
	out := make([]model.Notification, len(q.items))
	copy(out, q.items)
	return out
}

// Len is the number of visible notifications.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close cancels every pending expiry. The list is left as is.
func (q *Queue) Close() {
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) remove(id string) {
	delete(q.timers, id)
	for i, n := range q.items {
		if n.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.changed()
			return
		}
	}
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange(q.Items())
	}
}
