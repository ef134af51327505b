package compositor

import (
	"context"
	"image"
	"time"
)

// DefaultInterval is the compositing cadence, about ten frames a second.
const DefaultInterval = 100 * time.Millisecond

// Source provides frames. ok is false while the stream is not ready yet.
type Source interface {
	Frame() (img image.Image, ok bool)
}

// Ticker schedules fn every interval until ctx is done. *eventloop.Loop
// satisfies it, which puts every tick on the session's goroutine.
type Ticker interface {
	Every(ctx context.Context, interval time.Duration, fn func())
}

// Task is the live compositing job of one camera step.
//
// CANCELLATION:
// Stop cancels the task's context. A tick that was already queued still
// reaches the loop but returns without drawing, and the ticker goroutine
// stops scheduling new ones. A draw that already started finishes.
//
// Task is owned by a single goroutine (the session loop) and has no locks.
type Task struct {
	comp   *Compositor
	src    Source
	mirror bool
	filter Filter

	ctx     context.Context
	cancel  context.CancelFunc
	onFrame func(*image.RGBA)

	last    *image.RGBA
	drawn   int
	skipped int
}

// StartTask begins compositing frames from src every interval. onFrame, if
// set, receives every composed canvas.
func StartTask(parent context.Context, t Ticker, interval time.Duration, comp *Compositor, src Source, mirror bool, onFrame func(*image.RGBA)) *Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(parent)
	task := &Task{
		comp:    comp,
		src:     src,
		mirror:  mirror,
		filter:  None,
		ctx:     ctx,
		cancel:  cancel,
		onFrame: onFrame,
	}
	t.Every(ctx, interval, task.Tick)
	return task
}

// Tick draws one frame. A source that is not ready yet is skipped silently
// and retried on the next tick.
func (t *Task) Tick() {
	if t.ctx.Err() != nil {
		return
	}
	frame, ok := t.src.Frame()
	if !ok || frame == nil {
		t.skipped++
		return
	}
	t.last = t.comp.Compose(frame, t.filter, t.mirror)
	t.drawn++
	if t.onFrame != nil {
		t.onFrame(t.last)
	}
}

// SetFilter changes the filter from the next tick on.
func (t *Task) SetFilter(f Filter) { t.filter = f }

// Filter is the active filter.
func (t *Task) Filter() Filter { return t.filter }

// Last is the most recent canvas. ok is false until the first draw.
func (t *Task) Last() (img *image.RGBA, ok bool) {
	return t.last, t.last != nil
}

// Stop cancels the task. Safe to call more than once.
func (t *Task) Stop() { t.cancel() }

// Stopped reports whether Stop was called or the parent context ended.
func (t *Task) Stopped() bool { return t.ctx.Err() != nil }

// Stats reports how many ticks drew a frame and how many were skipped.
func (t *Task) Stats() (drawn, skipped int) { return t.drawn, t.skipped }
