package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
)

// ErrBusy is returned when another live Acquire is already waiting for an
// answer.
var ErrBusy = errors.New("camera: acquisition already pending")

// Remote is a camera living in the user's browser.
//
// FLOW:
//  1. Acquire calls Open with the wanted facing; the session turns that into
//     a "camera.open" event on the websocket.
//  2. The browser answers "camera.granted" (Grant) or "camera.denied" (Deny).
//  3. After a grant the browser streams JPEG frames as binary websocket
//     messages, which arrive here through Feed.
//  4. Release calls Close so the browser stops its tracks.
//
// An Acquire whose context is done no longer blocks the next one: the newer
// request takes over, and the browser's answer goes to it. A grant that
// arrives with nobody waiting is answered with Close.
type Remote struct {
	Open   func(Facing)
	Close  func()
	logger *slog.Logger

	mu      sync.Mutex
	pending *request
	active  *remoteHandle
}

type request struct {
	ctx    context.Context
	answer chan error
}

func NewRemote(open func(Facing), close func(), logger *slog.Logger) *Remote {
	return &Remote{Open: open, Close: close, logger: logger}
}

func (r *Remote) Acquire(ctx context.Context, facing Facing) (Handle, error) {
	r.mu.Lock()
	if r.pending != nil && r.pending.ctx.Err() == nil {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	req := &request{ctx: ctx, answer: make(chan error, 1)}
	r.pending = req
	r.mu.Unlock()

	r.Open(facing)

	select {
	case err := <-req.answer:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		r.mu.Lock()
		if r.pending == req {
			r.pending = nil
		}
		r.mu.Unlock()
		return nil, ctx.Err()
	}

	h := &remoteHandle{facing: facing}
	r.mu.Lock()
	r.active = h
	r.mu.Unlock()
	return h, nil
}

// Grant resolves the pending Acquire successfully.
func (r *Remote) Grant() {
	r.answer(nil)
}

// Deny resolves the pending Acquire with a failure. reason "notfound" maps to
// ErrNotFound, anything else to ErrPermissionDenied.
func (r *Remote) Deny(reason string) {
	if reason == "notfound" {
		r.answer(ErrNotFound)
		return
	}
	r.answer(ErrPermissionDenied)
}

func (r *Remote) answer(err error) {
	r.mu.Lock()
	req := r.pending
	r.pending = nil
	r.mu.Unlock()

	if req == nil {
		r.logger.Debug("camera answer without pending request")
		if err == nil && r.Close != nil {
			r.Close()
		}
		return
	}
	req.answer <- err
}

// Feed decodes one JPEG frame and makes it the active handle's latest frame.
// Frames arriving while no handle is active are dropped.
func (r *Remote) Feed(data []byte) error {
	r.mu.Lock()
	h := r.active
	r.mu.Unlock()
	if h == nil {
		return nil
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("camera: decoding frame: %w", err)
	}
	h.set(img)
	return nil
}

func (r *Remote) Release(h Handle) {
	rh, ok := h.(*remoteHandle)
	if !ok {
		return
	}
	if !rh.release() {
		return
	}

	r.mu.Lock()
	wasActive := r.active == rh
	if wasActive {
		r.active = nil
	}
	r.mu.Unlock()

	if wasActive && r.Close != nil {
		r.Close()
	}
}

type remoteHandle struct {
	facing Facing

	mu       sync.Mutex
	latest   image.Image
	released bool
}

func (h *remoteHandle) Facing() Facing { return h.facing }

func (h *remoteHandle) Frame() (image.Image, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.latest == nil {
		return nil, false
	}
	return h.latest, true
}

func (h *remoteHandle) set(img image.Image) {
	h.mu.Lock()
	if !h.released {
		h.latest = img
	}
	h.mu.Unlock()
}

// release reports whether this call did the release.
func (h *remoteHandle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	h.latest = nil
	return true
}
