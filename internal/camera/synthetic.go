package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"
)

// Synthetic renders an animated test pattern instead of a real camera.
// It is used in demos without a browser camera and throughout the tests.
type Synthetic struct {
	Size int
	// Err, when set, is returned by every Acquire.
	Err error
	// Unavailable lists facings that fail with ErrNotFound.
	Unavailable map[Facing]bool

	mu       sync.Mutex
	active   int
	acquired []Facing
	now      func() time.Time
}

// NewSynthetic creates a device producing size×size frames.
func NewSynthetic(size int) *Synthetic {
	if size <= 0 {
		size = 64
	}
	return &Synthetic{Size: size, now: time.Now}
}

func (s *Synthetic) Acquire(ctx context.Context, facing Facing) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Unavailable[facing] {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	s.active++
	s.acquired = append(s.acquired, facing)
	s.mu.Unlock()

	return &syntheticHandle{device: s, facing: facing}, nil
}

func (s *Synthetic) Release(h Handle) {
	sh, ok := h.(*syntheticHandle)
	if !ok {
		return
	}

	sh.mu.Lock()
	already := sh.released
	sh.released = true
	sh.mu.Unlock()
	if already {
		return
	}

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// Active is the number of handles not yet released.
func (s *Synthetic) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Acquired lists the facing of every successful Acquire, in order.
func (s *Synthetic) Acquired() []Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Facing, len(s.acquired))
	copy(out, s.acquired)
	return out
}

type syntheticHandle struct {
	device *Synthetic
	facing Facing

	mu       sync.Mutex
	released bool
}

func (h *syntheticHandle) Facing() Facing { return h.facing }

// Frame draws diagonal colour bands that drift with time. The left half is
// brighter than the right so mirroring is visible in tests.
func (h *syntheticHandle) Frame() (image.Image, bool) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, false
	}

	now := h.device.now
	if now == nil {
		now = time.Now
	}
	size := h.device.Size
	phase := int(now().UnixMilli()/40) % 256
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8((x + y + phase) % 256)
			r := v
			if x < size/2 {
				r = 255
			}
			img.SetRGBA(x, y, color.RGBA{R: r, G: uint8(y * 255 / size), B: 255 - v, A: 255})
		}
	}
	return img, true
}
