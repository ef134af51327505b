// Package compositor turns camera frames into the filtered square canvas the
// user sees in the camera step and eventually captures.
//
// PIPELINE, PER FRAME:
//  1. Scale the source onto a square working image of the canvas size.
//  2. Flip it horizontally when the front camera is in use.
//  3. Tone: per-pixel colour adjustment for filters that have one.
//  4. Draw: lay the working image out on the canvas (plain copy, or one of
//     the mirrored/tiled/shifted layouts).
//  5. Overlay: post-process the finished canvas (VHS scanlines and noise).
//
// Filters are looked up in a closed table (filter.go); there is no switch on
// filter names anywhere else.
package compositor

import (
	"image"
	"math/rand/v2"
	"time"

	"golang.org/x/image/draw"
)

// DefaultSize is the side of the output canvas in pixels.
const DefaultSize = 480

// Compositor renders frames. It keeps a scratch image between calls and is
// therefore not safe for concurrent use; each capture session owns one.
type Compositor struct {
	size int
	now  func() time.Time
	rng  *rand.Rand

	work *image.RGBA
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithClock replaces time.Now, which drives the psycho and glitch filters.
func WithClock(now func() time.Time) Option {
	return func(c *Compositor) { c.now = now }
}

// WithRand replaces the noise source of the VHS overlay.
func WithRand(r *rand.Rand) Option {
	return func(c *Compositor) { c.rng = r }
}

// New creates a compositor with a size×size canvas.
func New(size int, opts ...Option) *Compositor {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Compositor{
		size: size,
		now:  time.Now,
		rng:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		work: image.NewRGBA(image.Rect(0, 0, size, size)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size is the canvas side in pixels.
func (c *Compositor) Size() int { return c.size }

// Compose renders src through filter f onto a fresh canvas. mirror flips
// the source horizontally first. An unknown filter renders like None.
func (c *Compositor) Compose(src image.Image, f Filter, mirror bool) *image.RGBA {
	now := c.now()
	s, ok := byID[f]
	if !ok {
		s = byID[None]
	}

	// 1. Scale onto the working image.
	draw.BiLinear.Scale(c.work, c.work.Bounds(), src, src.Bounds(), draw.Src, nil)

	// 2. Selfie mirror.
	if mirror {
		flipH(c.work)
	}

	// 3. Tone.
	if s.tone != nil {
		s.tone(c.work, now)
	}

	// 4. Layout.
	dst := image.NewRGBA(image.Rect(0, 0, c.size, c.size))
	if s.draw != nil {
		s.draw(dst, c.work, now)
	} else {
		copy(dst.Pix, c.work.Pix)
	}

	// 5. Overlay.
	if s.overlay != nil {
		s.overlay(c, dst)
	}
	return dst
}

// =========================================================================
// LAYOUTS
// =========================================================================
//
// All layouts work on two images of identical, origin-anchored bounds.

func flipH(img *image.RGBA) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			for ch := 0; ch < 4; ch++ {
				row[l*4+ch], row[r*4+ch] = row[r*4+ch], row[l*4+ch]
			}
		}
	}
}

// copyPixel copies src(sx,sy) to dst(dx,dy).
func copyPixel(dst *image.RGBA, dx, dy int, src *image.RGBA, sx, sy int) {
	d := dst.PixOffset(dx, dy)
	s := src.PixOffset(sx, sy)
	copy(dst.Pix[d:d+4], src.Pix[s:s+4])
}

// drawPixel downsamples to a 16×16 grid, then blows it back up without
// smoothing.
func drawPixel(dst, src *image.RGBA, _ time.Time) {
	const grid = 16
	small := image.NewRGBA(image.Rect(0, 0, grid, grid))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), src, src.Bounds(), draw.Src, nil)
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), small, small.Bounds(), draw.Src, nil)
}

// drawMirrorH keeps the left half and reflects it into the right half.
func drawMirrorH(dst, src *image.RGBA, _ time.Time) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			copyPixel(dst, x, y, src, x, y)
			copyPixel(dst, w-1-x, y, src, x, y)
		}
		if w%2 == 1 {
			copyPixel(dst, w/2, y, src, w/2, y)
		}
	}
}

// drawMirrorV keeps the top half and reflects it into the bottom half.
func drawMirrorV(dst, src *image.RGBA, _ time.Time) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < (h+1)/2; y++ {
		for x := 0; x < w; x++ {
			copyPixel(dst, x, y, src, x, y)
			copyPixel(dst, x, h-1-y, src, x, y)
		}
	}
}

// drawKaleido reflects the top-left quadrant into all four quadrants.
func drawKaleido(dst, src *image.RGBA, _ time.Time) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < (h+1)/2; y++ {
		for x := 0; x < (w+1)/2; x++ {
			copyPixel(dst, x, y, src, x, y)
			copyPixel(dst, w-1-x, y, src, x, y)
			copyPixel(dst, x, h-1-y, src, x, y)
			copyPixel(dst, w-1-x, h-1-y, src, x, y)
		}
	}
}

// drawSplit repeats the top half in the bottom half, unflipped.
func drawSplit(dst, src *image.RGBA, _ time.Time) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	half := h / 2
	for y := 0; y < h; y++ {
		sy := y
		if y >= half {
			sy = y - half
		}
		d := dst.PixOffset(0, y)
		s := src.PixOffset(0, sy)
		copy(dst.Pix[d:d+w*4], src.Pix[s:s+w*4])
	}
}

// drawRGBShift screens three copies of the source offset by +5, 0 and -5
// pixels. Screen is 1-(1-a)(1-b) per channel; uncovered canvas counts as
// black, which screen leaves untouched.
func drawRGBShift(dst, src *image.RGBA, _ time.Time) {
	const shift = 5
	for _, dx := range []int{shift, 0, -shift} {
		blitScreen(dst, src, dx)
	}
}

func blitScreen(dst, src *image.RGBA, dx int) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tx := x + dx
			if tx < 0 || tx >= w {
				continue
			}
			s := src.PixOffset(x, y)
			d := dst.PixOffset(tx, y)
			for ch := 0; ch < 3; ch++ {
				a := int(dst.Pix[d+ch])
				b := int(src.Pix[s+ch])
				dst.Pix[d+ch] = uint8(255 - (255-a)*(255-b)/255)
			}
			if src.Pix[s+3] > dst.Pix[d+3] {
				dst.Pix[d+3] = src.Pix[s+3]
			}
		}
	}
}

// drawGlitch draws the source shifted by sin(t/50)*10, then a half
// transparent, hue-rotated and brightened copy shifted the other way and two
// pixels down.
func drawGlitch(dst, src *image.RGBA, now time.Time) {
	offset := glitchShift(now)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tx := x + offset
			if tx < 0 || tx >= w {
				continue
			}
			copyPixel(dst, tx, y, src, x, y)
		}
	}

	ghost := image.NewRGBA(src.Bounds())
	copy(ghost.Pix, src.Pix)
	toneImage(ghost, []adjust{hueRotate(90), brightness(2)})

	for y := 0; y < h; y++ {
		ty := y + 2
		if ty >= h {
			break
		}
		for x := 0; x < w; x++ {
			tx := x - offset
			if tx < 0 || tx >= w {
				continue
			}
			s := ghost.PixOffset(x, y)
			d := dst.PixOffset(tx, ty)
			for ch := 0; ch < 3; ch++ {
				dst.Pix[d+ch] = uint8((int(dst.Pix[d+ch]) + int(ghost.Pix[s+ch]) + 1) / 2)
			}
			// Source-over with 50% alpha.
			da := int(dst.Pix[d+3])
			dst.Pix[d+3] = uint8(da + (255-da)/2)
		}
	}
}
