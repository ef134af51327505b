package compositor

import (
	"image"
	"math"
	"time"
)

// =========================================================================
// TONE ADJUSTMENTS
// =========================================================================
//
// These follow the CSS filter-effects definitions: each primitive maps an
// (r, g, b) triple in [0,1] to another, results are clamped between
// primitives, and a list of primitives is applied left to right. The colour
// matrices are the ones from W3C Filter Effects Level 1, operating on
// gamma-encoded sRGB values like browsers do for canvas filters.

type rgb [3]float64

type adjust func(c rgb) rgb

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func matrix(m [3][3]float64) adjust {
	return func(c rgb) rgb {
		return rgb{
			m[0][0]*c[0] + m[0][1]*c[1] + m[0][2]*c[2],
			m[1][0]*c[0] + m[1][1]*c[1] + m[1][2]*c[2],
			m[2][0]*c[0] + m[2][1]*c[1] + m[2][2]*c[2],
		}
	}
}

func grayscale(a float64) adjust {
	a = 1 - clamp01(a)
	return matrix([3][3]float64{
		{0.2126 + 0.7874*a, 0.7152 - 0.7152*a, 0.0722 - 0.0722*a},
		{0.2126 - 0.2126*a, 0.7152 + 0.2848*a, 0.0722 - 0.0722*a},
		{0.2126 - 0.2126*a, 0.7152 - 0.7152*a, 0.0722 + 0.9278*a},
	})
}

func sepia(a float64) adjust {
	a = 1 - clamp01(a)
	return matrix([3][3]float64{
		{0.393 + 0.607*a, 0.769 - 0.769*a, 0.189 - 0.189*a},
		{0.349 - 0.349*a, 0.686 + 0.314*a, 0.168 - 0.168*a},
		{0.272 - 0.272*a, 0.534 - 0.534*a, 0.131 + 0.869*a},
	})
}

func saturate(s float64) adjust {
	return matrix([3][3]float64{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	})
}

func hueRotate(deg float64) adjust {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return matrix([3][3]float64{
		{0.213 + cos*0.787 - sin*0.213, 0.715 - cos*0.715 - sin*0.715, 0.072 - cos*0.072 + sin*0.928},
		{0.213 - cos*0.213 + sin*0.143, 0.715 + cos*0.285 + sin*0.140, 0.072 - cos*0.072 - sin*0.283},
		{0.213 - cos*0.213 - sin*0.787, 0.715 - cos*0.715 + sin*0.715, 0.072 + cos*0.928 + sin*0.072},
	})
}

func brightness(b float64) adjust {
	return func(c rgb) rgb {
		return rgb{c[0] * b, c[1] * b, c[2] * b}
	}
}

func contrast(k float64) adjust {
	return func(c rgb) rgb {
		return rgb{(c[0]-0.5)*k + 0.5, (c[1]-0.5)*k + 0.5, (c[2]-0.5)*k + 0.5}
	}
}

func invert(a float64) adjust {
	a = clamp01(a)
	return func(c rgb) rgb {
		return rgb{
			c[0]*(1-a) + (1-c[0])*a,
			c[1]*(1-a) + (1-c[1])*a,
			c[2]*(1-a) + (1-c[2])*a,
		}
	}
}

// apply runs the chain on one colour.
func apply(chain []adjust, c rgb) rgb {
	for _, fn := range chain {
		c = fn(c)
		c = rgb{clamp01(c[0]), clamp01(c[1]), clamp01(c[2])}
	}
	return c
}

// toneChain turns a chain into an in-place image pass. Alpha is left alone.
func toneChain(chain ...adjust) func(img *image.RGBA, now time.Time) {
	return func(img *image.RGBA, _ time.Time) {
		toneImage(img, chain)
	}
}

func toneImage(img *image.RGBA, chain []adjust) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			c := apply(chain, rgb{float64(row[i]) / 255, float64(row[i+1]) / 255, float64(row[i+2]) / 255})
			row[i] = to8(c[0])
			row[i+1] = to8(c[1])
			row[i+2] = to8(c[2])
		}
	}
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

// boxBlur is a separable box blur of the given radius, edges clamped.
// It approximates CSS blur(), which is a Gaussian with sigma = radius.
func boxBlur(img *image.RGBA, radius int) {
	if radius <= 0 {
		return
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]uint8, len(img.Pix))

	pass := func(src, dst []uint8, stride, count, length, step int) {
		window := 2*radius + 1
		for line := 0; line < count; line++ {
			base := line * stride
			for ch := 0; ch < 4; ch++ {
				sum := 0
				for k := -radius; k <= radius; k++ {
					sum += int(src[base+clampIdx(k, length)*step+ch])
				}
				for i := 0; i < length; i++ {
					dst[base+i*step+ch] = uint8(sum / window)
					out := clampIdx(i-radius, length)
					in := clampIdx(i+radius+1, length)
					sum += int(src[base+in*step+ch]) - int(src[base+out*step+ch])
				}
			}
		}
	}

	// Horizontal: lines are rows, step is one pixel.
	pass(img.Pix, tmp, img.Stride, h, w, 4)
	// Vertical: lines are columns, step is one row.
	pass(tmp, img.Pix, 4, w, h, img.Stride)
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
