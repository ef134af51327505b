package compositor

import (
	"fmt"
	"image"
	"math"
	"time"
)

// Filter is one of the effects offered in the camera step.
type Filter string

const (
	None     Filter = "none"
	Noir     Filter = "noir"
	Neon     Filter = "neon"
	VHS      Filter = "vhs"
	Pixel    Filter = "pixel"
	Psycho   Filter = "psycho"
	Thermal  Filter = "thermal"
	Invert   Filter = "invert"
	Dream    Filter = "blur"
	MirrorH  Filter = "mirror_h"
	MirrorV  Filter = "mirror_v"
	Kaleido  Filter = "kaleido"
	Split    Filter = "split"
	RGBShift Filter = "rgb_shift"
	Sketch   Filter = "sketch"
	Sepia    Filter = "sepia"
	Glitch   Filter = "glitch"
	Poster   Filter = "poster"
)

// strategy is how one filter renders.
//
//   - tone adjusts the mirrored source in place before it is drawn.
//   - draw lays the source out on the canvas; nil means a plain copy.
//   - overlay post-processes the finished canvas.
type strategy struct {
	label   string
	tone    func(src *image.RGBA, now time.Time)
	draw    func(dst, src *image.RGBA, now time.Time)
	overlay func(c *Compositor, dst *image.RGBA)
}

// filters is the closed dispatch table. Ordered as shown in the picker.
var filters = []struct {
	id Filter
	strategy
}{
	{None, strategy{label: "NORMAL"}},
	{Noir, strategy{label: "NOIR", tone: toneChain(grayscale(1), contrast(1.4))}},
	{Neon, strategy{label: "NEON", tone: toneChain(brightness(1.5), saturate(2.5), contrast(1.1), hueRotate(180))}},
	{VHS, strategy{label: "VHS", tone: toneChain(contrast(1.2), saturate(0.5), brightness(1.1), grayscale(0.2)), overlay: vhsOverlay}},
	{Pixel, strategy{label: "PIXEL", draw: drawPixel}},
	{Psycho, strategy{label: "PSYCHO", tone: psychoTone}},
	{Thermal, strategy{label: "THERMAL", tone: toneChain(invert(1), hueRotate(180), saturate(5))}},
	{Invert, strategy{label: "INVERT", tone: toneChain(invert(1))}},
	{Dream, strategy{label: "DREAM", tone: dreamTone}},
	{MirrorH, strategy{label: "ESPELHO H", draw: drawMirrorH}},
	{MirrorV, strategy{label: "ESPELHO V", draw: drawMirrorV}},
	{Kaleido, strategy{label: "KALEIDO", draw: drawKaleido}},
	{Split, strategy{label: "SPLIT", draw: drawSplit}},
	{RGBShift, strategy{label: "RGB", draw: drawRGBShift}},
	{Sketch, strategy{label: "SKETCH", tone: toneChain(grayscale(1), contrast(10), invert(1))}},
	{Sepia, strategy{label: "SEPIA", tone: toneChain(sepia(1), contrast(1.1))}},
	{Glitch, strategy{label: "GLITCH", draw: drawGlitch}},
	{Poster, strategy{label: "POSTER", tone: toneChain(contrast(2), saturate(2), brightness(0.9), grayscale(0.2))}},
}

var byID = func() map[Filter]strategy {
	m := make(map[Filter]strategy, len(filters))
	for _, f := range filters {
		m[f.id] = f.strategy
	}
	return m
}()

// All lists every filter in picker order.
func All() []Filter {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		out[i] = f.id
	}
	return out
}

// Parse validates a filter name.
func Parse(s string) (Filter, error) {
	f := Filter(s)
	if _, ok := byID[f]; !ok {
		return None, fmt.Errorf("compositor: unknown filter %q", s)
	}
	return f, nil
}

// Label is the name shown in the picker.
func (f Filter) Label() string {
	return byID[f].label
}

func (f Filter) String() string { return string(f) }

func psychoTone(src *image.RGBA, now time.Time) {
	deg := float64(now.UnixMilli() % 360)
	toneChain(hueRotate(deg), saturate(3))(src, now)
}

func dreamTone(src *image.RGBA, now time.Time) {
	boxBlur(src, 4)
	toneChain(brightness(1.2))(src, now)
}

// glitchShift is the horizontal offset of the glitch copy at now.
func glitchShift(now time.Time) int {
	return int(math.Round(math.Sin(float64(now.UnixMilli())/50) * 10))
}
