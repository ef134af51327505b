package compositor

import "image"

// vhsOverlay darkens every fourth row like a CRT scanline, then replaces
// roughly one pixel in twenty with random grey static.
func vhsOverlay(c *Compositor, dst *image.RGBA) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()

	// rgba(18,16,16,0.1) painted over the row.
	scan := [3]int{18, 16, 16}
	for y := 0; y < h; y += 4 {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			for ch := 0; ch < 3; ch++ {
				row[i+ch] = uint8((int(row[i+ch])*9 + scan[ch] + 5) / 10)
			}
		}
	}

	for i := 0; i+3 < len(dst.Pix); i += 4 {
		if c.rng.Float64() > 0.95 {
			v := uint8(c.rng.IntN(256))
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = v, v, v
		}
	}
}
