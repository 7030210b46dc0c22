// Package frame implements the pure pixel transforms used before a
// frame reaches the detector: pixel-format normalization to grayscale,
// dark-frame rejection, and CLAHE contrast enhancement.
package frame

import "fmt"

// InvalidLengthError reports a pixel buffer that is shorter than its
// declared dimensions require.
type InvalidLengthError struct {
	Expected, Actual int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("frame: invalid buffer length: expected %d, got %d", e.Expected, e.Actual)
}

// YUYVToGray converts a packed 4:2:2 buffer (Y0,U,Y1,V repeating) to a
// single grayscale plane by keeping every even-indexed byte.
func YUYVToGray(src []byte, width, height int) ([]byte, error) {
	expected := 2 * width * height
	if len(src) < expected {
		return nil, &InvalidLengthError{Expected: expected, Actual: len(src)}
	}
	out := make([]byte, width*height)
	for i := range out {
		out[i] = src[2*i]
	}
	return out, nil
}

// GreyToGray validates and passes through an already-grayscale buffer.
func GreyToGray(src []byte, width, height int) ([]byte, error) {
	expected := width * height
	if len(src) < expected {
		return nil, &InvalidLengthError{Expected: expected, Actual: len(src)}
	}
	out := make([]byte, expected)
	copy(out, src[:expected])
	return out, nil
}

// Y16ToGray downconverts a little-endian 16-bit-per-pixel buffer by
// taking the high byte of each sample (equivalent to value >> 8).
func Y16ToGray(src []byte, width, height int) ([]byte, error) {
	expected := 2 * width * height
	if len(src) < expected {
		return nil, &InvalidLengthError{Expected: expected, Actual: len(src)}
	}
	out := make([]byte, width*height)
	for i := range out {
		out[i] = src[2*i+1]
	}
	return out, nil
}

const darkPixelThreshold = 32

// DefaultDarkFraction is the fraction of sub-threshold pixels above
// which a frame is considered dark.
const DefaultDarkFraction = 0.95

// IsDark reports whether more than fraction of gray's pixels fall
// below the dark pixel threshold. An empty frame is always dark.
func IsDark(gray []byte, fraction float64) bool {
	if len(gray) == 0 {
		return true
	}
	dark := 0
	for _, p := range gray {
		if p < darkPixelThreshold {
			dark++
		}
	}
	return float64(dark)/float64(len(gray)) > fraction
}

const (
	claheTiles     = 8
	claheClipLimit = 0.02
)

// CLAHE applies Contrast-Limited Adaptive Histogram Equalization over
// an 8x8 tile grid, bilinearly blending neighboring tiles' CDFs at
// each output pixel. The output has the same dimensions as the input.
func CLAHE(gray []byte, width, height int) []byte {
	tilesX, tilesY := claheTiles, claheTiles
	tileW := width / tilesX
	tileH := height / tilesY
	if tileW == 0 || tileH == 0 {
		out := make([]byte, len(gray))
		copy(out, gray)
		return out
	}

	cdfs := make([][256]float32, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			cdfs[ty*tilesX+tx] = tileCDF(gray, width, height, tx, ty, tileW, tileH)
		}
	}

	out := make([]byte, width*height)
	for y := 0; y < height; y++ {
		fy := float64(y)/float64(tileH) - 0.5
		fy = clampFloat(fy, 0, float64(tilesY-1))
		ty0 := int(fy)
		ty1 := ty0 + 1
		if ty1 >= tilesY {
			ty1 = tilesY - 1
		}
		wy := float32(fy - float64(ty0))

		for x := 0; x < width; x++ {
			fx := float64(x)/float64(tileW) - 0.5
			fx = clampFloat(fx, 0, float64(tilesX-1))
			tx0 := int(fx)
			tx1 := tx0 + 1
			if tx1 >= tilesX {
				tx1 = tilesX - 1
			}
			wx := float32(fx - float64(tx0))

			v := gray[y*width+x]
			c00 := cdfs[ty0*tilesX+tx0][v]
			c10 := cdfs[ty0*tilesX+tx1][v]
			c01 := cdfs[ty1*tilesX+tx0][v]
			c11 := cdfs[ty1*tilesX+tx1][v]

			top := c00*(1-wx) + c10*wx
			bottom := c01*(1-wx) + c11*wx
			blended := top*(1-wy) + bottom*wy

			out[y*width+x] = clampByte(blended)
		}
	}
	return out
}

// tileCDF builds the clipped, redistributed, normalized CDF for one
// tile, indexed by pixel intensity.
func tileCDF(gray []byte, width, height, tx, ty, tileW, tileH int) [256]float32 {
	x0 := tx * tileW
	y0 := ty * tileH
	x1 := x0 + tileW
	y1 := y0 + tileH
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}

	var hist [256]uint32
	tilePixels := 0
	for y := y0; y < y1; y++ {
		row := y * width
		for x := x0; x < x1; x++ {
			hist[gray[row+x]]++
			tilePixels++
		}
	}

	clip := uint32(claheClipLimit * float64(tilePixels))
	if clip < 1 {
		clip = 1
	}
	var excess uint32
	for i := range hist {
		if hist[i] > clip {
			excess += hist[i] - clip
			hist[i] = clip
		}
	}

	redist := excess / 256
	leftover := int(excess % 256)
	for i := range hist {
		hist[i] += redist
		if i < leftover {
			hist[i]++
		}
	}

	var cdf [256]uint32
	var running uint32
	for i := 0; i < 256; i++ {
		running += hist[i]
		cdf[i] = running
	}

	var cdfMin uint32
	for i := 0; i < 256; i++ {
		if cdf[i] != 0 {
			cdfMin = cdf[i]
			break
		}
	}

	var out [256]float32
	denom := float32(tilePixels) - float32(cdfMin)
	if denom <= 0 {
		// Degenerate tile (single intensity dominates): identity mapping.
		for i := range out {
			out[i] = float32(i)
		}
		return out
	}
	for i := 0; i < 256; i++ {
		v := (float32(cdf[i]) - float32(cdfMin)) / denom * 255.0
		out[i] = clampFloat32(v, 0, 255)
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
