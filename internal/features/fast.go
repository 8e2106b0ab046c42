package features

import (
	"image"
	"math"
	"math/bits"
)

// circle is the 16-pixel Bresenham ring of radius 3 used by FAST.
var circle = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const fastArc = 9

// detectFAST returns FAST-9 corners at least border pixels away from the
// image edge.
func detectFAST(g *image.Gray, threshold, border int) []image.Point {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w <= 2*border || h <= 2*border {
		return nil
	}

	var offs [16]int
	for k, p := range circle {
		offs[k] = p.X + p.Y*g.Stride
	}

	pix := g.Pix
	var corners []image.Point

	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			idx := y*g.Stride + x
			p := int(pix[idx])
			hi, lo := p+threshold, p-threshold

			// Any arc of 9 on the ring covers pixel 0 or 8 and pixel 4 or 12.
			v0, v4 := int(pix[idx+offs[0]]), int(pix[idx+offs[4]])
			v8, v12 := int(pix[idx+offs[8]]), int(pix[idx+offs[12]])
			brightOK := (v0 > hi || v8 > hi) && (v4 > hi || v12 > hi)
			darkOK := (v0 < lo || v8 < lo) && (v4 < lo || v12 < lo)
			if !brightOK && !darkOK {
				continue
			}

			var bright, dark uint32
			for k := 0; k < 16; k++ {
				v := int(pix[idx+offs[k]])
				if v > hi {
					bright |= 1 << k
				} else if v < lo {
					dark |= 1 << k
				}
			}

			if hasArc(bright) || hasArc(dark) {
				corners = append(corners, image.Point{X: x, Y: y})
			}
		}
	}

	return corners
}

// hasArc reports whether the 16-bit ring mask holds fastArc contiguous set
// bits, wrapping around.
func hasArc(mask uint32) bool {
	if bits.OnesCount32(mask) < fastArc {
		return false
	}
	m := mask | mask<<16
	r := m
	for k := 1; k < fastArc; k++ {
		r &= m >> k
	}
	return r != 0
}

// harrisResponse computes the Harris corner measure over a blockSize window
// centred on (x, y). The caller guarantees the window plus one pixel fits.
func harrisResponse(g *image.Gray, x, y, blockSize int, k float64) float64 {
	r := blockSize / 2
	pix, stride := g.Pix, g.Stride

	var a, b, c float64
	for dy := -r; dy <= r; dy++ {
		row := (y + dy) * stride
		for dx := -r; dx <= r; dx++ {
			i := row + x + dx
			ix := float64(int(pix[i+1]) - int(pix[i-1]))
			iy := float64(int(pix[i+stride]) - int(pix[i-stride]))
			a += ix * ix
			b += iy * iy
			c += ix * iy
		}
	}

	return a*b - c*c - k*(a+b)*(a+b)
}

// suppressNonMax keeps corners whose response is not exceeded by any other
// corner in their 3x3 neighbourhood.
func suppressNonMax(w, h int, corners []image.Point, scores []float64) []int {
	grid := make([]float64, w*h)
	negInf := math.Inf(-1)
	for i := range grid {
		grid[i] = negInf
	}
	for i, p := range corners {
		grid[p.Y*w+p.X] = scores[i]
	}

	kept := make([]int, 0, len(corners))
	for i, p := range corners {
		s := scores[i]
		isMax := true
		for dy := -1; dy <= 1 && isMax; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				if grid[(p.Y+dy)*w+p.X+dx] > s {
					isMax = false
					break
				}
			}
		}
		if isMax {
			kept = append(kept, i)
		}
	}
	return kept
}
