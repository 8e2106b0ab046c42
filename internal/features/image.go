package features

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ToGray converts img to an 8-bit grayscale image whose bounds start at the
// origin. A zero-origin *image.Gray is returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}

	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Resize returns g scaled down so that its longer side is at most maxDim.
// Images already within bounds, or maxDim <= 0, are returned unchanged.
func Resize(g *image.Gray, maxDim int) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	longest := max(w, h)
	if maxDim <= 0 || longest <= maxDim {
		return g
	}

	scale := float64(maxDim) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), g, g.Bounds(), draw.Src, nil)
	return dst
}

// WhiteRatio returns the fraction of pixels brighter than level.
func WhiteRatio(g *image.Gray, level uint8) float64 {
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 1
	}

	white := 0
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		for _, v := range row {
			if v > level {
				white++
			}
		}
	}
	return float64(white) / float64(total)
}

// gaussianBlur smooths g with a separable Gaussian kernel. Borders are
// clamped to the nearest edge pixel.
func gaussianBlur(g *image.Gray, radius int, sigma float64) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if radius <= 0 || w == 0 || h == 0 {
		return g
	}

	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				xx := clamp(x+k, 0, w-1)
				acc += kernel[k+radius] * float64(row[xx])
			}
			tmp[y*w+x] = acc
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				yy := clamp(y+k, 0, h-1)
				acc += kernel[k+radius] * tmp[yy*w+x]
			}
			out.Pix[y*out.Stride+x] = uint8(clamp(int(acc+0.5), 0, 255))
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
