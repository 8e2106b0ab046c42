package features

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shapes draws random filled rectangles of distinct gray levels.
func shapes(seed uint64, w, h, count int) *image.Gray {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 128
	}
	for n := 0; n < count; n++ {
		x0, y0 := rng.IntN(w-20), rng.IntN(h-20)
		x1, y1 := x0+10+rng.IntN(60), y0+10+rng.IntN(60)
		level := uint8(rng.IntN(256))
		for y := y0; y < min(y1, h); y++ {
			for x := x0; x < min(x1, w); x++ {
				g.SetGray(x, y, color.Gray{Y: level})
			}
		}
	}
	return g
}

func blank(w, h int, level uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = level
	}
	return g
}

func TestHasArc(t *testing.T) {
	tests := []struct {
		name string
		mask uint32
		want bool
	}{
		{"empty", 0, false},
		{"nine contiguous", 0x01ff, true},
		{"eight contiguous", 0x00ff, false},
		{"wrapping nine", 0xf01f, true},
		{"nine scattered", 0x5555 | 0x0001<<1, false},
		{"full ring", 0xffff, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasArc(tt.mask))
		})
	}
}

func TestDetect_BlankPageHasNoKeypoints(t *testing.T) {
	d := NewDetector(DefaultOptions())

	set := d.Detect(blank(400, 300, 255))

	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.Keypoints)
}

func TestDetect_TinyImageHasNoKeypoints(t *testing.T) {
	d := NewDetector(DefaultOptions())

	set := d.Detect(shapes(1, 40, 40, 5))

	assert.Equal(t, 0, set.Len())
}

func TestDetect_TexturedImage(t *testing.T) {
	d := NewDetector(DefaultOptions())

	set := d.Detect(shapes(7, 500, 400, 60))

	require.Greater(t, set.Len(), 0)
	assert.Len(t, set.Keypoints, set.Len())
	assert.LessOrEqual(t, set.Len(), 2000)
	for _, kp := range set.Keypoints {
		assert.GreaterOrEqual(t, kp.X, 31)
		assert.GreaterOrEqual(t, kp.Y, 31)
		assert.Less(t, kp.X, 500-31)
		assert.Less(t, kp.Y, 400-31)
	}
}

func TestDetect_KeypointCap(t *testing.T) {
	d := NewDetector(Options{MaxKeypoints: 25})

	set := d.Detect(shapes(3, 600, 600, 200))

	assert.Equal(t, 25, set.Len())
	for i := 1; i < len(set.Keypoints); i++ {
		assert.GreaterOrEqual(t, set.Keypoints[i-1].Response, set.Keypoints[i].Response)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	img := shapes(11, 400, 400, 80)

	a := NewDetector(DefaultOptions()).Detect(img)
	b := NewDetector(DefaultOptions()).Detect(img)

	assert.Equal(t, a, b)
}

func TestDetect_ResizesLargeImages(t *testing.T) {
	d := NewDetector(Options{MaxDimension: 300})

	set := d.Detect(shapes(5, 900, 600, 120))

	assert.Equal(t, 300, set.Width)
	assert.Equal(t, 200, set.Height)
}

func TestToGray_ConvertsRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 20, 20))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	g := ToGray(src)

	assert.Equal(t, image.Rect(0, 0, 10, 10), g.Bounds())
	assert.Equal(t, uint8(255), g.GrayAt(0, 0).Y)
}

func TestWhiteRatio(t *testing.T) {
	g := blank(10, 10, 255)
	assert.Equal(t, 1.0, WhiteRatio(g, 240))

	for x := 0; x < 10; x++ {
		g.SetGray(x, 0, color.Gray{Y: 0})
	}
	assert.InDelta(t, 0.9, WhiteRatio(g, 240), 1e-9)
}

func TestPatternWithinExtent(t *testing.T) {
	for i, p := range pattern {
		for _, v := range []int{p.x1, p.y1, p.x2, p.y2} {
			assert.LessOrEqual(t, v, patternExtent, "pair %d", i)
			assert.GreaterOrEqual(t, v, -patternExtent, "pair %d", i)
		}
		assert.False(t, p.x1 == p.x2 && p.y1 == p.y2, "pair %d is degenerate", i)
	}
}
