// Package features implements ORB-style keypoint detection and binary
// descriptor matching over grayscale page images.
//
// Keypoints are FAST-9 corners ranked by Harris response, oriented by
// intensity centroid, and described with steered BRIEF tests drawn from a
// fixed seeded pattern so descriptors are comparable across processes.
package features

import (
	"image"
	"math"
	"math/rand/v2"
	"sort"
)

const (
	descriptorBits = 256
	patchRadius    = 15
	patternExtent  = 13
	harrisBlock    = 7
	blurRadius     = 2
)

// Descriptor is a 256-bit binary descriptor.
type Descriptor [descriptorBits / 64]uint64

// Keypoint is a detected corner with its orientation in radians.
type Keypoint struct {
	X, Y     int
	Angle    float64
	Response float64
}

// DescriptorSet holds keypoints and their descriptors, index aligned.
type DescriptorSet struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
	Width       int
	Height      int
}

// Len returns the number of described keypoints.
func (s DescriptorSet) Len() int {
	return len(s.Descriptors)
}

// Options tunes keypoint detection.
type Options struct {
	MaxKeypoints  int
	FastThreshold int
	Border        int
	HarrisK       float64
	MaxDimension  int // longer image side is capped to this before detection
	BlurSigma     float64
}

// DefaultOptions returns the calibrated detection settings.
func DefaultOptions() Options {
	return Options{
		MaxKeypoints:  2000,
		FastThreshold: 20,
		Border:        31,
		HarrisK:       0.04,
		MaxDimension:  1600,
		BlurSigma:     2,
	}
}

// Detector computes descriptor sets. It holds no mutable state and is safe
// for concurrent use.
type Detector struct {
	opts Options
}

// NewDetector creates a detector, filling zero options with defaults.
func NewDetector(opts Options) *Detector {
	def := DefaultOptions()
	if opts.MaxKeypoints <= 0 {
		opts.MaxKeypoints = def.MaxKeypoints
	}
	if opts.FastThreshold <= 0 {
		opts.FastThreshold = def.FastThreshold
	}
	if opts.Border < patchRadius+harrisBlock {
		opts.Border = def.Border
	}
	if opts.HarrisK <= 0 {
		opts.HarrisK = def.HarrisK
	}
	if opts.BlurSigma <= 0 {
		opts.BlurSigma = def.BlurSigma
	}
	return &Detector{opts: opts}
}

// Options returns the effective detection settings.
func (d *Detector) Options() Options {
	return d.opts
}

// Detect converts img to grayscale, bounds its size and describes it.
func (d *Detector) Detect(img image.Image) DescriptorSet {
	return d.DetectGray(Resize(ToGray(img), d.opts.MaxDimension))
}

// DetectGray describes a zero-origin grayscale image as is. Images with no
// usable texture yield an empty set.
func (d *Detector) DetectGray(g *image.Gray) DescriptorSet {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	set := DescriptorSet{Width: w, Height: h}

	corners := detectFAST(g, d.opts.FastThreshold, d.opts.Border)
	if len(corners) == 0 {
		return set
	}

	scores := make([]float64, len(corners))
	for i, p := range corners {
		scores[i] = harrisResponse(g, p.X, p.Y, harrisBlock, d.opts.HarrisK)
	}

	kept := suppressNonMax(w, h, corners, scores)
	sort.SliceStable(kept, func(a, b int) bool {
		ia, ib := kept[a], kept[b]
		if scores[ia] != scores[ib] {
			return scores[ia] > scores[ib]
		}
		if corners[ia].Y != corners[ib].Y {
			return corners[ia].Y < corners[ib].Y
		}
		return corners[ia].X < corners[ib].X
	})
	if len(kept) > d.opts.MaxKeypoints {
		kept = kept[:d.opts.MaxKeypoints]
	}

	smooth := gaussianBlur(g, blurRadius, d.opts.BlurSigma)

	set.Keypoints = make([]Keypoint, 0, len(kept))
	set.Descriptors = make([]Descriptor, 0, len(kept))
	for _, i := range kept {
		p := corners[i]
		kp := Keypoint{
			X:        p.X,
			Y:        p.Y,
			Angle:    orientation(g, p.X, p.Y),
			Response: scores[i],
		}
		set.Keypoints = append(set.Keypoints, kp)
		set.Descriptors = append(set.Descriptors, describe(smooth, kp))
	}

	return set
}

// rowExtent[dy+patchRadius] is the half width of the circular patch at dy.
var rowExtent = func() [2*patchRadius + 1]int {
	var ext [2*patchRadius + 1]int
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		ext[dy+patchRadius] = int(math.Sqrt(float64(patchRadius*patchRadius - dy*dy)))
	}
	return ext
}()

// orientation returns the angle of the intensity centroid of the circular
// patch around (x, y).
func orientation(g *image.Gray, x, y int) float64 {
	var m01, m10 float64
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		row := (y + dy) * g.Stride
		ext := rowExtent[dy+patchRadius]
		for dx := -ext; dx <= ext; dx++ {
			v := float64(g.Pix[row+x+dx])
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

type testPair struct {
	x1, y1, x2, y2 int
}

// pattern is the fixed BRIEF test layout. The seed must never change:
// stored reference descriptors depend on it.
var pattern = func() [descriptorBits]testPair {
	rng := rand.New(rand.NewPCG(0x0b5eed, 0x0b5eed<<1))
	sigma := float64(2*patchRadius+1) / 5

	sample := func() int {
		v := int(math.Round(rng.NormFloat64() * sigma))
		return clamp(v, -patternExtent, patternExtent)
	}

	var p [descriptorBits]testPair
	for i := range p {
		for {
			t := testPair{sample(), sample(), sample(), sample()}
			if t.x1 != t.x2 || t.y1 != t.y2 {
				p[i] = t
				break
			}
		}
	}
	return p
}()

// describe evaluates the steered BRIEF tests on the smoothed image.
func describe(smooth *image.Gray, kp Keypoint) Descriptor {
	cosA, sinA := math.Cos(kp.Angle), math.Sin(kp.Angle)
	at := func(px, py int) uint8 {
		rx := int(math.Round(float64(px)*cosA - float64(py)*sinA))
		ry := int(math.Round(float64(px)*sinA + float64(py)*cosA))
		return smooth.Pix[(kp.Y+ry)*smooth.Stride+kp.X+rx]
	}

	var d Descriptor
	for i, t := range pattern {
		if at(t.x1, t.y1) < at(t.x2, t.y2) {
			d[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return d
}
