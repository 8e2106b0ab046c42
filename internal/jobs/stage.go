package jobs

import "math"

// Stage names a pipeline phase. Each stage owns a disjoint band of the
// 0..100 progress range.
type Stage string

const (
	StagePersist         Stage = "persist"
	StageAnalyze         Stage = "analyze"
	StageSeparate        Stage = "separate"
	StageExtractText     Stage = "extract_text"
	StageExtractDiagrams Stage = "extract_diagrams"
	StageCombine         Stage = "combine"
	StageFinalize        Stage = "finalize"
)

// Band is the inclusive progress range owned by a stage.
type Band struct {
	Min int
	Max int
}

var bands = map[Stage]Band{
	StagePersist:         {0, 5},
	StageAnalyze:         {5, 15},
	StageSeparate:        {15, 35},
	StageExtractText:     {35, 65},
	StageExtractDiagrams: {65, 85},
	StageCombine:         {85, 95},
	StageFinalize:        {95, 100},
}

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{
		StagePersist, StageAnalyze, StageSeparate, StageExtractText,
		StageExtractDiagrams, StageCombine, StageFinalize,
	}
}

// BandOf returns the progress band of s. Unknown stages map to {0, 0}.
func BandOf(s Stage) Band {
	return bands[s]
}

// ProgressFor maps a fraction of work within stage to overall progress,
// rounded down. sub is clamped to [0, 1].
func ProgressFor(stage Stage, sub float64) int {
	b, ok := bands[stage]
	if !ok {
		return 0
	}
	if math.IsNaN(sub) || sub < 0 {
		sub = 0
	}
	if sub > 1 {
		sub = 1
	}
	return b.Min + int(math.Floor(float64(b.Max-b.Min)*sub))
}

// Fraction returns done/total, or 1 when total is zero.
func Fraction(done, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(done) / float64(total)
}
