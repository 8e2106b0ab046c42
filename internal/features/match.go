package features

import "math/bits"

// DefaultMatchDistance is the Hamming distance below which a cross-checked
// match counts as a quality match.
const DefaultMatchDistance = 50

// Match pairs a query descriptor with its mutual nearest train descriptor.
type Match struct {
	Query    int
	Train    int
	Distance int
}

// Hamming returns the number of differing bits between two descriptors.
func Hamming(a, b Descriptor) int {
	n := 0
	for i := range a {
		n += bits.OnesCount64(a[i] ^ b[i])
	}
	return n
}

// CrossCheckMatch brute-force matches query against train and keeps only
// pairs that are each other's nearest neighbour. Ties resolve to the lowest
// index so the result is deterministic.
func CrossCheckMatch(query, train []Descriptor) []Match {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}

	bestTrain := make([]int, len(query))
	bestTrainDist := make([]int, len(query))
	bestQuery := make([]int, len(train))
	bestQueryDist := make([]int, len(train))
	for j := range bestQueryDist {
		bestQueryDist[j] = descriptorBits + 1
	}

	for i, q := range query {
		bestTrainDist[i] = descriptorBits + 1
		for j, t := range train {
			d := Hamming(q, t)
			if d < bestTrainDist[i] {
				bestTrainDist[i] = d
				bestTrain[i] = j
			}
			if d < bestQueryDist[j] {
				bestQueryDist[j] = d
				bestQuery[j] = i
			}
		}
	}

	matches := make([]Match, 0, min(len(query), len(train)))
	for i, j := range bestTrain {
		if bestQuery[j] == i {
			matches = append(matches, Match{Query: i, Train: j, Distance: bestTrainDist[i]})
		}
	}
	return matches
}

// CountGood counts matches with distance strictly below maxDistance.
func CountGood(matches []Match, maxDistance int) int {
	n := 0
	for _, m := range matches {
		if m.Distance < maxDistance {
			n++
		}
	}
	return n
}

// Similarity is the number of quality matches between page and exemplar
// divided by the exemplar's keypoint count. It is zero when either side has
// no descriptors and is not capped at 1.
func Similarity(page, exemplar DescriptorSet, maxDistance int) float64 {
	if page.Len() == 0 || exemplar.Len() == 0 {
		return 0
	}
	good := CountGood(CrossCheckMatch(page.Descriptors, exemplar.Descriptors), maxDistance)
	return float64(good) / float64(len(exemplar.Keypoints))
}
