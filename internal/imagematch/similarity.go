package imagematch

import (
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat"
)

// Weights controls how much each sub-feature contributes to the fused
// similarity score. Weights for sub-features missing from both bundles
// are redistributed over the rest.
type Weights struct {
	Keypoints float64
	Color     float64
	Structure float64
	Edges     float64
}

// DefaultWeights is the fusion weighting used when the caller does not
// override it.
var DefaultWeights = Weights{
	Keypoints: 0.4,
	Color:     0.3,
	Structure: 0.2,
	Edges:     0.1,
}

const (
	// hammingCutoff is the maximum Hamming distance (out of
	// descriptorBits) for two keypoint descriptors to count as a match.
	hammingCutoff = 64

	// agreementBonus is applied when at least two sub-features agree
	// strongly, i.e. score above agreementLevel.
	agreementBonus = 1.1
	agreementLevel = 0.5

	// flatVariance is the pixel variance below which a structure
	// signature is treated as flat.
	flatVariance = 1.0

	// flatMeanTolerance is the maximum mean brightness difference for
	// two flat images to be considered the same.
	flatMeanTolerance = 8.0
)

// Similarity fuses the per-feature similarity scores of two bundles into
// a single score in [0, 1]. Sub-features present in neither bundle are
// excluded and the remaining weights renormalized; comparing two empty
// bundles yields 0.
func Similarity(a, b FeatureBundle, w Weights) float64 {
	signals := []struct {
		score   float64
		weight  float64
		present bool
	}{
		{
			score:   keypointSimilarity(a.Descriptors, b.Descriptors),
			weight:  w.Keypoints,
			present: len(a.Descriptors) > 0 || len(b.Descriptors) > 0,
		},
		{
			score:   flooredCorrelation(a.ColorHist, b.ColorHist),
			weight:  w.Color,
			present: len(a.ColorHist) > 0 || len(b.ColorHist) > 0,
		},
		{
			score:   structureSimilarity(a.Structure, b.Structure),
			weight:  w.Structure,
			present: len(a.Structure) > 0 || len(b.Structure) > 0,
		},
		{
			score:   flooredCorrelation(a.EdgeHist, b.EdgeHist),
			weight:  w.Edges,
			present: len(a.EdgeHist) > 0 || len(b.EdgeHist) > 0,
		},
	}

	var total, weightSum float64
	strong := 0
	for _, s := range signals {
		if !s.present {
			continue
		}
		total += s.score * s.weight
		weightSum += s.weight
		if s.score > agreementLevel {
			strong++
		}
	}
	if weightSum == 0 {
		return 0
	}
	total /= weightSum

	if strong >= 2 {
		total *= agreementBonus
	}
	return math.Min(total, 1.0)
}

// keypointSimilarity matches descriptors in both directions and averages
// the two match counts against the smaller set size, keeping the score
// symmetric. When the sets differ in size the larger side can contribute
// more matches than the smaller set has descriptors, so the ratio is
// clamped to 1.
func keypointSimilarity(a, b []Descriptor) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ab := oneWayMatches(a, b)
	ba := oneWayMatches(b, a)
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	return math.Min((float64(ab)+float64(ba))/2/float64(minLen), 1.0)
}

// oneWayMatches counts descriptors in a whose nearest neighbour in b is
// within the Hamming cutoff.
func oneWayMatches(a, b []Descriptor) int {
	matches := 0
	for _, da := range a {
		best := descriptorBits + 1
		for _, db := range b {
			if d := hamming(da, db); d < best {
				best = d
			}
		}
		if best <= hammingCutoff {
			matches++
		}
	}
	return matches
}

func hamming(a, b Descriptor) int {
	return bits.OnesCount64(a[0]^b[0]) +
		bits.OnesCount64(a[1]^b[1]) +
		bits.OnesCount64(a[2]^b[2]) +
		bits.OnesCount64(a[3]^b[3])
}

// flooredCorrelation is the Pearson correlation floored at zero, so two
// dissimilar histograms score 0 rather than negative.
func flooredCorrelation(a, b []float64) float64 {
	c := correlation(a, b)
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	return c
}

// structureSimilarity compares two structure signatures. Flat images
// (near-zero variance) carry no spatial information, so they are compared
// by mean brightness instead of correlation; a flat image never matches a
// textured one.
func structureSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	meanA, varA := meanVariance(a)
	meanB, varB := meanVariance(b)
	flatA := varA < flatVariance
	flatB := varB < flatVariance

	switch {
	case flatA && flatB:
		if math.Abs(meanA-meanB) <= flatMeanTolerance {
			return 1
		}
		return 0
	case flatA || flatB:
		return 0
	}
	return flooredCorrelation(a, b)
}

func correlation(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	return stat.Correlation(a, b, nil)
}

func meanVariance(v []float64) (float64, float64) {
	mean, variance := stat.MeanVariance(v, nil)
	return mean, variance
}
