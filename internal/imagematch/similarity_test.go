package imagematch

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// texturedImage draws white blobs on a black background at positions
// derived from off, so different offsets give different-looking images.
func texturedImage(off int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, CanonicalSize, CanonicalSize))
	for i := 0; i < 40; i++ {
		cx := 40 + (off*53+i*89)%320
		cy := 40 + (off*97+i*71)%320
		for dy := 0; dy < 7; dy++ {
			for dx := 0; dx < 7; dx++ {
				img.SetRGBA(cx+dx, cy+dy, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return img
}

var (
	red  = color.RGBA{255, 0, 0, 255}
	blue = color.RGBA{0, 0, 255, 255}
)

func TestExtractFeaturesSolid(t *testing.T) {
	bundle := ExtractFeatures(solidImage(red))

	assert.Empty(t, bundle.Descriptors, "solid image should have no keypoints")
	assert.Len(t, bundle.ColorHist, ColorBins*ColorBins*ColorBins)
	assert.Len(t, bundle.Structure, StructureSize*StructureSize)
	assert.Len(t, bundle.EdgeHist, EdgeBins)
	assert.False(t, bundle.Empty())
}

func TestExtractFeaturesTextured(t *testing.T) {
	bundle := ExtractFeatures(texturedImage(1))

	assert.NotEmpty(t, bundle.Descriptors, "textured image should yield keypoints")
	assert.LessOrEqual(t, len(bundle.Descriptors), MaxKeypoints)
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	img := texturedImage(3)
	a := ExtractFeatures(img)
	b := ExtractFeatures(img)

	assert.Equal(t, a, b)
}

func TestSimilaritySelfMatch(t *testing.T) {
	bundle := ExtractFeatures(texturedImage(2))
	score := Similarity(bundle, bundle, DefaultWeights)

	assert.GreaterOrEqual(t, score, 0.9)
	assert.LessOrEqual(t, score, 1.0)
}

func TestSimilarityIdenticalSolids(t *testing.T) {
	a := ExtractFeatures(solidImage(red))
	b := ExtractFeatures(solidImage(red))

	assert.GreaterOrEqual(t, Similarity(a, b, DefaultWeights), 0.9)
}

func TestSimilarityDifferentSolids(t *testing.T) {
	a := ExtractFeatures(solidImage(red))
	b := ExtractFeatures(solidImage(blue))

	assert.Less(t, Similarity(a, b, DefaultWeights), 0.3)
}

func TestSimilaritySymmetric(t *testing.T) {
	a := ExtractFeatures(texturedImage(1))
	b := ExtractFeatures(texturedImage(5))

	assert.InDelta(t, Similarity(a, b, DefaultWeights), Similarity(b, a, DefaultWeights), 1e-9)
}

func TestSimilarityBounds(t *testing.T) {
	bundles := []FeatureBundle{
		ExtractFeatures(solidImage(red)),
		ExtractFeatures(solidImage(blue)),
		ExtractFeatures(texturedImage(1)),
		ExtractFeatures(texturedImage(7)),
		{},
	}
	for i, a := range bundles {
		for j, b := range bundles {
			score := Similarity(a, b, DefaultWeights)
			assert.GreaterOrEqual(t, score, 0.0, "bundles %d vs %d", i, j)
			assert.LessOrEqual(t, score, 1.0, "bundles %d vs %d", i, j)
		}
	}
}

func TestSimilarityEmptyBundles(t *testing.T) {
	assert.Zero(t, Similarity(FeatureBundle{}, FeatureBundle{}, DefaultWeights))
}

func TestFlooredCorrelation(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, 1},
		{"anticorrelated floors to zero", []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}, 0},
		{"length mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, flooredCorrelation(tt.a, tt.b), 1e-9)
		})
	}
}

func TestStructureSimilarityFlatImages(t *testing.T) {
	flat := func(v float64) []float64 {
		sig := make([]float64, StructureSize*StructureSize)
		for i := range sig {
			sig[i] = v
		}
		return sig
	}
	textured := ExtractFeatures(texturedImage(1)).Structure
	require.NotEmpty(t, textured)

	assert.Equal(t, 1.0, structureSimilarity(flat(76), flat(76)))
	assert.Equal(t, 0.0, structureSimilarity(flat(76), flat(29)))
	assert.Equal(t, 0.0, structureSimilarity(flat(76), textured))
}

func TestKeypointSimilarityAsymmetricSetsBounded(t *testing.T) {
	// Repetitive textures yield many near-identical descriptors on one
	// side: every descriptor in the large set matches the small set, so
	// the raw two-way average exceeds the smaller set size.
	small := []Descriptor{{1, 0, 0, 0}, {2, 0, 0, 0}}
	large := make([]Descriptor, 40)
	for i := range large {
		large[i] = Descriptor{1, 0, 0, 0}
	}

	score := keypointSimilarity(large, small)
	assert.LessOrEqual(t, score, 1.0)
	assert.Equal(t, 1.0, score)
	assert.InDelta(t, score, keypointSimilarity(small, large), 1e-9)
}

func TestSimilarityAsymmetricKeypointsNotCertainMatch(t *testing.T) {
	// A huge one-sided descriptor overlap must not drown out color and
	// edge histograms that flatly disagree.
	small := []Descriptor{{1, 0, 0, 0}, {2, 0, 0, 0}}
	large := make([]Descriptor, 40)
	for i := range large {
		large[i] = Descriptor{1, 0, 0, 0}
	}

	a := FeatureBundle{
		Descriptors: large,
		ColorHist:   []float64{100, 0, 0, 0},
		EdgeHist:    []float64{100, 0, 0, 0},
	}
	b := FeatureBundle{
		Descriptors: small,
		ColorHist:   []float64{0, 0, 0, 100},
		EdgeHist:    []float64{0, 0, 0, 100},
	}

	// Keypoints clamp to 1, color/edge floor to 0, structure is absent:
	// 1*0.4 / (0.4+0.3+0.1) = 0.5, below the default 0.7 threshold.
	assert.InDelta(t, 0.5, Similarity(a, b, DefaultWeights), 1e-9)
}

func TestKeypointSimilarityEmptySets(t *testing.T) {
	d := []Descriptor{{1, 2, 3, 4}}

	assert.Zero(t, keypointSimilarity(nil, nil))
	assert.Zero(t, keypointSimilarity(d, nil))
	assert.Zero(t, keypointSimilarity(nil, d))
}

func TestHamming(t *testing.T) {
	assert.Equal(t, 0, hamming(Descriptor{1, 2, 3, 4}, Descriptor{1, 2, 3, 4}))
	assert.Equal(t, 2, hamming(Descriptor{0, 0, 0, 0}, Descriptor{1, 1, 0, 0}))
	assert.Equal(t, 256, hamming(Descriptor{0, 0, 0, 0}, Descriptor{^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)}))
}
