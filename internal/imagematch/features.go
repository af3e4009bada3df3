package imagematch

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/rand"
	"os"
	"sort"

	"golang.org/x/image/draw"
)

const (
	// CanonicalSize is the edge length images are resized to before any
	// feature computation, so that features are comparable across photos
	// taken at different resolutions.
	CanonicalSize = 400

	// MaxKeypoints bounds the number of keypoint descriptors per image.
	MaxKeypoints = 2000

	// StructureSize is the edge length of the downsampled grayscale
	// structure signature (StructureSize² values).
	StructureSize = 64

	// ColorBins is the number of histogram bins per HSV channel. The
	// color histogram is a joint 3-channel histogram (ColorBins³ bins,
	// flattened), so two saturated colors with different hues share no
	// bins at all.
	ColorBins = 8

	// EdgeBins is the number of bins in the edge-magnitude histogram.
	EdgeBins = 64

	// fastThreshold is the minimum brightness difference for a circle
	// pixel to count as brighter/darker in the corner test.
	fastThreshold = 20

	// fastArc is the number of contiguous circle pixels required for a
	// corner.
	fastArc = 9

	descriptorBits = 256
)

// Descriptor is a 256-bit binary keypoint descriptor.
type Descriptor [4]uint64

// FeatureBundle holds every visual feature extracted from one image.
// All four fields are always set; a sub-feature that could not be
// computed is left empty rather than failing the extraction. Bundles are
// never modified after ExtractFeatures returns.
type FeatureBundle struct {
	Descriptors []Descriptor
	ColorHist   []float64
	Structure   []float64
	EdgeHist    []float64
}

// Empty reports whether no sub-feature was extracted at all.
func (b FeatureBundle) Empty() bool {
	return len(b.Descriptors) == 0 && len(b.ColorHist) == 0 &&
		len(b.Structure) == 0 && len(b.EdgeHist) == 0
}

// briefPattern is the fixed set of pixel-pair offsets sampled by the
// binary descriptor. Generated once with a constant seed so that
// extraction is deterministic across runs and processes.
var briefPattern [descriptorBits][4]int

func init() {
	rng := rand.New(rand.NewSource(0x5eed))
	for i := range briefPattern {
		for j := 0; j < 4; j++ {
			briefPattern[i][j] = rng.Intn(31) - 15
		}
	}
}

// DecodeImage decodes raw image bytes (JPEG, PNG or GIF).
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// LoadImage reads and decodes an image file from disk.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return DecodeImage(data)
}

// ExtractFeatures computes the full feature bundle for an image. It is a
// pure function of its input: no I/O, no shared state. Individual
// sub-features that cannot be computed (e.g. no corners in a flat image)
// come back empty and the rest of the bundle is still usable.
func ExtractFeatures(img image.Image) FeatureBundle {
	rgba := resizeRGBA(img, CanonicalSize, CanonicalSize)
	gray := toGray(rgba)

	return FeatureBundle{
		Descriptors: extractDescriptors(gray),
		ColorHist:   colorHistogram(rgba),
		Structure:   structureSignature(gray),
		EdgeHist:    edgeHistogram(gray),
	}
}

func resizeRGBA(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func toGray(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x, y, color.GrayModel.Convert(img.RGBAAt(x, y)).(color.Gray))
		}
	}
	return gray
}

// circleOffsets is the 16-pixel Bresenham circle of radius 3 used by the
// segment-test corner detector.
var circleOffsets = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

type keypoint struct {
	x, y  int
	score int
}

// detectCorners runs a FAST-style segment test over the interior of the
// image and returns corner candidates with their scores.
func detectCorners(gray *image.Gray) []keypoint {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	// Margin accommodates both the circle radius and the descriptor
	// sampling window.
	const margin = 16

	var corners []keypoint
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			center := int(gray.GrayAt(x, y).Y)
			var bright, dark uint16
			score := 0
			for i, off := range circleOffsets {
				p := int(gray.GrayAt(x+off[0], y+off[1]).Y)
				d := p - center
				if d > fastThreshold {
					bright |= 1 << i
					score += d
				} else if d < -fastThreshold {
					dark |= 1 << i
					score -= d
				}
			}
			if hasContiguousArc(bright) || hasContiguousArc(dark) {
				corners = append(corners, keypoint{x: x, y: y, score: score})
			}
		}
	}
	return corners
}

// hasContiguousArc reports whether the 16-bit circle mask contains a run
// of at least fastArc contiguous set bits, treating the mask as circular.
func hasContiguousArc(mask uint16) bool {
	if mask == 0 {
		return false
	}
	// Duplicate the mask so circular runs become linear runs.
	wide := uint32(mask) | uint32(mask)<<16
	run := 0
	for i := 0; i < 32; i++ {
		if wide&(1<<i) != 0 {
			run++
			if run >= fastArc {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// extractDescriptors detects corners and computes a binary descriptor for
// each, keeping at most MaxKeypoints of the strongest ones. Returns nil
// when the image has no detectable corners (flat/solid images).
func extractDescriptors(gray *image.Gray) []Descriptor {
	corners := detectCorners(gray)
	if len(corners) == 0 {
		return nil
	}

	sort.Slice(corners, func(i, j int) bool {
		if corners[i].score != corners[j].score {
			return corners[i].score > corners[j].score
		}
		// Stable order for equal scores keeps extraction deterministic.
		if corners[i].y != corners[j].y {
			return corners[i].y < corners[j].y
		}
		return corners[i].x < corners[j].x
	})
	if len(corners) > MaxKeypoints {
		corners = corners[:MaxKeypoints]
	}

	smoothed := boxBlur(gray)
	descriptors := make([]Descriptor, len(corners))
	for i, kp := range corners {
		descriptors[i] = describe(smoothed, kp.x, kp.y)
	}
	return descriptors
}

// describe samples the fixed pattern of pixel pairs around a keypoint and
// packs the comparisons into a 256-bit descriptor.
func describe(gray *image.Gray, x, y int) Descriptor {
	var d Descriptor
	for i, p := range briefPattern {
		a := gray.GrayAt(x+p[0], y+p[1]).Y
		b := gray.GrayAt(x+p[2], y+p[3]).Y
		if a < b {
			d[i/64] |= 1 << (i % 64)
		}
	}
	return d
}

// boxBlur applies a 3x3 mean filter. Descriptor comparisons on raw pixels
// are too sensitive to sensor noise.
func boxBlur(gray *image.Gray) *image.Gray {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					sum += int(gray.GrayAt(nx, ny).Y)
					n++
				}
			}
			out.SetGray(x, y, color.Gray{Y: uint8(sum / n)})
		}
	}
	return out
}

// colorHistogram builds a flattened joint hue/saturation/value histogram.
func colorHistogram(img *image.RGBA) []float64 {
	hist := make([]float64, ColorBins*ColorBins*ColorBins)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			hue, sat, val := rgbToHSV(c.R, c.G, c.B)
			i := histBin(hue/360, ColorBins)*ColorBins*ColorBins +
				histBin(sat, ColorBins)*ColorBins +
				histBin(val, ColorBins)
			hist[i]++
		}
	}
	return hist
}

func histBin(v float64, bins int) int {
	i := int(v * float64(bins))
	if i >= bins {
		i = bins - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// rgbToHSV converts 8-bit RGB to hue [0,360), saturation [0,1], value [0,1].
func rgbToHSV(r, g, b uint8) (float64, float64, float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case max == rf:
		hue = 60 * math.Mod((gf-bf)/delta, 6)
	case max == gf:
		hue = 60 * ((bf-rf)/delta + 2)
	default:
		hue = 60 * ((rf-gf)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}

	sat := 0.0
	if max > 0 {
		sat = delta / max
	}
	return hue, sat, max
}

// structureSignature downsamples the grayscale image to
// StructureSize×StructureSize and flattens it, giving a cheap global
// shape proxy.
func structureSignature(gray *image.Gray) []float64 {
	small := image.NewGray(image.Rect(0, 0, StructureSize, StructureSize))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	sig := make([]float64, StructureSize*StructureSize)
	for y := 0; y < StructureSize; y++ {
		for x := 0; x < StructureSize; x++ {
			sig[y*StructureSize+x] = float64(small.GrayAt(x, y).Y)
		}
	}
	return sig
}

// edgeHistogram computes Sobel gradient magnitudes and bins them into
// EdgeBins buckets. Flat images land entirely in the first bucket.
func edgeHistogram(gray *image.Gray) []float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	hist := make([]float64, EdgeBins)

	// Maximum possible Sobel magnitude for 8-bit input.
	maxMag := math.Hypot(4*255, 4*255)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -int(gray.GrayAt(x-1, y-1).Y) + int(gray.GrayAt(x+1, y-1).Y) +
				-2*int(gray.GrayAt(x-1, y).Y) + 2*int(gray.GrayAt(x+1, y).Y) +
				-int(gray.GrayAt(x-1, y+1).Y) + int(gray.GrayAt(x+1, y+1).Y)
			gy := -int(gray.GrayAt(x-1, y-1).Y) - 2*int(gray.GrayAt(x, y-1).Y) - int(gray.GrayAt(x+1, y-1).Y) +
				int(gray.GrayAt(x-1, y+1).Y) + 2*int(gray.GrayAt(x, y+1).Y) + int(gray.GrayAt(x+1, y+1).Y)
			mag := math.Hypot(float64(gx), float64(gy))
			hist[histBin(mag/maxMag, EdgeBins)]++
		}
	}
	return hist
}
