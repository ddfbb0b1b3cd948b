package imaging

import (
	"fmt"
	"image"
	"math"
)

// Feature extraction used by the classification pipeline.
//
// Extracted features (in vector order):
//  1. Mean luminance - overall brightness of the region
//  2. Luminance contrast - standard deviation of luminance
//  3. Mean saturation - how colorful the region is
//  4. Saturation spread - standard deviation of saturation
//  5-10. Hue fractions - share of saturated pixels in six hue bands
//     (red, yellow, green, cyan, blue, magenta)
//  11. White fraction - bright low-saturation pixels (pill bodies, labels)
//  12. Dark fraction - near-black pixels (shadows, print)
//  13. Edge density - share of sample points with a strong gradient
//  14. Horizontal edge ratio - share of edges from horizontal strokes,
//     a proxy for printed text rows
//  15. Texture energy - mean local luminance deviation
//  16. Color entropy - diversity of the hue distribution
//  17. Skin fraction - pixels matching a skin-tone rule (faces, hands)
//  18. Foreground fill - how solidly the foreground object fills its
//     bounding box (round objects ~0.78, boxes ~1.0)
//  19. Center contrast - luminance difference between the center and the
//     border ring (centered subjects score high)
//  20. Aspect ratio - region width over height, clamped and scaled
//
// All features are bounded to [0,1] so cosine comparisons are not dominated
// by any single dimension.

// FeatureVectorSize is the length of vectors produced by this package.
const FeatureVectorSize = 20

const (
	maxSamplesPerSide = 96
	edgeThreshold     = 0.10
	foregroundDist    = 0.18
)

// FeatureNames returns human-readable names for each vector position.
func FeatureNames() []string {
	return []string{
		"Mean Luminance",
		"Luminance Contrast",
		"Mean Saturation",
		"Saturation Spread",
		"Hue Fraction (Red)",
		"Hue Fraction (Yellow)",
		"Hue Fraction (Green)",
		"Hue Fraction (Cyan)",
		"Hue Fraction (Blue)",
		"Hue Fraction (Magenta)",
		"White Fraction",
		"Dark Fraction",
		"Edge Density",
		"Horizontal Edge Ratio",
		"Texture Energy",
		"Color Entropy",
		"Skin Fraction",
		"Foreground Fill",
		"Center Contrast",
		"Aspect Ratio",
	}
}

// regionStats holds the aggregates of one sampling pass over a region. The
// feature vector, appearance summary, and quality report all derive from it.
type regionStats struct {
	region  image.Rectangle
	samples int

	meanLum float64
	lumStd  float64
	meanSat float64
	satStd  float64

	hueFractions  [6]float64
	whiteFraction float64
	darkFraction  float64
	skinFraction  float64

	edgeDensity       float64
	horizEdgeRatio    float64
	centerEdgeDensity float64
	gradientMean      float64
	textureEnergy     float64
	colorEntropy      float64

	foregroundFill    float64
	foregroundFrac    float64
	foregroundAspect  float64
	foregroundSamples int
	centerContrast    float64
	aspect            float64

	colorCounts   map[string]int
	fgColorCounts map[string]int
}

// ExtractFeatureVector computes the full-image feature vector.
func ExtractFeatureVector(img image.Image) ([]float64, error) {
	return AppendRegionVector(nil, img, img.Bounds())
}

// AppendRegionVector computes the feature vector for one region of img,
// appending into dst (which may be nil or a pooled buffer) and returning the
// filled slice.
func AppendRegionVector(dst []float64, img image.Image, region image.Rectangle) ([]float64, error) {
	st, err := computeRegionStats(img, region)
	if err != nil {
		return nil, err
	}
	dst = dst[:0]
	dst = append(dst,
		clamp01(st.meanLum),
		clamp01(st.lumStd*2),
		clamp01(st.meanSat),
		clamp01(st.satStd*2),
		clamp01(st.hueFractions[0]),
		clamp01(st.hueFractions[1]),
		clamp01(st.hueFractions[2]),
		clamp01(st.hueFractions[3]),
		clamp01(st.hueFractions[4]),
		clamp01(st.hueFractions[5]),
		clamp01(st.whiteFraction),
		clamp01(st.darkFraction),
		clamp01(st.edgeDensity),
		clamp01(st.horizEdgeRatio),
		clamp01(st.textureEnergy*4),
		clamp01(st.colorEntropy),
		clamp01(st.skinFraction),
		clamp01(st.foregroundFill),
		clamp01(st.centerContrast*2),
		clamp01(st.aspect/3),
	)
	return dst, nil
}

func computeRegionStats(img image.Image, region image.Rectangle) (*regionStats, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("empty region %v", region)
	}

	stepX := region.Dx() / maxSamplesPerSide
	if stepX < 1 {
		stepX = 1
	}
	stepY := region.Dy() / maxSamplesPerSide
	if stepY < 1 {
		stepY = 1
	}
	gw := (region.Dx() + stepX - 1) / stepX
	gh := (region.Dy() + stepY - 1) / stepY
	if gw < 2 || gh < 2 {
		return nil, fmt.Errorf("region %v too small to sample", region)
	}

	lums := make([]float64, gw*gh)
	reds := make([]float64, gw*gh)
	greens := make([]float64, gw*gh)
	blues := make([]float64, gw*gh)

	for gy := 0; gy < gh; gy++ {
		srcY := region.Min.Y + gy*stepY
		for gx := 0; gx < gw; gx++ {
			srcX := region.Min.X + gx*stepX
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			i := gy*gw + gx
			reds[i] = float64(r) / 65535.0
			greens[i] = float64(g) / 65535.0
			blues[i] = float64(b) / 65535.0
			lums[i] = 0.299*reds[i] + 0.587*greens[i] + 0.114*blues[i]
		}
	}

	st := &regionStats{
		region:      region,
		samples:     gw * gh,
		aspect:      float64(region.Dx()) / float64(region.Dy()),
		colorCounts: make(map[string]int),
	}

	borderR, borderG, borderB, borderLum := borderMeans(reds, greens, blues, lums, gw, gh)

	var (
		lumSum, lumSq     float64
		satSum, satSq     float64
		satCount          int
		hueCounts         [6]int
		whites, darks     int
		skins             int
		fgCount           int
		fgMinX, fgMinY    = gw, gh
		fgMaxX, fgMaxY    = -1, -1
		centerLumSum      float64
		centerCount       int
	)

	cx0, cx1 := gw/3, gw*2/3
	cy0, cy1 := gh/3, gh*2/3

	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			i := gy*gw + gx
			r, g, b, lum := reds[i], greens[i], blues[i], lums[i]

			lumSum += lum
			lumSq += lum * lum

			sat := saturation(r, g, b)
			satSum += sat
			satSq += sat * sat

			if sat >= 0.2 && lum > 0.12 && lum < 0.95 {
				hueCounts[hueBin(r, g, b)]++
				satCount++
			}
			if lum > 0.75 && sat < 0.3 {
				whites++
			}
			if lum < 0.15 {
				darks++
			}
			if isSkinTone(r, g, b) {
				skins++
			}
			st.colorCounts[colorBucket(r, g, b, lum, sat)]++

			if colorDistance(r, g, b, borderR, borderG, borderB) > foregroundDist {
				fgCount++
				if gx < fgMinX {
					fgMinX = gx
				}
				if gx > fgMaxX {
					fgMaxX = gx
				}
				if gy < fgMinY {
					fgMinY = gy
				}
				if gy > fgMaxY {
					fgMaxY = gy
				}
			}
			if gx >= cx0 && gx < cx1 && gy >= cy0 && gy < cy1 {
				centerLumSum += lum
				centerCount++
			}
		}
	}

	n := float64(st.samples)
	st.meanLum = lumSum / n
	st.lumStd = math.Sqrt(math.Max(0, lumSq/n-st.meanLum*st.meanLum))
	st.meanSat = satSum / n
	st.satStd = math.Sqrt(math.Max(0, satSq/n-st.meanSat*st.meanSat))
	st.whiteFraction = float64(whites) / n
	st.darkFraction = float64(darks) / n
	st.skinFraction = float64(skins) / n
	if satCount > 0 {
		for i, c := range hueCounts {
			st.hueFractions[i] = float64(c) / float64(satCount)
		}
		st.colorEntropy = hueEntropy(st.hueFractions)
	}

	st.foregroundFrac = float64(fgCount) / n
	if fgCount > 0 && fgMaxX >= fgMinX && fgMaxY >= fgMinY {
		boxW := fgMaxX - fgMinX + 1
		boxH := fgMaxY - fgMinY + 1
		st.foregroundFill = float64(fgCount) / float64(boxW*boxH)
		st.foregroundAspect = (float64(boxW) * float64(stepX)) / (float64(boxH) * float64(stepY))
	}
	if centerCount > 0 {
		st.centerContrast = math.Abs(centerLumSum/float64(centerCount) - borderLum)
	}

	computeGradients(st, lums, gw, gh, cx0, cx1, cy0, cy1)
	return st, nil
}

// computeGradients fills edge density, horizontal edge ratio, center edge
// density, gradient mean, and texture energy from the sampled luminance grid.
func computeGradients(st *regionStats, lums []float64, gw, gh, cx0, cx1, cy0, cy1 int) {
	var (
		edges, horiz       int
		centerEdges        int
		centerCells        int
		gradSum            float64
		textureSum         float64
		cells, textureN    int
	)
	for gy := 0; gy < gh-1; gy++ {
		for gx := 0; gx < gw-1; gx++ {
			i := gy*gw + gx
			dx := math.Abs(lums[i] - lums[i+1])
			dy := math.Abs(lums[i] - lums[i+gw])
			mag := dx + dy
			gradSum += mag
			cells++

			inCenter := gx >= cx0 && gx < cx1 && gy >= cy0 && gy < cy1
			if inCenter {
				centerCells++
			}
			if mag > edgeThreshold {
				edges++
				if dy > dx*1.2 {
					horiz++
				}
				if inCenter {
					centerEdges++
				}
			}

			if gx > 0 && gy > 0 {
				avg := (lums[i-1] + lums[i+1] + lums[i-gw] + lums[i+gw]) / 4
				textureSum += math.Abs(lums[i] - avg)
				textureN++
			}
		}
	}
	if cells > 0 {
		st.edgeDensity = float64(edges) / float64(cells)
		st.gradientMean = gradSum / float64(cells)
	}
	if edges > 0 {
		st.horizEdgeRatio = float64(horiz) / float64(edges)
	}
	if centerCells > 0 {
		st.centerEdgeDensity = float64(centerEdges) / float64(centerCells)
	}
	if textureN > 0 {
		st.textureEnergy = textureSum / float64(textureN)
	}
}

func borderMeans(reds, greens, blues, lums []float64, gw, gh int) (r, g, b, lum float64) {
	var count int
	add := func(i int) {
		r += reds[i]
		g += greens[i]
		b += blues[i]
		lum += lums[i]
		count++
	}
	for gx := 0; gx < gw; gx++ {
		add(gx)
		add((gh-1)*gw + gx)
	}
	for gy := 1; gy < gh-1; gy++ {
		add(gy * gw)
		add(gy*gw + gw - 1)
	}
	if count == 0 {
		return 0, 0, 0, 0
	}
	n := float64(count)
	return r / n, g / n, b / n, lum / n
}

func saturation(r, g, b float64) float64 {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	if maxC <= 0 {
		return 0
	}
	return (maxC - minC) / maxC
}

// hue returns the HSV hue angle in degrees [0,360).
func hue(r, g, b float64) float64 {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC
	if delta < 1e-9 {
		return 0
	}
	var h float64
	switch maxC {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h
}

// hueBin maps a color to one of six 60-degree hue bands starting at red.
func hueBin(r, g, b float64) int {
	h := hue(r, g, b)
	bin := int((h + 30) / 60)
	if bin >= 6 {
		bin = 0
	}
	return bin
}

func hueEntropy(fractions [6]float64) float64 {
	var entropy float64
	for _, f := range fractions {
		if f > 1e-9 {
			entropy -= f * math.Log(f)
		}
	}
	return entropy / math.Log(6)
}

// isSkinTone applies a standard RGB skin rule, used as a face/hand proxy by
// the heuristic classifier.
func isSkinTone(r, g, b float64) bool {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	return r > 0.372 && g > 0.157 && b > 0.078 &&
		maxC-minC > 0.059 && r-g > 0.059 && r > g && r > b
}

func colorDistance(r1, g1, b1, r2, g2, b2 float64) float64 {
	dr := r1 - r2
	dg := g1 - g2
	db := b1 - b2
	return math.Sqrt(dr*dr+dg*dg+db*db) / math.Sqrt(3)
}

// NormaliseVectorInPlace scales vec to unit L2 norm. Zero vectors are left
// unchanged.
func NormaliseVectorInPlace(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum < 1e-12 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
