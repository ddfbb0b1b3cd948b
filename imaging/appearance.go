package imaging

import "image"

// Appearance summarizes the visual character of an image for the heuristic
// classifier, the knowledge-base matcher, and the authenticity assessor.
type Appearance struct {
	DominantColor  string   `json:"dominantColor"`
	SecondaryColor string   `json:"secondaryColor,omitempty"`
	Shape          string   `json:"shape"`
	TextLikelihood float64  `json:"textLikelihood"`
	EdgeDensity    float64  `json:"edgeDensity"`
	SkinFraction   float64  `json:"skinFraction"`
	HueDiversity   float64  `json:"hueDiversity"`
	ForegroundFill float64  `json:"foregroundFill"`
	Markings       []string `json:"markings,omitempty"`
}

// colorBucketOrder fixes ranking ties so repeated runs give stable output.
var colorBucketOrder = []string{
	"white", "beige", "gray", "black", "red", "orange",
	"yellow", "green", "blue", "purple", "pink",
}

// ExtractAppearance derives the appearance summary for the whole image.
func ExtractAppearance(img image.Image) (Appearance, error) {
	st, err := computeRegionStats(img, img.Bounds())
	if err != nil {
		return Appearance{}, err
	}

	dominant, secondary := rankColors(st.colorCounts, st.samples)
	appearance := Appearance{
		DominantColor:  dominant,
		SecondaryColor: secondary,
		Shape:          classifyShape(st),
		TextLikelihood: clamp01(st.horizEdgeRatio) * clamp01(st.edgeDensity*5),
		EdgeDensity:    clamp01(st.edgeDensity),
		SkinFraction:   clamp01(st.skinFraction),
		HueDiversity:   clamp01(st.colorEntropy),
		ForegroundFill: clamp01(st.foregroundFill),
	}
	if st.centerEdgeDensity > 0.08 && st.foregroundFrac > 0.05 {
		appearance.Markings = append(appearance.Markings, "imprint")
	}
	return appearance, nil
}

// rankColors returns the two most common color buckets. Buckets covering
// less than 5% of samples are ignored.
func rankColors(counts map[string]int, samples int) (dominant, secondary string) {
	if samples == 0 {
		return "unknown", ""
	}
	minCount := samples / 20
	best, second := -1, -1
	for _, name := range colorBucketOrder {
		c := counts[name]
		if c <= minCount {
			continue
		}
		if c > best {
			second = best
			secondary = dominant
			best = c
			dominant = name
		} else if c > second {
			second = c
			secondary = name
		}
	}
	if dominant == "" {
		return "unknown", ""
	}
	return dominant, secondary
}

// classifyShape guesses the foreground silhouette from its bounding-box fill
// and aspect. A solid circle fills ~0.78 of its box, a box ~1.0.
func classifyShape(st *regionStats) string {
	if st.foregroundFrac < 0.03 || st.foregroundFill <= 0 {
		return "unknown"
	}
	aspect := st.foregroundAspect
	if aspect <= 0 {
		return "unknown"
	}
	elongation := aspect
	if elongation < 1 {
		elongation = 1 / elongation
	}
	switch {
	case st.foregroundFill >= 0.92:
		return "rectangular"
	case st.foregroundFill >= 0.6 && elongation >= 1.8:
		return "capsule"
	case st.foregroundFill >= 0.65 && elongation <= 1.25:
		return "round"
	case st.foregroundFill >= 0.6:
		return "oval"
	default:
		return "irregular"
	}
}

// colorBucket assigns a sampled pixel to a named color family.
func colorBucket(r, g, b, lum, sat float64) string {
	switch {
	case sat < 0.18 && lum > 0.82:
		return "white"
	case sat < 0.18 && lum < 0.16:
		return "black"
	case sat < 0.18:
		return "gray"
	}
	h := hue(r, g, b)
	if sat < 0.35 && lum > 0.6 && h >= 20 && h < 70 {
		return "beige"
	}
	switch {
	case h < 15 || h >= 345:
		return "red"
	case h < 45:
		return "orange"
	case h < 70:
		return "yellow"
	case h < 165:
		return "green"
	case h < 255:
		return "blue"
	case h < 290:
		return "purple"
	default:
		return "pink"
	}
}
