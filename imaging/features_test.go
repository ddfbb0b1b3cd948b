package imaging

import (
	"image"
	"image/color"
	"math/rand"
	"testing"
)

func TestExtractFeatureVectorIsBounded(t *testing.T) {
	t.Parallel()

	vec, err := ExtractFeatureVector(pillImage(96, 96))
	if err != nil {
		t.Fatalf("ExtractFeatureVector returned error: %v", err)
	}
	if len(vec) != FeatureVectorSize {
		t.Fatalf("expected %d features, got %d", FeatureVectorSize, len(vec))
	}
	names := FeatureNames()
	for i, v := range vec {
		if v < 0 || v > 1 {
			t.Errorf("feature %d (%s) out of bounds: %f", i, names[i], v)
		}
	}
}

func TestFeatureNamesCoverEveryDimension(t *testing.T) {
	t.Parallel()

	if got := len(FeatureNames()); got != FeatureVectorSize {
		t.Fatalf("expected %d feature names, got %d", FeatureVectorSize, got)
	}
}

func TestFeatureVectorSeparatesBrightFromDark(t *testing.T) {
	t.Parallel()

	bright, err := ExtractFeatureVector(solidImage(64, 64, color.RGBA{R: 245, G: 245, B: 245, A: 255}))
	if err != nil {
		t.Fatalf("bright image: %v", err)
	}
	dark, err := ExtractFeatureVector(solidImage(64, 64, color.RGBA{R: 15, G: 15, B: 15, A: 255}))
	if err != nil {
		t.Fatalf("dark image: %v", err)
	}

	// Dimension 0 is mean luminance, 10 is the white fraction, 11 the dark
	// fraction.
	if bright[0] <= dark[0] {
		t.Fatalf("expected bright mean luminance %f > dark %f", bright[0], dark[0])
	}
	if bright[10] <= dark[10] {
		t.Fatalf("expected bright white fraction %f > dark %f", bright[10], dark[10])
	}
	if dark[11] <= bright[11] {
		t.Fatalf("expected dark fraction %f > bright %f", dark[11], bright[11])
	}
}

func TestFeatureVectorDetectsSkinTones(t *testing.T) {
	t.Parallel()

	skin, err := ExtractFeatureVector(solidImage(64, 64, color.RGBA{R: 224, G: 172, B: 140, A: 255}))
	if err != nil {
		t.Fatalf("skin image: %v", err)
	}
	white, err := ExtractFeatureVector(solidImage(64, 64, color.RGBA{R: 245, G: 245, B: 245, A: 255}))
	if err != nil {
		t.Fatalf("white image: %v", err)
	}

	// Dimension 16 is the skin fraction.
	if skin[16] < 0.5 {
		t.Fatalf("expected a dominant skin fraction, got %f", skin[16])
	}
	if white[16] > 0.1 {
		t.Fatalf("expected near-zero skin fraction on white, got %f", white[16])
	}
}

func TestFeatureVectorMarksSaturatedHues(t *testing.T) {
	t.Parallel()

	red, err := ExtractFeatureVector(solidImage(64, 64, color.RGBA{R: 220, G: 30, B: 30, A: 255}))
	if err != nil {
		t.Fatalf("red image: %v", err)
	}

	// Dimensions 4..9 are the hue fractions (red first).
	for i := 5; i <= 9; i++ {
		if red[4] <= red[i] {
			t.Fatalf("expected the red hue fraction %f to dominate dimension %d (%f)", red[4], i, red[i])
		}
	}
}

func TestNormaliseVectorInPlaceProducesUnitNorm(t *testing.T) {
	t.Parallel()

	vec := []float64{3, 4, 0, 0}
	NormaliseVectorInPlace(vec)
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected unit norm, got squared sum %f", sum)
	}
}

func TestExtractAppearanceOfPillShot(t *testing.T) {
	t.Parallel()

	app, err := ExtractAppearance(pillImage(96, 96))
	if err != nil {
		t.Fatalf("ExtractAppearance returned error: %v", err)
	}
	if app.DominantColor != "white" {
		t.Fatalf("expected dominant color white, got %s", app.DominantColor)
	}
	if app.Shape != "round" {
		t.Fatalf("expected round shape, got %s", app.Shape)
	}
	if app.SkinFraction > 0.1 {
		t.Fatalf("expected near-zero skin fraction, got %f", app.SkinFraction)
	}
}

func TestAssessQualityFlagsLowLight(t *testing.T) {
	t.Parallel()

	report := AssessQuality(solidImage(64, 64, color.RGBA{R: 12, G: 12, B: 12, A: 255}))
	if !report.LowLight {
		t.Fatalf("expected a low-light flag, report: %+v", report)
	}
	if !report.LowContrast {
		t.Fatalf("expected a low-contrast flag on a flat image, report: %+v", report)
	}
}

func TestAssessQualityFlagsSmallImages(t *testing.T) {
	t.Parallel()

	report := AssessQuality(solidImage(32, 32, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
	if !report.SmallImage {
		t.Fatalf("expected a small-image flag, report: %+v", report)
	}
}

func TestDifferenceHashIsStableAndDiscriminative(t *testing.T) {
	t.Parallel()

	pill := pillImage(96, 96)
	if DifferenceHash(pill) != DifferenceHash(pill) {
		t.Fatal("expected identical hashes for the same image")
	}

	noise := noiseImage(96, 96, 7)
	simSelf := HashSimilarity(DifferenceHash(pill), DifferenceHash(pill))
	simOther := HashSimilarity(DifferenceHash(pill), DifferenceHash(noise))
	if simSelf != 1 {
		t.Fatalf("expected self similarity 1, got %f", simSelf)
	}
	if simOther >= simSelf {
		t.Fatalf("expected noise similarity %f below self similarity", simOther)
	}
}

func TestHammingDistanceCountsDifferingBits(t *testing.T) {
	t.Parallel()

	if got := HammingDistance(0, 0); got != 0 {
		t.Fatalf("expected distance 0, got %d", got)
	}
	if got := HammingDistance(0, 0xF); got != 4 {
		t.Fatalf("expected distance 4, got %d", got)
	}
}

// pillImage draws a bright round object centered on a neutral background,
// the framing of a typical tablet photo.
func pillImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cx, cy := w/2, h/2
	radius := w / 3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, color.RGBA{R: 242, G: 240, B: 236, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 96, G: 96, B: 100, A: 255})
			}
		}
	}
	return img
}

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}
