package drug

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"drug-analysis/utils"
)

// Heuristic decision bars. The indicator score accumulates evidence for a
// pharmaceutical product shot; the non-drug score accumulates evidence
// against it.
const (
	heuristicIndicatorBar = 0.35
	heuristicNonDrugBar   = 0.60
)

// HeuristicBackend estimates pharmaceutical likelihood from appearance
// statistics alone. It is the terminal backend of the fallback chain and
// never returns an error.
type HeuristicBackend struct {
	logger *slog.Logger
}

// NewHeuristicBackend returns the color-and-shape heuristic backend.
func NewHeuristicBackend(logger *slog.Logger) *HeuristicBackend {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &HeuristicBackend{logger: logger}
}

func (b *HeuristicBackend) Name() string { return BackendHeuristic }

// Classify scores pill-like colors, shapes, printed text and framing against
// counter-evidence such as skin tones, busy scenes and non-drug hint labels.
func (b *HeuristicBackend) Classify(ctx context.Context, sample *Sample) (ClassificationResult, error) {
	a := sample.Appearance

	indicator := pharmaColorScore(a.DominantColor)
	switch a.Shape {
	case "round", "oval", "capsule":
		indicator += 0.25
	case "rectangular":
		indicator += 0.15
	}
	if a.TextLikelihood > 0.3 {
		indicator += 0.20
	}
	if a.ForegroundFill >= 0.50 && a.ForegroundFill <= 0.95 {
		indicator += 0.15
	}
	if a.EdgeDensity < 0.25 {
		indicator += 0.10
	}

	nonDrug := 0.0
	switch {
	case a.SkinFraction > 0.25:
		nonDrug += 0.50
	case a.SkinFraction > 0.10:
		nonDrug += 0.25
	}
	if a.HueDiversity > 0.75 {
		nonDrug += 0.25
	}
	if a.EdgeDensity > 0.45 {
		nonDrug += 0.20
	}
	if hits := nonDrugHits(sample.HintLabels); hits > 0 {
		nonDrug += math.Min(0.5, 0.25*float64(hits))
	}

	indicator = clamp01(indicator)
	nonDrug = clamp01(nonDrug)
	isPharma := indicator >= heuristicIndicatorBar && nonDrug < heuristicNonDrugBar
	b.logger.DebugContext(ctx, "heuristic classification",
		slog.Float64("indicator", indicator),
		slog.Float64("nonDrug", nonDrug),
		slog.Bool("isPharmaceutical", isPharma),
	)

	var confidence float64
	if isPharma {
		confidence = clamp01(indicator - 0.3*nonDrug)
	} else {
		confidence = clamp01(math.Max(nonDrug, 1-indicator) * 0.7)
	}

	labels := b.describe(sample)
	prediction := Prediction{
		Label:      shapeGuess(a.Shape),
		Confidence: confidence,
		Source:     SourceHeuristic,
		Category:   "heuristic",
	}
	return ClassificationResult{
		IsPharmaceutical: isPharma,
		DetectedLabels:   labels,
		Confidence:       confidence,
		Method:           BackendHeuristic,
		Predictions:      []Prediction{prediction},
	}, nil
}

func (b *HeuristicBackend) describe(sample *Sample) []string {
	a := sample.Appearance
	var labels []string
	if a.DominantColor != "" && a.DominantColor != "unknown" && a.Shape != "unknown" {
		labels = append(labels, fmt.Sprintf("%s %s object", a.DominantColor, a.Shape))
	}
	if a.TextLikelihood > 0.3 {
		labels = append(labels, "printed text")
	}
	if a.SkinFraction > 0.25 {
		labels = append(labels, "person")
	}
	return labels
}

// pharmaColorScore rates how common a dominant color is on pharmaceutical
// products. White and beige dominate tablets; saturated colors still occur
// on capsules and packaging.
func pharmaColorScore(color string) float64 {
	switch color {
	case "white":
		return 0.30
	case "beige":
		return 0.25
	case "gray":
		return 0.15
	case "yellow", "orange", "pink", "blue", "green", "red":
		return 0.10
	default:
		return 0
	}
}

func shapeGuess(shape string) string {
	switch shape {
	case "round", "oval":
		return "possible tablet"
	case "capsule":
		return "possible capsule"
	case "rectangular":
		return "possible blister_pack"
	default:
		return "unidentified object"
	}
}
