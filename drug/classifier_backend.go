package drug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"drug-analysis/utils"
	"drug-analysis/vision"
)

var errNoPredictions = errors.New("classifier produced no predictions")

// ImageClassifierBackend classifies through the general-purpose prototype
// classifier and scores how pharmaceutical the predicted labels are.
type ImageClassifierBackend struct {
	manager         *vision.Manager
	modelName       string
	pharmaThreshold float64
	logger          *slog.Logger
}

// NewImageClassifierBackend wires the classifier backend to the model manager.
func NewImageClassifierBackend(manager *vision.Manager, pharmaThreshold float64, logger *slog.Logger) *ImageClassifierBackend {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ImageClassifierBackend{
		manager:         manager,
		modelName:       vision.ModelDrugClassifier,
		pharmaThreshold: pharmaThreshold,
		logger:          logger,
	}
}

func (b *ImageClassifierBackend) Name() string { return BackendClassifier }

// Classify sums prediction confidence over pharmaceutically relevant labels
// and declares the image pharmaceutical when the sum crosses the threshold.
func (b *ImageClassifierBackend) Classify(ctx context.Context, sample *Sample) (ClassificationResult, error) {
	out, err := b.manager.Predict(ctx, b.modelName, vision.Input{
		Image:    sample.Decoded.Image,
		Features: sample.Features,
	})
	if err != nil {
		return ClassificationResult{}, err
	}
	if len(out.Predictions) == 0 {
		return ClassificationResult{}, fmt.Errorf("%s: %w", b.modelName, errNoPredictions)
	}

	var (
		labels      []string
		predictions []Prediction
		pharmaScore float64
	)
	for _, p := range out.Predictions {
		label := strings.ToLower(p.Label)
		labels = append(labels, label)

		category := "other"
		if isPharmaLabel(label) {
			category = "pharmaceutical"
			pharmaScore += p.Confidence
		} else if isContextualLabel(label) {
			category = "contextual"
		}
		predictions = append(predictions, Prediction{
			Label:      label,
			Confidence: clamp01(p.Confidence),
			Source:     SourceLocalClassifier,
			Category:   category,
		})
	}
	pharmaScore = clamp01(pharmaScore)
	isPharma := pharmaScore >= b.pharmaThreshold
	b.logger.DebugContext(ctx, "classifier classification",
		slog.Int("labels", len(labels)),
		slog.Float64("pharmaScore", pharmaScore),
		slog.Bool("isPharmaceutical", isPharma),
	)

	// For a pharmaceutical verdict the pharmaceutical score is the
	// certainty; otherwise the top label's confidence is.
	confidence := pharmaScore
	if !isPharma {
		confidence = clamp01(out.Predictions[0].Confidence)
	}
	return ClassificationResult{
		IsPharmaceutical: isPharma,
		DetectedLabels:   labels,
		Confidence:       confidence,
		Method:           BackendClassifier,
		Predictions:      predictions,
	}, nil
}
