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

// Detection weighting: relevant classes count fully toward the
// pharmaceutical score, contextual classes at a reduced weight.
const (
	relevantDetectionWeight   = 1.0
	contextualDetectionWeight = 0.3
)

// errNoDetections makes an empty detector result advance the fallback
// chain: a detector that saw nothing has no opinion, unlike one that saw a
// non-pharmaceutical object.
var errNoDetections = errors.New("no detections above threshold")

// ObjectDetectorBackend classifies through the bounded-box pill detector.
type ObjectDetectorBackend struct {
	manager         *vision.Manager
	modelName       string
	scoreThreshold  float64
	pharmaThreshold float64
	logger          *slog.Logger
}

// NewObjectDetectorBackend wires the detector backend to the model manager.
func NewObjectDetectorBackend(manager *vision.Manager, scoreThreshold, pharmaThreshold float64, logger *slog.Logger) *ObjectDetectorBackend {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ObjectDetectorBackend{
		manager:         manager,
		modelName:       vision.ModelPillDetector,
		scoreThreshold:  scoreThreshold,
		pharmaThreshold: pharmaThreshold,
		logger:          logger,
	}
}

func (b *ObjectDetectorBackend) Name() string { return BackendObjectDetector }

// Classify runs detection, filters boxes by the score threshold, separates
// pharmaceutically relevant detections from contextual ones, and computes a
// weighted pharmaceutical score.
func (b *ObjectDetectorBackend) Classify(ctx context.Context, sample *Sample) (ClassificationResult, error) {
	out, err := b.manager.Predict(ctx, b.modelName, vision.Input{
		Image:    sample.Decoded.Image,
		Features: sample.Features,
	})
	if err != nil {
		return ClassificationResult{}, err
	}

	var (
		labels        []string
		predictions   []Prediction
		relevantCount int
		bestRelevant  float64
		weightedSum   float64
		weightTotal   float64
		boxCount      int
	)
	for _, det := range out.Detections {
		if det.Score < b.scoreThreshold {
			continue
		}
		boxCount++
		label := strings.ToLower(det.Label)
		labels = append(labels, label)

		weight := 0.0
		category := "other"
		switch {
		case isPharmaLabel(label):
			weight = relevantDetectionWeight
			category = "pharmaceutical"
			relevantCount++
			if det.Score > bestRelevant {
				bestRelevant = det.Score
			}
		case isContextualLabel(label):
			weight = contextualDetectionWeight
			category = "contextual"
		}
		weightedSum += det.Score * weight
		weightTotal += weight

		predictions = append(predictions, Prediction{
			Label:      label,
			Confidence: clamp01(det.Score),
			Source:     SourceLocalDetector,
			Category:   category,
		})
	}
	if boxCount == 0 {
		return ClassificationResult{}, fmt.Errorf("%s: %w", b.modelName, errNoDetections)
	}

	weightedScore := 0.0
	if weightTotal > 0 {
		weightedScore = weightedSum / weightTotal
	}
	isPharma := relevantCount >= 1 || weightedScore > b.pharmaThreshold

	confidence := weightedScore
	if relevantCount > 0 {
		confidence = bestRelevant
	}
	b.logger.DebugContext(ctx, "detector classification",
		slog.Int("boxes", boxCount),
		slog.Int("relevant", relevantCount),
		slog.Float64("weightedScore", weightedScore),
		slog.Bool("isPharmaceutical", isPharma),
	)
	return ClassificationResult{
		IsPharmaceutical: isPharma,
		DetectedLabels:   labels,
		Confidence:       clamp01(confidence),
		Method:           BackendObjectDetector,
		BoundingBoxCount: boxCount,
		Predictions:      predictions,
	}, nil
}
