// Package vision manages the on-device inference models: loading and
// caching model artifacts, collapsing concurrent loads, retrying failed
// acquisitions, tracking per-model performance, and evicting idle models.
package vision

import (
	"context"
	"image"
)

// Model names registered by the composition root. The artifact format for
// each is defined in artifact.go.
const (
	ModelPillDetector         = "pill_detector"
	ModelDrugClassifier       = "drug_classifier"
	ModelAuthenticityVerifier = "authenticity_verifier"
)

// Prediction is one label produced by an on-device model. Confidence is
// bounded to [0,1].
type Prediction struct {
	Label      string  `json:"label"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Detection is one bounded box produced by the object detector.
type Detection struct {
	Label string          `json:"label"`
	Score float64         `json:"score"`
	Box   image.Rectangle `json:"box"`
}

// Input carries everything an on-device model may consume. Image is the
// decoded picture; Features is the precomputed whole-image feature vector;
// TargetLabel narrows reference lookups (authenticity verifier only).
type Input struct {
	Image       image.Image
	Features    []float64
	TargetLabel string
}

// Output is the union of what on-device models produce. A classifier fills
// Predictions, a detector fills Detections; unused fields stay empty.
type Output struct {
	Predictions []Prediction
	Detections  []Detection
}

// Model is one loaded on-device inference model.
type Model interface {
	Name() string
	// Infer runs the model against the input. Implementations must respect
	// ctx cancellation between work units and release any scratch buffers
	// before returning.
	Infer(ctx context.Context, in Input) (Output, error)
	// Warmup runs a trivial inference against synthetic input. Used by
	// health checks and post-load validation.
	Warmup(ctx context.Context) error
	// Dispose releases the model's memory. The model must not be used
	// afterwards.
	Dispose()
}

// Loader acquires a model from its artifact location. The manager invokes
// loaders under its own timeout and retry policy.
type Loader func(ctx context.Context) (Model, error)

// warmupImage returns the synthetic input used by Warmup implementations: a
// small uniform gray square.
func warmupImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}
