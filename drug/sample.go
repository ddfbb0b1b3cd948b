package drug

import (
	"drug-analysis/imaging"
)

// Sample is one validated request image with every derived signal computed
// once: the decoded picture, its feature vector, appearance summary,
// quality report, and perceptual hash. Backends and the text extractor all
// work from the same Sample.
type Sample struct {
	Raw        []byte
	Decoded    *imaging.Decoded
	Features   []float64
	Appearance imaging.Appearance
	Quality    imaging.QualityReport

	// Hash is the perceptual difference hash, used for reference
	// comparisons and audit records.
	Hash uint64

	// HintLabels carry caller-supplied context (filename words, prior
	// labels). The heuristic backend penalizes non-drug vocabulary here.
	HintLabels []string
}

// PrepareSample validates raw image bytes and computes the derived signals.
// A *imaging.ValidationError is returned for rejected payloads.
func PrepareSample(data []byte, limits imaging.Limits) (*Sample, error) {
	decoded, err := imaging.DecodeBytes(data, limits)
	if err != nil {
		return nil, err
	}
	return buildSample(decoded)
}

// PreparePayloadSample validates a base64 or data-URI payload and computes
// the derived signals.
func PreparePayloadSample(payload string, limits imaging.Limits) (*Sample, error) {
	decoded, err := imaging.DecodePayload(payload, limits)
	if err != nil {
		return nil, err
	}
	return buildSample(decoded)
}

func buildSample(decoded *imaging.Decoded) (*Sample, error) {
	features, err := imaging.ExtractFeatureVector(decoded.Image)
	if err != nil {
		return nil, &imaging.ValidationError{Field: "image", Message: err.Error()}
	}
	appearance, err := imaging.ExtractAppearance(decoded.Image)
	if err != nil {
		return nil, &imaging.ValidationError{Field: "image", Message: err.Error()}
	}
	return &Sample{
		Raw:        decoded.Bytes,
		Decoded:    decoded,
		Features:   features,
		Appearance: appearance,
		Quality:    imaging.AssessQuality(decoded.Image),
		Hash:       imaging.DifferenceHash(decoded.Image),
	}, nil
}

// VisualSummary converts the appearance into the output-contract shape.
func (s *Sample) VisualSummary() VisualFeatures {
	markings := s.Appearance.Markings
	if markings == nil {
		markings = []string{}
	}
	return VisualFeatures{
		Color:    s.Appearance.DominantColor,
		Shape:    s.Appearance.Shape,
		Markings: markings,
	}
}
