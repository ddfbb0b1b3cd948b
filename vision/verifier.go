package vision

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"drug-analysis/imaging"
)

// ReferenceVerifier compares an image's features against known-genuine
// reference embeddings per drug. It backs the visual-quality factor of the
// authenticity assessment when a reference exists for the matched drug.
type ReferenceVerifier struct {
	mu         sync.RWMutex
	name       string
	references map[string]ReferenceSpec
}

// NewReferenceVerifier builds a verifier from a validated artifact.
func NewReferenceVerifier(name string, artifact *VerifierArtifact) (*ReferenceVerifier, error) {
	if artifact == nil || len(artifact.References) == 0 {
		return nil, fmt.Errorf("verifier %s: empty artifact", name)
	}
	refs := make(map[string]ReferenceSpec, len(artifact.References))
	for _, ref := range artifact.References {
		if len(ref.Features) != imaging.FeatureVectorSize {
			return nil, fmt.Errorf("verifier %s: reference %s has %d features, expected %d",
				name, ref.Label, len(ref.Features), imaging.FeatureVectorSize)
		}
		refs[strings.ToLower(ref.Label)] = ref
	}
	return &ReferenceVerifier{name: name, references: refs}, nil
}

func (v *ReferenceVerifier) Name() string { return v.name }

// Infer compares the input features against the reference for
// in.TargetLabel. When a reference exists the output holds one prediction
// whose confidence is the visual similarity; otherwise the output is empty.
func (v *ReferenceVerifier) Infer(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if in.TargetLabel == "" {
		return Output{}, fmt.Errorf("verifier %s: no target label", v.name)
	}
	if len(in.Features) == 0 {
		return Output{}, fmt.Errorf("verifier %s: no features", v.name)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.references == nil {
		return Output{}, fmt.Errorf("verifier %s: disposed", v.name)
	}
	ref, ok := v.references[strings.ToLower(in.TargetLabel)]
	if !ok {
		return Output{}, nil
	}

	sim, err := cosineSimilarity(in.Features, ref.Features)
	if err != nil {
		return Output{}, err
	}
	confidence := similarityToConfidence(sim)
	return Output{Predictions: []Prediction{{
		Label:      ref.Label,
		Confidence: confidence,
	}}}, nil
}

// ReferenceHash returns the stored perceptual hash for a drug, if the
// artifact carries one.
func (v *ReferenceVerifier) ReferenceHash(label string) (uint64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ref, ok := v.references[strings.ToLower(label)]
	if !ok || ref.Hash == "" {
		return 0, false
	}
	hash, err := strconv.ParseUint(ref.Hash, 16, 64)
	if err != nil {
		return 0, false
	}
	return hash, true
}

// Warmup verifies the synthetic warmup input against the first reference.
func (v *ReferenceVerifier) Warmup(ctx context.Context) error {
	v.mu.RLock()
	var label string
	for key := range v.references {
		label = key
		break
	}
	v.mu.RUnlock()
	if label == "" {
		return fmt.Errorf("verifier %s: no references", v.name)
	}
	features, err := imaging.ExtractFeatureVector(warmupImage())
	if err != nil {
		return err
	}
	_, err = v.Infer(ctx, Input{Features: features, TargetLabel: label})
	return err
}

// Dispose drops the reference embeddings.
func (v *ReferenceVerifier) Dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.references = nil
}
