package vision

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"drug-analysis/imaging"
)

// PrototypeClassifier classifies a whole-image feature vector by weighted
// k-nearest-neighbour voting over labeled prototype embeddings.
type PrototypeClassifier struct {
	mu         sync.RWMutex
	name       string
	k          int
	prototypes []PrototypeSpec
	scaler     *FeatureScaler
}

// prototypeScore pairs a prototype with its distance to the input.
type prototypeScore struct {
	index    int
	distance float64
}

// NewPrototypeClassifier builds a classifier from a validated artifact.
// Prototype embeddings are standardized once here so Infer only scales the
// input vector.
func NewPrototypeClassifier(name string, artifact *ClassifierArtifact) (*PrototypeClassifier, error) {
	if artifact == nil || len(artifact.Prototypes) == 0 {
		return nil, fmt.Errorf("classifier %s: empty artifact", name)
	}
	k := artifact.K
	if k <= 0 {
		k = 5
	}
	prototypes := artifact.Prototypes
	if artifact.Scaler.valid() {
		prototypes = make([]PrototypeSpec, len(artifact.Prototypes))
		copy(prototypes, artifact.Prototypes)
		for i := range prototypes {
			scaled, err := artifact.Scaler.Transform(prototypes[i].Features)
			if err != nil {
				return nil, fmt.Errorf("classifier %s: prototype %s: %w", name, prototypes[i].ID, err)
			}
			prototypes[i].Features = scaled
		}
	}
	return &PrototypeClassifier{
		name:       name,
		k:          k,
		prototypes: prototypes,
		scaler:     artifact.Scaler,
	}, nil
}

func (c *PrototypeClassifier) Name() string { return c.name }

// Infer ranks labels by weighted k-NN vote. Closer prototypes get
// exponentially higher weight; a label's confidence is its share of the
// total weight among the k nearest neighbours.
func (c *PrototypeClassifier) Infer(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	features := in.Features
	if len(features) == 0 {
		if in.Image == nil {
			return Output{}, fmt.Errorf("classifier %s: no features and no image", c.name)
		}
		var err error
		features, err = imaging.ExtractFeatureVector(in.Image)
		if err != nil {
			return Output{}, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.prototypes) == 0 {
		return Output{}, fmt.Errorf("classifier %s: disposed", c.name)
	}

	if c.scaler.valid() {
		scaled, err := c.scaler.Transform(features)
		if err != nil {
			return Output{}, err
		}
		features = scaled
	}

	scores := make([]prototypeScore, 0, len(c.prototypes))
	for i := range c.prototypes {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Output{}, err
			}
		}
		sim, err := cosineSimilarity(features, c.prototypes[i].Features)
		if err != nil {
			return Output{}, err
		}
		scores = append(scores, prototypeScore{index: i, distance: 1 - sim})
	}

	sort.Slice(scores, func(i, j int) bool {
		return scores[i].distance < scores[j].distance
	})
	k := c.k
	if k > len(scores) {
		k = len(scores)
	}
	scores = scores[:k]

	type labelVote struct {
		category  string
		weightSum float64
		distSum   float64
		support   int
	}
	votes := make(map[string]*labelVote)
	var totalWeight float64
	for _, s := range scores {
		proto := &c.prototypes[s.index]
		weight := 1.0 / (s.distance + 1e-9)
		totalWeight += weight
		vote, ok := votes[proto.Label]
		if !ok {
			vote = &labelVote{category: proto.Category}
			votes[proto.Label] = vote
		}
		vote.weightSum += weight
		vote.distSum += s.distance
		vote.support++
	}
	if totalWeight <= 0 {
		return Output{}, fmt.Errorf("classifier %s: degenerate vote weights", c.name)
	}

	type ranked struct {
		Prediction
		avgDist float64
	}
	results := make([]ranked, 0, len(votes))
	for label, vote := range votes {
		results = append(results, ranked{
			Prediction: Prediction{
				Label:      label,
				Category:   vote.category,
				Confidence: vote.weightSum / totalWeight,
			},
			avgDist: vote.distSum / float64(vote.support),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if math.Abs(results[i].Confidence-results[j].Confidence) > 1e-9 {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].avgDist < results[j].avgDist
	})

	out := Output{Predictions: make([]Prediction, len(results))}
	for i, r := range results {
		out.Predictions[i] = r.Prediction
	}
	return out, nil
}

// Warmup classifies the synthetic warmup image.
func (c *PrototypeClassifier) Warmup(ctx context.Context) error {
	features, err := imaging.ExtractFeatureVector(warmupImage())
	if err != nil {
		return err
	}
	_, err = c.Infer(ctx, Input{Features: features})
	return err
}

// Dispose drops the prototype embeddings.
func (c *PrototypeClassifier) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prototypes = nil
}

// PrototypeCount reports the number of loaded prototypes.
func (c *PrototypeClassifier) PrototypeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prototypes)
}

// cosineSimilarity computes the cosine of the angle between two vectors in
// [-1,1]. Vectors must be the same length and not zero.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA < 1e-12 || normB < 1e-12 {
		return 0, fmt.Errorf("zero vector in similarity computation")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// similarityToConfidence maps a cosine similarity [-1,1] to a confidence in
// [0,1].
func similarityToConfidence(sim float64) float64 {
	conf := (sim + 1) / 2
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}
