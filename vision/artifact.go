package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"drug-analysis/imaging"
)

// Model artifacts are JSON files holding labeled feature embeddings. They
// are produced by cmd/train_model and loaded from a local path or an
// http(s) URL. A missing local artifact falls back to the bundled
// "<name>.example.json" so a fresh checkout can serve predictions.

// PrototypeSpec is one labeled embedding in a classifier artifact.
type PrototypeSpec struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Category string            `json:"category,omitempty"`
	Features []float64         `json:"features"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ClassifierArtifact is the on-disk format of the prototype classifier.
type ClassifierArtifact struct {
	K          int             `json:"k,omitempty"`
	Prototypes []PrototypeSpec `json:"prototypes"`
	Scaler     *FeatureScaler  `json:"scaler,omitempty"`
}

// TemplateSpec is one class template in a detector artifact.
type TemplateSpec struct {
	Class     string    `json:"class"`
	Features  []float64 `json:"features"`
	Threshold float64   `json:"threshold,omitempty"`
}

// DetectorArtifact is the on-disk format of the grid template detector.
type DetectorArtifact struct {
	Classes        []string       `json:"classes"`
	Grid           int            `json:"grid,omitempty"`
	ScoreThreshold float64        `json:"scoreThreshold,omitempty"`
	Templates      []TemplateSpec `json:"templates"`
}

// ReferenceSpec is one known-genuine reference in a verifier artifact.
type ReferenceSpec struct {
	Label    string    `json:"label"`
	Features []float64 `json:"features"`
	Hash     string    `json:"hash,omitempty"`
}

// VerifierArtifact is the on-disk format of the authenticity verifier.
type VerifierArtifact struct {
	References []ReferenceSpec `json:"references"`
}

var artifactHTTPClient = &http.Client{Timeout: 60 * time.Second}

// FetchArtifact reads the artifact bytes from a local path or http(s) URL.
// Local paths fall back to the bundled example artifact when missing.
func FetchArtifact(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := artifactHTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("artifact fetch failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("artifact fetch returned status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	}

	data, err := os.ReadFile(location)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	example := examplePath(location)
	if example == location {
		return nil, err
	}
	data, exampleErr := os.ReadFile(example)
	if exampleErr != nil {
		return nil, err
	}
	return data, nil
}

func examplePath(location string) string {
	ext := filepath.Ext(location)
	if ext == "" || strings.Contains(location, ".example.") {
		return location
	}
	return strings.TrimSuffix(location, ext) + ".example" + ext
}

// LoadClassifierArtifact fetches and validates a classifier artifact.
func LoadClassifierArtifact(ctx context.Context, location string) (*ClassifierArtifact, error) {
	data, err := FetchArtifact(ctx, location)
	if err != nil {
		return nil, err
	}
	var artifact ClassifierArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("malformed classifier artifact %s: %w", location, err)
	}
	if len(artifact.Prototypes) == 0 {
		return nil, fmt.Errorf("classifier artifact %s has no prototypes", location)
	}
	for _, p := range artifact.Prototypes {
		if len(p.Features) != imaging.FeatureVectorSize {
			return nil, fmt.Errorf("prototype %s has %d features, expected %d",
				p.ID, len(p.Features), imaging.FeatureVectorSize)
		}
	}
	if artifact.K <= 0 {
		artifact.K = 5
	}
	return &artifact, nil
}

// LoadDetectorArtifact fetches and validates a detector artifact.
func LoadDetectorArtifact(ctx context.Context, location string) (*DetectorArtifact, error) {
	data, err := FetchArtifact(ctx, location)
	if err != nil {
		return nil, err
	}
	var artifact DetectorArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("malformed detector artifact %s: %w", location, err)
	}
	if len(artifact.Templates) == 0 {
		return nil, fmt.Errorf("detector artifact %s has no templates", location)
	}
	for i, t := range artifact.Templates {
		if len(t.Features) != imaging.FeatureVectorSize {
			return nil, fmt.Errorf("template %d (%s) has %d features, expected %d",
				i, t.Class, len(t.Features), imaging.FeatureVectorSize)
		}
	}
	if artifact.Grid <= 0 {
		artifact.Grid = 4
	}
	if artifact.ScoreThreshold <= 0 {
		artifact.ScoreThreshold = 0.5
	}
	return &artifact, nil
}

// LoadVerifierArtifact fetches and validates a verifier artifact.
func LoadVerifierArtifact(ctx context.Context, location string) (*VerifierArtifact, error) {
	data, err := FetchArtifact(ctx, location)
	if err != nil {
		return nil, err
	}
	var artifact VerifierArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("malformed verifier artifact %s: %w", location, err)
	}
	if len(artifact.References) == 0 {
		return nil, fmt.Errorf("verifier artifact %s has no references", location)
	}
	return &artifact, nil
}

// ClassifierLoader returns a Loader that builds the prototype classifier
// from the artifact at location.
func ClassifierLoader(name, location string) Loader {
	return func(ctx context.Context) (Model, error) {
		artifact, err := LoadClassifierArtifact(ctx, location)
		if err != nil {
			return nil, err
		}
		return NewPrototypeClassifier(name, artifact)
	}
}

// DetectorLoader returns a Loader that builds the grid template detector
// from the artifact at location.
func DetectorLoader(name, location string) Loader {
	return func(ctx context.Context) (Model, error) {
		artifact, err := LoadDetectorArtifact(ctx, location)
		if err != nil {
			return nil, err
		}
		return NewTemplateDetector(name, artifact)
	}
}

// VerifierLoader returns a Loader that builds the reference verifier from
// the artifact at location.
func VerifierLoader(name, location string) Loader {
	return func(ctx context.Context) (Model, error) {
		artifact, err := LoadVerifierArtifact(ctx, location)
		if err != nil {
			return nil, err
		}
		return NewReferenceVerifier(name, artifact)
	}
}
