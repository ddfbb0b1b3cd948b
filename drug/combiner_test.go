package drug

import (
	"fmt"
	"testing"
)

func TestCombineRanksByConfidence(t *testing.T) {
	t.Parallel()

	chain := ClassificationResult{
		Method: BackendObjectDetector,
		Predictions: []Prediction{
			{Label: "pill", Confidence: 0.7, Source: SourceLocalDetector},
		},
	}
	remote := RemoteOutcome{
		Source: SourceCloudVision,
		Predictions: []Prediction{
			{Label: "Medicine", Confidence: 0.92},
			{Label: "bottle", Confidence: 0.4},
		},
	}

	combined := Combine(chain, remote)
	if combined.BestSource != SourceCloudVision {
		t.Fatalf("best source %q, want %q", combined.BestSource, SourceCloudVision)
	}
	if combined.Confidence != 0.92 {
		t.Fatalf("combined confidence %f, want 0.92", combined.Confidence)
	}
	if len(combined.Predictions) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(combined.Predictions))
	}
	for i := 1; i < len(combined.Predictions); i++ {
		if combined.Predictions[i].Confidence > combined.Predictions[i-1].Confidence {
			t.Fatalf("predictions not sorted descending at %d", i)
		}
	}
	// Remote labels are lowercased and get a source tag on the way in.
	if combined.Predictions[0].Label != "medicine" {
		t.Fatalf("top label %q, want %q", combined.Predictions[0].Label, "medicine")
	}
	if combined.Predictions[0].Source != SourceCloudVision {
		t.Fatalf("top source %q, want %q", combined.Predictions[0].Source, SourceCloudVision)
	}
}

func TestCombineTiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	chain := ClassificationResult{
		Predictions: []Prediction{
			{Label: "pill", Confidence: 0.5, Source: SourceLocalDetector},
		},
	}
	remote := RemoteOutcome{
		Source:      SourceCloudVision,
		Predictions: []Prediction{{Label: "tablet", Confidence: 0.5}},
	}

	combined := Combine(chain, remote)
	if combined.BestSource != SourceLocalDetector {
		t.Fatalf("on a tie the local chain must outrank remotes, got %q", combined.BestSource)
	}
}

func TestCombineIgnoresFailedRemotes(t *testing.T) {
	t.Parallel()

	chain := ClassificationResult{
		Predictions: []Prediction{
			{Label: "pill", Confidence: 0.6, Source: SourceLocalDetector},
		},
	}
	failed := RemoteOutcome{
		Source: SourceTransformerVision,
		Err:    fmt.Errorf("quota exceeded"),
		Predictions: []Prediction{
			{Label: "should not appear", Confidence: 0.99},
		},
	}

	combined := Combine(chain, failed)
	if combined.RemoteCount != 0 {
		t.Fatalf("failed remote counted as a contribution: %d", combined.RemoteCount)
	}
	if len(combined.Predictions) != 1 {
		t.Fatalf("expected only the chain prediction, got %d", len(combined.Predictions))
	}
}

func TestCombineAccumulatesRemotePharmaScore(t *testing.T) {
	t.Parallel()

	remote := RemoteOutcome{
		Source: SourceCloudVision,
		Predictions: []Prediction{
			{Label: "pill", Confidence: 0.4},
			{Label: "medicine", Confidence: 0.3},
			{Label: "table", Confidence: 0.9},
		},
	}

	combined := Combine(ClassificationResult{}, remote)
	if got, want := combined.RemotePharmaScore, 0.7; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("remote pharma score %f, want %f", got, want)
	}
	if combined.RemoteCount != 1 {
		t.Fatalf("remote count %d, want 1", combined.RemoteCount)
	}
}

func TestCombineClampsConfidences(t *testing.T) {
	t.Parallel()

	remote := RemoteOutcome{
		Source:      SourceCloudVision,
		Predictions: []Prediction{{Label: "pill", Confidence: 3.7}},
	}

	combined := Combine(ClassificationResult{}, remote)
	if combined.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %f", combined.Confidence)
	}
	if combined.RemotePharmaScore != 1 {
		t.Fatalf("expected pharma score clamped to 1, got %f", combined.RemotePharmaScore)
	}
}

func TestCombineEmptyInputs(t *testing.T) {
	t.Parallel()

	combined := Combine(ClassificationResult{})
	if combined.Confidence != 0 {
		t.Fatalf("empty combine should have zero confidence, got %f", combined.Confidence)
	}
	if combined.BestSource != "" {
		t.Fatalf("empty combine should have no best source, got %q", combined.BestSource)
	}
	if len(combined.Predictions) != 0 {
		t.Fatalf("expected no predictions, got %d", len(combined.Predictions))
	}
}

func TestCombineCategorizesRemoteLabels(t *testing.T) {
	t.Parallel()

	remote := RemoteOutcome{
		Source: SourceCloudVision,
		Predictions: []Prediction{
			{Label: "capsule", Confidence: 0.8},
			{Label: "bottle", Confidence: 0.6},
			{Label: "sunset", Confidence: 0.4},
		},
	}

	combined := Combine(ClassificationResult{}, remote)
	want := map[string]string{"capsule": "pharmaceutical", "bottle": "contextual", "sunset": "other"}
	for _, p := range combined.Predictions {
		if got := want[p.Label]; p.Category != got {
			t.Errorf("label %q categorized %q, want %q", p.Label, p.Category, got)
		}
	}
}
