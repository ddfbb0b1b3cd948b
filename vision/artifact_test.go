package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"drug-analysis/imaging"
)

func writeArtifact(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestFetchArtifactFallsBackToExample(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	example := []byte(`{"prototypes":[]}`)
	if err := os.WriteFile(filepath.Join(dir, "model.example.json"), example, 0o644); err != nil {
		t.Fatalf("write example: %v", err)
	}

	data, err := FetchArtifact(context.Background(), filepath.Join(dir, "model.json"))
	if err != nil {
		t.Fatalf("FetchArtifact returned error: %v", err)
	}
	if string(data) != string(example) {
		t.Fatalf("expected the example artifact, got %q", data)
	}
}

func TestFetchArtifactPrefersTheRealFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	trained := []byte(`{"prototypes":[{"id":"p"}]}`)
	if err := os.WriteFile(filepath.Join(dir, "model.json"), trained, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.example.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write example: %v", err)
	}

	data, err := FetchArtifact(context.Background(), filepath.Join(dir, "model.json"))
	if err != nil {
		t.Fatalf("FetchArtifact returned error: %v", err)
	}
	if string(data) != string(trained) {
		t.Fatalf("expected the trained artifact, got %q", data)
	}
}

func TestFetchArtifactReportsMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := FetchArtifact(context.Background(), filepath.Join(dir, "model.json")); err == nil {
		t.Fatal("expected an error when neither artifact nor example exists")
	}
}

func TestFetchArtifactOverHTTP(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"references":[]}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.json" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	data, err := FetchArtifact(context.Background(), srv.URL+"/model.json")
	if err != nil {
		t.Fatalf("FetchArtifact returned error: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("unexpected artifact body: %q", data)
	}

	if _, err := FetchArtifact(context.Background(), srv.URL+"/missing.json"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestLoadClassifierArtifactValidates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	good := filepath.Join(dir, "classifier.json")
	writeArtifact(t, good, ClassifierArtifact{
		Prototypes: []PrototypeSpec{syntheticPrototype("p1", "paracetamol", map[int]float64{0: 0.9})},
	})
	artifact, err := LoadClassifierArtifact(context.Background(), good)
	if err != nil {
		t.Fatalf("LoadClassifierArtifact returned error: %v", err)
	}
	if artifact.K != 5 {
		t.Fatalf("expected K to default to 5, got %d", artifact.K)
	}

	short := filepath.Join(dir, "short.json")
	writeArtifact(t, short, ClassifierArtifact{
		Prototypes: []PrototypeSpec{{ID: "p1", Label: "x", Features: []float64{1, 2, 3}}},
	})
	if _, err := LoadClassifierArtifact(context.Background(), short); err == nil {
		t.Fatalf("expected a feature size error for vectors shorter than %d", imaging.FeatureVectorSize)
	}

	empty := filepath.Join(dir, "empty.json")
	writeArtifact(t, empty, ClassifierArtifact{})
	if _, err := LoadClassifierArtifact(context.Background(), empty); err == nil {
		t.Fatal("expected an error for an artifact without prototypes")
	}
}

func TestLoadDetectorArtifactDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "detector.json")
	writeArtifact(t, path, DetectorArtifact{
		Classes:   []string{"pill"},
		Templates: []TemplateSpec{{Class: "pill", Features: syntheticVector(map[int]float64{0: 0.9})}},
	})

	artifact, err := LoadDetectorArtifact(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadDetectorArtifact returned error: %v", err)
	}
	if artifact.Grid != 4 {
		t.Fatalf("expected grid to default to 4, got %d", artifact.Grid)
	}
	if artifact.ScoreThreshold != 0.5 {
		t.Fatalf("expected score threshold to default to 0.5, got %f", artifact.ScoreThreshold)
	}
}

func TestLoadVerifierArtifactRejectsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "verifier.json")
	writeArtifact(t, path, VerifierArtifact{})
	if _, err := LoadVerifierArtifact(context.Background(), path); err == nil {
		t.Fatal("expected an error for an artifact without references")
	}
}
