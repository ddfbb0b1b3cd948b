package drug

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drug-analysis/imaging"
)

func testKB(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb := NewKnowledgeBase(0.4, quietLogger())
	kb.Upsert(DrugRecord{
		Name:          "paracetamol",
		Aliases:       []string{"acetaminophen"},
		Strengths:     []string{"500mg", "650mg"},
		Colors:        []string{"white"},
		Shapes:        []string{"round", "oval"},
		Markings:      []string{"p500"},
		Manufacturers: []string{"gsk"},
		Category:      "analgesic",
	})
	kb.Upsert(DrugRecord{
		Name:      "ibuprofen",
		Strengths: []string{"200mg", "400mg"},
		Colors:    []string{"orange", "white"},
		Shapes:    []string{"round"},
		Category:  "analgesic",
	})
	return kb
}

func tokensFor(v *validatorStub, lines ...string) []ExtractedText {
	out := make([]ExtractedText, 0, len(lines))
	for _, line := range lines {
		out = append(out, v.evaluate(line))
	}
	return out
}

// validatorStub fills relevance flags the way the ocr validator would,
// without importing it (the ocr package depends on this one).
type validatorStub struct{}

func (validatorStub) evaluate(line string) ExtractedText {
	l := strings.ToLower(line)
	return ExtractedText{
		Raw:         line,
		Corrected:   l,
		HasDrugName: strings.Contains(l, "paracetamol") || strings.Contains(l, "ibuprofen"),
		HasDosage:   DosagePattern.MatchString(l),
		HasExpiry:   strings.Contains(l, "exp"),
		HasBatch:    strings.Contains(l, "batch"),
	}
}

func TestMatchIdentifiesDrugFromNameAndStrength(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	var v validatorStub
	match := kb.Match(MatchInput{
		Texts:      tokensFor(&v, "Paracetamol 500mg tablets"),
		Appearance: imaging.Appearance{DominantColor: "white", Shape: "round"},
	})

	if !match.Identified() {
		t.Fatal("expected a positive identification")
	}
	if match.Record.Name != "paracetamol" {
		t.Fatalf("matched %q, want paracetamol", match.Record.Name)
	}
	if match.MatchedStrength != "500mg" {
		t.Fatalf("matched strength %q, want 500mg", match.MatchedStrength)
	}
	// name 0.45 + strength 0.20 + color 0.08 + shape 0.07
	if want := 0.80; math.Abs(match.Confidence-want) > 1e-9 {
		t.Fatalf("confidence %f, want %f", match.Confidence, want)
	}
	for _, feature := range []string{"name", "strength", "color", "shape"} {
		if !containsString(match.MatchedFeatures, feature) {
			t.Errorf("matched features %v missing %q", match.MatchedFeatures, feature)
		}
	}
}

func TestMatchAcceptsAlias(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	match := kb.Match(MatchInput{
		Texts: []ExtractedText{{Corrected: "acetaminophen 500mg", HasDrugName: true, HasDosage: true}},
	})
	if !match.Identified() || match.Record.Name != "paracetamol" {
		t.Fatalf("alias should resolve to paracetamol, got %+v", match.Record)
	}
}

func TestMatchBelowThresholdIsUnidentified(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	// Color and shape alone score 0.15, under the 0.4 threshold.
	match := kb.Match(MatchInput{
		Appearance: imaging.Appearance{DominantColor: "white", Shape: "round"},
	})
	if match.Identified() {
		t.Fatalf("weak evidence must not identify a product: %+v", match)
	}
	if match.Confidence != 0 {
		t.Fatalf("unidentified match must carry zero confidence, got %f", match.Confidence)
	}
}

func TestMatchUsesClassificationLabels(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	match := kb.Match(MatchInput{
		Labels:     []string{"ibuprofen 400mg box"},
		Appearance: imaging.Appearance{DominantColor: "orange", Shape: "round"},
	})
	if !match.Identified() || match.Record.Name != "ibuprofen" {
		t.Fatalf("expected ibuprofen from labels, got %+v", match.Record)
	}
}

func TestMatchPrefersStrongerCandidate(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	var v validatorStub
	// Both names appear; only the paracetamol strength does.
	match := kb.Match(MatchInput{
		Texts: tokensFor(&v, "paracetamol 500mg", "compare with ibuprofen"),
	})
	if !match.Identified() || match.Record.Name != "paracetamol" {
		t.Fatalf("expected the higher-scoring candidate, got %+v", match.Record)
	}
}

func TestImportCSVMergesRecords(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	csvData := `name,aliases,strengths,colors,shapes,markings,manufacturers,category
metformin,glucophage,500mg;850mg,white,oval,,merck,antidiabetic
paracetamol,,1000mg,white,round,,,analgesic
`
	imported, err := kb.ImportCSV(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if imported != 2 {
		t.Fatalf("imported %d records, want 2", imported)
	}

	stats := kb.Stats()
	if stats.Records != 3 {
		t.Fatalf("expected 3 records after merge, got %d", stats.Records)
	}
	// The paracetamol row replaced the original record.
	match := kb.Match(MatchInput{
		Texts: []ExtractedText{{Corrected: "paracetamol 1000mg", HasDrugName: true, HasDosage: true}},
	})
	if !match.Identified() || match.MatchedStrength != "1000mg" {
		t.Fatalf("expected the imported strengths to win, got %+v", match)
	}
}

func TestCatalogSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")

	kb := testKB(t)
	if err := kb.SaveCatalog(path); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}

	fresh := NewKnowledgeBase(0.4, quietLogger())
	n, err := fresh.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d records, want 2", n)
	}
	names := fresh.Names()
	for _, want := range []string{"paracetamol", "acetaminophen", "ibuprofen"} {
		if !containsString(names, want) {
			t.Errorf("names %v missing %q", names, want)
		}
	}
}

func TestLoadCatalogFallsBackToExample(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	example := filepath.Join(dir, "catalog.example.yaml")
	data := "drugs:\n  - name: omeprazole\n    strengths: [20mg]\n"
	if err := os.WriteFile(example, []byte(data), 0o644); err != nil {
		t.Fatalf("write example: %v", err)
	}

	kb := NewKnowledgeBase(0.4, quietLogger())
	n, err := kb.LoadCatalog(filepath.Join(dir, "catalog.yaml"))
	if err != nil {
		t.Fatalf("LoadCatalog with fallback: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d records, want 1", n)
	}
}

func TestRecordsReturnsACopy(t *testing.T) {
	t.Parallel()

	kb := testKB(t)
	records := kb.Records()
	records[0].Name = "mutated"
	records[0].Strengths[0] = "mutated"

	match := kb.Match(MatchInput{
		Texts: []ExtractedText{{Corrected: "paracetamol 500mg", HasDrugName: true, HasDosage: true}},
	})
	if !match.Identified() {
		t.Fatal("mutating the copy leaked into the knowledge base")
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
