// Package drug implements the pharmaceutical analysis pipeline: the
// fallback chain over classification backends, the remote fan-out, result
// combination, knowledge-base matching, and authenticity assessment.
package drug

import "time"

// Source identifies which inference method produced a prediction.
type Source string

const (
	SourceLocalDetector     Source = "local-detector"
	SourceLocalClassifier   Source = "local-classifier"
	SourceHeuristic         Source = "heuristic"
	SourceCloudVision       Source = "cloud-vision"
	SourceTransformerVision Source = "transformer-vision"
)

// Backend identifiers used by the fallback chain registry.
const (
	BackendObjectDetector = "object-detector"
	BackendClassifier     = "classifier"
	BackendHeuristic      = "heuristic"
)

// Prediction is one label with a bounded confidence, tagged with the method
// that produced it.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	Category   string  `json:"category,omitempty"`
}

// ClassificationResult is the outcome of one orchestrator invocation.
type ClassificationResult struct {
	IsPharmaceutical bool         `json:"isPharmaceutical"`
	DetectedLabels   []string     `json:"detectedObjects"`
	Confidence       float64      `json:"confidence"`
	Method           string       `json:"detectionMethod"`
	BoundingBoxCount int          `json:"boundingBoxCount"`
	Predictions      []Prediction `json:"predictions,omitempty"`
}

// ExtractedText is one OCR line that passed the pharmaceutical relevance
// filter, with the flags that kept it.
type ExtractedText struct {
	Raw             string `json:"raw"`
	Corrected       string `json:"corrected"`
	HasDrugName     bool   `json:"hasDrugName"`
	HasDosage       bool   `json:"hasDosage"`
	HasManufacturer bool   `json:"hasManufacturer"`
	HasExpiry       bool   `json:"hasExpiry"`
	HasBatch        bool   `json:"hasBatch"`
	HasInstructions bool   `json:"hasInstructions"`
}

// Relevant reports whether any pharmaceutical predicate matched the line.
func (t ExtractedText) Relevant() bool {
	return t.HasDrugName || t.HasDosage || t.HasManufacturer ||
		t.HasExpiry || t.HasBatch || t.HasInstructions
}

// DrugRecord is one knowledge-base entry. Records are static reference data
// at runtime, seeded from the catalog file and CSV imports.
type DrugRecord struct {
	Name          string   `json:"name" yaml:"name"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Strengths     []string `json:"strengths,omitempty" yaml:"strengths,omitempty"`
	Colors        []string `json:"colors,omitempty" yaml:"colors,omitempty"`
	Shapes        []string `json:"shapes,omitempty" yaml:"shapes,omitempty"`
	Markings      []string `json:"markings,omitempty" yaml:"markings,omitempty"`
	Manufacturers []string `json:"manufacturers,omitempty" yaml:"manufacturers,omitempty"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"`
}

// DrugMatch is the knowledge-base verdict for one analysis. A nil Record
// means the product could not be identified.
type DrugMatch struct {
	Record          *DrugRecord `json:"record,omitempty"`
	MatchedFeatures []string    `json:"matchedFeatures,omitempty"`
	MatchedStrength string      `json:"matchedStrength,omitempty"`
	Confidence      float64     `json:"confidence"`
}

// Identified reports whether the match cleared the acceptance threshold.
func (m DrugMatch) Identified() bool { return m.Record != nil }

// Status grades the authenticity verdict.
type Status string

const (
	StatusAuthentic         Status = "authentic"
	StatusLikelyAuthentic   Status = "likely_authentic"
	StatusSuspicious        Status = "suspicious"
	StatusLikelyCounterfeit Status = "likely_counterfeit"
	StatusNotADrug          Status = "not_a_drug"
)

// FactorBreakdown itemizes the weighted authenticity factors.
type FactorBreakdown struct {
	VisualQuality    float64 `json:"visualQuality"`
	TextQuality      float64 `json:"textQuality"`
	SecurityFeatures float64 `json:"securityFeatures"`
	KBMatchStrength  float64 `json:"kbMatchStrength"`
}

// AuthenticityScore is the bounded authenticity estimate with its factor
// breakdown and explanatory issues.
type AuthenticityScore struct {
	Overall float64         `json:"overall"`
	Factors FactorBreakdown `json:"factors"`
	Status  Status          `json:"status"`
	Issues  []string        `json:"issues"`
}

// VisualFeatures is the appearance summary exposed in the result contract.
type VisualFeatures struct {
	Color    string   `json:"color"`
	Shape    string   `json:"shape"`
	Markings []string `json:"markings"`
}

// AnalysisResult is the top-level pipeline output. It is constructed once
// per request and returned to the caller; persistence is the caller's
// concern.
type AnalysisResult struct {
	DrugName            string               `json:"drugName"`
	Strength            string               `json:"strength"`
	Confidence          float64              `json:"confidence"`
	Status              Status               `json:"status"`
	Issues              []string             `json:"issues"`
	ExtractedText       []ExtractedText      `json:"extractedText"`
	VisualFeatures      VisualFeatures       `json:"visualFeatures"`
	IsDrugImage         bool                 `json:"isDrugImage"`
	ImageClassification ClassificationResult `json:"imageClassification"`
	Authenticity        AuthenticityScore    `json:"authenticity"`
	Match               DrugMatch            `json:"match"`
	BestSource          Source               `json:"bestSource,omitempty"`
	ImageHash           string               `json:"imageHash,omitempty"`
	AnalyzedAt          time.Time            `json:"analyzedAt"`
	LatencyMs           float64              `json:"latencyMs"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
