package drug

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"drug-analysis/utils"
)

// Authenticity factor weights. The four factors are each scored in [0,1]
// and blended into the overall estimate.
const (
	factorVisualWeight   = 0.25
	factorTextWeight     = 0.30
	factorSecurityWeight = 0.20
	factorKBMatchWeight  = 0.25
)

// Text-factor increments per evidence kind.
const (
	textNameIncrement     = 0.30
	textStrengthIncrement = 0.30
	textBatchIncrement    = 0.20
	textExpiryIncrement   = 0.20
)

// Visual-factor deductions when the product contradicts the matched
// record's expected appearance or its stored packaging reference.
const (
	colorMismatchPenalty = 0.20
	shapeMismatchPenalty = 0.15
	hashMismatchPenalty  = 0.15
	hashMismatchBar      = 0.70

	// appearanceMismatchCeiling caps the overall score when the observed
	// product contradicts the record it was identified as. However clean
	// the paperwork reads, a wrong-looking product cannot grade fully
	// authentic.
	appearanceMismatchCeiling = 0.75
)

// Status thresholds over the overall score.
const (
	authenticBar        = 0.80
	likelyAuthenticBar  = 0.60
	suspiciousBar       = 0.40
	unidentifiedOverall = 0.45
)

// wellFormedExpiry accepts MM/YYYY, MM-YYYY, MM/YY and YYYY-MM style dates.
var wellFormedExpiry = regexp.MustCompile(`\b(0[1-9]|1[0-2])[/-](20\d{2}|\d{2})\b|\b20\d{2}-(0[1-9]|1[0-2])\b`)

// AssessmentInput carries everything the assessor grades.
type AssessmentInput struct {
	Sample              *Sample
	Classification      ClassificationResult
	Texts               []ExtractedText
	Match               DrugMatch
	ReferenceSimilarity float64
	ReferenceChecked    bool

	// ReferenceHashSimilarity compares the sample's perceptual hash
	// against the stored reference hash for the matched drug, when the
	// verifier artifact carries one.
	ReferenceHashSimilarity float64
	ReferenceHashChecked    bool

	RemoteDisagreement bool
}

// Assessor turns the collected evidence into an authenticity verdict.
type Assessor struct {
	logger *slog.Logger
}

// NewAssessor returns the authenticity assessor.
func NewAssessor(logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Assessor{logger: logger}
}

// Assess grades the analysis. Non-pharmaceutical classifications
// short-circuit to not_a_drug; unidentified products are pinned to a
// mid-range suspicious verdict because authenticity cannot be judged
// without knowing what the product claims to be.
func (a *Assessor) Assess(input AssessmentInput) AuthenticityScore {
	if !input.Classification.IsPharmaceutical {
		return AuthenticityScore{
			Overall: 0,
			Status:  StatusNotADrug,
			Issues:  []string{"image does not appear to show a pharmaceutical product"},
		}
	}

	issues := []string{}
	visual, mismatches := a.visualFactor(input, &issues)
	factors := FactorBreakdown{
		VisualQuality:    visual,
		TextQuality:      a.textFactor(input.Texts, &issues),
		SecurityFeatures: a.securityFactor(input.Texts, &issues),
		KBMatchStrength:  clamp01(input.Match.Confidence),
	}

	if !input.Match.Identified() {
		issues = append(issues, "product could not be identified against the known drug catalog")
		return AuthenticityScore{
			Overall: unidentifiedOverall,
			Factors: factors,
			Status:  StatusSuspicious,
			Issues:  issues,
		}
	}

	overall := factors.VisualQuality*factorVisualWeight +
		factors.TextQuality*factorTextWeight +
		factors.SecurityFeatures*factorSecurityWeight +
		factors.KBMatchStrength*factorKBMatchWeight

	if input.ReferenceChecked {
		// The packaging reference check moves the score up to 10% in
		// either direction around its midpoint.
		overall += (input.ReferenceSimilarity - 0.5) * 0.2
		if input.ReferenceSimilarity < 0.35 {
			issues = append(issues, "packaging differs noticeably from the known reference")
		}
	}
	if input.RemoteDisagreement {
		overall -= 0.05
		issues = append(issues, "remote vision services disagree with the local classification")
	}
	if mismatches > 0 && overall > appearanceMismatchCeiling {
		overall = appearanceMismatchCeiling
	}
	overall = clamp01(overall)

	status := statusFor(overall)
	if status == StatusLikelyCounterfeit {
		issues = append(issues, "multiple authenticity factors scored poorly")
	}
	a.logger.Debug("authenticity assessed",
		"overall", overall,
		"status", string(status),
		"issues", len(issues))
	return AuthenticityScore{
		Overall: overall,
		Factors: factors,
		Status:  status,
		Issues:  issues,
	}
}

func statusFor(overall float64) Status {
	switch {
	case overall >= authenticBar:
		return StatusAuthentic
	case overall >= likelyAuthenticBar:
		return StatusLikelyAuthentic
	case overall >= suspiciousBar:
		return StatusSuspicious
	default:
		return StatusLikelyCounterfeit
	}
}

// visualFactor grades classification strength, capture quality, and how the
// observed product compares against the matched record's expected
// appearance. It also returns how many appearance checks contradicted the
// record, so Assess can cap the verdict.
func (a *Assessor) visualFactor(input AssessmentInput, issues *[]string) (float64, int) {
	score := clamp01(input.Classification.Confidence)
	mismatches := 0
	if input.Sample == nil {
		return score, 0
	}
	q := input.Sample.Quality
	if q.LowLight {
		score -= 0.15
		*issues = append(*issues, "image is too dark for reliable verification")
	}
	if q.LowContrast {
		score -= 0.10
		*issues = append(*issues, "image has low contrast")
	}
	if q.Blurry {
		score -= 0.15
		*issues = append(*issues, "image appears blurry")
	}
	if q.SmallImage {
		score -= 0.10
		*issues = append(*issues, fmt.Sprintf("image resolution %dx%d is too small for detail checks", q.Width, q.Height))
	}

	if input.Match.Identified() {
		rec := input.Match.Record
		app := input.Sample.Appearance
		if len(rec.Colors) > 0 && observed(app.DominantColor) &&
			!containsFold(rec.Colors, app.DominantColor) &&
			!containsFold(rec.Colors, app.SecondaryColor) {
			score -= colorMismatchPenalty
			mismatches++
			*issues = append(*issues, fmt.Sprintf("product color %q does not match the expected %s",
				app.DominantColor, strings.Join(rec.Colors, " or ")))
		}
		if len(rec.Shapes) > 0 && observed(app.Shape) && !containsFold(rec.Shapes, app.Shape) {
			score -= shapeMismatchPenalty
			mismatches++
			*issues = append(*issues, fmt.Sprintf("product shape %q does not match the expected %s",
				app.Shape, strings.Join(rec.Shapes, " or ")))
		}
	}
	if input.ReferenceHashChecked && input.ReferenceHashSimilarity < hashMismatchBar {
		score -= hashMismatchPenalty
		mismatches++
		*issues = append(*issues, "product appearance differs from the stored reference image")
	}
	return clamp01(score), mismatches
}

// observed reports whether the appearance extractor produced a usable value.
func observed(v string) bool {
	return v != "" && v != "unknown"
}

// textFactor rewards the pharmaceutical text evidence OCR recovered.
func (a *Assessor) textFactor(texts []ExtractedText, issues *[]string) float64 {
	var hasName, hasDosage, hasBatch, hasExpiry bool
	for _, t := range texts {
		hasName = hasName || t.HasDrugName
		hasDosage = hasDosage || t.HasDosage
		hasBatch = hasBatch || t.HasBatch
		hasExpiry = hasExpiry || t.HasExpiry
	}
	score := 0.0
	if hasName {
		score += textNameIncrement
	}
	if hasDosage {
		score += textStrengthIncrement
	}
	if hasBatch {
		score += textBatchIncrement
	}
	if hasExpiry {
		score += textExpiryIncrement
	}
	if len(texts) == 0 {
		*issues = append(*issues, "no readable text found on the product")
	} else if !hasName && !hasDosage {
		*issues = append(*issues, "text lacks a recognizable drug name and dosage")
	}
	return clamp01(score)
}

// securityFactor checks for the anti-counterfeit markers legitimate
// packaging carries: a batch or lot number and a well-formed expiry date.
func (a *Assessor) securityFactor(texts []ExtractedText, issues *[]string) float64 {
	var hasBatch, hasWellFormedExpiry bool
	for _, t := range texts {
		if t.HasBatch {
			hasBatch = true
		}
		if t.HasExpiry && wellFormedExpiry.MatchString(strings.ToLower(t.Corrected)) {
			hasWellFormedExpiry = true
		}
	}
	score := 0.0
	if hasBatch {
		score += 0.5
	} else {
		*issues = append(*issues, "no batch or lot number found")
	}
	if hasWellFormedExpiry {
		score += 0.5
	} else {
		*issues = append(*issues, "no well-formed expiry date found")
	}
	return score
}
