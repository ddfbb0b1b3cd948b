package ocr

import (
	"regexp"
	"sort"
	"strings"

	"drug-analysis/drug"
)

var (
	// expiryKeyword and expiryDate together decide HasExpiry: either an
	// explicit keyword or a bare MM/YYYY style date.
	expiryKeyword = regexp.MustCompile(`(?i)\b(exp|expiry|expires|use by|best before)\b`)
	expiryDate    = regexp.MustCompile(`\b(0?[1-9]|1[0-2])[/-](20\d{2}|\d{2})\b`)

	// batchKeyword matches "batch no: AB1234" style declarations;
	// batchCode matches standalone codes like "B23X451" in the raw line,
	// where case still carries signal.
	batchKeyword = regexp.MustCompile(`(?i)\b(batch|lot)\b[\s.:#]*(no\.?|number)?[\s.:#]*[a-z0-9-]{3,}`)
	batchCode    = regexp.MustCompile(`\b[A-Z]{1,3}\d{4,8}\b`)
)

// manufacturerTerms flag company-name lines.
var manufacturerTerms = []string{
	"pharma", "pharmaceutical", "pharmaceuticals", "laboratories", "labs",
	"healthcare", "gmbh", "ltd", "llc", "inc", "plc",
}

// instructionTerms flag dosing and storage instructions.
var instructionTerms = []string{
	"take", "tablet", "tablets", "capsule", "capsules", "daily", "dose",
	"dosage", "oral", "adults", "children", "doctor", "swallow", "water",
	"store", "keep out of reach",
}

// Validator classifies recognized lines against the pharmaceutical
// vocabulary and the loaded drug catalog.
type Validator struct {
	names []string
}

// NewValidator builds a validator over the catalog's names and aliases. The
// built-in drug categories are always included so a missing catalog still
// recognizes common products.
func NewValidator(names []string) *Validator {
	seen := make(map[string]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			seen[n] = true
		}
	}
	for _, n := range drug.DrugCategories {
		seen[strings.ToLower(n)] = true
	}
	merged := make([]string, 0, len(seen))
	for n := range seen {
		merged = append(merged, n)
	}
	sort.Strings(merged)
	return &Validator{names: merged}
}

// Evaluate fills the relevance flags for one recognized line. The corrected
// form drives most checks; standalone batch codes are matched against the
// raw line because their uppercase shape is the signal.
func (v *Validator) Evaluate(raw, corrected string) drug.ExtractedText {
	t := drug.ExtractedText{Raw: raw, Corrected: corrected}
	t.HasDrugName = v.hasDrugName(corrected)
	t.HasDosage = drug.DosagePattern.MatchString(corrected)
	t.HasExpiry = expiryKeyword.MatchString(corrected) || expiryDate.MatchString(corrected)
	t.HasBatch = batchKeyword.MatchString(corrected) || batchCode.MatchString(raw)
	t.HasManufacturer = containsAnyTerm(corrected, manufacturerTerms)
	t.HasInstructions = containsAnyTerm(corrected, instructionTerms)
	return t
}

func (v *Validator) hasDrugName(corrected string) bool {
	for _, name := range v.names {
		if strings.Contains(corrected, name) {
			return true
		}
	}
	return false
}

func containsAnyTerm(corrected string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(corrected, term) {
			return true
		}
	}
	return false
}
