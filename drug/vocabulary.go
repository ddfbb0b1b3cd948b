package drug

import "strings"

// DrugCategories are the product classes the on-device classifier is
// trained on.
var DrugCategories = []string{
	"paracetamol",
	"ibuprofen",
	"amoxicillin",
	"omeprazole",
	"metformin",
	"lisinopril",
	"amlodipine",
	"simvastatin",
}

// DetectorClasses are the object classes the pill detector is trained on.
var DetectorClasses = []string{"pill", "tablet", "capsule", "blister_pack"}

// pharmaDetectionLabels are detector/classifier outputs that directly
// indicate a pharmaceutical product.
var pharmaDetectionLabels = map[string]bool{
	"pill":           true,
	"tablet":         true,
	"capsule":        true,
	"blister_pack":   true,
	"blister pack":   true,
	"medicine":       true,
	"medication":     true,
	"drug":           true,
	"pharmaceutical": true,
	"syrup":          true,
	"inhaler":        true,
	"ointment":       true,
	"vial":           true,
	"ampoule":        true,
	"syringe":        true,
}

// contextualDetectionLabels co-occur with pharmaceuticals but are not
// conclusive on their own; they carry a reduced weight.
var contextualDetectionLabels = map[string]bool{
	"bottle":       true,
	"box":          true,
	"packaging":    true,
	"package":      true,
	"label":        true,
	"container":    true,
	"jar":          true,
	"carton":       true,
	"foil":         true,
	"prescription": true,
	"pharmacy":     true,
}

// nonDrugVocabulary penalizes classifications that point away from a
// pharmaceutical product: people, branding, electronics, social content.
var nonDrugVocabulary = []string{
	"face", "person", "people", "portrait", "selfie", "man", "woman", "child",
	"logo", "brand", "trademark",
	"phone", "laptop", "computer", "screen", "keyboard", "television",
	"social media", "screenshot", "website",
	"car", "vehicle", "building", "landscape", "food", "animal", "pet",
	"dog", "cat", "clothing", "shoe", "furniture", "toy",
}

// isPharmaLabel reports whether a label (case-insensitive, possibly a
// phrase) names a pharmaceutical object or a known drug.
func isPharmaLabel(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if pharmaDetectionLabels[l] {
		return true
	}
	for _, category := range DrugCategories {
		if strings.Contains(l, category) {
			return true
		}
	}
	for term := range pharmaDetectionLabels {
		if strings.Contains(l, term) {
			return true
		}
	}
	return false
}

// isContextualLabel reports whether a label is supporting evidence only.
func isContextualLabel(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if contextualDetectionLabels[l] {
		return true
	}
	for term := range contextualDetectionLabels {
		if strings.Contains(l, term) {
			return true
		}
	}
	return false
}

// nonDrugHits counts how many labels match the non-drug vocabulary.
func nonDrugHits(labels []string) int {
	hits := 0
	for _, label := range labels {
		l := strings.ToLower(label)
		for _, term := range nonDrugVocabulary {
			if strings.Contains(l, term) {
				hits++
				break
			}
		}
	}
	return hits
}
