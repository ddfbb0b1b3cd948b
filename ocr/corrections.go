package ocr

import "strings"

// unitFixes repairs the classic tesseract "m read as rn" confusion in
// dosage units.
var unitFixes = strings.NewReplacer(
	"rncg", "mcg",
	"rng", "mg",
	"rnl", "ml",
)

// digitConfusions maps letters tesseract commonly produces in place of
// digits. Applied only inside tokens that already contain a digit, so
// ordinary words are left alone. B is deliberately absent: batch codes
// like AB123 are legitimate letter-digit mixes and must survive.
var digitConfusions = map[rune]rune{
	'O': '0', 'o': '0',
	'I': '1', 'l': '1',
	'S': '5', 's': '5',
	'Z': '2', 'z': '2',
}

// CorrectLine normalizes a recognized line: whitespace collapsed,
// digit-adjacent character confusions resolved, then lowercased with
// dosage units repaired. Digit fixes run before lowercasing so uppercase
// confusions ("50Omg") are caught too.
func CorrectLine(line string) string {
	tokens := strings.Fields(line)
	for i, tok := range tokens {
		if !containsDigit(tok) {
			continue
		}
		tokens[i] = fixDigitToken(tok)
	}
	return unitFixes.Replace(strings.ToLower(strings.Join(tokens, " ")))
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// fixDigitToken replaces confusable letters inside a numeric token, but only
// when they sit next to a digit. "50Omg" becomes "500mg" while the unit
// letters survive.
func fixDigitToken(tok string) string {
	runes := []rune(tok)
	out := make([]rune, len(runes))
	copy(out, runes)
	for i, r := range runes {
		fixed, ok := digitConfusions[r]
		if !ok {
			continue
		}
		prevDigit := i > 0 && isDigit(out[i-1])
		nextDigit := i+1 < len(runes) && isDigit(runes[i+1])
		if prevDigit || nextDigit {
			out[i] = fixed
		}
	}
	return string(out)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
