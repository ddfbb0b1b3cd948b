package drug

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"drug-analysis/imaging"
	"drug-analysis/utils"
)

// DosagePattern matches dosage expressions such as "500mg", "5 ml" or
// "250 mcg". Matching is case-insensitive and requires a word boundary after
// the unit so "5 mgx" does not qualify.
var DosagePattern = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(mg|ml|mcg|g)\b`)

const defaultMatchThreshold = 0.4

// Knowledge-base match weights. Name evidence dominates; the remaining
// factors refine the score but cannot identify a product on their own.
const (
	matchNameWeight         = 0.45
	matchStrengthWeight     = 0.20
	matchColorWeight        = 0.08
	matchShapeWeight        = 0.07
	matchMarkingWeight      = 0.10
	matchManufacturerWeight = 0.10
)

// catalogFile is the on-disk YAML layout of the drug catalog.
type catalogFile struct {
	Drugs []DrugRecord `yaml:"drugs"`
}

// KnowledgeBase holds the reference catalog of known drug products and
// matches analysis evidence against it. All methods are safe for concurrent
// use.
type KnowledgeBase struct {
	mu             sync.RWMutex
	records        []DrugRecord
	matchThreshold float64
	logger         *slog.Logger
}

// NewKnowledgeBase returns an empty knowledge base. Matches scoring below
// matchThreshold are reported as unidentified.
func NewKnowledgeBase(matchThreshold float64, logger *slog.Logger) *KnowledgeBase {
	if matchThreshold <= 0 {
		matchThreshold = defaultMatchThreshold
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &KnowledgeBase{matchThreshold: matchThreshold, logger: logger}
}

// LoadCatalog replaces the record set from a YAML catalog file. When the
// configured file is missing, the bundled example catalog next to it is
// tried so a fresh checkout works without provisioning.
func (kb *KnowledgeBase) LoadCatalog(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fallback := catalogExamplePath(path)
		kb.logger.Warn("catalog file missing, falling back to example",
			"path", path, "fallback", fallback)
		data, err = os.ReadFile(fallback)
	}
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse catalog: %w", err)
	}
	records := make([]DrugRecord, 0, len(file.Drugs))
	for _, rec := range file.Drugs {
		if strings.TrimSpace(rec.Name) == "" {
			continue
		}
		records = append(records, rec)
	}

	kb.mu.Lock()
	kb.records = records
	kb.mu.Unlock()

	kb.logger.Info("drug catalog loaded", "records", len(records))
	return len(records), nil
}

// SaveCatalog writes the current record set to path atomically, via a
// temporary file renamed into place.
func (kb *KnowledgeBase) SaveCatalog(path string) error {
	data, err := yaml.Marshal(catalogFile{Drugs: kb.Records()})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	dir := filepath.Dir(path)
	if err := utils.CreateFolder(dir); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "catalog-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

// ImportCSV merges records from a CSV stream into the catalog. Expected
// columns: name, aliases, strengths, colors, shapes, markings,
// manufacturers, category. Multi-value cells use ';' separators. A header
// row is skipped when present. Returns the number of records imported.
func (kb *KnowledgeBase) ImportCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	imported := 0
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read csv: %w", err)
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(row[0]), "name") {
				continue
			}
		}
		rec := recordFromRow(row)
		if rec.Name == "" {
			continue
		}
		kb.Upsert(rec)
		imported++
	}
	kb.logger.Info("catalog csv imported", "records", imported)
	return imported, nil
}

func recordFromRow(row []string) DrugRecord {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return DrugRecord{
		Name:          strings.ToLower(cell(0)),
		Aliases:       splitMulti(cell(1)),
		Strengths:     splitMulti(cell(2)),
		Colors:        splitMulti(cell(3)),
		Shapes:        splitMulti(cell(4)),
		Markings:      splitMulti(cell(5)),
		Manufacturers: splitMulti(cell(6)),
		Category:      strings.ToLower(cell(7)),
	}
}

func splitMulti(cell string) []string {
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Upsert inserts a record or replaces the existing record with the same
// name, case-insensitively.
func (kb *KnowledgeBase) Upsert(rec DrugRecord) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	name := strings.ToLower(rec.Name)
	for i := range kb.records {
		if strings.ToLower(kb.records[i].Name) == name {
			kb.records[i] = rec
			return
		}
	}
	kb.records = append(kb.records, rec)
}

// Records returns a deep copy of the catalog so callers can iterate without
// holding the lock.
func (kb *KnowledgeBase) Records() []DrugRecord {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]DrugRecord, len(kb.records))
	for i, rec := range kb.records {
		out[i] = copyRecord(rec)
	}
	return out
}

func copyRecord(rec DrugRecord) DrugRecord {
	cp := rec
	cp.Aliases = append([]string(nil), rec.Aliases...)
	cp.Strengths = append([]string(nil), rec.Strengths...)
	cp.Colors = append([]string(nil), rec.Colors...)
	cp.Shapes = append([]string(nil), rec.Shapes...)
	cp.Markings = append([]string(nil), rec.Markings...)
	cp.Manufacturers = append([]string(nil), rec.Manufacturers...)
	return cp
}

// Names returns every known drug name and alias, lowercased and sorted.
// The OCR validator uses this to recognize drug names in noisy text.
func (kb *KnowledgeBase) Names() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	seen := make(map[string]bool)
	for _, rec := range kb.records {
		seen[strings.ToLower(rec.Name)] = true
		for _, alias := range rec.Aliases {
			seen[strings.ToLower(alias)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CatalogStats summarizes the loaded catalog for the info endpoints.
type CatalogStats struct {
	Records    int            `json:"records"`
	Strengths  int            `json:"strengths"`
	Categories map[string]int `json:"categories"`
}

// Stats counts records, known strength variants and category sizes.
func (kb *KnowledgeBase) Stats() CatalogStats {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	stats := CatalogStats{
		Records:    len(kb.records),
		Categories: make(map[string]int),
	}
	for _, rec := range kb.records {
		stats.Strengths += len(rec.Strengths)
		if rec.Category != "" {
			stats.Categories[rec.Category]++
		}
	}
	return stats
}

// MatchInput bundles the evidence the matcher scores a record against.
type MatchInput struct {
	Labels     []string
	Texts      []ExtractedText
	Appearance imaging.Appearance
}

// Match scores every catalog record against the evidence and returns the
// best match. A score below the acceptance threshold yields an unidentified
// match: nil record, zero confidence.
func (kb *KnowledgeBase) Match(input MatchInput) DrugMatch {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	corpus := buildMatchCorpus(input)
	dosages := normalizedDosages(corpus)

	var best DrugMatch
	bestScore := 0.0
	for i := range kb.records {
		score, features, strength := scoreRecord(&kb.records[i], input, corpus, dosages)
		if score > bestScore {
			rec := copyRecord(kb.records[i])
			bestScore = score
			best = DrugMatch{
				Record:          &rec,
				MatchedFeatures: features,
				MatchedStrength: strength,
				Confidence:      clamp01(score),
			}
		}
	}
	if bestScore < kb.matchThreshold {
		return DrugMatch{}
	}
	return best
}

// buildMatchCorpus joins corrected OCR lines and classification labels into
// one lowercase haystack.
func buildMatchCorpus(input MatchInput) string {
	var b strings.Builder
	for _, t := range input.Texts {
		b.WriteString(strings.ToLower(t.Corrected))
		b.WriteByte(' ')
	}
	for _, label := range input.Labels {
		b.WriteString(strings.ToLower(label))
		b.WriteByte(' ')
	}
	return b.String()
}

func normalizedDosages(corpus string) map[string]bool {
	found := DosagePattern.FindAllString(corpus, -1)
	out := make(map[string]bool, len(found))
	for _, d := range found {
		out[normalizeDosage(d)] = true
	}
	return out
}

func normalizeDosage(d string) string {
	return strings.ToLower(strings.Join(strings.Fields(d), ""))
}

func scoreRecord(rec *DrugRecord, input MatchInput, corpus string, dosages map[string]bool) (float64, []string, string) {
	score := 0.0
	var features []string
	var matchedStrength string

	if matchesName(rec, corpus) {
		score += matchNameWeight
		features = append(features, "name")
	}
	for _, s := range rec.Strengths {
		if dosages[normalizeDosage(s)] {
			score += matchStrengthWeight
			features = append(features, "strength")
			matchedStrength = s
			break
		}
	}
	if containsFold(rec.Colors, input.Appearance.DominantColor) ||
		containsFold(rec.Colors, input.Appearance.SecondaryColor) {
		score += matchColorWeight
		features = append(features, "color")
	}
	if containsFold(rec.Shapes, input.Appearance.Shape) {
		score += matchShapeWeight
		features = append(features, "shape")
	}
	if matchesAny(rec.Markings, corpus) || markingOverlap(rec.Markings, input.Appearance.Markings) {
		score += matchMarkingWeight
		features = append(features, "markings")
	}
	if matchesAny(rec.Manufacturers, corpus) {
		score += matchManufacturerWeight
		features = append(features, "manufacturer")
	}
	return score, features, matchedStrength
}

func matchesName(rec *DrugRecord, corpus string) bool {
	if strings.Contains(corpus, strings.ToLower(rec.Name)) {
		return true
	}
	for _, alias := range rec.Aliases {
		if alias != "" && strings.Contains(corpus, strings.ToLower(alias)) {
			return true
		}
	}
	return false
}

func matchesAny(values []string, corpus string) bool {
	for _, v := range values {
		if v != "" && strings.Contains(corpus, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	if want == "" || want == "unknown" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func markingOverlap(recorded, observed []string) bool {
	for _, o := range observed {
		if containsFold(recorded, o) {
			return true
		}
	}
	return false
}

// catalogExamplePath maps "data/catalog.yaml" to "data/catalog.example.yaml".
func catalogExamplePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".example" + ext
}
