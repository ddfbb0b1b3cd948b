package drug

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"drug-analysis/imaging"
	"drug-analysis/utils"
	"drug-analysis/vision"
)

// MethodRemote marks a classification reconstructed from remote predictions
// after the local chain failed entirely.
const MethodRemote = "remote"

// rescuePharmaBar is the accumulated remote pharmaceutical score needed for
// a remote-only rescue to declare the image pharmaceutical.
const rescuePharmaBar = 0.5

// remoteDisagreementBar is the remote pharmaceutical score below which
// responding remotes are considered to contradict a local pharmaceutical
// verdict.
const remoteDisagreementBar = 0.15

const defaultPipelineTimeout = 60 * time.Second

// TextExtractor is the OCR port. Implementations never fail the pipeline;
// unusable text is reported as an empty slice.
type TextExtractor interface {
	Extract(ctx context.Context, sample *Sample) []ExtractedText
}

// RemoteVision is one remote labeling service. Adapters run concurrently
// with the local chain; errors are collected, logged and tolerated.
type RemoteVision interface {
	Source() Source
	Annotate(ctx context.Context, sample *Sample) ([]Prediction, error)
}

// AnalyzerConfig wires the pipeline stages together. Orchestrator,
// KnowledgeBase and Assessor are required; the extractor, remotes and the
// model manager (for packaging reference checks) are optional.
type AnalyzerConfig struct {
	Orchestrator    *Orchestrator
	Extractor       TextExtractor
	Remotes         []RemoteVision
	KB              *KnowledgeBase
	Assessor        *Assessor
	Manager         *vision.Manager
	Limits          imaging.Limits
	PipelineTimeout time.Duration
	Logger          *slog.Logger
}

// Analyzer runs the full analysis: validation, concurrent classification
// and text extraction, result combination, catalog matching, and
// authenticity assessment.
type Analyzer struct {
	orchestrator    *Orchestrator
	extractor       TextExtractor
	remotes         []RemoteVision
	kb              *KnowledgeBase
	assessor        *Assessor
	manager         *vision.Manager
	limits          imaging.Limits
	pipelineTimeout time.Duration
	logger          *slog.Logger

	now func() time.Time
}

// NewAnalyzer validates the wiring and returns the pipeline.
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("analyzer requires an orchestrator")
	}
	if cfg.KB == nil {
		return nil, fmt.Errorf("analyzer requires a knowledge base")
	}
	if cfg.Assessor == nil {
		return nil, fmt.Errorf("analyzer requires an assessor")
	}
	limits := cfg.Limits
	if limits.MaxBytes <= 0 {
		limits = imaging.DefaultLimits()
	}
	timeout := cfg.PipelineTimeout
	if timeout <= 0 {
		timeout = defaultPipelineTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Analyzer{
		orchestrator:    cfg.Orchestrator,
		extractor:       cfg.Extractor,
		remotes:         cfg.Remotes,
		kb:              cfg.KB,
		assessor:        cfg.Assessor,
		manager:         cfg.Manager,
		limits:          limits,
		pipelineTimeout: timeout,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// AnalyzePayload analyzes a base64 or data-URI image payload. The only
// errors returned are validation errors; everything past validation
// degrades into the result instead of failing.
func (a *Analyzer) AnalyzePayload(ctx context.Context, payload string, hints []string) (*AnalysisResult, error) {
	sample, err := PreparePayloadSample(payload, a.limits)
	if err != nil {
		return nil, err
	}
	sample.HintLabels = hints
	return a.analyze(ctx, sample), nil
}

// AnalyzeBytes analyzes raw image bytes, for multipart uploads and CLI use.
func (a *Analyzer) AnalyzeBytes(ctx context.Context, data []byte, hints []string) (*AnalysisResult, error) {
	sample, err := PrepareSample(data, a.limits)
	if err != nil {
		return nil, err
	}
	sample.HintLabels = hints
	return a.analyze(ctx, sample), nil
}

// analyze runs the pipeline stages over a validated sample. It never
// returns an error: panics and total stage failure both collapse into the
// documented failure result.
func (a *Analyzer) analyze(ctx context.Context, sample *Sample) (result *AnalysisResult) {
	start := a.now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("analysis panicked", "panic", r)
			result = a.failedResult(sample, start, nil)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, a.pipelineTimeout)
	defer cancel()

	// The local chain, the OCR extractor and every remote adapter run
	// concurrently. Each writes into its own slot; a failing remote
	// never cancels the others.
	var (
		chain   ClassificationResult
		texts   []ExtractedText
		remotes = make([]RemoteOutcome, len(a.remotes))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chain = a.orchestrator.Classify(gctx, sample)
		return nil
	})
	if a.extractor != nil {
		g.Go(func() error {
			// A panicking extractor loses its text but not the analysis.
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("text extraction panicked", "panic", r)
				}
			}()
			texts = a.extractor.Extract(gctx, sample)
			return nil
		})
	}
	for i, remote := range a.remotes {
		i, remote := i, remote
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					remotes[i] = RemoteOutcome{
						Source: remote.Source(),
						Err:    fmt.Errorf("remote adapter panicked: %v", r),
					}
					a.logger.Error("remote vision adapter panicked",
						"source", string(remote.Source()), "panic", r)
				}
			}()
			preds, err := remote.Annotate(gctx, sample)
			remotes[i] = RemoteOutcome{Source: remote.Source(), Predictions: preds, Err: err}
			if err != nil {
				a.logger.Warn("remote vision adapter failed",
					"source", string(remote.Source()), "error", err)
			}
			return nil
		})
	}
	g.Wait()

	combined := Combine(chain, remotes...)
	classification := chain
	if classification.Method == MethodNone && combined.RemoteCount > 0 {
		classification = rescueClassification(combined)
		a.logger.Info("local chain failed, classified from remote predictions",
			"isPharmaceutical", classification.IsPharmaceutical)
	}
	if classification.Method == MethodNone {
		a.logger.Error("analysis produced no classification")
		return a.failedResult(sample, start, texts)
	}

	match := a.kb.Match(MatchInput{
		Labels:     matchLabels(classification, combined),
		Texts:      texts,
		Appearance: sample.Appearance,
	})

	ref := a.referenceCheck(ctx, sample, match)
	disagree := combined.RemoteCount > 0 &&
		classification.IsPharmaceutical &&
		combined.RemotePharmaScore < remoteDisagreementBar

	auth := a.assessor.Assess(AssessmentInput{
		Sample:                  sample,
		Classification:          classification,
		Texts:                   texts,
		Match:                   match,
		ReferenceSimilarity:     ref.Similarity,
		ReferenceChecked:        ref.Checked,
		ReferenceHashSimilarity: ref.HashSimilarity,
		ReferenceHashChecked:    ref.HashChecked,
		RemoteDisagreement:      disagree,
	})

	result = a.buildResult(sample, classification, combined, texts, match, auth, start)
	a.logger.Info("analysis complete",
		"drug", result.DrugName,
		"status", string(result.Status),
		"method", classification.Method,
		"latencyMs", result.LatencyMs)
	return result
}

// referenceEvidence is the outcome of the packaging reference check:
// feature-vector similarity from the verifier model and, when the artifact
// stores one, the perceptual-hash similarity against the reference image.
type referenceEvidence struct {
	Similarity     float64
	Checked        bool
	HashSimilarity float64
	HashChecked    bool
}

// referenceHasher is implemented by verifier models whose artifact carries
// per-drug reference hashes.
type referenceHasher interface {
	ReferenceHash(label string) (uint64, bool)
}

// referenceCheck compares the sample against the stored packaging reference
// for the identified product. It is best-effort: any failure just skips the
// check.
func (a *Analyzer) referenceCheck(ctx context.Context, sample *Sample, match DrugMatch) referenceEvidence {
	var ev referenceEvidence
	if a.manager == nil || !match.Identified() {
		return ev
	}
	out, err := a.manager.Predict(ctx, vision.ModelAuthenticityVerifier, vision.Input{
		Image:       sample.Decoded.Image,
		Features:    sample.Features,
		TargetLabel: match.Record.Name,
	})
	if err != nil {
		a.logger.Warn("packaging reference check failed",
			"drug", match.Record.Name, "error", err)
		return ev
	}
	if len(out.Predictions) > 0 {
		ev.Similarity = clamp01(out.Predictions[0].Confidence)
		ev.Checked = true
	}
	if model, err := a.manager.Load(ctx, vision.ModelAuthenticityVerifier); err == nil {
		if hasher, ok := model.(referenceHasher); ok {
			if refHash, ok := hasher.ReferenceHash(match.Record.Name); ok {
				ev.HashSimilarity = imaging.HashSimilarity(refHash, sample.Hash)
				ev.HashChecked = true
			}
		}
	}
	return ev
}

func (a *Analyzer) buildResult(
	sample *Sample,
	classification ClassificationResult,
	combined CombinedResult,
	texts []ExtractedText,
	match DrugMatch,
	auth AuthenticityScore,
	start time.Time,
) *AnalysisResult {
	if texts == nil {
		texts = []ExtractedText{}
	}
	if classification.DetectedLabels == nil {
		classification.DetectedLabels = []string{}
	}

	result := &AnalysisResult{
		DrugName:            "unknown",
		Status:              auth.Status,
		Issues:              auth.Issues,
		ExtractedText:       texts,
		VisualFeatures:      sample.VisualSummary(),
		IsDrugImage:         classification.IsPharmaceutical,
		ImageClassification: classification,
		Authenticity:        auth,
		Match:               match,
		BestSource:          combined.BestSource,
		ImageHash:           fmt.Sprintf("%016x", sample.Hash),
		AnalyzedAt:          start.UTC(),
		LatencyMs:           float64(a.now().Sub(start).Microseconds()) / 1000.0,
	}
	switch {
	case match.Identified():
		result.DrugName = match.Record.Name
		result.Strength = match.MatchedStrength
		result.Confidence = clamp01(match.Confidence)
	case !classification.IsPharmaceutical:
		result.Confidence = clamp01(classification.Confidence)
	default:
		result.Confidence = clamp01(combined.Confidence)
	}
	return result
}

// failedResult is the absolute fallback: every stage failed or panicked.
// The caller still receives a well-formed, clearly degraded result.
func (a *Analyzer) failedResult(sample *Sample, start time.Time, texts []ExtractedText) *AnalysisResult {
	if texts == nil {
		texts = []ExtractedText{}
	}
	issues := []string{"analysis failed"}
	visual := VisualFeatures{Color: "unknown", Shape: "unknown", Markings: []string{}}
	hash := ""
	if sample != nil {
		visual = sample.VisualSummary()
		hash = fmt.Sprintf("%016x", sample.Hash)
	}
	return &AnalysisResult{
		DrugName:       "unknown",
		Confidence:     0,
		Status:         StatusSuspicious,
		Issues:         issues,
		ExtractedText:  texts,
		VisualFeatures: visual,
		ImageClassification: ClassificationResult{
			Method:         MethodNone,
			DetectedLabels: []string{},
		},
		Authenticity: AuthenticityScore{
			Overall: 0,
			Status:  StatusSuspicious,
			Issues:  issues,
		},
		ImageHash:  hash,
		AnalyzedAt: start.UTC(),
		LatencyMs:  float64(a.now().Sub(start).Microseconds()) / 1000.0,
	}
}

// rescueClassification reconstructs a classification from remote predictions
// alone. Predictions in the combined ranking are already sorted.
func rescueClassification(combined CombinedResult) ClassificationResult {
	var (
		labels []string
		preds  []Prediction
		seen   = make(map[string]bool)
		best   float64
	)
	for _, p := range combined.Predictions {
		if p.Source != SourceCloudVision && p.Source != SourceTransformerVision {
			continue
		}
		preds = append(preds, p)
		if !seen[p.Label] {
			seen[p.Label] = true
			labels = append(labels, p.Label)
		}
		if p.Confidence > best {
			best = p.Confidence
		}
	}
	isPharma := combined.RemotePharmaScore >= rescuePharmaBar
	confidence := best
	if isPharma {
		confidence = combined.RemotePharmaScore
	}
	return ClassificationResult{
		IsPharmaceutical: isPharma,
		DetectedLabels:   labels,
		Confidence:       clamp01(confidence),
		Method:           MethodRemote,
		Predictions:      preds,
	}
}

// matchLabels merges chain labels with combined prediction labels for the
// catalog matcher, deduplicated, insertion-ordered.
func matchLabels(classification ClassificationResult, combined CombinedResult) []string {
	seen := make(map[string]bool)
	var labels []string
	add := func(label string) {
		label = strings.ToLower(label)
		if label == "" || seen[label] {
			return
		}
		seen[label] = true
		labels = append(labels, label)
	}
	for _, l := range classification.DetectedLabels {
		add(l)
	}
	for _, p := range combined.Predictions {
		add(p.Label)
	}
	return labels
}
