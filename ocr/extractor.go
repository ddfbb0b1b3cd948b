package ocr

import (
	"context"
	"log/slog"
	"strings"

	"drug-analysis/drug"
	"drug-analysis/utils"
)

// minLineConfidence drops lines the engine itself doubts.
const minLineConfidence = 0.3

// Extractor adapts the OCR sidecar into the pipeline's text-extraction
// stage. It never fails an analysis: any error yields an empty slice.
type Extractor struct {
	client    *Client
	validator *Validator
	logger    *slog.Logger
}

// NewExtractor wires the sidecar client and line validator together.
func NewExtractor(client *Client, validator *Validator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Extractor{client: client, validator: validator, logger: logger}
}

// Extract recognizes text in the sample and keeps only pharmaceutically
// relevant lines. Capture quality picks the preprocessing options; when a
// first pass finds nothing the sparse-text segmentation mode is tried once.
func (e *Extractor) Extract(ctx context.Context, sample *drug.Sample) []drug.ExtractedText {
	if e.client == nil || sample == nil {
		return nil
	}
	filename := "capture." + sample.Decoded.Format
	opts := optionsForQuality(sample)

	lines, err := e.client.Recognize(ctx, sample.Raw, filename, opts)
	if err != nil {
		e.logger.Warn("ocr recognition failed", "error", err)
		return nil
	}
	texts := e.collect(lines)
	if len(texts) == 0 && opts.PSM != PSMSparseText {
		opts.PSM = PSMSparseText
		lines, err = e.client.Recognize(ctx, sample.Raw, filename, opts)
		if err != nil {
			e.logger.Warn("ocr sparse-text retry failed", "error", err)
			return texts
		}
		texts = e.collect(lines)
	}
	e.logger.Debug("text extraction complete", "relevantLines", len(texts))
	return texts
}

// collect corrects, validates and filters the raw lines.
func (e *Extractor) collect(lines []Line) []drug.ExtractedText {
	var out []drug.ExtractedText
	for _, line := range lines {
		raw := strings.TrimSpace(line.Text)
		if len(raw) < 2 || line.Confidence < minLineConfidence {
			continue
		}
		corrected := CorrectLine(raw)
		t := e.validator.Evaluate(raw, corrected)
		if t.Relevant() {
			out = append(out, t)
		}
	}
	return out
}

// optionsForQuality maps the capture-quality report onto recognition
// options. Low contrast asks the sidecar to stretch it; small captures are
// upscaled before recognition.
func optionsForQuality(sample *drug.Sample) Options {
	q := sample.Quality
	return Options{
		PSM:             PSMBlock,
		Language:        "eng",
		ContrastStretch: q.LowContrast || q.LowLight,
		Upscale:         q.SmallImage,
	}
}
