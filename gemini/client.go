// Package gemini adapts the Gemini multimodal API into the pipeline's
// remote labeling port.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"drug-analysis/drug"
	"drug-analysis/utils"
)

const (
	defaultModel   = "gemini-1.5-flash"
	serviceName    = "transformer-vision"
	maxLabels      = 8
	retryBaseDelay = 200 * time.Millisecond
)

// labelPrompt asks for machine-parsable output. The model occasionally adds
// list markers anyway; the parser strips them.
const labelPrompt = `List up to 8 labels describing the main object in this image.
Write one label per line as "label: confidence" with confidence between 0 and 1.
Use short lowercase labels such as pill, tablet, capsule, blister_pack, medicine, packaging, bottle, person, food.
Respond with the label lines only.`

// contentGenerator is the slice of *genai.GenerativeModel the adapter uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client drives a Gemini vision model for image labeling.
type Client struct {
	client  *genai.Client
	model   contentGenerator
	retries int
	logger  *slog.Logger
}

// NewClient creates the Gemini adapter. The API key is required.
func NewClient(ctx context.Context, apiKey string, retries int, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if retries <= 0 {
		retries = 2
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := client.GenerativeModel(defaultModel)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(256)
	return &Client{client: client, model: model, retries: retries, logger: logger}, nil
}

// Source identifies this adapter in combined predictions.
func (c *Client) Source() drug.Source { return drug.SourceTransformerVision }

// Annotate sends the image with the labeling prompt and parses the
// "label: confidence" lines out of the response. Transient API failures are
// retried with backoff; client-side errors other than rate limiting give up
// immediately.
func (c *Client) Annotate(ctx context.Context, sample *drug.Sample) ([]drug.Prediction, error) {
	var resp *genai.GenerateContentResponse
	op := func(ctx context.Context) error {
		r, err := c.model.GenerateContent(ctx,
			genai.ImageData(sample.Decoded.Format, sample.Raw),
			genai.Text(labelPrompt),
		)
		if err != nil {
			remoteErr := &drug.RemoteBackendError{Service: serviceName, StatusCode: apiStatusCode(err), Err: err}
			if !remoteErr.Retryable() {
				return utils.Permanent(remoteErr)
			}
			return remoteErr
		}
		resp = r
		return nil
	}
	if err := utils.Retry(ctx, c.retries, retryBaseDelay, op); err != nil {
		return nil, err
	}
	preds := ParseLabelLines(responseText(resp))
	if len(preds) == 0 {
		return nil, &drug.RemoteBackendError{Service: serviceName, Err: fmt.Errorf("no labels in model response")}
	}
	return preds, nil
}

// apiStatusCode digs the HTTP status out of a Gemini API error, zero when
// the failure carries none (network errors, timeouts).
func apiStatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// Close releases the underlying API connection.
func (c *Client) Close() error { return c.client.Close() }

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// ParseLabelLines extracts predictions from "label: confidence" lines.
// Lines without a parsable confidence get a neutral 0.5.
func ParseLabelLines(text string) []drug.Prediction {
	var preds []drug.Prediction
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		if line == "" {
			continue
		}

		label := line
		confidence := 0.5
		if idx := strings.LastIndex(line, ":"); idx > 0 {
			if v, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64); err == nil {
				label = line[:idx]
				confidence = v
			}
		}
		label = strings.ToLower(strings.Trim(label, `"' `))
		if label == "" || len(label) > 40 {
			continue
		}
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		preds = append(preds, drug.Prediction{
			Label:      label,
			Confidence: confidence,
			Source:     drug.SourceTransformerVision,
		})
		if len(preds) == maxLabels {
			break
		}
	}
	return preds
}
