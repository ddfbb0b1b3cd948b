// Package cloudvision adapts the Google Cloud Vision REST API into the
// pipeline's remote labeling port.
package cloudvision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"drug-analysis/drug"
	"drug-analysis/utils"
)

const (
	defaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	serviceName     = "cloud-vision"
	retryBaseDelay  = 200 * time.Millisecond
)

// Client calls the Cloud Vision annotate endpoint with an API key.
type Client struct {
	apiKey   string
	endpoint string
	retries  int
	client   *http.Client
	logger   *slog.Logger
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    requestImage     `json:"image"`
	Features []requestFeature `json:"features"`
}

type requestImage struct {
	Content string `json:"content"`
}

type requestFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
}

type imageResponse struct {
	LabelAnnotations []entityAnnotation `json:"labelAnnotations"`
	LogoAnnotations  []entityAnnotation `json:"logoAnnotations"`
	Error            *statusError       `json:"error"`
}

type entityAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type statusError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewClient creates a Cloud Vision client. The API key is required.
func NewClient(apiKey string, retries int, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_VISION_API_KEY environment variable is required")
	}
	if retries <= 0 {
		retries = 2
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		retries:  retries,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// Source identifies this adapter in combined predictions.
func (c *Client) Source() drug.Source { return drug.SourceCloudVision }

// Annotate requests label and logo detection for the sample. Logo hits are
// prefixed "logo:" so the matcher can treat brand evidence separately.
func (c *Client) Annotate(ctx context.Context, sample *drug.Sample) ([]drug.Prediction, error) {
	reqBody := annotateRequest{Requests: []imageRequest{{
		Image: requestImage{Content: base64.StdEncoding.EncodeToString(sample.Raw)},
		Features: []requestFeature{
			{Type: "LABEL_DETECTION", MaxResults: 10},
			{Type: "LOGO_DETECTION", MaxResults: 5},
		},
	}}}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal annotate request: %v", err)
	}

	var preds []drug.Prediction
	op := func(ctx context.Context) error {
		p, err := c.annotateOnce(ctx, jsonData)
		if err != nil {
			var remoteErr *drug.RemoteBackendError
			if errors.As(err, &remoteErr) && !remoteErr.Retryable() {
				return utils.Permanent(err)
			}
			return err
		}
		preds = p
		return nil
	}
	if err := utils.Retry(ctx, c.retries, retryBaseDelay, op); err != nil {
		return nil, err
	}
	return preds, nil
}

func (c *Client) annotateOnce(ctx context.Context, jsonData []byte) ([]drug.Prediction, error) {
	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &drug.RemoteBackendError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &drug.RemoteBackendError{Service: serviceName, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &drug.RemoteBackendError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("annotate API error: %s - %s", resp.Status, string(body)),
		}
	}

	var annResp annotateResponse
	if err := json.Unmarshal(body, &annResp); err != nil {
		return nil, &drug.RemoteBackendError{Service: serviceName, Err: fmt.Errorf("failed to unmarshal response: %v", err)}
	}
	if len(annResp.Responses) == 0 {
		return nil, &drug.RemoteBackendError{Service: serviceName, Err: fmt.Errorf("empty annotate response")}
	}
	r := annResp.Responses[0]
	if r.Error != nil {
		return nil, &drug.RemoteBackendError{
			Service:    serviceName,
			StatusCode: r.Error.Code,
			Err:        fmt.Errorf("annotate error: %s", r.Error.Message),
		}
	}

	preds := make([]drug.Prediction, 0, len(r.LabelAnnotations)+len(r.LogoAnnotations))
	for _, label := range r.LabelAnnotations {
		preds = append(preds, drug.Prediction{
			Label:      strings.ToLower(label.Description),
			Confidence: label.Score,
			Source:     drug.SourceCloudVision,
		})
	}
	for _, logo := range r.LogoAnnotations {
		preds = append(preds, drug.Prediction{
			Label:      "logo:" + strings.ToLower(logo.Description),
			Confidence: logo.Score,
			Source:     drug.SourceCloudVision,
			Category:   "logo",
		})
	}
	return preds, nil
}
