// Package ocr extracts pharmaceutical text from product photos through the
// OCR sidecar service and filters it down to the lines that matter.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// Tesseract page segmentation modes the sidecar accepts.
const (
	PSMBlock      = 6
	PSMSingleLine = 7
	PSMSparseText = 11
)

// Client communicates with the OCR sidecar service.
type Client struct {
	serviceURL string
	client     *http.Client
}

// Options tune one recognition pass.
type Options struct {
	PSM             int
	Language        string
	ContrastStretch bool
	Upscale         bool
}

// Line is one recognized text line with the engine's confidence in [0,1].
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type recognizeResponse struct {
	Lines []Line `json:"lines"`
}

// NewClient creates an OCR sidecar client.
func NewClient(serviceURL string) *Client {
	if serviceURL == "" {
		serviceURL = "http://localhost:5003"
	}
	return &Client{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck verifies the OCR service is running.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ocr service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ocr service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Recognize sends image bytes for text recognition.
func (c *Client) Recognize(ctx context.Context, imageData []byte, filename string, opts Options) ([]Line, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}

	fields := map[string]string{
		"psm":              strconv.Itoa(opts.PSM),
		"lang":             opts.Language,
		"contrast_stretch": strconv.FormatBool(opts.ContrastStretch),
		"upscale":          strconv.FormatBool(opts.Upscale),
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/ocr", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ocr service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var recResp recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&recResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return recResp.Lines, nil
}
