package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"drug-analysis/drug"
	"drug-analysis/imaging"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func geminiSample() *drug.Sample {
	return &drug.Sample{
		Raw:     []byte("fake image bytes"),
		Decoded: &imaging.Decoded{Format: "png"},
	}
}

// stubGenerator fails with the scripted errors, then answers with resp.
type stubGenerator struct {
	calls int
	errs  []error
	resp  *genai.GenerateContentResponse
}

func (s *stubGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return s.resp, nil
}

func labelResponse(lines string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(lines)}},
		}},
	}
}

func TestAnnotateRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{
		errs: []error{&googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend hiccup"}},
		resp: labelResponse("pill: 0.9\ntablet: 0.7"),
	}
	c := &Client{model: gen, retries: 2, logger: quietLogger()}

	preds, err := c.Annotate(context.Background(), geminiSample())
	if err != nil {
		t.Fatalf("Annotate after retry: %v", err)
	}
	if len(preds) != 2 || preds[0].Label != "pill" {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
	if gen.calls != 2 {
		t.Fatalf("model saw %d calls, want 2", gen.calls)
	}
}

func TestAnnotateDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	apiErr := &googleapi.Error{Code: http.StatusBadRequest, Message: "invalid argument"}
	gen := &stubGenerator{errs: []error{apiErr, apiErr, apiErr}}
	c := &Client{model: gen, retries: 3, logger: quietLogger()}

	_, err := c.Annotate(context.Background(), geminiSample())
	var rbe *drug.RemoteBackendError
	if !errors.As(err, &rbe) {
		t.Fatalf("expected a RemoteBackendError, got %v", err)
	}
	if rbe.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code %d, want %d", rbe.StatusCode, http.StatusBadRequest)
	}
	if gen.calls != 1 {
		t.Fatalf("a rejected request must not be retried, model saw %d calls", gen.calls)
	}
}

func TestAnnotateReportsEmptyResponses(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{resp: labelResponse("")}
	c := &Client{model: gen, retries: 2, logger: quietLogger()}

	_, err := c.Annotate(context.Background(), geminiSample())
	var rbe *drug.RemoteBackendError
	if !errors.As(err, &rbe) {
		t.Fatalf("expected a RemoteBackendError for an empty response, got %v", err)
	}
}

func TestParseLabelLines(t *testing.T) {
	t.Parallel()

	text := `pill: 0.9
tablet: 0.75
- blister_pack: 0.6
* "packaging": 0.4
`
	preds := ParseLabelLines(text)
	if len(preds) != 4 {
		t.Fatalf("got %d predictions, want 4: %+v", len(preds), preds)
	}
	if preds[0].Label != "pill" || preds[0].Confidence != 0.9 {
		t.Fatalf("first prediction wrong: %+v", preds[0])
	}
	if preds[0].Source != drug.SourceTransformerVision {
		t.Fatalf("source %q, want %q", preds[0].Source, drug.SourceTransformerVision)
	}
	if preds[2].Label != "blister_pack" {
		t.Fatalf("list marker not stripped: %+v", preds[2])
	}
	if preds[3].Label != "packaging" {
		t.Fatalf("quotes not stripped: %+v", preds[3])
	}
}

func TestParseLabelLinesWithoutConfidence(t *testing.T) {
	t.Parallel()

	preds := ParseLabelLines("medicine\n")
	if len(preds) != 1 {
		t.Fatalf("got %d predictions, want 1", len(preds))
	}
	if preds[0].Confidence != 0.5 {
		t.Fatalf("missing confidence should default to 0.5, got %f", preds[0].Confidence)
	}
}

func TestParseLabelLinesClampsAndLimits(t *testing.T) {
	t.Parallel()

	preds := ParseLabelLines("pill: 1.7\ncapsule: -0.3\n")
	if preds[0].Confidence != 1 {
		t.Fatalf("confidence not clamped high: %f", preds[0].Confidence)
	}
	if preds[1].Confidence != 0 {
		t.Fatalf("confidence not clamped low: %f", preds[1].Confidence)
	}

	var long string
	for i := 0; i < 12; i++ {
		long += "label: 0.5\n"
	}
	if got := len(ParseLabelLines(long)); got != maxLabels {
		t.Fatalf("parsed %d labels, want the %d cap", got, maxLabels)
	}
}

func TestParseLabelLinesIgnoresNoise(t *testing.T) {
	t.Parallel()

	preds := ParseLabelLines("\n\n   \nthis is a very long rambling sentence that cannot possibly be a label because it keeps going\n")
	if len(preds) != 0 {
		t.Fatalf("noise should parse to nothing, got %+v", preds)
	}
}
