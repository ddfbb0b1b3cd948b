package cloudvision

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"drug-analysis/drug"
	"drug-analysis/imaging"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func visionSample() *drug.Sample {
	return &drug.Sample{
		Raw:     []byte("fake image bytes"),
		Decoded: &imaging.Decoded{Image: image.NewRGBA(image.Rect(0, 0, 8, 8)), Format: "png"},
	}
}

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient("test-key", 2, quietLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.endpoint = endpoint
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("", 2, quietLogger()); err == nil {
		t.Fatal("expected an error without an API key")
	}
}

func TestAnnotateNormalizesLabelsAndLogos(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key query param %q, want test-key", got)
		}
		var req annotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Requests) != 1 || len(req.Requests[0].Features) != 2 {
			t.Errorf("unexpected request shape: %+v", req)
		}
		json.NewEncoder(w).Encode(annotateResponse{Responses: []imageResponse{{
			LabelAnnotations: []entityAnnotation{
				{Description: "Pill", Score: 0.91},
				{Description: "Medicine", Score: 0.85},
			},
			LogoAnnotations: []entityAnnotation{
				{Description: "AcmePharm", Score: 0.6},
			},
		}}})
	}))
	defer srv.Close()

	preds, err := testClient(t, srv.URL).Annotate(context.Background(), visionSample())
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if len(preds) != 3 {
		t.Fatalf("got %d predictions, want 3", len(preds))
	}
	if preds[0].Label != "pill" || preds[0].Confidence != 0.91 {
		t.Fatalf("first prediction wrong: %+v", preds[0])
	}
	if preds[0].Source != drug.SourceCloudVision {
		t.Fatalf("source %q, want %q", preds[0].Source, drug.SourceCloudVision)
	}
	if preds[2].Label != "logo:acmepharm" || preds[2].Category != "logo" {
		t.Fatalf("logo prediction wrong: %+v", preds[2])
	}
}

func TestAnnotateRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "backend hiccup", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(annotateResponse{Responses: []imageResponse{{
			LabelAnnotations: []entityAnnotation{{Description: "tablet", Score: 0.8}},
		}}})
	}))
	defer srv.Close()

	preds, err := testClient(t, srv.URL).Annotate(context.Background(), visionSample())
	if err != nil {
		t.Fatalf("Annotate after retry: %v", err)
	}
	if len(preds) != 1 || preds[0].Label != "tablet" {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}

func TestAnnotateSurfacesRemoteBackendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Annotate(context.Background(), visionSample())
	var rbe *drug.RemoteBackendError
	if !errors.As(err, &rbe) {
		t.Fatalf("expected a RemoteBackendError, got %v", err)
	}
	if rbe.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status code %d, want %d", rbe.StatusCode, http.StatusTooManyRequests)
	}
}

func TestAnnotateDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "API key not valid", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Annotate(context.Background(), visionSample())
	var rbe *drug.RemoteBackendError
	if !errors.As(err, &rbe) {
		t.Fatalf("expected a RemoteBackendError, got %v", err)
	}
	if rbe.StatusCode != http.StatusForbidden {
		t.Fatalf("status code %d, want %d", rbe.StatusCode, http.StatusForbidden)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("a rejected API key must not be retried, server saw %d calls", got)
	}
}

func TestAnnotateSurfacesAPIErrorPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(annotateResponse{Responses: []imageResponse{{
			Error: &statusError{Code: 403, Message: "API key invalid"},
		}}})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Annotate(context.Background(), visionSample())
	var rbe *drug.RemoteBackendError
	if !errors.As(err, &rbe) {
		t.Fatalf("expected a RemoteBackendError, got %v", err)
	}
}
