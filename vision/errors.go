package vision

import (
	"fmt"
	"time"
)

// ModelLoadError reports a model that could not be acquired after the
// configured retries. Callers treat it as "this backend unavailable", never
// as a fatal pipeline error.
type ModelLoadError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model %s unavailable after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceTimeoutError reports a single inference attempt that exceeded its
// budget. The fallback chain treats it as failure and advances.
type InferenceTimeoutError struct {
	Name   string
	Budget time.Duration
	Err    error
}

func (e *InferenceTimeoutError) Error() string {
	return fmt.Sprintf("inference on %s exceeded %s: %v", e.Name, e.Budget, e.Err)
}

func (e *InferenceTimeoutError) Unwrap() error { return e.Err }
