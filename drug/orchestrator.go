package drug

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"drug-analysis/utils"
)

// MethodNone marks a classification where every backend in the chain failed.
const MethodNone = "none"

const defaultAttemptTimeout = 15 * time.Second

// FallbackMode selects the backend order for the classification chain.
type FallbackMode string

const (
	ModeAuto                FallbackMode = "auto"
	ModeObjectDetectorFirst FallbackMode = "object-detector-first"
	ModeClassifierFirst     FallbackMode = "classifier-first"
	ModeHeuristicOnly       FallbackMode = "heuristic-only"
)

// ParseFallbackMode validates a configured mode string. An empty string
// selects auto.
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch FallbackMode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeObjectDetectorFirst:
		return ModeObjectDetectorFirst, nil
	case ModeClassifierFirst:
		return ModeClassifierFirst, nil
	case ModeHeuristicOnly:
		return ModeHeuristicOnly, nil
	}
	return "", fmt.Errorf("unknown fallback mode %q", s)
}

// Order returns the backend identifiers to attempt, most capable first.
func (m FallbackMode) Order() []string {
	switch m {
	case ModeClassifierFirst:
		return []string{BackendClassifier, BackendObjectDetector, BackendHeuristic}
	case ModeHeuristicOnly:
		return []string{BackendHeuristic}
	default:
		return []string{BackendObjectDetector, BackendClassifier, BackendHeuristic}
	}
}

// Orchestrator walks the fallback chain until one backend succeeds.
type Orchestrator struct {
	registry       *Registry
	mode           FallbackMode
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// NewOrchestrator builds a chain over the registered backends.
// attemptTimeout bounds each individual backend call.
func NewOrchestrator(registry *Registry, mode FallbackMode, attemptTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Orchestrator{
		registry:       registry,
		mode:           mode,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Classify attempts each backend in the configured order. A backend error
// advances the chain; the first success wins. When every backend fails the
// returned result carries Method "none" so downstream stages can degrade
// instead of aborting the analysis.
func (o *Orchestrator) Classify(ctx context.Context, sample *Sample) ClassificationResult {
	for _, name := range o.mode.Order() {
		backend, ok := o.registry.Get(name)
		if !ok {
			o.logger.Warn("classification backend not registered", "backend", name)
			continue
		}
		result, err := o.attempt(ctx, backend, sample)
		if err != nil {
			o.logger.Warn("classification backend failed, advancing chain",
				"backend", name, "error", err)
			continue
		}
		o.logger.Debug("classification backend succeeded",
			"backend", name,
			"isPharmaceutical", result.IsPharmaceutical,
			"confidence", result.Confidence)
		return result
	}
	o.logger.Error("all classification backends failed", "mode", string(o.mode))
	return ClassificationResult{Method: MethodNone, DetectedLabels: []string{}}
}

// attempt bounds one backend call and converts a panic into an error so a
// misbehaving backend cannot take down the chain.
func (o *Orchestrator) attempt(ctx context.Context, backend Backend, sample *Sample) (result ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend %s panicked: %v", backend.Name(), r)
		}
	}()
	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()
	return backend.Classify(attemptCtx, sample)
}
