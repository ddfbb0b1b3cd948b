package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeModel is a controllable stand-in for a loaded model.
type fakeModel struct {
	name     string
	inferErr error
	delay    time.Duration
	disposed atomic.Bool
}

func (f *fakeModel) Name() string { return f.name }

func (f *fakeModel) Infer(ctx context.Context, in Input) (Output, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.inferErr != nil {
		return Output{}, f.inferErr
	}
	return Output{Predictions: []Prediction{{Label: "pill", Confidence: 0.9}}}, nil
}

func (f *fakeModel) Warmup(ctx context.Context) error {
	_, err := f.Infer(ctx, Input{Image: warmupImage()})
	return err
}

func (f *fakeModel) Dispose() { f.disposed.Store(true) }

type panicModel struct{}

func (panicModel) Name() string                                 { return "panicky" }
func (panicModel) Infer(context.Context, Input) (Output, error) { panic("bad model state") }
func (panicModel) Warmup(context.Context) error                 { panic("bad model state") }
func (panicModel) Dispose()                                     {}

func loaderFor(model Model) Loader {
	return func(context.Context) (Model, error) { return model, nil }
}

func quietManager(cfg ManagerConfig) *Manager {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(cfg)
}

func TestLoadCollapsesConcurrentAcquisitions(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	m := quietManager(ManagerConfig{})
	m.Register("det", "mem://det", func(ctx context.Context) (Model, error) {
		calls.Add(1)
		<-release
		return &fakeModel{name: "det"}, nil
	})

	const workers = 16
	var started, done sync.WaitGroup
	started.Add(workers)
	done.Add(workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			_, errs[i] = m.Load(context.Background(), "det")
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: load failed: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one acquisition, got %d", got)
	}

	if _, err := m.Load(context.Background(), "det"); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("cached load reacquired the model, %d acquisitions", got)
	}
}

func TestLoadRetriesThenReportsLoadError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	m := quietManager(ManagerConfig{
		LoadRetries:    3,
		RetryBaseDelay: time.Millisecond,
	})
	m.Register("flaky", "mem://flaky", func(ctx context.Context) (Model, error) {
		calls.Add(1)
		return nil, fmt.Errorf("artifact corrupt")
	})

	_, err := m.Load(context.Background(), "flaky")
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if loadErr.Name != "flaky" || loadErr.Attempts != 3 {
		t.Fatalf("unexpected error detail: %+v", loadErr)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	// A failed load is not cached: the next load reacquires.
	m.Register("flaky", "mem://flaky", loaderFor(&fakeModel{name: "flaky"}))
	if _, err := m.Load(context.Background(), "flaky"); err != nil {
		t.Fatalf("load after recovery failed: %v", err)
	}
}

func TestLoadUnregisteredModel(t *testing.T) {
	t.Parallel()

	m := quietManager(ManagerConfig{})
	_, err := m.Load(context.Background(), "ghost")
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
}

func TestAbandonedLoadStillCachesTheModel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := quietManager(ManagerConfig{})
	m.Register("slow", "mem://slow", func(ctx context.Context) (Model, error) {
		<-release
		return &fakeModel{name: "slow"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := m.Load(ctx, "slow")
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError for abandoned load, got %v", err)
	}

	// The acquisition keeps running on its own context; once it finishes
	// the model serves later callers.
	close(release)
	if _, err := m.Load(context.Background(), "slow"); err != nil {
		t.Fatalf("load after abandonment failed: %v", err)
	}
}

func TestPredictRecordsStats(t *testing.T) {
	t.Parallel()

	model := &fakeModel{name: "det"}
	m := quietManager(ManagerConfig{})
	m.Register("det", "", loaderFor(model))

	out, err := m.Predict(context.Background(), "det", Input{})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if len(out.Predictions) != 1 || out.Predictions[0].Label != "pill" {
		t.Fatalf("unexpected predictions: %+v", out.Predictions)
	}

	stats, ok := m.Stats("det")
	if !ok {
		t.Fatal("expected stats after an inference")
	}
	if stats.TotalInferences != 1 {
		t.Fatalf("expected 1 inference, got %d", stats.TotalInferences)
	}
	if stats.SuccessRate < 0.999 {
		t.Fatalf("expected success rate ~1.0, got %.3f", stats.SuccessRate)
	}

	model.inferErr = fmt.Errorf("tensor shape mismatch")
	if _, err := m.Predict(context.Background(), "det", Input{}); err == nil {
		t.Fatal("expected inference error")
	}
	stats, _ = m.Stats("det")
	if stats.TotalInferences != 2 {
		t.Fatalf("expected 2 inferences, got %d", stats.TotalInferences)
	}
	if stats.SuccessRate >= 1.0 {
		t.Fatalf("failure should decay the success rate, got %.3f", stats.SuccessRate)
	}
	if stats.LastError == "" {
		t.Fatal("expected the failure to be recorded as last error")
	}
	t.Logf("stats after one failure: rate=%.3f avg=%.3fms", stats.SuccessRate, stats.AverageInferenceMs)

	all := m.AllStats()
	if _, ok := all["det"]; !ok {
		t.Fatal("AllStats missing det")
	}
}

func TestPredictReportsInferenceTimeout(t *testing.T) {
	t.Parallel()

	m := quietManager(ManagerConfig{})
	m.Register("slow", "", loaderFor(&fakeModel{name: "slow", delay: 500 * time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Predict(ctx, "slow", Input{})
	var timeoutErr *InferenceTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected InferenceTimeoutError, got %v", err)
	}
	stats, _ := m.Stats("slow")
	if stats.TotalInferences != 1 || stats.SuccessRate >= 1.0 {
		t.Fatalf("timeout should count as a failed inference: %+v", stats)
	}
}

func TestEvictIdleDisposesAndReacquires(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	model := &fakeModel{name: "det"}
	m := quietManager(ManagerConfig{IdleTTL: time.Minute})
	m.Register("det", "", func(ctx context.Context) (Model, error) {
		calls.Add(1)
		return model, nil
	})

	base := time.Now()
	m.now = func() time.Time { return base }
	if _, err := m.Load(context.Background(), "det"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if evicted := m.EvictIdle(); len(evicted) != 0 {
		t.Fatalf("fresh model must not be evicted, got %v", evicted)
	}

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	evicted := m.EvictIdle()
	if len(evicted) != 1 || evicted[0] != "det" {
		t.Fatalf("expected [det] evicted, got %v", evicted)
	}
	if !model.disposed.Load() {
		t.Fatal("evicted model was not disposed")
	}

	if _, err := m.Load(context.Background(), "det"); err != nil {
		t.Fatalf("reload after eviction failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected a reacquisition after eviction, got %d acquisitions", got)
	}
}

func TestHealthCheckNeverPanics(t *testing.T) {
	t.Parallel()

	m := quietManager(ManagerConfig{LoadRetries: 1, RetryBaseDelay: time.Millisecond})
	m.Register("good", "", loaderFor(&fakeModel{name: "good"}))
	m.Register("bad-load", "", func(ctx context.Context) (Model, error) {
		return nil, fmt.Errorf("missing artifact")
	})
	m.Register("bad-warmup", "", loaderFor(&fakeModel{name: "bad-warmup", inferErr: fmt.Errorf("broken")}))
	m.Register("panicky", "", loaderFor(panicModel{}))

	health := m.HealthCheck(context.Background())
	want := map[string]bool{
		"good":       true,
		"bad-load":   false,
		"bad-warmup": false,
		"panicky":    false,
	}
	for name, expected := range want {
		if health[name] != expected {
			t.Fatalf("health[%s] = %v, want %v", name, health[name], expected)
		}
	}
}

func TestDisposeAndMetadata(t *testing.T) {
	t.Parallel()

	model := &fakeModel{name: "det"}
	m := quietManager(ManagerConfig{})
	m.Register("det", "file://det.json", loaderFor(model))
	m.Register("cls", "file://cls.json", loaderFor(&fakeModel{name: "cls"}))

	if names := m.Names(); len(names) != 2 || names[0] != "cls" || names[1] != "det" {
		t.Fatalf("unexpected names: %v", names)
	}

	if _, err := m.Load(context.Background(), "det"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	meta := m.Metadata()
	if len(meta) != 1 || meta[0].Name != "det" || !meta[0].Loaded {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta[0].Location != "file://det.json" {
		t.Fatalf("unexpected location: %s", meta[0].Location)
	}

	if !m.Dispose("det") {
		t.Fatal("expected Dispose to report a loaded model")
	}
	if !model.disposed.Load() {
		t.Fatal("Dispose did not release the model")
	}
	if m.Dispose("det") {
		t.Fatal("second Dispose should report not loaded")
	}

	if _, err := m.Load(context.Background(), "cls"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	m.DisposeAll()
	if meta := m.Metadata(); len(meta) != 0 {
		t.Fatalf("expected no loaded models after DisposeAll, got %+v", meta)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	t.Parallel()

	bad := quietManager(ManagerConfig{SweepSchedule: "not a schedule"})
	if err := bad.StartSweeper(); err == nil {
		t.Fatal("expected an error for an invalid sweep schedule")
	}

	m := quietManager(ManagerConfig{SweepSchedule: "@every 1h"})
	if err := m.StartSweeper(); err != nil {
		t.Fatalf("start sweeper: %v", err)
	}
	if err := m.StartSweeper(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	m.StopSweeper()
	m.StopSweeper()
}
