package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"drug-analysis/utils"
)

// ManagerConfig tunes the model lifecycle manager. Zero values fall back to
// the defaults below.
type ManagerConfig struct {
	// LoadTimeout bounds a single acquisition attempt.
	LoadTimeout time.Duration
	// LoadRetries is the number of acquisition attempts per load.
	LoadRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// IdleTTL is how long an unused model stays loaded.
	IdleTTL time.Duration
	// SweepSchedule is the cron expression of the idle-eviction sweep.
	SweepSchedule string
	Logger        *slog.Logger
}

func (c *ManagerConfig) applyDefaults() {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.LoadRetries <= 0 {
		c.LoadRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 30m"
	}
	if c.Logger == nil {
		c.Logger = utils.GetLogger()
	}
}

type entry struct {
	model Model
	meta  ModelMetadata
}

// Manager owns every on-device model: registration, cached loads collapsed
// per name, retry with backoff, performance stats, health checks, and idle
// eviction. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	cfg       ManagerConfig
	logger    *slog.Logger
	loaders   map[string]Loader
	locations map[string]string
	entries   map[string]*entry
	stats     map[string]*modelStats
	flight    singleflight.Group
	sweeper   *cron.Cron

	// now is replaceable in tests to drive idle eviction.
	now func() time.Time
}

// NewManager builds a manager with the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		logger:    cfg.Logger,
		loaders:   make(map[string]Loader),
		locations: make(map[string]string),
		entries:   make(map[string]*entry),
		stats:     make(map[string]*modelStats),
		now:       time.Now,
	}
}

// Register makes a model loadable under name. Location is recorded for
// metadata and logs; the loader performs the actual acquisition.
func (m *Manager) Register(name, location string, loader Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[name] = loader
	m.locations[name] = location
}

// Names lists the registered model names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.loaders))
	for name := range m.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the cached model for name, or acquires it. Concurrent cold
// loads for the same name collapse into one acquisition whose result all
// callers share. A caller whose context expires while waiting gets a
// ModelLoadError, but the in-flight acquisition keeps running and caches
// the model for future requests.
func (m *Manager) Load(ctx context.Context, name string) (Model, error) {
	m.mu.Lock()
	if e, ok := m.entries[name]; ok {
		e.meta.LastUsed = m.now()
		model := e.model
		m.mu.Unlock()
		return model, nil
	}
	loader, registered := m.loaders[name]
	m.mu.Unlock()
	if !registered {
		return nil, &ModelLoadError{Name: name, Err: fmt.Errorf("model not registered")}
	}

	ch := m.flight.DoChan(name, func() (interface{}, error) {
		return m.acquire(name, loader)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Model), nil
	case <-ctx.Done():
		return nil, &ModelLoadError{
			Name: name,
			Err:  fmt.Errorf("load abandoned by caller: %w", ctx.Err()),
		}
	}
}

// acquire runs the retry/backoff load procedure on a background context so
// an abandoning caller does not cancel it.
func (m *Manager) acquire(name string, loader Loader) (interface{}, error) {
	start := m.now()
	var model Model
	err := utils.Retry(context.Background(), m.cfg.LoadRetries, m.cfg.RetryBaseDelay,
		func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
			defer cancel()
			loaded, err := loader(attemptCtx)
			if err != nil {
				m.logger.Warn("model load attempt failed",
					slog.String("model", name),
					slog.Any("error", err))
				return err
			}
			model = loaded
			return nil
		})
	if err != nil {
		return nil, &ModelLoadError{Name: name, Attempts: m.cfg.LoadRetries, Err: err}
	}

	loadDuration := m.now().Sub(start)
	m.mu.Lock()
	m.entries[name] = &entry{
		model: model,
		meta: ModelMetadata{
			Name:         name,
			Location:     m.locations[name],
			Loaded:       true,
			LoadDuration: loadDuration,
			LastUsed:     m.now(),
		},
	}
	m.mu.Unlock()

	m.logger.Info("model loaded",
		slog.String("model", name),
		slog.String("location", m.locations[name]),
		slog.Duration("duration", loadDuration))
	return model, nil
}

// Predict loads the model if necessary, runs inference, times the call, and
// updates the model's performance stats. A deadline hit during inference is
// reported as an InferenceTimeoutError.
func (m *Manager) Predict(ctx context.Context, name string, in Input) (Output, error) {
	model, err := m.Load(ctx, name)
	if err != nil {
		return Output{}, err
	}

	start := m.now()
	out, inferErr := model.Infer(ctx, in)
	elapsed := m.now().Sub(start)
	m.observe(name, elapsed, inferErr)

	if inferErr != nil {
		if errors.Is(inferErr, context.DeadlineExceeded) {
			return Output{}, &InferenceTimeoutError{Name: name, Budget: elapsed, Err: inferErr}
		}
		return Output{}, inferErr
	}
	return out, nil
}

func (m *Manager) observe(name string, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[name]
	if !ok {
		st = newModelStats()
		m.stats[name] = st
	}
	if err != nil {
		st.recordFailure(err)
		return
	}
	st.recordSuccess(elapsed)
	if e, ok := m.entries[name]; ok {
		e.meta.LastUsed = m.now()
	}
}

// HealthCheck loads every registered model and runs its trivial warmup
// inference, returning name → pass/fail. It never returns an error and
// recovers panics from misbehaving models.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(m.loaders))
	for _, name := range m.Names() {
		results[name] = m.checkOne(ctx, name)
	}
	return results
}

func (m *Manager) checkOne(ctx context.Context, name string) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health check panicked",
				slog.String("model", name),
				slog.Any("panic", r))
			healthy = false
		}
	}()
	model, err := m.Load(ctx, name)
	if err != nil {
		return false
	}
	if err := model.Warmup(ctx); err != nil {
		m.logger.Warn("health check inference failed",
			slog.String("model", name),
			slog.Any("error", err))
		return false
	}
	return true
}

// EvictIdle disposes every loaded model whose last use is older than the
// idle TTL and returns the evicted names. Subsequent loads reacquire
// transparently.
func (m *Manager) EvictIdle() []string {
	now := m.now()
	m.mu.Lock()
	var evicted []string
	for name, e := range m.entries {
		if now.Sub(e.meta.LastUsed) > m.cfg.IdleTTL {
			e.model.Dispose()
			delete(m.entries, name)
			evicted = append(evicted, name)
		}
	}
	m.mu.Unlock()

	sort.Strings(evicted)
	for _, name := range evicted {
		m.logger.Info("evicted idle model", slog.String("model", name))
	}
	return evicted
}

// StartSweeper schedules the periodic idle-eviction sweep.
func (m *Manager) StartSweeper() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweeper != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.SweepSchedule, func() { m.EvictIdle() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.cfg.SweepSchedule, err)
	}
	c.Start()
	m.sweeper = c
	return nil
}

// StopSweeper halts the eviction sweep.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweeper != nil {
		m.sweeper.Stop()
		m.sweeper = nil
	}
}

// Dispose releases one model immediately. It reports whether the model was
// loaded.
func (m *Manager) Dispose(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return false
	}
	e.model.Dispose()
	delete(m.entries, name)
	return true
}

// DisposeAll releases every loaded model. Used at shutdown.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.entries {
		e.model.Dispose()
		delete(m.entries, name)
	}
}

// Metadata returns lifecycle records for all loaded models, sorted by name.
func (m *Manager) Metadata() []ModelMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelMetadata, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns the performance snapshot for one model.
func (m *Manager) Stats(name string) (PerformanceStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[name]
	if !ok {
		return PerformanceStats{}, false
	}
	return st.snapshot(), true
}

// AllStats returns performance snapshots for every model that has run.
func (m *Manager) AllStats() map[string]PerformanceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]PerformanceStats, len(m.stats))
	for name, st := range m.stats {
		out[name] = st.snapshot()
	}
	return out
}
