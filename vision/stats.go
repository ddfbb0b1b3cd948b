package vision

import "time"

// ModelMetadata is the lifecycle record the manager keeps per loaded model.
type ModelMetadata struct {
	Name         string        `json:"name"`
	Location     string        `json:"location,omitempty"`
	Loaded       bool          `json:"loaded"`
	LoadDuration time.Duration `json:"loadDuration"`
	LastUsed     time.Time     `json:"lastUsed"`
}

// PerformanceStats is a read-only snapshot of one model's inference record.
type PerformanceStats struct {
	AverageInferenceMs float64 `json:"averageInferenceMs"`
	TotalInferences    int64   `json:"totalInferences"`
	SuccessRate        float64 `json:"successRate"`
	LastError          string  `json:"lastError,omitempty"`
}

// statsDecay is the exponential smoothing factor of the rolling success
// rate: each success pulls the rate toward 1, each failure toward 0.
const statsDecay = 0.9

type modelStats struct {
	successCount int64
	totalCount   int64
	averageMs    float64
	successRate  float64
	lastError    string
}

func newModelStats() *modelStats {
	return &modelStats{successRate: 1.0}
}

func (s *modelStats) recordSuccess(elapsed time.Duration) {
	s.totalCount++
	s.successCount++
	ms := float64(elapsed.Microseconds()) / 1000.0
	s.averageMs += (ms - s.averageMs) / float64(s.successCount)
	s.successRate = s.successRate*statsDecay + (1 - statsDecay)
}

func (s *modelStats) recordFailure(err error) {
	s.totalCount++
	s.successRate *= statsDecay
	if err != nil {
		s.lastError = err.Error()
	}
}

func (s *modelStats) snapshot() PerformanceStats {
	return PerformanceStats{
		AverageInferenceMs: s.averageMs,
		TotalInferences:    s.totalCount,
		SuccessRate:        s.successRate,
		LastError:          s.lastError,
	}
}
