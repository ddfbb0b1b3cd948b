package vision

import (
	"fmt"
	"math"
)

// FeatureScaler standardizes feature vectors to zero mean and unit variance
// per dimension. Fitted parameters are embedded in model artifacts so
// inference uses the same scaling as training.
type FeatureScaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Fit computes per-dimension means and standard deviations from the given
// vectors. Dimensions with near-zero variance get a standard deviation of 1
// so they pass through unchanged.
func (fs *FeatureScaler) Fit(vectors [][]float64) error {
	if len(vectors) == 0 {
		return fmt.Errorf("no vectors to fit")
	}
	dims := len(vectors[0])
	fs.Means = make([]float64, dims)
	fs.Stds = make([]float64, dims)

	for _, vec := range vectors {
		if len(vec) != dims {
			return fmt.Errorf("inconsistent vector length: %d vs %d", len(vec), dims)
		}
		for i, v := range vec {
			fs.Means[i] += v
		}
	}
	n := float64(len(vectors))
	for i := range fs.Means {
		fs.Means[i] /= n
	}
	for _, vec := range vectors {
		for i, v := range vec {
			diff := v - fs.Means[i]
			fs.Stds[i] += diff * diff
		}
	}
	for i := range fs.Stds {
		fs.Stds[i] = math.Sqrt(fs.Stds[i] / n)
		if fs.Stds[i] < 1e-10 {
			fs.Stds[i] = 1.0
		}
	}
	return nil
}

// Transform returns a standardized copy of features.
func (fs *FeatureScaler) Transform(features []float64) ([]float64, error) {
	if len(features) != len(fs.Means) {
		return nil, fmt.Errorf("feature length %d does not match scaler dimensions %d",
			len(features), len(fs.Means))
	}
	out := make([]float64, len(features))
	for i, v := range features {
		out[i] = (v - fs.Means[i]) / fs.Stds[i]
	}
	return out, nil
}

// valid reports whether the scaler carries usable parameters.
func (fs *FeatureScaler) valid() bool {
	return fs != nil && len(fs.Means) > 0 && len(fs.Means) == len(fs.Stds)
}
