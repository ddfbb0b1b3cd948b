package drug

import (
	"sort"
	"strings"
)

// RemoteOutcome is the result of one remote vision adapter. A non-nil Err
// means the adapter contributed nothing; the pipeline records the failure
// and continues.
type RemoteOutcome struct {
	Source      Source
	Predictions []Prediction
	Err         error
}

// CombinedResult merges the fallback-chain classification with every remote
// prediction list into a single ranking.
type CombinedResult struct {
	Predictions       []Prediction
	BestSource        Source
	Confidence        float64
	RemotePharmaScore float64
	RemoteCount       int
}

// Combine ranks all predictions by confidence, descending. Equal confidences
// keep their insertion order, so the local chain outranks remotes on ties and
// remotes keep the order they were passed in. Remote predictions over
// pharmaceutically relevant labels accumulate into RemotePharmaScore, which
// lets the pipeline rescue a classification when the local chain failed.
func Combine(chain ClassificationResult, remotes ...RemoteOutcome) CombinedResult {
	combined := CombinedResult{}
	combined.Predictions = append(combined.Predictions, chain.Predictions...)

	for _, remote := range remotes {
		if remote.Err != nil || len(remote.Predictions) == 0 {
			continue
		}
		combined.RemoteCount++
		for _, p := range remote.Predictions {
			p.Label = strings.ToLower(p.Label)
			p.Confidence = clamp01(p.Confidence)
			if p.Source == "" {
				p.Source = remote.Source
			}
			if p.Category == "" {
				switch {
				case isPharmaLabel(p.Label):
					p.Category = "pharmaceutical"
				case isContextualLabel(p.Label):
					p.Category = "contextual"
				default:
					p.Category = "other"
				}
			}
			if p.Category == "pharmaceutical" {
				combined.RemotePharmaScore += p.Confidence
			}
			combined.Predictions = append(combined.Predictions, p)
		}
	}
	combined.RemotePharmaScore = clamp01(combined.RemotePharmaScore)

	sort.SliceStable(combined.Predictions, func(i, j int) bool {
		return combined.Predictions[i].Confidence > combined.Predictions[j].Confidence
	})
	if len(combined.Predictions) > 0 {
		combined.BestSource = combined.Predictions[0].Source
		combined.Confidence = combined.Predictions[0].Confidence
	}
	return combined
}
