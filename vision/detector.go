package vision

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"drug-analysis/imaging"
)

// TemplateDetector is the object detector: the image is divided into a grid
// of cells, each cell's feature vector is compared against per-class
// templates, and cells clearing the score threshold become detections.
// Adjacent detections of the same class merge into one box.
type TemplateDetector struct {
	mu             sync.RWMutex
	name           string
	grid           int
	scoreThreshold float64
	templates      []TemplateSpec
	classes        []string

	// scratch buffers for per-cell feature vectors, returned before Infer
	// exits on every path
	pool sync.Pool
}

// NewTemplateDetector builds a detector from a validated artifact.
func NewTemplateDetector(name string, artifact *DetectorArtifact) (*TemplateDetector, error) {
	if artifact == nil || len(artifact.Templates) == 0 {
		return nil, fmt.Errorf("detector %s: empty artifact", name)
	}
	d := &TemplateDetector{
		name:           name,
		grid:           artifact.Grid,
		scoreThreshold: artifact.ScoreThreshold,
		templates:      artifact.Templates,
		classes:        artifact.Classes,
	}
	d.pool.New = func() interface{} {
		buf := make([]float64, 0, imaging.FeatureVectorSize)
		return &buf
	}
	return d, nil
}

func (d *TemplateDetector) Name() string { return d.name }

// Classes returns the classes this detector was built for.
func (d *TemplateDetector) Classes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.classes))
	copy(out, d.classes)
	return out
}

// Infer runs grid detection over the input image.
func (d *TemplateDetector) Infer(ctx context.Context, in Input) (Output, error) {
	if in.Image == nil {
		return Output{}, fmt.Errorf("detector %s: no image in input", d.name)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.templates) == 0 {
		return Output{}, fmt.Errorf("detector %s: disposed", d.name)
	}

	bounds := in.Image.Bounds()
	cellW := bounds.Dx() / d.grid
	cellH := bounds.Dy() / d.grid
	if cellW < 2 || cellH < 2 {
		return Output{}, fmt.Errorf("detector %s: image %dx%d too small for a %dx%d grid",
			d.name, bounds.Dx(), bounds.Dy(), d.grid, d.grid)
	}

	var detections []Detection
	for gy := 0; gy < d.grid; gy++ {
		for gx := 0; gx < d.grid; gx++ {
			if err := ctx.Err(); err != nil {
				return Output{}, err
			}
			cell := image.Rect(
				bounds.Min.X+gx*cellW,
				bounds.Min.Y+gy*cellH,
				bounds.Min.X+(gx+1)*cellW,
				bounds.Min.Y+(gy+1)*cellH,
			)
			det, ok, err := d.scoreCell(in.Image, cell)
			if err != nil {
				return Output{}, err
			}
			if ok {
				detections = append(detections, det)
			}
		}
	}

	detections = mergeAdjacent(detections)
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
	return Output{Detections: detections}, nil
}

// scoreCell extracts the cell's feature vector into a pooled buffer and
// scores it against every template, keeping the best class.
func (d *TemplateDetector) scoreCell(img image.Image, cell image.Rectangle) (Detection, bool, error) {
	bufPtr := d.pool.Get().(*[]float64)
	defer d.pool.Put(bufPtr)

	features, err := imaging.AppendRegionVector(*bufPtr, img, cell)
	if err != nil {
		return Detection{}, false, err
	}
	*bufPtr = features

	best := Detection{Box: cell}
	for _, tpl := range d.templates {
		sim, err := cosineSimilarity(features, tpl.Features)
		if err != nil {
			continue
		}
		conf := similarityToConfidence(sim)
		threshold := d.scoreThreshold
		if tpl.Threshold > threshold {
			threshold = tpl.Threshold
		}
		if conf >= threshold && conf > best.Score {
			best.Label = tpl.Class
			best.Score = conf
		}
	}
	return best, best.Label != "", nil
}

// mergeAdjacent joins touching detections of the same class into one box
// carrying the maximum score.
func mergeAdjacent(detections []Detection) []Detection {
	if len(detections) < 2 {
		return detections
	}
	merged := make([]Detection, 0, len(detections))
	used := make([]bool, len(detections))
	for i := range detections {
		if used[i] {
			continue
		}
		current := detections[i]
		used[i] = true
		for changed := true; changed; {
			changed = false
			for j := range detections {
				if used[j] || detections[j].Label != current.Label {
					continue
				}
				if current.Box.Inset(-1).Overlaps(detections[j].Box) {
					current.Box = current.Box.Union(detections[j].Box)
					if detections[j].Score > current.Score {
						current.Score = detections[j].Score
					}
					used[j] = true
					changed = true
				}
			}
		}
		merged = append(merged, current)
	}
	return merged
}

// Warmup runs detection against the synthetic warmup image.
func (d *TemplateDetector) Warmup(ctx context.Context) error {
	_, err := d.Infer(ctx, Input{Image: warmupImage()})
	return err
}

// Dispose drops the templates.
func (d *TemplateDetector) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.templates = nil
}
