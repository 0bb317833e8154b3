package segmentation

import (
	"context"
	"image"
)

// Segmenter produces a foreground mask for an image. Implementations must be
// safe for concurrent use; they hold no per-request state.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (*image.Gray, error)
}

// Heuristic is the corner-sampling strategy: estimate the background color
// from the image corners, then threshold every pixel by its color distance.
//
// Known failure modes: non-uniform backgrounds, gradients and shadows, and
// any subject that touches the corners. It is an approximation, not a
// general segmentation solution.
type Heuristic struct {
	Threshold float64
}

// NewHeuristic returns a corner-sampling segmenter. A non-positive threshold
// falls back to DefaultThreshold.
func NewHeuristic(threshold float64) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Heuristic{Threshold: threshold}
}

// Segment implements Segmenter.
func (h *Heuristic) Segment(_ context.Context, img image.Image) (*image.Gray, error) {
	background, err := EstimateBackground(img)
	if err != nil {
		return nil, err
	}
	return ComputeMask(img, background, h.Threshold)
}
