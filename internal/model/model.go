// Package model loads pluggable segmentation models from a fixed, versioned
// JSON document. Only a closed set of declared backends can be instantiated;
// there is no generic object deserialization and nothing executable is ever
// loaded from disk.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"

	"github.com/example/cutout/internal/segmentation"
)

const (
	// FormatName identifies a segmenter document.
	FormatName = "cutout-segmenter"
	// FormatVersion is the only document version this loader understands.
	FormatVersion = 1
)

var (
	// ErrInvalidFormat covers anything from malformed JSON to unknown fields
	// or a bad magic/version pair.
	ErrInvalidFormat = errors.New("model: invalid segmenter document")
	// ErrUnsupportedBackend is returned for backends outside the closed set.
	ErrUnsupportedBackend = errors.New("model: unsupported backend")
)

// document is the on-disk schema. Unknown fields are rejected.
type document struct {
	Format    string         `json:"format"`
	Version   int            `json:"version"`
	Backend   string         `json:"backend"`
	Linear    *linearSpec    `json:"linear,omitempty"`
	Reference *referenceSpec `json:"reference,omitempty"`
}

// linearSpec is a per-pixel affine classifier over RGB. Weights may declare
// several output channels (rows); only the first row is used for the mask.
type linearSpec struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// referenceSpec is a stored background color plus a calibrated distance
// threshold, i.e. the corner heuristic with the estimation step replaced by
// a known color.
type referenceSpec struct {
	Color     [3]float64 `json:"color"`
	Threshold float64    `json:"threshold"`
}

// Load reads and validates a segmenter document from path.
func Load(path string) (segmentation.Segmenter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a segmenter document and instantiates its backend.
func Parse(data []byte) (segmentation.Segmenter, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if doc.Format != FormatName {
		return nil, fmt.Errorf("%w: format %q", ErrInvalidFormat, doc.Format)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidFormat, doc.Version)
	}

	switch doc.Backend {
	case "linear":
		return newLinear(doc.Linear)
	case "reference":
		return newReference(doc.Reference)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, doc.Backend)
	}
}

type linearModel struct {
	weights [3]float64
	bias    float64
}

func newLinear(spec *linearSpec) (*linearModel, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: missing linear section", ErrInvalidFormat)
	}
	if len(spec.Weights) == 0 {
		return nil, fmt.Errorf("%w: linear weights are empty", ErrInvalidFormat)
	}
	if len(spec.Bias) != len(spec.Weights) {
		return nil, fmt.Errorf("%w: %d bias terms for %d weight rows",
			ErrInvalidFormat, len(spec.Bias), len(spec.Weights))
	}
	for i, row := range spec.Weights {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: weight row %d has %d values, want 3",
				ErrInvalidFormat, i, len(row))
		}
	}

	// Extra output channels are legal in the format; the mask uses row 0.
	m := &linearModel{bias: spec.Bias[0]}
	copy(m.weights[:], spec.Weights[0])
	return m, nil
}

// Segment scores every pixel with w·rgb + b; positive scores are foreground.
// Scoring runs on non-premultiplied RGB, the same normalization the rest of
// the pipeline uses.
func (m *linearModel) Segment(_ context.Context, img image.Image) (*image.Gray, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, segmentation.ErrEmptyImage
	}

	src := imaging.Clone(img)
	mask := image.NewGray(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			score := m.weights[0]*float64(src.Pix[i]) +
				m.weights[1]*float64(src.Pix[i+1]) +
				m.weights[2]*float64(src.Pix[i+2]) + m.bias
			if score > 0 {
				mask.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: 255})
			}
		}
	}
	return mask, nil
}

type referenceModel struct {
	color     segmentation.Color
	threshold float64
}

func newReference(spec *referenceSpec) (*referenceModel, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: missing reference section", ErrInvalidFormat)
	}
	if spec.Threshold <= 0 {
		return nil, fmt.Errorf("%w: reference threshold must be positive", ErrInvalidFormat)
	}
	return &referenceModel{
		color:     segmentation.Color{R: spec.Color[0], G: spec.Color[1], B: spec.Color[2]},
		threshold: spec.Threshold,
	}, nil
}

// Segment thresholds against the stored background color.
func (m *referenceModel) Segment(_ context.Context, img image.Image) (*image.Gray, error) {
	return segmentation.ComputeMask(img, m.color, m.threshold)
}
