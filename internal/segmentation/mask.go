package segmentation

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultThreshold is the color-distance cutoff separating foreground from
// background. It is a heuristic default, exposed through configuration so it
// can be calibrated against representative images.
const DefaultThreshold = 30.0

// ComputeMask classifies every pixel by its Euclidean RGB distance from the
// background color: strictly above the threshold is foreground (255),
// everything else background (0). The result has the same bounds as img and
// the computation is deterministic.
//
// Like the estimator, the image is normalized to non-premultiplied RGB
// first; the alpha channel plays no part in the distance.
func ComputeMask(img image.Image, background Color, threshold float64) (*image.Gray, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	src := imaging.Clone(img)
	mask := image.NewGray(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			dr := float64(src.Pix[i]) - background.R
			dg := float64(src.Pix[i+1]) - background.G
			db := float64(src.Pix[i+2]) - background.B
			dist := math.Sqrt(dr*dr + dg*dg + db*db)
			if dist > threshold {
				mask.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: 255})
			}
		}
	}
	return mask, nil
}
