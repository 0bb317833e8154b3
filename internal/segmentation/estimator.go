package segmentation

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// ErrEmptyImage is returned when an image has a zero-sized dimension and
// corner sampling cannot run.
var ErrEmptyImage = errors.New("segmentation: image has no pixels")

// Color is a background color estimate in 8-bit RGB space.
type Color struct {
	R float64
	G float64
	B float64
}

// EstimateBackground samples the four corner regions of img and returns the
// per-channel mean as the estimated background color. The margin grows with
// the image (1/20 of the shorter side, at least 5 pixels); for small images
// the corner regions may overlap, which is fine for a best-effort estimate.
//
// Pixels are read as non-premultiplied RGB: alpha is dropped, never folded
// into the color channels, so a transparent white pixel still samples white.
func EstimateBackground(img image.Image) (Color, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return Color{}, ErrEmptyImage
	}

	src := imaging.Clone(img)

	margin := w
	if h < margin {
		margin = h
	}
	margin /= 20
	if margin < 5 {
		margin = 5
	}

	full := image.Rect(0, 0, w, h)
	corners := []image.Rectangle{
		image.Rect(0, 0, margin, margin),
		image.Rect(w-margin, 0, w, margin),
		image.Rect(0, h-margin, margin, h),
		image.Rect(w-margin, h-margin, w, h),
	}

	var sumR, sumG, sumB float64
	var count int
	for _, corner := range corners {
		corner = corner.Intersect(full)
		for y := corner.Min.Y; y < corner.Max.Y; y++ {
			for x := corner.Min.X; x < corner.Max.X; x++ {
				i := src.PixOffset(x, y)
				sumR += float64(src.Pix[i])
				sumG += float64(src.Pix[i+1])
				sumB += float64(src.Pix[i+2])
				count++
			}
		}
	}
	if count == 0 {
		return Color{}, ErrEmptyImage
	}

	n := float64(count)
	return Color{R: sumR / n, G: sumG / n, B: sumB / n}, nil
}
