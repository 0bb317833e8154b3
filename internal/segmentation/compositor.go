package segmentation

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultBlurRadius smooths the hard binary silhouette into a soft alpha
// gradient. Measured in pixels.
const DefaultBlurRadius = 1.0

// ErrShapeMismatch is returned when a mask does not match the image
// dimensions. Masks are never truncated or stretched to fit.
var ErrShapeMismatch = errors.New("segmentation: mask and image dimensions differ")

// Composite applies a Gaussian blur of blurRadius to the mask and writes the
// result into the alpha channel of img. RGB values pass through unchanged,
// without premultiplication, so fully transparent pixels keep their original
// color bit-for-bit.
func Composite(img image.Image, mask *image.Gray, blurRadius float64) (*image.NRGBA, error) {
	ib, mb := img.Bounds(), mask.Bounds()
	if ib.Dx() != mb.Dx() || ib.Dy() != mb.Dy() {
		return nil, fmt.Errorf("%w: image %dx%d, mask %dx%d",
			ErrShapeMismatch, ib.Dx(), ib.Dy(), mb.Dx(), mb.Dy())
	}
	if ib.Dx() <= 0 || ib.Dy() <= 0 {
		return nil, ErrEmptyImage
	}

	// Clone normalizes any input format to a zero-based NRGBA with the 8-bit
	// channel values intact.
	out := imaging.Clone(img)

	if blurRadius > 0 {
		blurred := imaging.Blur(mask, blurRadius)
		for i := 0; i < len(out.Pix)/4; i++ {
			out.Pix[i*4+3] = blurred.Pix[i*4]
		}
		return out, nil
	}

	w, h := ib.Dx(), ib.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[(y*w+x)*4+3] = mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y
		}
	}
	return out, nil
}
