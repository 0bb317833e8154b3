package segmentation

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// insetSquare paints a size×size square centered in the image.
func insetSquare(img *image.NRGBA, size int, c color.NRGBA) image.Rectangle {
	b := img.Bounds()
	x0 := b.Min.X + (b.Dx()-size)/2
	y0 := b.Min.Y + (b.Dy()-size)/2
	rect := image.Rect(x0, y0, x0+size, y0+size)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return rect
}

func TestEstimateBackgroundUniformGray(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 128, G: 128, B: 128, A: 255})

	got, err := EstimateBackground(img)
	require.NoError(t, err)

	assert.Equal(t, 128.0, got.R)
	assert.Equal(t, 128.0, got.G)
	assert.Equal(t, 128.0, got.B)
}

func TestEstimateBackgroundIgnoresCenteredSubject(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	insetSquare(img, 20, color.NRGBA{A: 255})

	got, err := EstimateBackground(img)
	require.NoError(t, err)

	// The square sits far from every corner, so only white gets sampled.
	assert.Equal(t, Color{R: 255, G: 255, B: 255}, got)
}

func TestEstimateBackgroundTinyImageClampsCorners(t *testing.T) {
	// 4x4 is smaller than the 5-pixel minimum margin; corner regions overlap
	// and shrink to the image bounds.
	img := uniformImage(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	got, err := EstimateBackground(img)
	require.NoError(t, err)

	assert.InDelta(t, 10, got.R, 0.001)
	assert.InDelta(t, 20, got.G, 0.001)
	assert.InDelta(t, 30, got.B, 0.001)
}

func TestEstimateBackgroundEmptyImage(t *testing.T) {
	_, err := EstimateBackground(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestComputeMaskUniformImageIsAllBackground(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	background, err := EstimateBackground(img)
	require.NoError(t, err)

	for _, threshold := range []float64{0.5, 30.0, 200.0} {
		mask, err := ComputeMask(img, background, threshold)
		require.NoError(t, err)
		for _, v := range mask.Pix {
			if v != 0 {
				t.Fatalf("threshold %v: expected all-zero mask, found %d", threshold, v)
			}
		}
	}
}

func TestComputeMaskMatchesInsetSquare(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	square := insetSquare(img, 20, color.NRGBA{A: 255})

	background, err := EstimateBackground(img)
	require.NoError(t, err)

	mask, err := ComputeMask(img, background, 30.0)
	require.NoError(t, err)

	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			want := uint8(0)
			if image.Pt(x, y).In(square) {
				want = 255
			}
			if got := mask.GrayAt(x, y).Y; got != want {
				t.Fatalf("mask[%d,%d] = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestComputeMaskDropsAlphaWithoutPremultiplying(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img.SetNRGBA(50, 50, color.NRGBA{R: 255, G: 255, B: 255, A: 0})

	background, err := EstimateBackground(img)
	require.NoError(t, err)
	require.Equal(t, Color{R: 255, G: 255, B: 255}, background)

	mask, err := ComputeMask(img, background, 30.0)
	require.NoError(t, err)

	// Transparent white is still white, not black, so it stays background.
	assert.Equal(t, uint8(0), mask.GrayAt(50, 50).Y)
}

func TestEstimateBackgroundDropsAlphaWithoutPremultiplying(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 0})
	img.SetNRGBA(99, 99, color.NRGBA{R: 255, G: 255, B: 255, A: 128})

	got, err := EstimateBackground(img)
	require.NoError(t, err)

	assert.Equal(t, Color{R: 255, G: 255, B: 255}, got)
}

func TestComputeMaskDeterministic(t *testing.T) {
	img := uniformImage(64, 64, color.NRGBA{R: 200, G: 180, B: 160, A: 255})
	insetSquare(img, 16, color.NRGBA{R: 20, G: 40, B: 60, A: 255})
	background, err := EstimateBackground(img)
	require.NoError(t, err)

	first, err := ComputeMask(img, background, 30.0)
	require.NoError(t, err)
	second, err := ComputeMask(img, background, 30.0)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first.Pix, second.Pix), "mask output must be bit-identical across runs")
}

func TestCompositeOpaqueMaskYieldsOpaqueAlpha(t *testing.T) {
	img := uniformImage(40, 40, color.NRGBA{R: 90, G: 120, B: 150, A: 255})
	mask := image.NewGray(img.Bounds())
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}

	out, err := Composite(img, mask, DefaultBlurRadius)
	require.NoError(t, err)

	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			a := out.Pix[(y*40+x)*4+3]
			if a < 250 {
				t.Fatalf("alpha[%d,%d] = %d, want near-opaque", x, y, a)
			}
		}
	}
	// Away from the borders there is nothing for the blur to mix with.
	assert.Equal(t, uint8(255), out.Pix[(20*40+20)*4+3])
}

func TestCompositePreservesRGB(t *testing.T) {
	img := uniformImage(32, 32, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	insetSquare(img, 8, color.NRGBA{R: 10, G: 220, B: 130, A: 255})
	mask := image.NewGray(img.Bounds()) // all background, fully transparent

	out, err := Composite(img, mask, 2.0)
	require.NoError(t, err)

	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			src := img.NRGBAAt(x, y)
			i := (y*32 + x) * 4
			if out.Pix[i] != src.R || out.Pix[i+1] != src.G || out.Pix[i+2] != src.B {
				t.Fatalf("RGB changed at %d,%d: got (%d,%d,%d), want (%d,%d,%d)",
					x, y, out.Pix[i], out.Pix[i+1], out.Pix[i+2], src.R, src.G, src.B)
			}
		}
	}
}

func TestCompositeWithoutBlurCopiesMaskExactly(t *testing.T) {
	img := uniformImage(16, 16, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	mask := image.NewGray(img.Bounds())
	mask.SetGray(5, 7, color.Gray{Y: 255})
	mask.SetGray(0, 0, color.Gray{Y: 127})

	out, err := Composite(img, mask, 0)
	require.NoError(t, err)

	assert.Equal(t, uint8(255), out.Pix[(7*16+5)*4+3])
	assert.Equal(t, uint8(127), out.Pix[3])
	assert.Equal(t, uint8(0), out.Pix[(8*16+8)*4+3])
}

func TestCompositeShapeMismatch(t *testing.T) {
	img := uniformImage(20, 20, color.NRGBA{A: 255})
	mask := image.NewGray(image.Rect(0, 0, 10, 20))

	_, err := Composite(img, mask, 1.0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestHeuristicSegmentInsetSquare(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	square := insetSquare(img, 20, color.NRGBA{A: 255})

	seg := NewHeuristic(30.0)
	mask, err := seg.Segment(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, img.Bounds().Size(), mask.Bounds().Size())

	assert.Equal(t, uint8(255), mask.GrayAt(square.Min.X+10, square.Min.Y+10).Y)
	assert.Equal(t, uint8(0), mask.GrayAt(2, 2).Y)
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewHeuristic(0).Threshold)
	assert.Equal(t, 12.5, NewHeuristic(12.5).Threshold)
}
