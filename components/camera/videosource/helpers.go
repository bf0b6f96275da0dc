package videosource

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// fitFrame returns a copy of img scaled to width x height. The copy owns its pixels, so img may be
// released back to the driver afterwards.
func fitFrame(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}
