package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"go.viam.com/test"
)

func TestFrameBuffer(t *testing.T) {
	fb := NewFrameBuffer(0)
	test.That(t, fb.quality, test.ShouldEqual, DefaultJPEGQuality)

	_, ok := fb.Frame()
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = fb.JPEG()
	test.That(t, ok, test.ShouldBeFalse)

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	img.Set(3, 3, color.RGBA{R: 255, A: 255})
	fb.Put(img)

	frame, ok := fb.Frame()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame, test.ShouldEqual, img)

	encoded, ok := fb.JPEG()
	test.That(t, ok, test.ShouldBeTrue)
	decoded, err := jpeg.Decode(bytes.NewReader(encoded))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds(), test.ShouldResemble, img.Bounds())

	// the same frame is only encoded once
	again, _ := fb.JPEG()
	test.That(t, &again[0], test.ShouldEqual, &encoded[0])

	fb.Put(image.NewGray(image.Rect(0, 0, 16, 8)))
	next, ok := fb.JPEG()
	test.That(t, ok, test.ShouldBeTrue)
	decoded, err = jpeg.Decode(bytes.NewReader(next))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds().Dx(), test.ShouldEqual, 16)
}
