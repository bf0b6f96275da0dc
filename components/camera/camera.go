// Package camera defines the rover's frame sources.
package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"

	"github.com/pkg/errors"
)

// DefaultJPEGQuality trades picture quality for streaming bandwidth.
const DefaultJPEGQuality = 60

// ErrClosed is returned by operations on a closed camera.
var ErrClosed = errors.New("camera has been closed")

// A Camera captures frames on its own goroutine and hands out the most recent one. Neither
// accessor waits for a new frame; ok is false until the first frame arrives. Returned images are
// shared between callers and must not be modified.
type Camera interface {
	LatestFrame(ctx context.Context) (image.Image, bool)
	LatestJPEG(ctx context.Context) ([]byte, bool)
	Close(ctx context.Context) error
}

// FrameBuffer holds the most recent frame of a camera and its lazily encoded JPEG.
type FrameBuffer struct {
	quality int

	mu      sync.Mutex
	frame   image.Image
	seq     uint64
	encoded []byte
	encSeq  uint64
}

// NewFrameBuffer returns an empty buffer encoding at the given JPEG quality. Out of range
// qualities use DefaultJPEGQuality.
func NewFrameBuffer(quality int) *FrameBuffer {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &FrameBuffer{quality: quality}
}

// Put replaces the current frame.
func (fb *FrameBuffer) Put(frame image.Image) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.frame = frame
	fb.seq++
}

// Frame returns the current frame.
func (fb *FrameBuffer) Frame() (image.Image, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.frame, fb.frame != nil
}

// JPEG returns the current frame encoded as JPEG. Each frame is encoded at most once no matter
// how many clients are streaming; the encoding happens outside the lock.
func (fb *FrameBuffer) JPEG() ([]byte, bool) {
	fb.mu.Lock()
	frame, seq := fb.frame, fb.seq
	if frame == nil {
		fb.mu.Unlock()
		return nil, false
	}
	if fb.encoded != nil && fb.encSeq == seq {
		encoded := fb.encoded
		fb.mu.Unlock()
		return encoded, true
	}
	fb.mu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: fb.quality}); err != nil {
		return nil, false
	}
	encoded := buf.Bytes()

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if seq >= fb.encSeq {
		fb.encoded = encoded
		fb.encSeq = seq
	}
	return encoded, true
}
