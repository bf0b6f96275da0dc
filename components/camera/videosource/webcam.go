// Package videosource implements a USB webcam camera.
package videosource

import (
	"context"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/camera"
	"github.com/picar-labs/rover/utils"
)

const (
	defaultWidth         = 320
	defaultHeight        = 240
	defaultCaptureWidth  = 640
	defaultCaptureHeight = 480
	defaultFrameRate     = 15

	readRetryWait    = 100 * time.Millisecond
	maxReconnectWait = 5 * time.Second
	// consecutive read failures before the device is reopened
	reconnectAfter = 10
)

// Config is how you configure a webcam.
type Config struct {
	// Path is the device path or label, e.g. /dev/video0. Empty means the first camera found.
	Path string `json:"video_path,omitempty"`
	// Width and Height are the size of the frames handed out.
	Width  int `json:"width_px,omitempty"`
	Height int `json:"height_px,omitempty"`
	// CaptureWidth and CaptureHeight are requested from the device.
	CaptureWidth  int     `json:"capture_width_px,omitempty"`
	CaptureHeight int     `json:"capture_height_px,omitempty"`
	FrameRate     float32 `json:"frame_rate,omitempty"`
	JPEGQuality   int     `json:"jpeg_quality,omitempty"`
	Format        string  `json:"format,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Width < 0 || cfg.Height < 0 || cfg.CaptureWidth < 0 || cfg.CaptureHeight < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf(
			"got illegal negative dimensions (%dx%d, capture %dx%d)",
			cfg.Width, cfg.Height, cfg.CaptureWidth, cfg.CaptureHeight))
	}
	if cfg.FrameRate < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("got illegal negative frame rate %.2f", cfg.FrameRate))
	}
	if cfg.JPEGQuality < 0 || cfg.JPEGQuality > 100 {
		return goutils.NewConfigValidationError(path, errors.Errorf("jpeg_quality %d is not in [0, 100]", cfg.JPEGQuality))
	}
	return nil
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.Width == 0 {
		out.Width = defaultWidth
	}
	if out.Height == 0 {
		out.Height = defaultHeight
	}
	if out.CaptureWidth == 0 {
		out.CaptureWidth = defaultCaptureWidth
	}
	if out.CaptureHeight == 0 {
		out.CaptureHeight = defaultCaptureHeight
	}
	if out.FrameRate == 0 {
		out.FrameRate = defaultFrameRate
	}
	if out.JPEGQuality == 0 {
		out.JPEGQuality = camera.DefaultJPEGQuality
	}
	return out
}

// makeConstraints returns constraints to mediadevices in order to find and make a video source.
func makeConstraints(conf *Config, deviceID string) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				constraint.DeviceID = prop.StringExact(deviceID)
			}
			constraint.Width = prop.IntRanged{Min: 0, Ideal: conf.CaptureWidth, Max: 4096}
			constraint.Height = prop.IntRanged{Min: 0, Ideal: conf.CaptureHeight, Max: 2160}
			constraint.FrameRate = prop.FloatRanged{Min: 0, Ideal: conf.FrameRate, Max: 140}
			if conf.Format == "" {
				constraint.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatMJPEG,
					frame.FormatYUY2,
					frame.FormatI420,
					frame.FormatUYVY,
					frame.FormatNV12,
					frame.FormatRGBA,
				}
			} else {
				constraint.FrameFormat = prop.FrameFormatExact(conf.Format)
			}
		},
	}
}

var initDrivers sync.Once

// findDeviceID maps a configured path onto a mediadevices device ID. The camera driver labels
// devices with their path first.
func findDeviceID(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	for _, dev := range mediadevices.EnumerateDevices() {
		if dev.Kind != mediadevices.VideoInput {
			continue
		}
		labels := strings.Split(dev.Label, mediadevicescamera.LabelSeparator)
		for _, label := range labels {
			if label == path {
				return dev.DeviceID, nil
			}
		}
	}
	return "", errors.Errorf("no camera found at %q", path)
}

// openReader opens the configured device and returns a frame reader and the track backing it.
func openReader(conf *Config) (video.Reader, mediadevices.Track, error) {
	initDrivers.Do(mediadevicescamera.Initialize)

	deviceID, err := findDeviceID(conf.Path)
	if err != nil {
		return nil, nil, err
	}
	stream, err := mediadevices.GetUserMedia(makeConstraints(conf, deviceID))
	if err != nil {
		return nil, nil, errors.Wrap(err, "found no webcams")
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, nil, errors.New("camera stream has no video track")
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		goutils.UncheckedError(tracks[0].Close())
		return nil, nil, errors.Errorf("unexpected track type %T", tracks[0])
	}
	return videoTrack.NewReader(false), videoTrack, nil
}

// webcam captures from a video device on a background goroutine and keeps only the newest frame.
type webcam struct {
	conf   Config
	frames *camera.FrameBuffer
	logger golog.Logger

	mu     sync.Mutex
	reader video.Reader
	track  mediadevices.Track
	closed bool

	workers utils.StoppableWorkers
}

// NewWebcam opens the device described by cfg and starts capturing.
func NewWebcam(ctx context.Context, cfg *Config, logger golog.Logger) (camera.Camera, error) {
	if err := cfg.Validate("camera"); err != nil {
		return nil, err
	}
	conf := cfg.withDefaults()
	reader, track, err := openReader(&conf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find camera")
	}
	cam := &webcam{
		conf:   conf,
		frames: camera.NewFrameBuffer(conf.JPEGQuality),
		logger: logger,
		reader: reader,
		track:  track,
	}
	cam.workers = utils.NewStoppableWorkers(cam.capture)
	logger.Infow("webcam started", "path", conf.Path, "width", conf.Width, "height", conf.Height)
	return cam, nil
}

func (c *webcam) capture(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / float64(c.conf.FrameRate))
	failures := 0
	reconnectWait := readRetryWait
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()

		c.mu.Lock()
		reader := c.reader
		c.mu.Unlock()

		var err error
		if reader == nil {
			err = errors.New("camera is disconnected")
		} else {
			err = c.readFrame(reader)
		}
		if err != nil {
			failures++
			c.logger.Debugw("cannot read frame", "error", err, "failures", failures)
			if failures >= reconnectAfter {
				if err := c.reconnect(); err != nil {
					c.logger.Warnw("cannot reconnect camera", "error", err)
					reconnectWait = min(2*reconnectWait, maxReconnectWait)
				} else {
					c.logger.Info("camera reconnected")
					failures = 0
					reconnectWait = readRetryWait
				}
			}
			if !goutils.SelectContextOrWait(ctx, reconnectWait) {
				return
			}
			continue
		}
		failures = 0

		if wait := interval - time.Since(start); wait > 0 {
			if !goutils.SelectContextOrWait(ctx, wait) {
				return
			}
		}
	}
}

func (c *webcam) readFrame(reader video.Reader) error {
	img, release, err := reader.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return err
	}
	// the reader reuses its buffers after release, so the frame must be copied out first
	c.frames.Put(fitFrame(img, c.conf.Width, c.conf.Height))
	return nil
}

func (c *webcam) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return camera.ErrClosed
	}
	if c.track != nil {
		if err := c.track.Close(); err != nil {
			c.logger.Debugw("failed to close current camera", "error", err)
		}
		c.track = nil
		c.reader = nil
	}
	reader, track, err := openReader(&c.conf)
	if err != nil {
		return err
	}
	c.reader = reader
	c.track = track
	return nil
}

func (c *webcam) LatestFrame(ctx context.Context) (image.Image, bool) {
	return c.frames.Frame()
}

func (c *webcam) LatestJPEG(ctx context.Context) ([]byte, bool) {
	return c.frames.JPEG()
}

func (c *webcam) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("webcam already closed")
	}
	c.closed = true
	c.mu.Unlock()

	c.workers.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	err := c.track.Close()
	c.track = nil
	c.reader = nil
	return err
}
