package odometry

import (
	"context"
	"image"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/picar-labs/rover/vision/keypoints"
)

// Features are the keypoints and descriptors of one frame.
type Features struct {
	Gray        *image.Gray
	KeyPoints   keypoints.KeyPoints
	Descriptors keypoints.Descriptors
}

// Tracker extracts features from each frame it is given and matches them against the features of
// the frame before.
type Tracker struct {
	detector keypoints.Detector
	matcher  keypoints.Matcher
	logger   golog.Logger

	mu   sync.Mutex
	prev *Features
	// generation changes on every Reset; features computed across a reset are not kept.
	generation uint64
}

// NewTracker returns a tracker using the given feature strategies.
func NewTracker(detector keypoints.Detector, matcher keypoints.Matcher, logger golog.Logger) *Tracker {
	return &Tracker{detector: detector, matcher: matcher, logger: logger}
}

// NewORBTracker returns a tracker using ORB features and cross checked brute force matching.
func NewORBTracker(cfg *keypoints.ORBConfig, logger golog.Logger) (*Tracker, error) {
	if cfg == nil {
		cfg = keypoints.DefaultORBConfig()
	}
	orb, err := keypoints.NewORB(cfg)
	if err != nil {
		return nil, err
	}
	matcher := &keypoints.BruteForceMatcher{Cfg: keypoints.MatchingConfig{DoCrossCheck: true}}
	return NewTracker(orb, matcher, logger), nil
}

// Process computes the features of frame and makes them the previous frame's features for the
// next call, unless the tracker is reset while they are being computed.
func (t *Tracker) Process(ctx context.Context, frame image.Image) (*Features, error) {
	t.mu.Lock()
	generation := t.generation
	t.mu.Unlock()

	current, err := t.detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	t.store(current, generation)
	return current, nil
}

func (t *Tracker) detect(ctx context.Context, frame image.Image) (*Features, error) {
	_, span := trace.StartSpan(ctx, "odometry::Tracker::detect")
	defer span.End()

	if frame == nil {
		return nil, errors.New("no frame")
	}
	gray := keypoints.ToGray(frame)
	kps, descs, err := t.detector.DetectAndDescribe(gray)
	if err != nil {
		return nil, errors.Wrap(err, "feature detection failed")
	}
	return &Features{Gray: gray, KeyPoints: kps, Descriptors: descs}, nil
}

// store keeps current as the previous frame if no Reset happened since generation was read.
func (t *Tracker) store(current *Features, generation uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != generation {
		return false
	}
	t.prev = current
	return true
}

// Track processes frame and returns its correspondences with the previous frame, best match
// first. The first frame after creation or Reset has no correspondences.
func (t *Tracker) Track(ctx context.Context, frame image.Image) ([]Correspondence, error) {
	ctx, span := trace.StartSpan(ctx, "odometry::Tracker::Track")
	defer span.End()

	t.mu.Lock()
	prev, generation := t.prev, t.generation
	t.mu.Unlock()

	current, err := t.detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	if !t.store(current, generation) {
		// reset mid-frame: prev belongs to the old run
		return nil, nil
	}
	if prev == nil || len(prev.Descriptors) == 0 || len(current.Descriptors) == 0 {
		return nil, nil
	}

	matches := t.matcher.Match(prev.Descriptors, current.Descriptors)
	prevKps, currKps, err := keypoints.GetMatchingKeyPoints(matches, prev.KeyPoints, current.KeyPoints)
	if err != nil {
		return nil, err
	}
	out := make([]Correspondence, len(matches))
	for i := range matches {
		out[i] = Correspondence{
			Prev:     convertImagePointToFloatPoint(prevKps[i]),
			Curr:     convertImagePointToFloatPoint(currKps[i]),
			Distance: matches[i].Distance,
		}
	}
	t.logger.Debugf("tracked %d keypoints, %d matches", len(current.KeyPoints), len(out))
	return out, nil
}

// Reset forgets the previous frame, including one still being computed.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prev = nil
	t.generation++
}
