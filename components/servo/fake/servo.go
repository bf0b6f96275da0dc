// Package fake implements a fake servo.
package fake

import (
	"context"
	"sync"
)

// Servo remembers every angle it is moved to.
type Servo struct {
	mu      sync.Mutex
	angle   float64
	moves   []float64
	stopped bool
}

// Move records angleDeg.
func (s *Servo) Move(ctx context.Context, angleDeg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.angle = angleDeg
	s.moves = append(s.moves, angleDeg)
	s.stopped = false
	return nil
}

// Position returns the last angle moved to.
func (s *Servo) Position(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle, nil
}

// Stop marks the servo stopped.
func (s *Servo) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Moves returns every angle commanded so far.
func (s *Servo) Moves() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64{}, s.moves...)
}

// Stopped reports whether Stop was the last command.
func (s *Servo) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
