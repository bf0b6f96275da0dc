// Package fake implements a fake base.
package fake

import (
	"context"
	"sync"

	"github.com/picar-labs/rover/components/base"
)

// Base remembers every command it is given.
type Base struct {
	mu       sync.Mutex
	status   base.Status
	commands []base.Status
	closed   bool
}

// NewBase returns a stopped base.
func NewBase() *Base {
	return &Base{status: base.Status{Direction: base.DirectionStop}}
}

// Drive records the command.
func (b *Base) Drive(ctx context.Context, dir base.Direction, speed int) error {
	if err := base.ValidateDrive(dir, speed); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if dir == base.DirectionStop {
		speed = 0
	}
	b.status = base.Status{Speed: speed, Direction: dir}
	b.commands = append(b.commands, b.status)
	return nil
}

// Stop records a stop.
func (b *Base) Stop(ctx context.Context) error {
	return b.Drive(ctx, base.DirectionStop, 0)
}

// Status returns the last command.
func (b *Base) Status() base.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Commands returns every command so far.
func (b *Base) Commands() []base.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]base.Status(nil), b.commands...)
}

// Close stops the base.
func (b *Base) Close(ctx context.Context) error {
	err := b.Stop(ctx)
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return err
}

// Closed reports whether Close was called.
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
