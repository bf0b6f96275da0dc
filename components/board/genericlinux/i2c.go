// Package genericlinux provides the I2C bus of a Linux single board computer through periph.io.
package genericlinux

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/picar-labs/rover/components/board"
)

var initOnce sync.Once

func initHost() error {
	var err error
	initOnce.Do(func() {
		_, err = host.Init()
	})
	return err
}

// I2CBus is a Linux I2C bus, e.g. "1" for /dev/i2c-1. Only one handle may be open at a time.
type I2CBus struct {
	mu      sync.Mutex
	bus     i2c.BusCloser
	busName string
}

// NewI2CBus opens the named bus.
func NewI2CBus(busName string) (*I2CBus, error) {
	if err := initHost(); err != nil {
		return nil, errors.Wrap(err, "cannot initialize periph host drivers")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open I2C bus %q", busName)
	}
	return &I2CBus{bus: bus, busName: busName}, nil
}

// OpenHandle locks the bus for the device at addr.
func (b *I2CBus) OpenHandle(addr byte) (board.I2CHandle, error) {
	b.mu.Lock()
	if b.bus == nil {
		b.mu.Unlock()
		return nil, errors.Errorf("I2C bus %q is closed", b.busName)
	}
	return &i2cHandle{
		device: &i2c.Dev{Bus: b.bus, Addr: uint16(addr)},
		parent: b,
	}, nil
}

// Close releases the underlying bus.
func (b *I2CBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

type i2cHandle struct {
	device *i2c.Dev
	parent *I2CBus
	closed bool
}

func (h *i2cHandle) tx(ctx context.Context, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.device.Tx(w, r)
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	return h.tx(ctx, tx, nil)
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	buf := make([]byte, count)
	if err := h.tx(ctx, nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	data, err := h.ReadBlockData(ctx, register, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.tx(ctx, []byte{register, data}, nil)
}

func (h *i2cHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	buf := make([]byte, numBytes)
	if err := h.tx(ctx, []byte{register}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *i2cHandle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	return h.tx(ctx, append([]byte{register}, data...), nil)
}

func (h *i2cHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.parent.mu.Unlock()
	return nil
}
