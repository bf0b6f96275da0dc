// Package board defines the low level buses and analog inputs that the rover's components are
// wired to.
package board

import (
	"context"
)

// I2C represents a shareable I2C bus on the board.
type I2C interface {
	// OpenHandle locks the bus and returns a handle for the device at addr. The handle MUST be
	// closed to release the bus.
	OpenHandle(addr byte) (I2CHandle, error)
}

// I2CHandle is similar to an io handle. It MUST be closed to release the bus.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)

	ReadByteData(ctx context.Context, register byte) (byte, error)
	WriteByteData(ctx context.Context, register, data byte) error

	ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error)
	WriteBlockData(ctx context.Context, register byte, data []byte) error

	// Close closes the handle and releases the lock on the bus.
	Close() error
}

// AnalogReader reads a raw value from an analog to digital converter channel.
type AnalogReader interface {
	// Read returns the raw converter value, between 0 and (1<<Bits())-1.
	Read(ctx context.Context) (int, error)
	// Bits is the resolution of the converter.
	Bits() int
}

// PWM is a bank of pulse width modulated outputs sharing one frequency.
type PWM interface {
	// SetDutyCycle sets the fraction of each period, in [0, 1], that channel is high.
	SetDutyCycle(ctx context.Context, channel int, duty float64) error
	// Frequency is the PWM frequency in Hz.
	Frequency() float64
}

// WithHandle opens a handle for addr, runs f, and always closes the handle.
func WithHandle(bus I2C, addr byte, f func(I2CHandle) error) (err error) {
	handle, err := bus.OpenHandle(addr)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := handle.Close(); err == nil {
			err = closeErr
		}
	}()
	return f(handle)
}
