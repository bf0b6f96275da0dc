// Package pca9685 drives the 16 channel, 12 bit PCA9685 PWM controller over I2C. The servos and
// the motor H-bridges of the rover hang off one of these.
package pca9685

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/picar-labs/rover/components/board"
)

// DefaultAddress is the I2C address with all address pins grounded.
const DefaultAddress = 0x40

const (
	regMode1    = 0x00
	regLED0OnL  = 0x06
	regPrescale = 0xfe

	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode1Restart = 0x80
	mode1AllCall = 0x01

	oscillatorHz = 25_000_000
	steps        = 4096
	fullBit      = 0x10
	numChannels  = 16
)

// Controller is a PCA9685 on a bus.
type Controller struct {
	mu        sync.Mutex
	bus       board.I2C
	address   byte
	frequency float64
	logger    golog.Logger
}

// New resets the chip and sets its PWM frequency in Hz.
func New(ctx context.Context, bus board.I2C, address byte, frequency float64, logger golog.Logger) (*Controller, error) {
	c := &Controller{bus: bus, address: address, logger: logger}
	if err := c.SetFrequency(ctx, frequency); err != nil {
		return nil, errors.Wrapf(err, "cannot initialize pca9685 at %#x", address)
	}
	return c, nil
}

// Frequency returns the current PWM frequency.
func (c *Controller) Frequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frequency
}

// SetFrequency changes the PWM frequency, which applies to all channels.
func (c *Controller) SetFrequency(ctx context.Context, frequency float64) error {
	if frequency < 24 || frequency > 1526 {
		return errors.Errorf("pwm frequency %.1f out of range 24-1526 Hz", frequency)
	}
	prescale := byte(math.Round(oscillatorHz/(steps*frequency)) - 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	err := board.WithHandle(c.bus, c.address, func(h board.I2CHandle) error {
		oldMode, err := h.ReadByteData(ctx, regMode1)
		if err != nil {
			return err
		}
		// the prescaler can only be written while the oscillator sleeps
		if err := h.WriteByteData(ctx, regMode1, (oldMode&^mode1Restart)|mode1Sleep); err != nil {
			return err
		}
		if err := h.WriteByteData(ctx, regPrescale, prescale); err != nil {
			return err
		}
		if err := h.WriteByteData(ctx, regMode1, oldMode&^mode1Sleep); err != nil {
			return err
		}
		time.Sleep(500 * time.Microsecond)
		return h.WriteByteData(ctx, regMode1, (oldMode&^mode1Sleep)|mode1Restart|mode1AutoInc|mode1AllCall)
	})
	if err != nil {
		return err
	}
	c.frequency = frequency
	c.logger.Debugw("pca9685 frequency set", "address", c.address, "hz", frequency, "prescale", prescale)
	return nil
}

// SetDutyCycle sets the fraction of each period a channel is high. Values are clamped to [0, 1];
// exactly 0 and 1 use the chip's full off and full on bits.
func (c *Controller) SetDutyCycle(ctx context.Context, channel int, duty float64) error {
	if channel < 0 || channel >= numChannels {
		return errors.Errorf("pca9685 channel %d out of range", channel)
	}
	var on, off uint16
	switch {
	case duty <= 0:
		off = fullBit << 8
	case duty >= 1:
		on = fullBit << 8
	default:
		off = uint16(math.Round(duty * (steps - 1)))
	}
	reg := byte(regLED0OnL + 4*channel)

	c.mu.Lock()
	defer c.mu.Unlock()
	return board.WithHandle(c.bus, c.address, func(h board.I2CHandle) error {
		return h.WriteBlockData(ctx, reg, []byte{byte(on), byte(on >> 8), byte(off), byte(off >> 8)})
	})
}

// SetPulseWidth sets a channel's high time per period.
func (c *Controller) SetPulseWidth(ctx context.Context, channel int, width time.Duration) error {
	period := time.Duration(float64(time.Second) / c.Frequency())
	return c.SetDutyCycle(ctx, channel, float64(width)/float64(period))
}

// Close turns every channel off.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// ALL_LED_OFF_H full off bit
	return board.WithHandle(c.bus, c.address, func(h board.I2CHandle) error {
		return h.WriteByteData(ctx, 0xfd, fullBit)
	})
}
