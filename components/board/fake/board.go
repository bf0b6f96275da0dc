// Package fake implements an in-memory I2C bus, analog reader and PWM bank for tests and for
// running the rover without hardware.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/picar-labs/rover/components/board"
)

// Device is a register file standing in for one I2C peripheral.
type Device struct {
	mu        sync.Mutex
	registers [256]byte
	writes    [][]byte
	err       error
}

// SetRegisters copies data into consecutive registers starting at register.
func (d *Device) SetRegisters(register byte, data ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.registers[register:], data)
}

// Register returns the current value of a register.
func (d *Device) Register(register byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registers[register]
}

// SetError makes every following transaction with the device fail with err. Pass nil to recover.
func (d *Device) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Writes returns a copy of every raw write made to the device.
func (d *Device) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, 0, len(d.writes))
	for _, w := range d.writes {
		out = append(out, append([]byte(nil), w...))
	}
	return out
}

// I2C is a fake bus holding a Device per address.
type I2C struct {
	mu      sync.Mutex
	busMu   sync.Mutex
	devices map[byte]*Device
}

// NewI2C returns an empty bus.
func NewI2C() *I2C {
	return &I2C{devices: map[byte]*Device{}}
}

// Device returns the device at addr, creating it on first use.
func (b *I2C) Device(addr byte) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[addr]
	if !ok {
		d = &Device{}
		b.devices[addr] = d
	}
	return d
}

// OpenHandle locks the bus. There must be a device at addr.
func (b *I2C) OpenHandle(addr byte) (board.I2CHandle, error) {
	b.mu.Lock()
	d, ok := b.devices[addr]
	b.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no device at I2C address %#x", addr)
	}
	b.busMu.Lock()
	return &handle{bus: b, device: d}, nil
}

type handle struct {
	bus    *I2C
	device *Device
	closed bool
}

func (h *handle) Write(ctx context.Context, tx []byte) error {
	h.device.mu.Lock()
	defer h.device.mu.Unlock()
	if h.device.err != nil {
		return h.device.err
	}
	h.device.writes = append(h.device.writes, append([]byte(nil), tx...))
	if len(tx) > 1 {
		copy(h.device.registers[tx[0]:], tx[1:])
	}
	return nil
}

func (h *handle) Read(ctx context.Context, count int) ([]byte, error) {
	return h.ReadBlockData(ctx, 0, uint8(count))
}

func (h *handle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	data, err := h.ReadBlockData(ctx, register, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (h *handle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.Write(ctx, []byte{register, data})
}

func (h *handle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	h.device.mu.Lock()
	defer h.device.mu.Unlock()
	if h.device.err != nil {
		return nil, h.device.err
	}
	if int(register)+int(numBytes) > len(h.device.registers) {
		return nil, errors.Errorf("read of %d bytes from register %#x runs past the register file", numBytes, register)
	}
	out := make([]byte, numBytes)
	copy(out, h.device.registers[register:])
	return out, nil
}

func (h *handle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	return h.Write(ctx, append([]byte{register}, data...))
}

func (h *handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.bus.busMu.Unlock()
	return nil
}

// Analog is an analog reader that returns whatever value it was last given.
type Analog struct {
	mu    sync.Mutex
	value int
	bits  int
	err   error
}

// NewAnalog returns a reader with the given resolution.
func NewAnalog(bits int) *Analog {
	return &Analog{bits: bits}
}

// Set changes the value returned by Read.
func (a *Analog) Set(value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = value
}

// SetError makes Read fail with err until it is cleared with nil.
func (a *Analog) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Read returns the stored value.
func (a *Analog) Read(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	return a.value, nil
}

// Bits is the configured resolution.
func (a *Analog) Bits() int {
	return a.bits
}

// PWM records the duty cycle of every channel.
type PWM struct {
	mu        sync.Mutex
	frequency float64
	duty      map[int]float64
	err       error
}

// NewPWM returns a PWM bank running at frequency Hz with every channel off.
func NewPWM(frequency float64) *PWM {
	return &PWM{frequency: frequency, duty: map[int]float64{}}
}

// SetDutyCycle stores duty for channel.
func (p *PWM) SetDutyCycle(ctx context.Context, channel int, duty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.duty[channel] = duty
	return nil
}

// DutyCycle returns the last duty cycle set on channel.
func (p *PWM) DutyCycle(channel int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty[channel]
}

// SetError makes SetDutyCycle fail with err until it is cleared with nil.
func (p *PWM) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Frequency is the configured frequency.
func (p *PWM) Frequency() float64 {
	return p.frequency
}
