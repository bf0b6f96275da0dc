// Package fake is a fake PowerSensor for testing and for running without a battery monitor.
package fake

import (
	"context"
	"sync"

	"github.com/picar-labs/rover/components/powersensor"
	"github.com/picar-labs/rover/utils"
)

// PowerSensor reports whatever voltage it was last given against a 6.0 to 8.4 V pack.
type PowerSensor struct {
	mu      sync.Mutex
	voltage float64
	err     error
}

// NewPowerSensor returns a sensor reporting a full battery.
func NewPowerSensor() *PowerSensor {
	return &PowerSensor{voltage: 8.4}
}

// SetVoltage changes the reported voltage.
func (f *PowerSensor) SetVoltage(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voltage = v
}

// SetError makes Voltage fail with err until it is cleared with nil.
func (f *PowerSensor) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Voltage returns the set voltage.
func (f *PowerSensor) Voltage(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voltage, f.err
}

// Battery derives a status from the set voltage.
func (f *PowerSensor) Battery(ctx context.Context) powersensor.BatteryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	level := powersensor.Percentage(f.voltage, 6.0, 8.4)
	return powersensor.BatteryStatus{
		Level:   level,
		Voltage: utils.RoundTo(f.voltage, 2),
		Status:  powersensor.StatusForLevel(level),
	}
}

// Close does nothing.
func (f *PowerSensor) Close(ctx context.Context) error {
	return nil
}
