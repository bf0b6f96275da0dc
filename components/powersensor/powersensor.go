// Package powersensor defines sensors that report on the rover's battery.
package powersensor

import (
	"context"
	"math"
)

// Level thresholds, in percent.
const (
	LowThreshold      = 20
	CriticalThreshold = 10
)

// A Status summarizes a charge level.
type Status string

// The statuses, from best to worst.
const (
	StatusNormal   = Status("normal")
	StatusLow      = Status("low")
	StatusCritical = Status("critical")
)

// StatusForLevel classifies a charge percentage.
func StatusForLevel(level int) Status {
	switch {
	case level <= CriticalThreshold:
		return StatusCritical
	case level <= LowThreshold:
		return StatusLow
	default:
		return StatusNormal
	}
}

// Percentage maps voltage linearly onto 0 to 100 between empty and full, truncating.
func Percentage(voltage, empty, full float64) int {
	if voltage >= full {
		return 100
	}
	if voltage <= empty {
		return 0
	}
	return int(math.Floor((voltage - empty) / (full - empty) * 100))
}

// BatteryStatus is a battery reading.
type BatteryStatus struct {
	// Level is the charge in percent.
	Level int `json:"level"`
	// Voltage is rounded to hundredths of a volt.
	Voltage float64 `json:"voltage"`
	Status  Status  `json:"status"`
}

// Critical reports whether the battery needs charging now.
func (s BatteryStatus) Critical() bool {
	return s.Status == StatusCritical
}

// A PowerSensor reports on a battery.
type PowerSensor interface {
	// Voltage returns the filtered battery voltage.
	Voltage(ctx context.Context) (float64, error)
	// Battery returns the latest status. It never blocks on hardware.
	Battery(ctx context.Context) BatteryStatus
	Close(ctx context.Context) error
}
