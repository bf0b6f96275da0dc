// Package battery monitors a lithium pack through a voltage divider on an analog input.
package battery

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/picar-labs/rover/components/board"
	"github.com/picar-labs/rover/components/powersensor"
	"github.com/picar-labs/rover/utils"
)

const (
	defaultReferenceVolts = 3.3
	defaultDividerRatio   = 0.25
	defaultEmptyVolts     = 6.0 // two cells in series
	defaultFullVolts      = 8.4
	defaultInterval       = 10 * time.Second
	defaultWindow         = 5
)

// Config describes the divider and the pack.
type Config struct {
	ReferenceVolts float64 `json:"reference_volts,omitempty"`
	// DividerRatio is the fraction of the pack voltage that reaches the converter.
	DividerRatio float64 `json:"divider_ratio,omitempty"`
	EmptyVolts   float64 `json:"empty_volts,omitempty"`
	FullVolts    float64 `json:"full_volts,omitempty"`
	IntervalSec  float64 `json:"interval_sec,omitempty"`
	// Window is how many readings the median is taken over.
	Window int `json:"window,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ReferenceVolts < 0 || cfg.DividerRatio < 0 || cfg.IntervalSec < 0 || cfg.Window < 0 {
		return goutils.NewConfigValidationError(path, errors.New("values cannot be negative"))
	}
	if cfg.DividerRatio > 1 {
		return goutils.NewConfigValidationError(path, errors.New("divider_ratio cannot be more than 1"))
	}
	c := cfg.withDefaults()
	if c.EmptyVolts >= c.FullVolts {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("empty_volts %.2f must be below full_volts %.2f", c.EmptyVolts, c.FullVolts))
	}
	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.ReferenceVolts == 0 {
		cfg.ReferenceVolts = defaultReferenceVolts
	}
	if cfg.DividerRatio == 0 {
		cfg.DividerRatio = defaultDividerRatio
	}
	if cfg.EmptyVolts == 0 {
		cfg.EmptyVolts = defaultEmptyVolts
	}
	if cfg.FullVolts == 0 {
		cfg.FullVolts = defaultFullVolts
	}
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	return cfg
}

// Battery polls the converter in the background and keeps the median of the latest readings.
type Battery struct {
	reader   board.AnalogReader
	cfg      Config
	interval time.Duration
	clock    clock.Clock
	logger   golog.Logger

	mu       sync.Mutex
	readings []float64
	status   powersensor.BatteryStatus
	voltage  float64

	workersMu sync.Mutex
	workers   utils.StoppableWorkers
}

// NewBattery returns a monitor that reports a full, normal battery until its first reading. A nil
// clock means the wall clock.
func NewBattery(reader board.AnalogReader, cfg *Config, clk clock.Clock, logger golog.Logger) (*Battery, error) {
	if err := cfg.Validate("battery"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	c := cfg.withDefaults()
	interval := defaultInterval
	if c.IntervalSec > 0 {
		interval = time.Duration(c.IntervalSec * float64(time.Second))
	}
	return &Battery{
		reader:   reader,
		cfg:      c,
		interval: interval,
		clock:    clk,
		logger:   logger,
		status:   powersensor.BatteryStatus{Level: 100, Status: powersensor.StatusNormal},
	}, nil
}

// Start begins monitoring. It does nothing if already started.
func (b *Battery) Start() {
	b.workersMu.Lock()
	defer b.workersMu.Unlock()
	if b.workers != nil {
		return
	}
	b.workers = utils.NewStoppableWorkers(b.run)
}

func (b *Battery) run(ctx context.Context) {
	ticker := b.clock.Ticker(b.interval)
	defer ticker.Stop()
	for {
		if err := b.update(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warnw("cannot read battery", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// rawToVolts converts a converter reading to the pack voltage.
func (b *Battery) rawToVolts(raw int) float64 {
	maxRaw := float64(int(1)<<b.reader.Bits() - 1)
	return float64(raw) / maxRaw * b.cfg.ReferenceVolts / b.cfg.DividerRatio
}

// update takes one reading. A failed read leaves the last status in place.
func (b *Battery) update(ctx context.Context) error {
	raw, err := b.reader.Read(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.readings = append(b.readings, b.rawToVolts(raw))
	if len(b.readings) > b.cfg.Window {
		b.readings = b.readings[len(b.readings)-b.cfg.Window:]
	}
	voltage, err := stats.Median(b.readings)
	if err != nil {
		return err
	}

	level := powersensor.Percentage(voltage, b.cfg.EmptyVolts, b.cfg.FullVolts)
	prev := b.status.Status
	b.voltage = voltage
	b.status = powersensor.BatteryStatus{
		Level:   level,
		Voltage: utils.RoundTo(voltage, 2),
		Status:  powersensor.StatusForLevel(level),
	}
	if b.status.Status != prev {
		b.logger.Infow("battery status changed", "status", b.status.Status, "level", level, "voltage", b.status.Voltage)
	}
	return nil
}

// Voltage returns the median voltage, or an error before the first reading.
func (b *Battery) Voltage(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.readings) == 0 {
		return 0, errors.New("no battery reading yet")
	}
	return b.voltage, nil
}

// Battery returns the latest status.
func (b *Battery) Battery(ctx context.Context) powersensor.BatteryStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Close stops monitoring.
func (b *Battery) Close(ctx context.Context) error {
	b.workersMu.Lock()
	defer b.workersMu.Unlock()
	if b.workers != nil {
		b.workers.Stop()
	}
	return nil
}
