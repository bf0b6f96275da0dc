// Package adc reads an analog channel from an I2C analog to digital converter that exposes each
// channel's latest conversion as a big endian register pair.
package adc

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/picar-labs/rover/components/board"
	rutils "github.com/picar-labs/rover/utils"
)

// Config describes one converter channel.
type Config struct {
	Address      byte `json:"address"`
	BaseRegister byte `json:"base_register"`
	Channel      int  `json:"channel"`
	Bits         int  `json:"bits"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Address == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "address")
	}
	if cfg.Channel < 0 || cfg.Channel > 7 {
		return utils.NewConfigValidationError(path, errors.Errorf("channel %d out of range 0-7", cfg.Channel))
	}
	if cfg.Bits < 1 || cfg.Bits > 16 {
		return utils.NewConfigValidationError(path, errors.Errorf("bits %d out of range 1-16", cfg.Bits))
	}
	return nil
}

type reader struct {
	bus      board.I2C
	address  byte
	register byte
	mask     uint16
	bits     int
}

// NewReader returns an AnalogReader for the configured channel.
func NewReader(bus board.I2C, cfg Config) (board.AnalogReader, error) {
	if err := cfg.Validate("adc"); err != nil {
		return nil, err
	}
	return &reader{
		bus:      bus,
		address:  cfg.Address,
		register: cfg.BaseRegister + byte(cfg.Channel),
		mask:     uint16(1<<cfg.Bits - 1),
		bits:     cfg.Bits,
	}, nil
}

func (r *reader) Read(ctx context.Context) (int, error) {
	var value int
	err := board.WithHandle(r.bus, r.address, func(h board.I2CHandle) error {
		data, err := h.ReadBlockData(ctx, r.register, 2)
		if err != nil {
			return err
		}
		value = int(rutils.Uint16FromBytesBE(data) & r.mask)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "cannot read adc channel register %#x", r.register)
	}
	return value, nil
}

func (r *reader) Bits() int {
	return r.bits
}
