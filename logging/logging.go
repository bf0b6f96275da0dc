// Package logging builds the rover's loggers.
package logging

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	goutils "go.viam.com/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// Config configures logging. With no file everything goes to stdout only.
type Config struct {
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_size_mb and max_backups cannot be negative"))
	}
	return nil
}

// NewLoggerConfig returns a new default logger config.
func NewLoggerConfig() zap.Config {
	// from https://github.com/uber-go/zap/blob/2314926ec34c23ee21f3dd4399438469668f8097/config.go#L135
	// but disable stacktraces, use same keys as prod, and color levels.
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a named logger and a function that flushes and closes its outputs. If a file
// is configured every entry is also written there as JSON, rotating by size.
func NewLogger(name string, cfg *Config) (golog.Logger, func() error, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	zapCfg := NewLoggerConfig()
	if cfg.Debug {
		zapCfg.Level.SetLevel(zap.DebugLevel)
	}
	console, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	if cfg.File == "" {
		return console.Sugar().Named(name), func() error {
			_ = console.Sync()
			return nil
		}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		Compress:   true,
	}
	if cfg.MaxSizeMB > 0 {
		rotator.MaxSize = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		rotator.MaxBackups = cfg.MaxBackups
	}
	fileEncoder := zapCfg.EncoderConfig
	fileEncoder.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(rotator), zapCfg.Level)

	logger := zap.New(zapcore.NewTee(console.Core(), fileCore), zap.AddCaller())
	return logger.Sugar().Named(name), func() error {
		_ = logger.Sync()
		return rotator.Close()
	}, nil
}
