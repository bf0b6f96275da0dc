// Package config defines the structures that configure the rover and how they are read.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/picar-labs/rover/components/base/fourwheel"
	"github.com/picar-labs/rover/components/board/adc"
	"github.com/picar-labs/rover/components/board/pca9685"
	camerafake "github.com/picar-labs/rover/components/camera/fake"
	"github.com/picar-labs/rover/components/camera/videosource"
	"github.com/picar-labs/rover/components/gimbal"
	motorpca "github.com/picar-labs/rover/components/motor/pca9685"
	"github.com/picar-labs/rover/components/movementsensor/mpu6050"
	"github.com/picar-labs/rover/components/powersensor/battery"
	"github.com/picar-labs/rover/logging"
	"github.com/picar-labs/rover/services/slam/builtin"
)

// Component models.
const (
	ModelFake      = "fake"
	ModelWebcam    = "webcam"
	ModelMPU6050   = "mpu6050"
	ModelFourWheel = "fourwheel"
	ModelPCA9685   = "pca9685"
	ModelADC       = "adc"
)

const (
	defaultPort         = 5000
	defaultI2CBus       = "1"
	defaultPWMFrequency = 50.0
	defaultADCAddress   = 0x48
	defaultADCRegister  = 0x10
	defaultADCBits      = 10
	defaultPanChannel   = 9
	defaultTiltChannel  = 10
)

// A Validator checks a section of the config; path locates it in error messages.
type Validator interface {
	Validate(path string) error
}

// emptyAttributes is for models without any.
type emptyAttributes struct{}

func (emptyAttributes) Validate(path string) error { return nil }

// BatteryAttributes wires a battery monitor to one converter channel.
type BatteryAttributes struct {
	ADC adc.Config `json:"adc"`
	battery.Config
}

// Validate ensures all parts of the config are valid.
func (cfg *BatteryAttributes) Validate(path string) error {
	if err := cfg.ADC.Validate(path + ".adc"); err != nil {
		return err
	}
	return cfg.Config.Validate(path)
}

// attributeConverters returns, per section, a fresh attribute struct for each known model. A nil
// section entry means the section is optional.
var attributeConverters = map[string]map[string]func() Validator{
	"camera": {
		ModelWebcam: func() Validator { return &videosource.Config{} },
		ModelFake:   func() Validator { return &camerafake.Config{PanPx: 2} },
	},
	"imu": {
		ModelMPU6050: func() Validator { return &mpu6050.Config{} },
		ModelFake:    func() Validator { return &emptyAttributes{} },
	},
	"base": {
		ModelFourWheel: func() Validator { return &fourwheel.Config{} },
		ModelFake:      func() Validator { return &emptyAttributes{} },
	},
	"gimbal": {
		ModelPCA9685: func() Validator { return defaultGimbalConfig() },
		ModelFake:    func() Validator { return defaultGimbalConfig() },
	},
	"battery": {
		ModelADC: func() Validator {
			return &BatteryAttributes{ADC: adc.Config{Address: defaultADCAddress, BaseRegister: defaultADCRegister, Bits: defaultADCBits}}
		},
		ModelFake: func() Validator { return &emptyAttributes{} },
	},
}

func defaultGimbalConfig() *gimbal.Config {
	return &gimbal.Config{PanChannel: defaultPanChannel, TiltChannel: defaultTiltChannel}
}

// Component is one piece of hardware. Attributes are decoded according to Model into
// ConvertedAttributes by Ensure.
type Component struct {
	Model               string          `json:"model"`
	Attributes          json.RawMessage `json:"attributes,omitempty"`
	ConvertedAttributes Validator       `json:"-"`
}

// Configured reports whether the component is present.
func (c *Component) Configured() bool {
	return c.Model != ""
}

func (c *Component) convert(section string) error {
	models := attributeConverters[section]
	newAttrs, ok := models[c.Model]
	if !ok {
		return utils.NewConfigValidationError(section, errors.Errorf("unknown model %q", c.Model))
	}
	attrs := newAttrs()
	if len(c.Attributes) > 0 {
		if err := json.Unmarshal(c.Attributes, attrs); err != nil {
			return errors.Wrapf(err, "cannot decode %s attributes", section)
		}
	}
	c.ConvertedAttributes = attrs
	return nil
}

// WebConfig configures the HTTP server. StaticDir, when set, replaces the built in control page.
type WebConfig struct {
	Port        int      `json:"port,omitempty"`
	StaticDir   string   `json:"static_dir,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *WebConfig) Validate(path string) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return utils.NewConfigValidationError(path, errors.Errorf("port %d out of range", cfg.Port))
	}
	return nil
}

// BoardConfig describes the shared I2C bus and the PWM controller on it.
type BoardConfig struct {
	I2CBus         string  `json:"i2c_bus,omitempty"`
	PWMAddress     byte    `json:"pwm_address,omitempty"`
	PWMFrequencyHz float64 `json:"pwm_frequency_hz,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *BoardConfig) Validate(path string) error {
	if cfg.PWMFrequencyHz < 0 {
		return utils.NewConfigValidationError(path, errors.New("pwm_frequency_hz cannot be negative"))
	}
	return nil
}

// SLAMConfig configures localization.
type SLAMConfig struct {
	builtin.Config
	InertialPeriodMs int `json:"inertial_period_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SLAMConfig) Validate(path string) error {
	if cfg.InertialPeriodMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("inertial_period_ms cannot be negative"))
	}
	return cfg.Config.Validate(path)
}

// Config is the whole rover.
type Config struct {
	ConfigFilePath string `json:"-"`

	Web     WebConfig      `json:"web"`
	Log     logging.Config `json:"log"`
	Board   BoardConfig    `json:"board"`
	Camera  Component      `json:"camera"`
	IMU     Component      `json:"imu"`
	Base    Component      `json:"base"`
	Gimbal  Component      `json:"gimbal"`
	Battery Component      `json:"battery"`
	SLAM    SLAMConfig     `json:"slam"`
}

// Default is a rover made entirely of fakes.
func Default() *Config {
	return &Config{
		Camera:  Component{Model: ModelFake},
		IMU:     Component{Model: ModelFake},
		Base:    Component{Model: ModelFake},
		Gimbal:  Component{Model: ModelFake},
		Battery: Component{Model: ModelFake},
	}
}

// Ensure fills in defaults, converts component attributes and validates everything. Camera, base
// and gimbal are required; a missing IMU or battery simply means the rover runs without one.
func (c *Config) Ensure() error {
	if err := c.Web.Validate("web"); err != nil {
		return err
	}
	if err := c.Log.Validate("log"); err != nil {
		return err
	}
	if err := c.Board.Validate("board"); err != nil {
		return err
	}
	if err := c.SLAM.Validate("slam"); err != nil {
		return err
	}
	c.fillDefaults()

	sections := []struct {
		name     string
		comp     *Component
		required bool
	}{
		{"camera", &c.Camera, true},
		{"imu", &c.IMU, false},
		{"base", &c.Base, true},
		{"gimbal", &c.Gimbal, true},
		{"battery", &c.Battery, false},
	}
	for _, s := range sections {
		if !s.comp.Configured() {
			if s.required {
				return utils.NewConfigValidationFieldRequiredError(s.name, "model")
			}
			continue
		}
		if err := s.comp.convert(s.name); err != nil {
			return err
		}
		if mpu, ok := s.comp.ConvertedAttributes.(*mpu6050.Config); ok && mpu.I2CBus == "" {
			mpu.I2CBus = c.Board.I2CBus
		}
		if fw, ok := s.comp.ConvertedAttributes.(*fourwheel.Config); ok && len(fw.Left) == 0 && len(fw.Right) == 0 {
			*fw = *fourwheel.DefaultConfig()
		}
		if err := s.comp.ConvertedAttributes.Validate(s.name + ".attributes"); err != nil {
			return err
		}
	}
	return c.checkPWMChannels()
}

func (c *Config) fillDefaults() {
	if c.Web.Port == 0 {
		c.Web.Port = defaultPort
	}
	if len(c.Web.CORSOrigins) == 0 {
		c.Web.CORSOrigins = []string{"*"}
	}
	if c.Board.I2CBus == "" {
		c.Board.I2CBus = defaultI2CBus
	}
	if c.Board.PWMAddress == 0 {
		c.Board.PWMAddress = pca9685.DefaultAddress
	}
	if c.Board.PWMFrequencyHz == 0 {
		c.Board.PWMFrequencyHz = defaultPWMFrequency
	}
	if c.SLAM.DataPath == "" {
		c.SLAM.DataPath = builtin.DefaultDataPath
	}
}

// UsesHardware reports whether any component needs the I2C bus.
func (c *Config) UsesHardware() bool {
	return c.IMU.Model == ModelMPU6050 ||
		c.Base.Model == ModelFourWheel ||
		c.Gimbal.Model == ModelPCA9685 ||
		c.Battery.Model == ModelADC
}

// checkPWMChannels makes sure no two users of the PWM controller share a channel.
func (c *Config) checkPWMChannels() error {
	owners := map[int]string{}
	claim := func(channel int, owner string) error {
		if prev, ok := owners[channel]; ok {
			return utils.NewConfigValidationError("board",
				errors.Errorf("pwm channel %d used by both %s and %s", channel, prev, owner))
		}
		owners[channel] = owner
		return nil
	}
	if fw, ok := c.Base.ConvertedAttributes.(*fourwheel.Config); ok && c.Base.Model == ModelFourWheel {
		for i, m := range append(append([]motorpca.Config{}, fw.Left...), fw.Right...) {
			owner := fmt.Sprintf("base motor %d", i)
			for _, ch := range []int{m.PWM, m.In1, m.In2} {
				if err := claim(ch, owner); err != nil {
					return err
				}
			}
		}
	}
	if g, ok := c.Gimbal.ConvertedAttributes.(*gimbal.Config); ok && c.Gimbal.Model == ModelPCA9685 {
		if err := claim(g.PanChannel, "gimbal pan"); err != nil {
			return err
		}
		if err := claim(g.TiltChannel, "gimbal tilt"); err != nil {
			return err
		}
	}
	return nil
}
