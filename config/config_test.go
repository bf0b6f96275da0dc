package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/picar-labs/rover/components/base/fourwheel"
	camerafake "github.com/picar-labs/rover/components/camera/fake"
	"github.com/picar-labs/rover/components/camera/videosource"
	"github.com/picar-labs/rover/components/gimbal"
	"github.com/picar-labs/rover/components/movementsensor/mpu6050"
	"github.com/picar-labs/rover/services/slam/builtin"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Ensure(), test.ShouldBeNil)
	test.That(t, cfg.Web.Port, test.ShouldEqual, 5000)
	test.That(t, cfg.Web.StaticDir, test.ShouldBeEmpty)
	test.That(t, cfg.Web.CORSOrigins, test.ShouldResemble, []string{"*"})
	test.That(t, cfg.SLAM.DataPath, test.ShouldEqual, builtin.DefaultDataPath)
	test.That(t, cfg.UsesHardware(), test.ShouldBeFalse)
	test.That(t, cfg.Camera.ConvertedAttributes, test.ShouldResemble, &camerafake.Config{PanPx: 2})
	test.That(t, cfg.Gimbal.ConvertedAttributes, test.ShouldResemble,
		&gimbal.Config{PanChannel: 9, TiltChannel: 10})
}

func TestFromReader(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg, err := FromReader(context.Background(), "rover.json", strings.NewReader(`{
		"web": {"port": 8080},
		"board": {"i2c_bus": "0"},
		"camera": {"model": "webcam", "attributes": {"video_path": "video0", "frame_rate": 10}},
		"imu": {"model": "mpu6050"},
		"base": {"model": "fourwheel"},
		"gimbal": {"model": "pca9685", "attributes": {"pan_channel": 14, "tilt_channel": 15}},
		"battery": {"model": "adc", "attributes": {"adc": {"channel": 2}, "interval_sec": 5}},
		"slam": {"max_map_points": 50, "inertial_period_ms": 20}
	}`), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "rover.json")
	test.That(t, cfg.Web.Port, test.ShouldEqual, 8080)
	test.That(t, cfg.UsesHardware(), test.ShouldBeTrue)

	webcam, ok := cfg.Camera.ConvertedAttributes.(*videosource.Config)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, webcam.Path, test.ShouldEqual, "video0")
	test.That(t, webcam.FrameRate, test.ShouldEqual, float32(10))

	mpu, ok := cfg.IMU.ConvertedAttributes.(*mpu6050.Config)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mpu.I2CBus, test.ShouldEqual, "0")

	test.That(t, cfg.Base.ConvertedAttributes, test.ShouldResemble, fourwheel.DefaultConfig())

	bat, ok := cfg.Battery.ConvertedAttributes.(*BatteryAttributes)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bat.ADC.Channel, test.ShouldEqual, 2)
	test.That(t, bat.ADC.Bits, test.ShouldEqual, 10)
	test.That(t, bat.IntervalSec, test.ShouldEqual, 5.0)

	test.That(t, cfg.SLAM.MaxMapPoints, test.ShouldEqual, 50)
	test.That(t, cfg.SLAM.InertialPeriodMs, test.ShouldEqual, 20)
}

func TestOptionalSections(t *testing.T) {
	cfg, err := FromReader(context.Background(), "", strings.NewReader(`{
		"camera": {"model": "fake"},
		"base": {"model": "fake"},
		"gimbal": {"model": "fake"}
	}`), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.IMU.Configured(), test.ShouldBeFalse)
	test.That(t, cfg.Battery.Configured(), test.ShouldBeFalse)
	test.That(t, cfg.IMU.ConvertedAttributes, test.ShouldBeNil)
}

func TestInvalidConfigs(t *testing.T) {
	for _, tc := range []struct {
		name, json, errSub string
	}{
		{"bad json", `{`, "decode"},
		{"missing camera", `{"base": {"model": "fake"}, "gimbal": {"model": "fake"}}`, "camera"},
		{"unknown model", `{"camera": {"model": "kinect"}, "base": {"model": "fake"}, "gimbal": {"model": "fake"}}`, "kinect"},
		{"bad attributes", `{"camera": {"model": "fake", "attributes": {"width": 33}},
			"base": {"model": "fake"}, "gimbal": {"model": "fake"}}`, "odd-number"},
		{"bad port", `{"web": {"port": -1}, "camera": {"model": "fake"}, "base": {"model": "fake"},
			"gimbal": {"model": "fake"}}`, "port"},
		{"bad slam", `{"slam": {"save_probability": 2}, "camera": {"model": "fake"}, "base": {"model": "fake"},
			"gimbal": {"model": "fake"}}`, "save_probability"},
		{"channel clash", `{"camera": {"model": "fake"}, "base": {"model": "fourwheel"},
			"gimbal": {"model": "pca9685", "attributes": {"pan_channel": 3, "tilt_channel": 10}}}`, "pwm channel 3"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(context.Background(), "", strings.NewReader(tc.json), golog.NewTestLogger(t))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errSub)
		})
	}
}

func TestRead(t *testing.T) {
	t.Setenv("ROVER_TEST_PORT", "6001")
	path := filepath.Join(t.TempDir(), "rover.json")
	test.That(t, os.WriteFile(path, []byte(`{
		"web": {"port": ${ROVER_TEST_PORT}},
		"camera": {"model": "fake"},
		"base": {"model": "fake"},
		"gimbal": {"model": "fake"}
	}`), 0o600), test.ShouldBeNil)

	cfg, err := Read(context.Background(), path, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Web.Port, test.ShouldEqual, 6001)

	_, err = Read(context.Background(), filepath.Join(t.TempDir(), "missing.json"), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
