package config

import (
	"testing"

	"go.viam.com/test"

	"github.com/tern-robotics/rover/control"
	"github.com/tern-robotics/rover/drive"
	"github.com/tern-robotics/rover/motor"
	"github.com/tern-robotics/rover/navigation"
	"github.com/tern-robotics/rover/server"
	"github.com/tern-robotics/rover/teleop"
)

func baseConfig() *Config {
	return &Config{
		Hardware: HardwareConfig{
			Model:      BoardModelFake,
			LeftMotor:  motor.Config{Pins: motor.PinConfig{A: "m1a", B: "m1b", PWM: "m1p"}},
			RightMotor: motor.Config{Pins: motor.PinConfig{A: "m2a", B: "m2b", PWM: "m2p"}},
		},
		Drive: drive.Config{
			PID: control.PIDConfig{Kp: 2, Ki: 0.5, Kd: 0.1, OutputLimit: 255},
		},
		Navigation: navigation.Config{BaseSpeedPWM: 120},
		Teleop:     teleop.Config{DeadManTimeoutMs: 150},
		Server:     server.Config{BindAddress: ":8023"},
		GPS:        SensorConfig{Model: GPSModelSerialNMEA, Attributes: AttributeMap{"serial_path": "/dev/ttyUSB0"}},
		DataDir:    "/var/lib/rover",
	}
}

func TestDiffIdentical(t *testing.T) {
	diff := DiffConfigs(baseConfig(), baseConfig())
	test.That(t, diff.Empty(), test.ShouldBeTrue)
	test.That(t, diff.AnyTunable(), test.ShouldBeFalse)
}

func TestDiffTunables(t *testing.T) {
	t.Run("wheel pid", func(t *testing.T) {
		right := baseConfig()
		right.Drive.PID.Kp = 3
		diff := DiffConfigs(baseConfig(), right)
		test.That(t, diff.WheelPID, test.ShouldBeTrue)
		test.That(t, diff.Steering, test.ShouldBeFalse)
		test.That(t, diff.RestartRequired, test.ShouldBeEmpty)
	})

	t.Run("base speed", func(t *testing.T) {
		right := baseConfig()
		right.Navigation.BaseSpeedPWM = 140
		diff := DiffConfigs(baseConfig(), right)
		test.That(t, diff.Steering, test.ShouldBeTrue)
		test.That(t, diff.RestartRequired, test.ShouldBeEmpty)
	})

	t.Run("heading pid and xte gain", func(t *testing.T) {
		right := baseConfig()
		right.Navigation.HeadingPID.Kp = 1
		right.Navigation.XTEGainDegPerM = 14
		diff := DiffConfigs(baseConfig(), right)
		test.That(t, diff.Steering, test.ShouldBeTrue)
	})

	t.Run("dead man", func(t *testing.T) {
		right := baseConfig()
		right.Teleop.DeadManTimeoutMs = 300
		diff := DiffConfigs(baseConfig(), right)
		test.That(t, diff.DeadMan, test.ShouldBeTrue)
		test.That(t, diff.AnyTunable(), test.ShouldBeTrue)
		test.That(t, diff.RestartRequired, test.ShouldBeEmpty)
	})
}

func TestDiffRestartRequired(t *testing.T) {
	right := baseConfig()
	right.Hardware.LeftMotor.Pins.PWM = "m1p2"
	right.Drive.StallTimeoutMs = 900
	right.Navigation.ObstacleStopCM = 25
	right.Teleop.InnerWheelRatio = 0.4
	right.Server.BindAddress = ":9023"
	right.GPS.Attributes = AttributeMap{"serial_path": "/dev/ttyAMA0"}
	right.DataDir = "/data/rover"
	right.Debug = true

	diff := DiffConfigs(baseConfig(), right)
	test.That(t, diff.AnyTunable(), test.ShouldBeFalse)
	test.That(t, diff.Empty(), test.ShouldBeFalse)
	test.That(t, diff.RestartRequired, test.ShouldResemble, []string{
		"hardware",
		"drive",
		"navigation.obstacle_stop_cm",
		"teleop.inner_wheel_ratio",
		"server",
		"gps",
		"data_dir",
		"debug",
	})
}

func TestDiffMixed(t *testing.T) {
	right := baseConfig()
	right.Drive.PID.Ki = 0.8
	right.Server.TelemetryIntervalMs = 250

	diff := DiffConfigs(baseConfig(), right)
	test.That(t, diff.WheelPID, test.ShouldBeTrue)
	test.That(t, diff.RestartRequired, test.ShouldResemble, []string{"server"})
}
