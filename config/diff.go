package config

import (
	"reflect"

	"github.com/tern-robotics/rover/control"
)

// A Diff is the difference between two configs, left and right, where left is
// usually the running one and right the one just read. Changes split into
// tunables the running rover absorbs live and everything else, which needs a
// restart.
type Diff struct {
	Left, Right *Config

	// WheelPID is set when the drive PID gains changed.
	WheelPID bool
	// Steering is set when the heading PID, XTE gain, or base speed changed.
	Steering bool
	// DeadMan is set when the teleop dead-man timeout changed.
	DeadMan bool

	// RestartRequired names the JSON paths that changed but cannot be applied
	// to a running rover.
	RestartRequired []string
}

// DiffConfigs classifies the changes from left to right.
func DiffConfigs(left, right *Config) *Diff {
	diff := &Diff{Left: left, Right: right}

	if !reflect.DeepEqual(left.Hardware, right.Hardware) {
		diff.RestartRequired = append(diff.RestartRequired, "hardware")
	}

	if left.Drive.PID != right.Drive.PID {
		diff.WheelPID = true
	}
	ld, rd := left.Drive, right.Drive
	ld.PID, rd.PID = control.PIDConfig{}, control.PIDConfig{}
	if ld != rd {
		diff.RestartRequired = append(diff.RestartRequired, "drive")
	}

	if left.Navigation.HeadingPID != right.Navigation.HeadingPID ||
		left.Navigation.XTEGainDegPerM != right.Navigation.XTEGainDegPerM ||
		left.Navigation.BaseSpeedPWM != right.Navigation.BaseSpeedPWM {
		diff.Steering = true
	}
	if left.Navigation.ObstacleStopCM != right.Navigation.ObstacleStopCM {
		diff.RestartRequired = append(diff.RestartRequired, "navigation.obstacle_stop_cm")
	}

	if left.Teleop.DeadManTimeoutMs != right.Teleop.DeadManTimeoutMs {
		diff.DeadMan = true
	}
	if left.Teleop.InnerWheelRatio != right.Teleop.InnerWheelRatio {
		diff.RestartRequired = append(diff.RestartRequired, "teleop.inner_wheel_ratio")
	}

	if left.Server != right.Server {
		diff.RestartRequired = append(diff.RestartRequired, "server")
	}
	if !reflect.DeepEqual(left.GPS, right.GPS) {
		diff.RestartRequired = append(diff.RestartRequired, "gps")
	}
	if !reflect.DeepEqual(left.IMU, right.IMU) {
		diff.RestartRequired = append(diff.RestartRequired, "imu")
	}
	if !reflect.DeepEqual(left.Rangefinder, right.Rangefinder) {
		diff.RestartRequired = append(diff.RestartRequired, "rangefinder")
	}
	if left.DataDir != right.DataDir {
		diff.RestartRequired = append(diff.RestartRequired, "data_dir")
	}
	if left.LogFile != right.LogFile {
		diff.RestartRequired = append(diff.RestartRequired, "log_file")
	}
	if left.Debug != right.Debug {
		diff.RestartRequired = append(diff.RestartRequired, "debug")
	}

	return diff
}

// AnyTunable reports whether the diff carries at least one live-applicable
// change.
func (d *Diff) AnyTunable() bool {
	return d.WheelPID || d.Steering || d.DeadMan
}

// Empty reports whether the two configs are effectively identical.
func (d *Diff) Empty() bool {
	return !d.AnyTunable() && len(d.RestartRequired) == 0
}
