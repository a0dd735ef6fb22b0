// Package config defines the rover's on-disk configuration: one JSON file
// holding the hardware wiring, the loop tunings, and the sensor models. The
// reader runs environment substitution over the file, the watcher re-reads it
// on change, and every section validates itself with the JSON path of the
// offending field in the error.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/tern-robotics/rover/board/gpioboard"
	"github.com/tern-robotics/rover/drive"
	"github.com/tern-robotics/rover/encoder"
	"github.com/tern-robotics/rover/motor"
	"github.com/tern-robotics/rover/navigation"
	"github.com/tern-robotics/rover/server"
	"github.com/tern-robotics/rover/teleop"
)

// Board model names accepted in the hardware section.
const (
	BoardModelGPIO = "gpio"
	BoardModelFake = "fake"
)

// Sensor model names accepted in the gps, imu, and rangefinder sections.
const (
	GPSModelSerialNMEA = "serialnmea"
	SensorModelFake    = "fake"
)

// A Config describes one rover.
type Config struct {
	Hardware    HardwareConfig    `json:"hardware"`
	Drive       drive.Config      `json:"drive"`
	Navigation  navigation.Config `json:"navigation"`
	Teleop      teleop.Config     `json:"teleop"`
	Server      server.Config     `json:"server"`
	GPS         SensorConfig      `json:"gps"`
	IMU         SensorConfig      `json:"imu"`
	Rangefinder SensorConfig      `json:"rangefinder"`

	// DataDir is where calibration blobs persist. Empty disables the store.
	DataDir string `json:"data_dir,omitempty"`
	// LogFile adds a rotating file sink next to the console logger.
	LogFile string `json:"log_file,omitempty"`
	Debug   bool   `json:"debug,omitempty"`

	ConfigFilePath string `json:"-"`
}

// Ensure validates every section. The first failure wins; its message names
// the JSON path of the bad field.
func (c *Config) Ensure() error {
	if err := c.Hardware.Validate("hardware"); err != nil {
		return err
	}
	if err := c.Drive.Validate("drive"); err != nil {
		return err
	}
	if err := c.Navigation.Validate("navigation"); err != nil {
		return err
	}
	if err := c.Teleop.Validate("teleop"); err != nil {
		return err
	}
	if err := c.Server.Validate("server"); err != nil {
		return err
	}
	if err := c.GPS.Validate("gps"); err != nil {
		return err
	}
	if err := c.IMU.Validate("imu"); err != nil {
		return err
	}
	return c.Rangefinder.Validate("rangefinder")
}

// HardwareConfig wires the drive train to a board.
type HardwareConfig struct {
	// Model picks the board backend: "gpio" for the Linux GPIO character
	// device, "fake" for bench runs without hardware. Empty means "gpio".
	Model        string           `json:"model,omitempty"`
	Board        gpioboard.Config `json:"board"`
	LeftMotor    motor.Config     `json:"left_motor"`
	RightMotor   motor.Config     `json:"right_motor"`
	LeftEncoder  encoder.Config   `json:"left_encoder"`
	RightEncoder encoder.Config   `json:"right_encoder"`
}

// BoardModel returns the configured board model with the default applied.
func (cfg *HardwareConfig) BoardModel() string {
	if cfg.Model == "" {
		return BoardModelGPIO
	}
	return cfg.Model
}

// Validate ensures all parts of the hardware config are valid. Pin names are
// required for the fake board too; the in-memory board tells its pins apart
// by name.
func (cfg *HardwareConfig) Validate(path string) error {
	switch cfg.BoardModel() {
	case BoardModelGPIO, BoardModelFake:
	default:
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unknown board model %q", cfg.Model))
	}
	if err := cfg.Board.Validate(fmt.Sprintf("%s.%s", path, "board")); err != nil {
		return err
	}
	if err := cfg.LeftMotor.Validate(fmt.Sprintf("%s.%s", path, "left_motor")); err != nil {
		return err
	}
	if err := cfg.RightMotor.Validate(fmt.Sprintf("%s.%s", path, "right_motor")); err != nil {
		return err
	}
	if err := cfg.LeftEncoder.Validate(fmt.Sprintf("%s.%s", path, "left_encoder")); err != nil {
		return err
	}
	return cfg.RightEncoder.Validate(fmt.Sprintf("%s.%s", path, "right_encoder"))
}

// An AttributeMap carries a sensor model's free-form settings until the
// builder decodes them into the model's own config type.
type AttributeMap map[string]interface{}

// Has reports whether the key is present at all.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// SensorConfig selects a sensor implementation by model name. An absent model
// means the sensor is not fitted; the rover runs without it.
type SensorConfig struct {
	Model      string       `json:"model,omitempty"`
	Attributes AttributeMap `json:"attributes,omitempty"`
}

// Fitted reports whether the section configures a sensor at all.
func (cfg *SensorConfig) Fitted() bool {
	return cfg.Model != ""
}

// Validate ensures the section is coherent. Whether the model name is known
// is the builder's call; here only attributes-without-a-model is rejected.
func (cfg *SensorConfig) Validate(path string) error {
	if cfg.Model == "" && len(cfg.Attributes) > 0 {
		return goutils.NewConfigValidationError(path,
			errors.New("attributes given without a model"))
	}
	return nil
}

// DecodeAttributes decodes a free-form attribute map into a model's typed
// config. Matching runs on json tags, so the attribute keys are the same ones
// the typed config would use inline.
func DecodeAttributes(attrs AttributeMap, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: out})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return errors.Wrap(err, "decoding attributes")
	}
	return nil
}
