// Package config defines the file that configures the motion daemon.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/tars-em/motioncore/components/pca9685"
	"github.com/tars-em/motioncore/components/servo"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/services/gamepadcontrol"
	"github.com/tars-em/motioncore/services/movement"
	"github.com/tars-em/motioncore/services/safety"
)

// Config is the whole daemon configuration. Omitted fields take their
// defaults in Ensure.
type Config struct {
	ConfigFilePath string `json:"-"`

	I2C      I2C        `json:"i2c"`
	PWM      PWM        `json:"pwm"`
	Joints   []Joint    `json:"joints"`
	Safety   Safety     `json:"safety"`
	Movement Movement   `json:"movement"`
	Gamepad  Gamepad    `json:"gamepad"`
	Log      LogSection `json:"log"`
}

// I2C selects the bus and device address of the PWM controller.
type I2C struct {
	// Bus is the number of the /dev/i2c-N bus.
	Bus     *int `json:"bus"`
	Address int  `json:"address"`
	Mock    bool `json:"mock"`
}

// Validate ensures all parts of the config are valid.
func (config *I2C) Validate(path string) error {
	if config.Bus == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "bus")
	}
	if *config.Bus < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("bus %d must not be negative", *config.Bus))
	}
	if config.Address < 0x03 || config.Address > 0x77 {
		return utils.NewConfigValidationError(path, errors.Errorf("address %#x outside 7-bit device range", config.Address))
	}
	return nil
}

// PWM configures the output frequency.
type PWM struct {
	FrequencyHz float64 `json:"frequency_hz"`
}

// The PCA9685 prescaler limits the output frequency to this range.
const (
	minFrequencyHz = 24
	maxFrequencyHz = 1526
)

// Validate ensures all parts of the config are valid.
func (config *PWM) Validate(path string) error {
	if config.FrequencyHz < minFrequencyHz || config.FrequencyHz > maxFrequencyHz {
		return utils.NewConfigValidationError(path,
			errors.Errorf("frequency_hz %v outside [%d, %d]", config.FrequencyHz, minFrequencyHz, maxFrequencyHz))
	}
	return nil
}

// Joint overrides the duty range of one servo.
type Joint struct {
	// Joint is the display name or channel number.
	Joint   string `json:"joint"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Neutral int    `json:"neutral"`
}

// JointRange resolves the override.
func (config *Joint) JointRange() (servo.JointRange, error) {
	joint, err := servo.JointFromName(config.Joint)
	if err != nil {
		return servo.JointRange{}, err
	}
	for _, v := range []int{config.Min, config.Max, config.Neutral} {
		if v < 0 || v > servo.MaxDuty {
			return servo.JointRange{}, errors.Errorf("duty %d outside [0, %d]", v, servo.MaxDuty)
		}
	}
	return servo.NewJointRange(joint, uint16(config.Min), uint16(config.Max), uint16(config.Neutral))
}

// Validate ensures all parts of the config are valid.
func (config *Joint) Validate(path string) error {
	if config.Joint == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "joint")
	}
	if _, err := config.JointRange(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Safety configures the safety gate.
type Safety struct {
	RateLimitMs         int      `json:"rate_limit_ms"`
	ConnectionTimeoutMs int      `json:"connection_timeout_ms"`
	MinAngle            *float64 `json:"min_angle"`
	MaxAngle            *float64 `json:"max_angle"`
}

// Validate ensures all parts of the config are valid.
func (config *Safety) Validate(path string) error {
	if config.RateLimitMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("rate_limit_ms must not be negative"))
	}
	if config.ConnectionTimeoutMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("connection_timeout_ms must not be negative"))
	}
	minAngle, maxAngle := config.bounds()
	if minAngle < -1 || maxAngle > 1 || minAngle >= maxAngle {
		return utils.NewConfigValidationError(path,
			errors.Errorf("angle bounds [%v, %v] must be increasing and within [-1, 1]", minAngle, maxAngle))
	}
	return nil
}

func (config *Safety) bounds() (float64, float64) {
	minAngle, maxAngle := safety.DefaultMinAngle, safety.DefaultMaxAngle
	if config.MinAngle != nil {
		minAngle = *config.MinAngle
	}
	if config.MaxAngle != nil {
		maxAngle = *config.MaxAngle
	}
	return minAngle, maxAngle
}

// Movement configures the movement controller.
type Movement struct {
	Speed   float64 `json:"speed"`
	Enabled *bool   `json:"enabled"`
}

// Validate ensures all parts of the config are valid.
func (config *Movement) Validate(path string) error {
	if config.Speed < movement.MinSpeed || config.Speed > movement.MaxSpeed {
		return utils.NewConfigValidationError(path,
			errors.Errorf("speed %v outside [%v, %v]", config.Speed, movement.MinSpeed, movement.MaxSpeed))
	}
	return nil
}

// Gamepad configures the gamepad pipeline.
type Gamepad struct {
	Enabled               bool     `json:"enabled"`
	Device                string   `json:"device"`
	Deadzone              *float64 `json:"deadzone"`
	MovementRepeatDelayMs int      `json:"movement_repeat_delay_ms"`
	EnableAnalogMovement  bool     `json:"enable_analog_movement"`
	SafetyTimeoutMs       int      `json:"safety_timeout_ms"`
}

// Validate ensures all parts of the config are valid.
func (config *Gamepad) Validate(path string) error {
	if config.Deadzone != nil && (*config.Deadzone < 0 || *config.Deadzone >= 1) {
		return utils.NewConfigValidationError(path, errors.Errorf("deadzone %v outside [0, 1)", *config.Deadzone))
	}
	if config.MovementRepeatDelayMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("movement_repeat_delay_ms must not be negative"))
	}
	if config.SafetyTimeoutMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("safety_timeout_ms must not be negative"))
	}
	return nil
}

// LogSection configures logging.
type LogSection struct {
	Level string `json:"level"`
	// File, when set, also writes logs to a rotating file.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// Validate ensures all parts of the config are valid.
func (config *LogSection) Validate(path string) error {
	if _, err := logging.LevelFromString(config.Level); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if config.MaxSizeMB < 0 || config.MaxBackups < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_size_mb and max_backups must not be negative"))
	}
	return nil
}

// Defaults for fields that are omitted.
const (
	DefaultBus        = 1
	DefaultLogLevel   = "info"
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
)

// Ensure fills defaults and validates every section.
func (config *Config) Ensure() error {
	if config.I2C.Bus == nil {
		bus := DefaultBus
		config.I2C.Bus = &bus
	}
	if config.I2C.Address == 0 {
		config.I2C.Address = int(pca9685.DefaultAddress)
	}
	if config.PWM.FrequencyHz == 0 {
		config.PWM.FrequencyHz = pca9685.DefaultFrequencyHz
	}
	if config.Safety.RateLimitMs == 0 {
		config.Safety.RateLimitMs = int(safety.DefaultRateLimit / time.Millisecond)
	}
	if config.Safety.ConnectionTimeoutMs == 0 {
		config.Safety.ConnectionTimeoutMs = int(safety.DefaultConnectionTimeout / time.Millisecond)
	}
	if config.Movement.Speed == 0 {
		config.Movement.Speed = movement.DefaultSpeed
	}
	if config.Movement.Enabled == nil {
		enabled := true
		config.Movement.Enabled = &enabled
	}
	gamepadDefaults := gamepadcontrol.DefaultConfig()
	if config.Gamepad.Deadzone == nil {
		deadzone := gamepadDefaults.Deadzone
		config.Gamepad.Deadzone = &deadzone
	}
	if config.Gamepad.MovementRepeatDelayMs == 0 {
		config.Gamepad.MovementRepeatDelayMs = int(gamepadDefaults.MovementRepeatDelay / time.Millisecond)
	}
	if config.Gamepad.SafetyTimeoutMs == 0 {
		config.Gamepad.SafetyTimeoutMs = int(gamepadDefaults.SafetyTimeout / time.Millisecond)
	}
	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Log.MaxSizeMB == 0 {
		config.Log.MaxSizeMB = DefaultMaxSizeMB
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = DefaultMaxBackups
	}

	if err := config.I2C.Validate("i2c"); err != nil {
		return err
	}
	if err := config.PWM.Validate("pwm"); err != nil {
		return err
	}
	for idx := range config.Joints {
		if err := config.Joints[idx].Validate(fmt.Sprintf("%s.%d", "joints", idx)); err != nil {
			return err
		}
	}
	if _, err := config.Registry(); err != nil {
		return utils.NewConfigValidationError("joints", err)
	}
	if err := config.Safety.Validate("safety"); err != nil {
		return err
	}
	if err := config.Movement.Validate("movement"); err != nil {
		return err
	}
	if err := config.Gamepad.Validate("gamepad"); err != nil {
		return err
	}
	return config.Log.Validate("log")
}

// Registry builds the servo table: the default ranges with the configured
// overrides applied.
func (config *Config) Registry() (*servo.Registry, error) {
	ranges := servo.DefaultRanges()
	seen := map[servo.JointID]bool{}
	for _, j := range config.Joints {
		r, err := j.JointRange()
		if err != nil {
			return nil, err
		}
		if seen[r.Joint()] {
			return nil, errors.Errorf("joint %s configured twice", r.Joint())
		}
		seen[r.Joint()] = true
		ranges[r.Joint()] = r
	}
	return servo.NewRegistry(ranges)
}

// SafetyConfig converts the safety section for safety.NewGate.
func (config *Config) SafetyConfig() safety.Config {
	minAngle, maxAngle := config.Safety.bounds()
	return safety.Config{
		RateLimit:         time.Duration(config.Safety.RateLimitMs) * time.Millisecond,
		ConnectionTimeout: time.Duration(config.Safety.ConnectionTimeoutMs) * time.Millisecond,
		MinAngle:          minAngle,
		MaxAngle:          maxAngle,
	}
}

// MovementConfig converts the movement section for movement.New.
func (config *Config) MovementConfig() movement.Config {
	enabled := true
	if config.Movement.Enabled != nil {
		enabled = *config.Movement.Enabled
	}
	return movement.Config{Speed: config.Movement.Speed, Enabled: enabled}
}

// GamepadConfig converts the gamepad section for gamepadcontrol.New.
func (config *Config) GamepadConfig() gamepadcontrol.Config {
	cfg := gamepadcontrol.DefaultConfig()
	if config.Gamepad.Deadzone != nil {
		cfg.Deadzone = *config.Gamepad.Deadzone
	}
	cfg.MovementRepeatDelay = time.Duration(config.Gamepad.MovementRepeatDelayMs) * time.Millisecond
	cfg.EnableAnalogMovement = config.Gamepad.EnableAnalogMovement
	cfg.SafetyTimeout = time.Duration(config.Gamepad.SafetyTimeoutMs) * time.Millisecond
	return cfg
}

// LogLevel returns the parsed log level. Ensure has already validated it.
func (config *Config) LogLevel() logging.Level {
	level, err := logging.LevelFromString(config.Log.Level)
	if err != nil {
		return logging.INFO
	}
	return level
}
