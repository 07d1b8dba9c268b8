package pca9685

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidChannel is returned for a channel above 15.
	ErrInvalidChannel = errors.New("invalid pwm channel")
	// ErrInvalidDutyCycle is returned for an on or off count above 4095.
	ErrInvalidDutyCycle = errors.New("invalid pwm duty cycle")
	// ErrHardwareUnavailable is returned when the chip has not been initialized.
	ErrHardwareUnavailable = errors.New("pca9685 hardware unavailable")
)

// HardwareError is a failed bus transaction. It is never retried.
type HardwareError struct {
	Op       string
	Register byte
	// Channel is -1 for transactions on the mode and prescale registers.
	Channel int
	Err     error
}

func (e *HardwareError) Error() string {
	if e.Channel >= 0 {
		return fmt.Sprintf("pca9685 %s register %#04x (channel %d): %v", e.Op, e.Register, e.Channel, e.Err)
	}
	return fmt.Sprintf("pca9685 %s register %#04x: %v", e.Op, e.Register, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

func newHardwareError(op string, register byte, channel int, err error) error {
	return &HardwareError{Op: op, Register: register, Channel: channel, Err: err}
}
