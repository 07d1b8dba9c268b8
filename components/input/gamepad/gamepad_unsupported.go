//go:build !linux

package gamepad

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tars-em/motioncore/components/input"
	"github.com/tars-em/motioncore/logging"
)

// Controller is only available on Linux.
type Controller struct {
	input.Controller
}

// New always fails outside Linux.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Controller, error) {
	return nil, errors.New("evdev gamepads are only supported on linux")
}

// Device is an input device found while scanning for gamepads.
type Device struct {
	Path    string
	Name    string
	Gamepad bool
}

// Devices always fails outside Linux.
func Devices() ([]Device, error) {
	return nil, errors.New("evdev gamepads are only supported on linux")
}
