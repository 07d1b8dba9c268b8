// Package input provides human input devices, such as gamepads, as a stream of
// typed events.
package input

import (
	"context"
	"time"
)

// Controller is one input device.
type Controller interface {
	// Name identifies the device in logs.
	Name() string

	// Events returns the events received since the previous call, oldest first.
	// It never blocks waiting for input.
	Events(ctx context.Context) ([]Event, error)

	// Close releases the device.
	Close(ctx context.Context) error
}

// EventType represents the type of input event.
type EventType string

// EventType list, to be expanded as new input devices are developed.
const (
	// Sent when the device is opened, and on reconnects.
	Connect EventType = "Connect"
	// If unplugged, or wireless times out.
	Disconnect EventType = "Disconnect"
	// Typical key press.
	ButtonPress EventType = "ButtonPress"
	// Key release.
	ButtonRelease EventType = "ButtonRelease"
	// Absolute position is reported via Value, a la joysticks.
	PositionChangeAbs EventType = "PositionChangeAbs"
)

// Control identifies the input (specific Axis or Button) of a controller.
type Control string

// Controls, to be expanded as new input devices are developed.
const (
	// Axes. Sticks report +1 for right and up. Hats report the raw
	// direction: -1 is left or up.
	AbsoluteX     Control = "AbsoluteX"
	AbsoluteY     Control = "AbsoluteY"
	AbsoluteZ     Control = "AbsoluteZ"
	AbsoluteRX    Control = "AbsoluteRX"
	AbsoluteRY    Control = "AbsoluteRY"
	AbsoluteRZ    Control = "AbsoluteRZ"
	AbsoluteHat0X Control = "AbsoluteHat0X"
	AbsoluteHat0Y Control = "AbsoluteHat0Y"

	// Buttons.
	ButtonSouth  Control = "ButtonSouth"
	ButtonEast   Control = "ButtonEast"
	ButtonWest   Control = "ButtonWest"
	ButtonNorth  Control = "ButtonNorth"
	ButtonLT     Control = "ButtonLT"
	ButtonRT     Control = "ButtonRT"
	ButtonLThumb Control = "ButtonLThumb"
	ButtonRThumb Control = "ButtonRThumb"
	ButtonSelect Control = "ButtonSelect"
	ButtonStart  Control = "ButtonStart"
	ButtonMenu   Control = "ButtonMenu"
)

// Event is a single change on a controller.
type Event struct {
	Time    time.Time
	Event   EventType
	Control Control // Key or Axis
	Value   float64 // 0 or 1 for buttons, -1.0 to +1.0 for axes
}

// Triggerable is used to inject events, such as from tests or a virtual gamepad.
type Triggerable interface {
	// TriggerEvent allows directly sending an Event (such as a button press) from external code
	TriggerEvent(ctx context.Context, event Event) error
}
