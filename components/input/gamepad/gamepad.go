// Package gamepad reads a Linux evdev gamepad and reports it as an input.Controller.
package gamepad

import (
	"time"

	"github.com/tars-em/motioncore/components/input"
)

// Config selects the device.
type Config struct {
	// DevicePath is an /dev/input/event* path. Empty picks the first device
	// that looks like a gamepad.
	DevicePath string
	// ReconnectInterval is the wait between attempts to (re)open the device.
	ReconnectInterval time.Duration
}

const defaultReconnectInterval = time.Second

// Linux input event types and codes, from linux/input-event-codes.h.
const (
	evKey uint16 = 0x01
	evAbs uint16 = 0x03

	absX     uint16 = 0x00
	absY     uint16 = 0x01
	absZ     uint16 = 0x02
	absRX    uint16 = 0x03
	absRY    uint16 = 0x04
	absRZ    uint16 = 0x05
	absHat0X uint16 = 0x10
	absHat0Y uint16 = 0x11

	btnSouth  uint16 = 0x130
	btnEast   uint16 = 0x131
	btnNorth  uint16 = 0x133
	btnWest   uint16 = 0x134
	btnTL     uint16 = 0x136
	btnTR     uint16 = 0x137
	btnSelect uint16 = 0x13a
	btnStart  uint16 = 0x13b
	btnMode   uint16 = 0x13c
	btnThumbL uint16 = 0x13d
	btnThumbR uint16 = 0x13e

	keyRelease int32 = 0
	keyPress   int32 = 1
)

var buttonMap = map[uint16]input.Control{
	btnSouth:  input.ButtonSouth,
	btnEast:   input.ButtonEast,
	btnNorth:  input.ButtonNorth,
	btnWest:   input.ButtonWest,
	btnTL:     input.ButtonLT,
	btnTR:     input.ButtonRT,
	btnSelect: input.ButtonSelect,
	btnStart:  input.ButtonStart,
	btnMode:   input.ButtonMenu,
	btnThumbL: input.ButtonLThumb,
	btnThumbR: input.ButtonRThumb,
}

var axisMap = map[uint16]input.Control{
	absX:     input.AbsoluteX,
	absY:     input.AbsoluteY,
	absZ:     input.AbsoluteZ,
	absRX:    input.AbsoluteRX,
	absRY:    input.AbsoluteRY,
	absRZ:    input.AbsoluteRZ,
	absHat0X: input.AbsoluteHat0X,
	absHat0Y: input.AbsoluteHat0Y,
}

// evdev reports down as positive on the stick Y axes.
var invertedAxes = map[input.Control]bool{
	input.AbsoluteY:  true,
	input.AbsoluteRY: true,
}

type axisRange struct {
	min, max int32
}

// rawEvent is the part of a kernel input event the translation needs.
type rawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// scaleAxis maps [min, max] onto [-1, 1].
func scaleAxis(value int32, r axisRange) float64 {
	if r.max <= r.min {
		return float64(value)
	}
	scaled := 2*float64(value-r.min)/float64(r.max-r.min) - 1
	if scaled < -1 {
		return -1
	}
	if scaled > 1 {
		return 1
	}
	return scaled
}

// translate turns a raw kernel event into an input event. Key repeats, sync
// reports and unmapped codes are dropped.
func translate(ev rawEvent, axes map[uint16]axisRange, now time.Time) (input.Event, bool) {
	switch ev.Type {
	case evKey:
		control, ok := buttonMap[ev.Code]
		if !ok {
			return input.Event{}, false
		}
		switch ev.Value {
		case keyPress:
			return input.Event{Time: now, Event: input.ButtonPress, Control: control, Value: 1}, true
		case keyRelease:
			return input.Event{Time: now, Event: input.ButtonRelease, Control: control, Value: 0}, true
		}
	case evAbs:
		control, ok := axisMap[ev.Code]
		if !ok {
			return input.Event{}, false
		}
		r, ok := axes[ev.Code]
		if !ok {
			r = axisRange{min: -1, max: 1}
		}
		value := scaleAxis(ev.Value, r)
		if invertedAxes[control] {
			value = -value
		}
		return input.Event{Time: now, Event: input.PositionChangeAbs, Control: control, Value: value}, true
	}
	return input.Event{}, false
}
