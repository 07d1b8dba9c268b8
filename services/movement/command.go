package movement

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tars-em/motioncore/components/servo"
)

// CommandType enumerates the high level motions.
type CommandType int

// The command types.
const (
	StepForward CommandType = iota
	TurnLeft
	TurnRight
	Pose
	Neutral
	EmergencyStop
)

var commandTypeNames = map[CommandType]string{
	StepForward:   "StepForward",
	TurnLeft:      "TurnLeft",
	TurnRight:     "TurnRight",
	Pose:          "Pose",
	Neutral:       "Neutral",
	EmergencyStop: "EmergencyStop",
}

func (t CommandType) String() string {
	if name, ok := commandTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Command is one request to the controller. PoseName is only read for Pose.
type Command struct {
	Type     CommandType `json:"type"`
	PoseName string      `json:"pose,omitempty"`
}

// Convenience values for the commands without arguments.
var (
	StepForwardCommand   = Command{Type: StepForward}
	TurnLeftCommand      = Command{Type: TurnLeft}
	TurnRightCommand     = Command{Type: TurnRight}
	NeutralCommand       = Command{Type: Neutral}
	EmergencyStopCommand = Command{Type: EmergencyStop}
)

// PoseCommand requests a named pose.
func PoseCommand(name string) Command {
	return Command{Type: Pose, PoseName: name}
}

func (c Command) String() string {
	if c.Type == Pose {
		return "Pose(" + c.PoseName + ")"
	}
	return c.Type.String()
}

// IsCritical reports whether the command is a recovery command. Critical
// commands skip input spacing and are allowed while the emergency latch is set.
func (c Command) IsCritical() bool {
	return c.Type == EmergencyStop || c.Type == Neutral
}

// IsMotion reports whether the command is new motion and so subject to the
// rate limiter.
func (c Command) IsMotion() bool {
	return !c.IsCritical()
}

// ParseCommand maps a command name from an outer caller to a Command. Names
// that are not one of the fixed commands are treated as pose names.
func ParseCommand(s string) (Command, error) {
	name := servo.NormalizePoseName(s)
	switch name {
	case "":
		return Command{}, errors.New("empty command")
	case "step_forward", "forward":
		return StepForwardCommand, nil
	case "turn_left", "left":
		return TurnLeftCommand, nil
	case "turn_right", "right":
		return TurnRightCommand, nil
	case "neutral", "home":
		return NeutralCommand, nil
	case "emergency_stop", "stop", "estop":
		return EmergencyStopCommand, nil
	}
	if pose, ok := strings.CutPrefix(name, "pose_"); ok && pose != "" {
		return PoseCommand(pose), nil
	}
	return PoseCommand(strings.TrimSpace(s)), nil
}
