// Package servo describes the robot's joints, their PWM duty ranges and the
// named poses built from them.
package servo

import (
	"strconv"

	"github.com/pkg/errors"
)

// JointID identifies one of the robot's servos. The numeric value is also the
// PWM channel the servo is wired to.
type JointID uint8

// The joints in declaration order.
const (
	RightHipForwardBack JointID = iota
	RightHipUpDown
	RightKnee
	LeftHipForwardBack
	LeftHipUpDown
	LeftKnee
	RightShoulderForwardBack
	LeftShoulderForwardBack
	Head
	numJoints
)

// NumJoints is the number of servos on the robot.
const NumJoints = int(numJoints)

// Adding a joint without extending jointNames and the default table fails to
// compile here.
func _() {
	var x [1]struct{}
	_ = x[Head-8]
	_ = x[numJoints-9]
	_ = x[len(jointNames)-NumJoints]
}

var jointNames = [...]string{
	"Right Hip Forward/Back",
	"Right Hip Up/Down",
	"Right Knee",
	"Left Hip Forward/Back",
	"Left Hip Up/Down",
	"Left Knee",
	"Right Shoulder Forward/Back",
	"Left Shoulder Forward/Back",
	"Head",
}

// ErrInvalidServo is returned for a channel or joint outside the known set.
var ErrInvalidServo = errors.New("invalid servo")

func (j JointID) String() string {
	if j >= numJoints {
		return "JointID(" + strconv.Itoa(int(j)) + ")"
	}
	return jointNames[j]
}

// Channel returns the PWM channel the joint is wired to.
func (j JointID) Channel() uint8 {
	return uint8(j)
}

// Valid reports whether j is one of the declared joints.
func (j JointID) Valid() bool {
	return j < numJoints
}

// AllJoints returns every joint in declaration order.
func AllJoints() []JointID {
	joints := make([]JointID, 0, NumJoints)
	for j := JointID(0); j < numJoints; j++ {
		joints = append(joints, j)
	}
	return joints
}

// JointFromChannel maps a PWM channel back to its joint.
func JointFromChannel(channel uint8) (JointID, error) {
	j := JointID(channel)
	if !j.Valid() {
		return 0, errors.Wrapf(ErrInvalidServo, "no servo on channel %d", channel)
	}
	return j, nil
}

// JointFromName accepts either the display name or the numeric channel.
func JointFromName(name string) (JointID, error) {
	for j, n := range jointNames {
		if n == name {
			return JointID(j), nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 && n < NumJoints {
		return JointID(n), nil
	}
	return 0, errors.Wrapf(ErrInvalidServo, "unknown joint %q", name)
}
