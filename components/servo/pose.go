package servo

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownPose is returned when a pose name matches nothing in the library.
var ErrUnknownPose = errors.New("unknown pose")

// Pose names as reported to callers.
const (
	PoseNeutral         = "Neutral"
	PoseStepForwardPrep = "Step Forward Prep"
	PoseTurnRight       = "Turn Right"
	PoseTurnLeft        = "Turn Left"
)

// JointAngle is a target for one joint. Angle is normalized to [-1, 1].
type JointAngle struct {
	Joint JointID `json:"joint"`
	Angle float64 `json:"angle"`
}

// Pose is a named set of joint targets and the time to hold them.
type Pose struct {
	Name     string
	Angles   []JointAngle
	Duration time.Duration
}

func fullPose(name string, duration time.Duration, angles ...float64) Pose {
	p := Pose{Name: name, Duration: duration, Angles: make([]JointAngle, 0, len(angles))}
	for i, a := range angles {
		p.Angles = append(p.Angles, JointAngle{Joint: JointID(i), Angle: a})
	}
	return p
}

// NeutralPose has every joint centered.
func NeutralPose() Pose {
	return fullPose(PoseNeutral, 1000*time.Millisecond, 0, 0, 0, 0, 0, 0, 0, 0, 0)
}

// StepForwardPrepPose shifts weight ahead of the first step of a gait.
func StepForwardPrepPose() Pose {
	return fullPose(PoseStepForwardPrep, 800*time.Millisecond, -0.3, 0.2, 0.4, 0.3, -0.1, 0.2, 0.2, -0.2, 0.0)
}

// TurnRightPose twists the hips and head to the right.
func TurnRightPose() Pose {
	return fullPose(PoseTurnRight, 600*time.Millisecond, 0.4, 0.0, -0.2, -0.4, 0.0, -0.2, -0.3, 0.3, 0.3)
}

// TurnLeftPose mirrors TurnRightPose.
func TurnLeftPose() Pose {
	return fullPose(PoseTurnLeft, 600*time.Millisecond, -0.4, 0.0, -0.2, 0.4, 0.0, -0.2, 0.3, -0.3, -0.3)
}

// AllPoses returns the library in a fixed order.
func AllPoses() []Pose {
	return []Pose{NeutralPose(), StepForwardPrepPose(), TurnRightPose(), TurnLeftPose()}
}

var poseAliases = map[string]func() Pose{
	"neutral":           NeutralPose,
	"home":              NeutralPose,
	"step_forward":      StepForwardPrepPose,
	"step":              StepForwardPrepPose,
	"step_forward_prep": StepForwardPrepPose,
	"turn_right":        TurnRightPose,
	"right":             TurnRightPose,
	"turn_left":         TurnLeftPose,
	"left":              TurnLeftPose,
}

// NormalizePoseName lowercases and joins words with underscores, so
// "Turn Left" and "turn-left" both become "turn_left".
func NormalizePoseName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// LookupPose finds a pose by display name or alias, ignoring case.
func LookupPose(name string) (Pose, error) {
	if ctor, ok := poseAliases[NormalizePoseName(name)]; ok {
		return ctor(), nil
	}
	return Pose{}, errors.Wrapf(ErrUnknownPose, "%q", name)
}

// Validate checks that every joint is declared and every angle is normalized.
func (p Pose) Validate() error {
	for _, ja := range p.Angles {
		if !ja.Joint.Valid() {
			return errors.Wrapf(ErrInvalidServo, "pose %q: joint %d", p.Name, ja.Joint)
		}
		if ja.Angle < -1 || ja.Angle > 1 {
			return errors.Errorf("pose %q: %s angle %v outside [-1, 1]", p.Name, ja.Joint, ja.Angle)
		}
	}
	return nil
}
