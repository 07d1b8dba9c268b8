package servo

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tars-em/motioncore/utils"
)

const (
	// MaxDuty is the largest 12-bit PWM counter value.
	MaxDuty = 4095

	// DefaultMinDuty is the counter value for angle -1 on every stock joint.
	DefaultMinDuty = 150
	// DefaultMaxDuty is the counter value for angle +1 on every stock joint.
	DefaultMaxDuty = 600
	// DefaultNeutralDuty is the counter value for angle 0 on every stock joint.
	DefaultNeutralDuty = 375
)

// JointRange is the calibrated duty range of one joint. It cannot be changed
// after construction.
type JointRange struct {
	joint   JointID
	min     uint16
	max     uint16
	neutral uint16
}

// NewJointRange validates and builds a range: min < max, min <= neutral <= max
// and max within the 12-bit counter.
func NewJointRange(joint JointID, minDuty, maxDuty, neutralDuty uint16) (JointRange, error) {
	if !joint.Valid() {
		return JointRange{}, errors.Wrapf(ErrInvalidServo, "joint %d", joint)
	}
	if maxDuty > MaxDuty {
		return JointRange{}, errors.Errorf("%s: max duty %d exceeds %d", joint, maxDuty, MaxDuty)
	}
	if minDuty >= maxDuty {
		return JointRange{}, errors.Errorf("%s: min duty %d must be below max duty %d", joint, minDuty, maxDuty)
	}
	if neutralDuty < minDuty || neutralDuty > maxDuty {
		return JointRange{}, errors.Errorf("%s: neutral duty %d outside [%d, %d]", joint, neutralDuty, minDuty, maxDuty)
	}
	return JointRange{joint: joint, min: minDuty, max: maxDuty, neutral: neutralDuty}, nil
}

// Joint returns the joint the range belongs to.
func (r JointRange) Joint() JointID { return r.joint }

// Channel returns the PWM channel of the joint.
func (r JointRange) Channel() uint8 { return r.joint.Channel() }

// Name returns the display name of the joint.
func (r JointRange) Name() string { return r.joint.String() }

// MinDuty is the counter value at angle -1.
func (r JointRange) MinDuty() uint16 { return r.min }

// MaxDuty is the counter value at angle +1.
func (r JointRange) MaxDuty() uint16 { return r.max }

// NeutralDuty is the counter value at angle 0.
func (r JointRange) NeutralDuty() uint16 { return r.neutral }

// AngleToDuty maps a normalized angle to a counter value. The angle is
// clamped to [-1, 1]; -1, 0 and 1 land exactly on min, neutral and max and
// each half of the range is linear.
func (r JointRange) AngleToDuty(angle float64) uint16 {
	a := utils.Clamp(angle, -1, 1)
	var duty float64
	if a <= 0 {
		duty = float64(r.min) + (a+1)*float64(r.neutral-r.min)
	} else {
		duty = float64(r.neutral) + a*float64(r.max-r.neutral)
	}
	return uint16(math.Round(duty))
}

// DutyToAngle is the inverse of AngleToDuty up to counter rounding. Values
// outside the range clamp to -1 or 1.
func (r JointRange) DutyToAngle(duty uint16) float64 {
	d := float64(duty)
	switch {
	case duty <= r.min:
		return -1
	case duty >= r.max:
		return 1
	case duty <= r.neutral:
		return (d-float64(r.min))/float64(r.neutral-r.min) - 1
	default:
		return (d - float64(r.neutral)) / float64(r.max-r.neutral)
	}
}

// Registry is the fixed table of joint ranges. It is built once and is safe
// for concurrent reads.
type Registry struct {
	ranges [NumJoints]JointRange
}

// DefaultRanges returns the stock calibration for every joint.
func DefaultRanges() []JointRange {
	ranges := make([]JointRange, 0, NumJoints)
	for _, j := range AllJoints() {
		ranges = append(ranges, JointRange{joint: j, min: DefaultMinDuty, max: DefaultMaxDuty, neutral: DefaultNeutralDuty})
	}
	return ranges
}

// NewRegistry builds a registry from exactly one range per joint.
func NewRegistry(ranges []JointRange) (*Registry, error) {
	var reg Registry
	var seen [NumJoints]bool
	for _, r := range ranges {
		if !r.joint.Valid() {
			return nil, errors.Wrapf(ErrInvalidServo, "joint %d", r.joint)
		}
		if seen[r.joint] {
			return nil, errors.Errorf("duplicate range for %s", r.joint)
		}
		seen[r.joint] = true
		reg.ranges[r.joint] = r
	}
	for j, ok := range seen {
		if !ok {
			return nil, errors.Errorf("missing range for %s", JointID(j))
		}
	}
	return &reg, nil
}

// DefaultRegistry returns a registry with the stock calibration.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultRanges())
	if err != nil {
		panic(err)
	}
	return reg
}

// Get returns the range of a joint. Every declared joint has one.
func (reg *Registry) Get(joint JointID) (JointRange, error) {
	if !joint.Valid() {
		return JointRange{}, errors.Wrapf(ErrInvalidServo, "joint %d", joint)
	}
	return reg.ranges[joint], nil
}

// Ranges returns all ranges in joint order.
func (reg *Registry) Ranges() []JointRange {
	out := make([]JointRange, NumJoints)
	copy(out, reg.ranges[:])
	return out
}
