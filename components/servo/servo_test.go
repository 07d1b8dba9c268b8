package servo

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestJoints(t *testing.T) {
	joints := AllJoints()
	test.That(t, joints, test.ShouldHaveLength, 9)
	for i, j := range joints {
		test.That(t, int(j.Channel()), test.ShouldEqual, i)
		back, err := JointFromChannel(j.Channel())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back, test.ShouldEqual, j)
	}
	test.That(t, RightHipForwardBack.String(), test.ShouldEqual, "Right Hip Forward/Back")
	test.That(t, Head.String(), test.ShouldEqual, "Head")
	test.That(t, JointID(12).String(), test.ShouldEqual, "JointID(12)")

	_, err := JointFromChannel(9)
	test.That(t, errors.Is(err, ErrInvalidServo), test.ShouldBeTrue)

	j, err := JointFromName("Left Knee")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, j, test.ShouldEqual, LeftKnee)
	j, err = JointFromName("7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, j, test.ShouldEqual, LeftShoulderForwardBack)
	_, err = JointFromName("Tail")
	test.That(t, errors.Is(err, ErrInvalidServo), test.ShouldBeTrue)
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	for _, j := range AllJoints() {
		r, err := reg.Get(j)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r.Joint(), test.ShouldEqual, j)
		test.That(t, r.Name(), test.ShouldEqual, j.String())
		test.That(t, r.MinDuty(), test.ShouldEqual, 150)
		test.That(t, r.MaxDuty(), test.ShouldEqual, 600)
		test.That(t, r.NeutralDuty(), test.ShouldEqual, 375)

		test.That(t, r.AngleToDuty(-1), test.ShouldEqual, 150)
		test.That(t, r.AngleToDuty(0), test.ShouldEqual, 375)
		test.That(t, r.AngleToDuty(1), test.ShouldEqual, 600)
		test.That(t, r.AngleToDuty(-7), test.ShouldEqual, 150)
		test.That(t, r.AngleToDuty(7), test.ShouldEqual, 600)
	}
	_, err := reg.Get(JointID(9))
	test.That(t, errors.Is(err, ErrInvalidServo), test.ShouldBeTrue)
	test.That(t, reg.Ranges(), test.ShouldHaveLength, 9)
}

func TestAngleRoundTrip(t *testing.T) {
	r, err := DefaultRegistry().Get(RightKnee)
	test.That(t, err, test.ShouldBeNil)
	// one counter step is 2/450 of the normalized range
	tolerance := 1.0 / float64(r.MaxDuty()-r.MinDuty())
	for a := -1.0; a <= 1.0; a += 0.05 {
		back := r.DutyToAngle(r.AngleToDuty(a))
		test.That(t, math.Abs(back-a), test.ShouldBeLessThanOrEqualTo, tolerance+1e-9)
	}
	test.That(t, r.DutyToAngle(0), test.ShouldEqual, -1)
	test.That(t, r.DutyToAngle(4095), test.ShouldEqual, 1)
	test.That(t, r.DutyToAngle(375), test.ShouldEqual, 0)
}

func TestAsymmetricRange(t *testing.T) {
	r, err := NewJointRange(Head, 100, 500, 200)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.AngleToDuty(-1), test.ShouldEqual, 100)
	test.That(t, r.AngleToDuty(-0.5), test.ShouldEqual, 150)
	test.That(t, r.AngleToDuty(0), test.ShouldEqual, 200)
	test.That(t, r.AngleToDuty(0.5), test.ShouldEqual, 350)
	test.That(t, r.AngleToDuty(1), test.ShouldEqual, 500)
	test.That(t, r.DutyToAngle(350), test.ShouldAlmostEqual, 0.5)
	test.That(t, r.DutyToAngle(150), test.ShouldAlmostEqual, -0.5)
}

func TestNewJointRangeValidation(t *testing.T) {
	_, err := NewJointRange(Head, 600, 150, 375)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewJointRange(Head, 150, 600, 700)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewJointRange(Head, 150, 5000, 375)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewJointRange(JointID(20), 150, 600, 375)
	test.That(t, errors.Is(err, ErrInvalidServo), test.ShouldBeTrue)
	_, err = NewJointRange(Head, 0, 4095, 0)
	test.That(t, err, test.ShouldBeNil)
}

func TestNewRegistryValidation(t *testing.T) {
	ranges := DefaultRanges()
	_, err := NewRegistry(ranges[:8])
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing range for Head")

	_, err = NewRegistry(append(ranges, ranges[0]))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "duplicate")

	custom, err := NewJointRange(RightKnee, 200, 500, 350)
	test.That(t, err, test.ShouldBeNil)
	ranges[RightKnee] = custom
	reg, err := NewRegistry(ranges)
	test.That(t, err, test.ShouldBeNil)
	r, err := reg.Get(RightKnee)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.NeutralDuty(), test.ShouldEqual, 350)
}

func TestPoseLibrary(t *testing.T) {
	poses := AllPoses()
	test.That(t, poses, test.ShouldHaveLength, 4)
	names := []string{poses[0].Name, poses[1].Name, poses[2].Name, poses[3].Name}
	test.That(t, names, test.ShouldResemble, []string{"Neutral", "Step Forward Prep", "Turn Right", "Turn Left"})

	for _, p := range poses {
		test.That(t, p.Validate(), test.ShouldBeNil)
		test.That(t, p.Angles, test.ShouldHaveLength, NumJoints)
	}
	test.That(t, NeutralPose().Duration, test.ShouldEqual, time.Second)
	test.That(t, StepForwardPrepPose().Duration, test.ShouldEqual, 800*time.Millisecond)
	test.That(t, TurnLeftPose().Duration, test.ShouldEqual, 600*time.Millisecond)
	test.That(t, StepForwardPrepPose().Angles[RightKnee].Angle, test.ShouldEqual, 0.4)
	test.That(t, TurnLeftPose().Angles[Head].Angle, test.ShouldEqual, -0.3)

	// poses are handed out as copies
	p := NeutralPose()
	p.Angles[0].Angle = 1
	test.That(t, NeutralPose().Angles[0].Angle, test.ShouldEqual, 0)

	bad := Pose{Name: "bad", Angles: []JointAngle{{Joint: Head, Angle: 1.5}}}
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

func TestLookupPose(t *testing.T) {
	for name, want := range map[string]string{
		"neutral":      PoseNeutral,
		"HOME":         PoseNeutral,
		"Neutral":      PoseNeutral,
		"step":         PoseStepForwardPrep,
		"step_forward": PoseStepForwardPrep,
		"Turn Left":    PoseTurnLeft,
		"left":         PoseTurnLeft,
		"turn-right":   PoseTurnRight,
		"right":        PoseTurnRight,
	} {
		p, err := LookupPose(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Name, test.ShouldEqual, want)
	}
	_, err := LookupPose("moonwalk")
	test.That(t, errors.Is(err, ErrUnknownPose), test.ShouldBeTrue)
}
