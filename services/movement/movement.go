// Package movement turns high level commands into ordered servo writes.
//
// Gaits are fixed open-loop scripts. There is no balance feedback; a
// hardware error between phases leaves the robot where the last successful
// write put it, and callers are expected to follow up with an EmergencyStop.
package movement

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tars-em/motioncore/components/servo"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/operation"
	"github.com/tars-em/motioncore/services/safety"
	"github.com/tars-em/motioncore/utils"
)

// ErrMovementDisabled is returned for commands issued while movement is disabled.
var ErrMovementDisabled = errors.New("movement disabled")

// Speed limits.
const (
	MinSpeed     = 0.1
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0
)

// PoseCustom names the pose left behind by SetJointPositions.
const PoseCustom = "Custom"

// ServoWriter moves a single joint. *pca9685.Driver implements it.
type ServoWriter interface {
	SetPosition(ctx context.Context, joint servo.JointID, angle float64) error
}

// Timing holds the gait delays that are not part of a pose. All but the
// calibration delays are divided by the movement speed.
type Timing struct {
	Lift   time.Duration
	Swing  time.Duration
	Plant  time.Duration
	Settle time.Duration
	// Hold is how long a turn or a non-neutral pose is held before returning
	// to neutral.
	Hold time.Duration

	CalibrateMin     time.Duration
	CalibrateMax     time.Duration
	CalibrateNeutral time.Duration
}

// DefaultTiming returns the stock gait delays.
func DefaultTiming() Timing {
	return Timing{
		Lift:             400 * time.Millisecond,
		Swing:            500 * time.Millisecond,
		Plant:            400 * time.Millisecond,
		Settle:           200 * time.Millisecond,
		Hold:             800 * time.Millisecond,
		CalibrateMin:     500 * time.Millisecond,
		CalibrateMax:     500 * time.Millisecond,
		CalibrateNeutral: 300 * time.Millisecond,
	}
}

// Config configures a Controller.
type Config struct {
	// Speed divides every gait delay. Zero selects DefaultSpeed.
	Speed   float64
	Enabled bool
	// Timing overrides the gait delays. The zero value selects DefaultTiming.
	Timing Timing
}

// Status is a snapshot of what the controller last did.
type Status struct {
	CurrentPose    string             `json:"current_pose"`
	IsMoving       bool               `json:"is_moving"`
	LastCommand    *Command           `json:"last_command,omitempty"`
	ServoPositions []servo.JointAngle `json:"servo_positions"`
	OperationID    string             `json:"operation_id,omitempty"`
}

// A Controller executes commands against the servos. Commands and calibration
// are serialized; EmergencyStop is not and preempts whatever is running.
type Controller struct {
	servos ServoWriter
	gate   *safety.Gate
	ops    *operation.Manager
	clock  clock.Clock
	logger logging.Logger
	timing Timing
	sleep  func(ctx context.Context, d time.Duration) error

	enabled atomic.Bool
	speed   *atomic.Float64

	mu          sync.Mutex
	moving      int
	currentPose string
	lastCommand *Command
	operationID string
	positions   [servo.NumJoints]float64
	known       [servo.NumJoints]bool
}

// New returns a controller writing to servos and consulting gate. A nil clock
// selects the wall clock.
func New(servos ServoWriter, gate *safety.Gate, cfg Config, clk clock.Clock, logger logging.Logger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if cfg.Speed == 0 {
		cfg.Speed = DefaultSpeed
	}
	c := &Controller{
		servos:      servos,
		gate:        gate,
		ops:         operation.NewManager(logger),
		clock:       clk,
		logger:      logger,
		timing:      cfg.Timing,
		speed:       atomic.NewFloat64(utils.Clamp(cfg.Speed, MinSpeed, MaxSpeed)),
		currentPose: "Unknown",
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		return utils.SleepContext(ctx, c.clock, d)
	}
	c.enabled.Store(cfg.Enabled)
	return c
}

// SetEnabled turns movement on or off. Disabling an enabled controller drives
// every joint to neutral.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) error {
	was := c.enabled.Swap(enabled)
	if was == enabled {
		return nil
	}
	if enabled {
		c.logger.Info("movement enabled")
		return nil
	}
	c.logger.Warn("movement disabled")
	return c.emergencyStop(ctx)
}

// IsEnabled reports whether motion commands are accepted.
func (c *Controller) IsEnabled() bool {
	return c.enabled.Load()
}

// SetMovementSpeed sets the speed multiplier and returns the value actually
// applied after clamping to [MinSpeed, MaxSpeed].
func (c *Controller) SetMovementSpeed(speed float64) float64 {
	speed = utils.Clamp(speed, MinSpeed, MaxSpeed)
	c.speed.Store(speed)
	c.logger.Debugw("movement speed set", "speed", speed)
	return speed
}

// MovementSpeed returns the speed multiplier.
func (c *Controller) MovementSpeed() float64 {
	return c.speed.Load()
}

// AvailablePoses lists the motions a caller can ask for by name.
func (c *Controller) AvailablePoses() []string {
	return []string{servo.PoseNeutral, "Step Forward", servo.PoseTurnLeft, servo.PoseTurnRight}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		CurrentPose: c.currentPose,
		IsMoving:    c.moving > 0,
		OperationID: c.operationID,
	}
	if c.lastCommand != nil {
		cmd := *c.lastCommand
		st.LastCommand = &cmd
	}
	for i, ok := range c.known {
		if ok {
			st.ServoPositions = append(st.ServoPositions, servo.JointAngle{Joint: servo.JointID(i), Angle: c.positions[i]})
		}
	}
	return st
}

// phase is one step of a motion script: write angles, optionally name the
// resulting pose, then hold.
type phase struct {
	name   string
	pose   string
	angles []servo.JointAngle
	hold   time.Duration
}

func posePhase(name string, p servo.Pose) phase {
	return phase{name: name, pose: p.Name, angles: p.Angles, hold: p.Duration}
}

func holdPhase(name string, d time.Duration) phase {
	return phase{name: name, hold: d}
}

func (c *Controller) script(cmd Command) ([]phase, error) {
	neutral := posePhase("return", servo.NeutralPose())
	switch cmd.Type {
	case StepForward:
		return []phase{
			posePhase("prepare", servo.StepForwardPrepPose()),
			{name: "lift", hold: c.timing.Lift, angles: []servo.JointAngle{
				{Joint: servo.RightHipUpDown, Angle: 0.4},
				{Joint: servo.RightKnee, Angle: 0.6},
				{Joint: servo.LeftHipUpDown, Angle: -0.2},
			}},
			{name: "swing", hold: c.timing.Swing, angles: []servo.JointAngle{
				{Joint: servo.RightHipForwardBack, Angle: 0.3},
				{Joint: servo.RightShoulderForwardBack, Angle: -0.2},
				{Joint: servo.LeftShoulderForwardBack, Angle: 0.2},
			}},
			{name: "plant", hold: c.timing.Plant, angles: []servo.JointAngle{
				{Joint: servo.RightHipUpDown, Angle: 0},
				{Joint: servo.RightKnee, Angle: 0},
				{Joint: servo.LeftHipUpDown, Angle: 0},
			}},
			holdPhase("settle", c.timing.Settle),
			neutral,
		}, nil
	case TurnLeft:
		return []phase{posePhase("turn", servo.TurnLeftPose()), holdPhase("hold", c.timing.Hold), neutral}, nil
	case TurnRight:
		return []phase{posePhase("turn", servo.TurnRightPose()), holdPhase("hold", c.timing.Hold), neutral}, nil
	case Neutral:
		return []phase{posePhase("neutral", servo.NeutralPose())}, nil
	case Pose:
		p, err := servo.LookupPose(cmd.PoseName)
		if err != nil {
			return nil, err
		}
		if p.Name == servo.PoseNeutral {
			return []phase{posePhase("pose", p)}, nil
		}
		return []phase{posePhase("pose", p), holdPhase("hold", c.timing.Hold), neutral}, nil
	}
	return nil, errors.Errorf("no script for %s", cmd)
}

// validate checks every target of a script before anything is written.
func (c *Controller) validate(what string, phases []phase) error {
	for _, ph := range phases {
		for _, ja := range ph.angles {
			if !ja.Joint.Valid() {
				return errors.Wrapf(servo.ErrInvalidServo, "%s phase %q: joint %d", what, ph.name, ja.Joint)
			}
			if !c.gate.CheckBounds(ja.Angle) {
				return errors.Wrapf(safety.ErrOutOfBounds, "%s phase %q: %s angle %v", what, ph.name, ja.Joint, ja.Angle)
			}
		}
	}
	return nil
}

// admit rejects work while movement is disabled or, unless critical, while
// the emergency latch is set.
func (c *Controller) admit(what string, critical bool) error {
	if !c.IsEnabled() {
		return errors.Wrapf(ErrMovementDisabled, "cannot execute %s", what)
	}
	if !critical && c.gate.IsEmergency() {
		return errors.Wrapf(safety.ErrEmergencyLatched, "cannot execute %s", what)
	}
	return nil
}

// ExecuteCommand runs cmd to completion. Every check happens before the
// first write: disabled, emergency latch, pose and bounds validation, then
// the rate limiter. EmergencyStop skips all of them.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	if cmd.Type == EmergencyStop {
		return c.emergencyStop(ctx)
	}
	if err := c.admit(cmd.String(), cmd.IsCritical()); err != nil {
		return err
	}
	phases, err := c.script(cmd)
	if err != nil {
		return err
	}
	if err := c.validate(cmd.String(), phases); err != nil {
		return err
	}

	ctx, op, done, err := c.ops.Start(ctx, cmd.String(), cmd)
	if err != nil {
		return err
	}
	defer done()

	// State may have changed while waiting for the previous command. The rate
	// token is only spent once nothing else can reject the command.
	if err := c.admit(cmd.String(), cmd.IsCritical()); err != nil {
		return err
	}
	if cmd.IsMotion() && !c.gate.CheckMoveAllowed() {
		return errors.Wrapf(safety.ErrRateLimited, "cannot execute %s", cmd)
	}

	c.logger.CDebugw(ctx, "executing command", "command", cmd.String(), "operation", op.ID.String())
	c.begin(op)
	err = c.run(ctx, cmd, phases)
	c.finish(cmd)
	if err != nil {
		c.logger.Errorw("command failed", "command", cmd.String(), "error", err)
	}
	return err
}

// SetJointPositions writes angles in order, outside of any gait. It is gated
// like a motion command: disabled, emergency latch, bounds, then the rate
// limiter, all before the first write. The current pose becomes PoseCustom.
func (c *Controller) SetJointPositions(ctx context.Context, angles []servo.JointAngle) error {
	const what = "SetJointPositions"
	if len(angles) == 0 {
		return nil
	}
	if err := c.admit(what, false); err != nil {
		return err
	}
	if err := c.validate(what, []phase{{name: "direct", angles: angles}}); err != nil {
		return err
	}

	ctx, op, done, err := c.ops.Start(ctx, what, angles)
	if err != nil {
		return err
	}
	defer done()

	if err := c.admit(what, false); err != nil {
		return err
	}
	if !c.gate.CheckMoveAllowed() {
		return errors.Wrapf(safety.ErrRateLimited, "cannot execute %s", what)
	}

	c.logger.CDebugw(ctx, "setting joint positions", "count", len(angles), "operation", op.ID.String())
	c.begin(op)
	defer c.end()
	for _, ja := range angles {
		if err := c.write(ctx, ja.Joint, ja.Angle); err != nil {
			c.logger.Errorw("joint write failed", "error", err)
			return errors.Wrap(err, what)
		}
	}
	c.setPose(PoseCustom)
	return nil
}

func (c *Controller) run(ctx context.Context, cmd Command, phases []phase) error {
	speed := c.MovementSpeed()
	for i, ph := range phases {
		if i > 0 && !cmd.IsCritical() && c.gate.IsEmergency() {
			return errors.Wrapf(safety.ErrEmergencyLatched, "%s aborted before phase %q", cmd, ph.name)
		}
		for _, ja := range ph.angles {
			if err := c.write(ctx, ja.Joint, ja.Angle); err != nil {
				return errors.Wrapf(err, "%s phase %q", cmd, ph.name)
			}
		}
		if ph.pose != "" {
			c.setPose(ph.pose)
		}
		if err := c.sleep(ctx, utils.ScaleDuration(ph.hold, speed)); err != nil {
			return errors.Wrapf(err, "%s interrupted in phase %q", cmd, ph.name)
		}
	}
	return nil
}

// write moves one joint and records the position on success.
func (c *Controller) write(ctx context.Context, joint servo.JointID, angle float64) error {
	if err := c.servos.SetPosition(ctx, joint, angle); err != nil {
		return errors.Wrapf(err, "joint %s", joint)
	}
	c.mu.Lock()
	c.positions[joint] = angle
	c.known[joint] = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) begin(op *operation.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moving++
	if op != nil {
		c.operationID = op.ID.String()
	}
}

func (c *Controller) finish(cmd Command) {
	c.mu.Lock()
	c.lastCommand = &cmd
	c.mu.Unlock()
	c.end()
}

// end closes a begin without recording a command.
func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moving--
	c.operationID = ""
}

func (c *Controller) setPose(name string) {
	c.mu.Lock()
	c.currentPose = name
	c.mu.Unlock()
}

// emergencyStop cancels any running command and writes neutral to every
// joint at once. All writes are attempted; the first error is returned.
func (c *Controller) emergencyStop(ctx context.Context) error {
	c.logger.Warn("emergency stop")
	c.ops.CancelRunning(ctx)

	c.begin(nil)
	var g errgroup.Group
	for _, joint := range servo.AllJoints() {
		joint := joint
		g.Go(func() error {
			return c.write(ctx, joint, 0)
		})
	}
	err := g.Wait()
	if err == nil {
		c.setPose(servo.PoseNeutral)
	}
	c.finish(EmergencyStopCommand)
	if err != nil {
		c.logger.Errorw("emergency stop incomplete", "error", err)
		return errors.Wrap(err, "emergency stop")
	}
	return nil
}

// CalibrateServos sweeps each joint in declaration order to its minimum,
// maximum and neutral. It takes the command lock, so it never interleaves
// with a command.
func (c *Controller) CalibrateServos(ctx context.Context) error {
	if !c.IsEnabled() {
		return errors.Wrap(ErrMovementDisabled, "cannot calibrate")
	}
	if c.gate.IsEmergency() {
		return errors.Wrap(safety.ErrEmergencyLatched, "cannot calibrate")
	}
	ctx, op, done, err := c.ops.Start(ctx, "CalibrateServos", nil)
	if err != nil {
		return err
	}
	defer done()

	c.logger.Info("calibrating servos")
	c.begin(op)
	defer c.end()

	sweep := []struct {
		angle float64
		hold  time.Duration
	}{
		{-1, c.timing.CalibrateMin},
		{1, c.timing.CalibrateMax},
		{0, c.timing.CalibrateNeutral},
	}
	for _, joint := range servo.AllJoints() {
		c.setPose("Calibrating " + joint.String())
		for _, s := range sweep {
			if err := c.write(ctx, joint, s.angle); err != nil {
				return errors.Wrap(err, "calibration")
			}
			if err := c.sleep(ctx, s.hold); err != nil {
				return errors.Wrapf(err, "calibration interrupted at %s", joint)
			}
		}
	}
	c.setPose(servo.PoseNeutral)
	c.logger.Info("calibration complete")
	return nil
}
