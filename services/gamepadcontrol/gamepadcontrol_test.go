package gamepadcontrol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/tars-em/motioncore/components/input"
	"github.com/tars-em/motioncore/components/input/fake"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/services/movement"
	"github.com/tars-em/motioncore/services/safety"
	tutils "github.com/tars-em/motioncore/testutils"
	"github.com/tars-em/motioncore/testutils/inject"
)

func TestMain(m *testing.M) {
	tutils.VerifyTestMain(m)
}

type fakeMover struct {
	mu          sync.Mutex
	enabled     bool
	speed       float64
	executed    []movement.Command
	enableCalls []bool
	executeErr  error
}

func (m *fakeMover) ExecuteCommand(ctx context.Context, cmd movement.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executeErr != nil {
		return m.executeErr
	}
	m.executed = append(m.executed, cmd)
	return nil
}

func (m *fakeMover) SetEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	m.enableCalls = append(m.enableCalls, enabled)
	return nil
}

func (m *fakeMover) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *fakeMover) SetMovementSpeed(speed float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = speed
	return speed
}

func (m *fakeMover) MovementSpeed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

func (m *fakeMover) commands() []movement.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]movement.Command(nil), m.executed...)
}

func (m *fakeMover) enables() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.enableCalls...)
}

type testRig struct {
	pipeline *Pipeline
	device   *fake.InputController
	mover    *fakeMover
	gate     *safety.Gate
	clock    *clock.Mock
}

func newTestRig(t *testing.T, cfg Config) testRig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	mockClock := clock.NewMock()
	device := fake.NewInputController("pad")
	mover := &fakeMover{enabled: true, speed: 1}
	gate := safety.NewGate(safety.DefaultConfig(), mockClock, logger.Sublogger("safety"))
	p := New(context.Background(), device, mover, gate, cfg, mockClock, logger)
	return testRig{pipeline: p, device: device, mover: mover, gate: gate, clock: mockClock}
}

func (rig testRig) trigger(t *testing.T, events ...input.Event) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range events {
		test.That(t, rig.device.TriggerEvent(ctx, ev), test.ShouldBeNil)
	}
	rig.pipeline.pollInput(ctx)
}

func (rig testRig) queued() []movement.Command {
	var out []movement.Command
	for {
		select {
		case cmd := <-rig.pipeline.commands:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func press(control input.Control) input.Event {
	return input.Event{Event: input.ButtonPress, Control: control, Value: 1}
}

func axis(control input.Control, value float64) input.Event {
	return input.Event{Event: input.PositionChangeAbs, Control: control, Value: value}
}

var (
	connect    = input.Event{Event: input.Connect}
	disconnect = input.Event{Event: input.Disconnect}
)

func TestDefaults(t *testing.T) {
	rig := newTestRig(t, Config{Deadzone: 0.2})
	cfg := rig.pipeline.Config()
	test.That(t, cfg.MovementRepeatDelay, test.ShouldEqual, 500*time.Millisecond)
	test.That(t, cfg.SafetyTimeout, test.ShouldEqual, 5*time.Second)
	test.That(t, cfg.InputInterval, test.ShouldEqual, 16*time.Millisecond)
	test.That(t, cfg.MonitorInterval, test.ShouldEqual, time.Second)
	test.That(t, cfg.EnableAnalogMovement, test.ShouldBeFalse)

	st := rig.pipeline.State()
	test.That(t, st.Connected, test.ShouldBeFalse)
	test.That(t, st.MovementEnabled, test.ShouldBeTrue)
	test.That(t, st.CurrentSpeed, test.ShouldEqual, 1.0)
}

func TestButtonMapping(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	rig.trigger(t, connect)
	test.That(t, rig.pipeline.IsConnected(), test.ShouldBeTrue)
	test.That(t, rig.pipeline.State().DeviceName, test.ShouldEqual, "pad")

	rig.trigger(t,
		press(input.ButtonSouth),
		press(input.ButtonLT),
		press(input.ButtonRT),
		press(input.ButtonNorth),
		press(input.ButtonEast),
		input.Event{Event: input.ButtonRelease, Control: input.ButtonSouth},
		press(input.ButtonWest),
		axis(input.AbsoluteHat0X, -1),
		axis(input.AbsoluteHat0X, 0),
		axis(input.AbsoluteHat0X, 1),
	)
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{
		movement.StepForwardCommand,
		movement.TurnLeftCommand,
		movement.TurnRightCommand,
		movement.NeutralCommand,
		movement.EmergencyStopCommand,
		movement.TurnLeftCommand,
		movement.TurnRightCommand,
	})
}

func TestDisconnect(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	rig.trigger(t, connect)
	test.That(t, rig.pipeline.IsConnected(), test.ShouldBeTrue)

	rig.trigger(t, disconnect)
	test.That(t, rig.pipeline.IsConnected(), test.ShouldBeFalse)
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{movement.EmergencyStopCommand})
	test.That(t, rig.pipeline.State().MovementEnabled, test.ShouldBeFalse)

	// ignored until the device reconnects, including a repeated disconnect
	rig.trigger(t, press(input.ButtonSouth), press(input.ButtonEast), axis(input.AbsoluteHat0Y, -1), disconnect)
	test.That(t, rig.queued(), test.ShouldBeEmpty)
	test.That(t, rig.pipeline.State().CurrentSpeed, test.ShouldEqual, 1.0)

	rig.trigger(t, connect)
	test.That(t, rig.pipeline.IsConnected(), test.ShouldBeTrue)
	rig.trigger(t, press(input.ButtonNorth))
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{movement.NeutralCommand})
}

func TestArming(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	rig.trigger(t, connect)

	rig.trigger(t, press(input.ButtonSelect))
	test.That(t, rig.pipeline.State().MovementEnabled, test.ShouldBeFalse)
	test.That(t, rig.mover.enables(), test.ShouldResemble, []bool{false})

	// disarmed: motion ignored, recovery still goes through
	rig.trigger(t, press(input.ButtonSouth), press(input.ButtonLT), press(input.ButtonNorth))
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{movement.NeutralCommand})

	rig.trigger(t, press(input.ButtonSelect))
	test.That(t, rig.pipeline.State().MovementEnabled, test.ShouldBeTrue)
	test.That(t, rig.mover.enables(), test.ShouldResemble, []bool{false, true})
	rig.trigger(t, press(input.ButtonSouth))
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{movement.StepForwardCommand})
}

func TestEmergencyLatchBlocksMotion(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	rig.trigger(t, connect)
	rig.gate.TriggerEmergency("test")

	rig.trigger(t, press(input.ButtonSouth), press(input.ButtonRT), press(input.ButtonEast))
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{movement.EmergencyStopCommand})
}

func TestAnalogMovement(t *testing.T) {
	cfg := DefaultConfig()
	rig := newTestRig(t, cfg)
	rig.trigger(t, connect, axis(input.AbsoluteY, 0.9), axis(input.AbsoluteX, -0.9))
	test.That(t, rig.queued(), test.ShouldBeEmpty)

	cfg.EnableAnalogMovement = true
	rig = newTestRig(t, cfg)
	rig.trigger(t, connect,
		axis(input.AbsoluteY, 0.1),
		axis(input.AbsoluteX, -0.15),
		axis(input.AbsoluteY, 0.5),
		axis(input.AbsoluteY, -0.5),
		axis(input.AbsoluteX, 0.5),
		axis(input.AbsoluteX, -0.5),
		axis(input.AbsoluteRX, 1),
	)
	test.That(t, rig.queued(), test.ShouldResemble, []movement.Command{
		movement.StepForwardCommand,
		movement.TurnRightCommand,
		movement.TurnLeftCommand,
	})
}

func TestSpeedChanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeedDebounce = 10 * time.Millisecond
	rig := newTestRig(t, cfg)
	rig.trigger(t, connect)

	for i := 0; i < 15; i++ {
		rig.trigger(t, axis(input.AbsoluteHat0Y, -1), axis(input.AbsoluteHat0Y, 0))
	}
	test.That(t, rig.pipeline.State().CurrentSpeed, test.ShouldEqual, 2.0)

	rig.trigger(t, axis(input.AbsoluteHat0Y, 1), axis(input.AbsoluteHat0Y, 1))
	test.That(t, rig.pipeline.State().CurrentSpeed, test.ShouldEqual, 1.8)
	test.That(t, rig.queued(), test.ShouldBeEmpty)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, rig.mover.MovementSpeed(), test.ShouldEqual, 1.8)
	})

	for i := 0; i < 30; i++ {
		rig.trigger(t, axis(input.AbsoluteHat0Y, 1))
	}
	test.That(t, rig.pipeline.State().CurrentSpeed, test.ShouldEqual, movement.MinSpeed)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, rig.mover.MovementSpeed(), test.ShouldEqual, movement.MinSpeed)
	})
}

func TestWatchdogFeeding(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())

	created := rig.gate.State().LastWatchdogFeed
	rig.clock.Add(time.Second)
	rig.trigger(t)
	test.That(t, rig.gate.State().LastWatchdogFeed.Equal(created), test.ShouldBeTrue)

	rig.trigger(t, connect)
	test.That(t, rig.gate.State().LastWatchdogFeed.Equal(rig.clock.Now()), test.ShouldBeTrue)

	rig.clock.Add(time.Second)
	rig.trigger(t)
	test.That(t, rig.gate.State().LastWatchdogFeed.Equal(rig.clock.Now()), test.ShouldBeTrue)

	fed := rig.clock.Now()
	rig.trigger(t, disconnect)
	rig.clock.Add(time.Second)
	rig.trigger(t)
	test.That(t, rig.gate.State().LastWatchdogFeed.Equal(fed), test.ShouldBeTrue)
}

func TestDeviceErrorsAreTolerated(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mover := &fakeMover{enabled: true, speed: 1}
	gateClock := clock.NewMock()
	gate := safety.NewGate(safety.DefaultConfig(), gateClock, logger)
	gateClock.Add(time.Second)
	device := &inject.InputController{
		NameFunc: func() string { return "broken" },
		EventsFunc: func(ctx context.Context) ([]input.Event, error) {
			return nil, errors.New("device gone")
		},
	}
	p := New(context.Background(), device, mover, gate, DefaultConfig(), clock.NewMock(), logger)
	p.pollInput(context.Background())
	test.That(t, p.IsConnected(), test.ShouldBeFalse)
	test.That(t, gate.State().LastWatchdogFeed.Equal(time.Unix(0, 0)), test.ShouldBeTrue)
}

func TestCommandSpacing(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	ctx := context.Background()

	// a burst collapses to one motion
	rig.pipeline.processCommand(ctx, movement.StepForwardCommand)
	rig.pipeline.processCommand(ctx, movement.StepForwardCommand)
	rig.pipeline.processCommand(ctx, movement.TurnLeftCommand)
	test.That(t, rig.mover.commands(), test.ShouldResemble, []movement.Command{movement.StepForwardCommand})

	// recovery bypasses spacing
	rig.pipeline.processCommand(ctx, movement.EmergencyStopCommand)
	rig.pipeline.processCommand(ctx, movement.NeutralCommand)
	test.That(t, rig.mover.commands(), test.ShouldHaveLength, 3)

	// spacing is measured from the last executed command
	rig.clock.Add(400 * time.Millisecond)
	rig.pipeline.processCommand(ctx, movement.TurnLeftCommand)
	test.That(t, rig.mover.commands(), test.ShouldHaveLength, 3)
	rig.clock.Add(100 * time.Millisecond)
	rig.pipeline.processCommand(ctx, movement.TurnLeftCommand)
	test.That(t, rig.mover.commands(), test.ShouldHaveLength, 4)

	// failed commands do not restart the spacing window
	rig.clock.Add(time.Second)
	rig.mover.mu.Lock()
	rig.mover.executeErr = movement.ErrMovementDisabled
	rig.mover.mu.Unlock()
	rig.pipeline.processCommand(ctx, movement.TurnRightCommand)
	rig.mover.mu.Lock()
	rig.mover.executeErr = nil
	rig.mover.mu.Unlock()
	rig.pipeline.processCommand(ctx, movement.TurnRightCommand)
	test.That(t, rig.mover.commands(), test.ShouldHaveLength, 5)
}

func TestSafetyMonitor(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	ctx := context.Background()

	// nothing connected disables movement
	rig.pipeline.checkSafety(ctx)
	test.That(t, rig.mover.IsEnabled(), test.ShouldBeFalse)
	test.That(t, rig.mover.enables(), test.ShouldResemble, []bool{false})
	rig.pipeline.checkSafety(ctx)
	test.That(t, rig.mover.enables(), test.ShouldHaveLength, 1)

	rig.trigger(t, connect, press(input.ButtonSelect))
	test.That(t, rig.mover.IsEnabled(), test.ShouldBeTrue)
	test.That(t, rig.pipeline.State().MovementEnabled, test.ShouldBeTrue)

	rig.clock.Add(4 * time.Second)
	rig.pipeline.checkSafety(ctx)
	test.That(t, rig.mover.IsEnabled(), test.ShouldBeTrue)

	// input resets the idle timer
	rig.trigger(t, input.Event{Event: input.ButtonRelease, Control: input.ButtonSelect})
	rig.clock.Add(4 * time.Second)
	rig.pipeline.checkSafety(ctx)
	test.That(t, rig.mover.IsEnabled(), test.ShouldBeTrue)

	rig.clock.Add(2 * time.Second)
	rig.pipeline.checkSafety(ctx)
	test.That(t, rig.mover.IsEnabled(), test.ShouldBeFalse)
	test.That(t, rig.pipeline.State().MovementEnabled, test.ShouldBeFalse)
	test.That(t, rig.pipeline.IsConnected(), test.ShouldBeTrue)
}

func TestPipelineLoops(t *testing.T) {
	logger := logging.NewTestLogger(t)
	device := fake.NewInputController("pad")
	mover := &fakeMover{enabled: true, speed: 1}
	gate := safety.NewGate(safety.DefaultConfig(), nil, logger)
	cfg := DefaultConfig()
	cfg.InputInterval = 2 * time.Millisecond
	cfg.MonitorInterval = time.Hour
	p := New(context.Background(), device, mover, gate, cfg, nil, logger)
	p.Start()
	p.Start()
	defer p.Close()

	ctx := context.Background()
	test.That(t, device.TriggerEvent(ctx, connect), test.ShouldBeNil)
	test.That(t, device.TriggerEvent(ctx, press(input.ButtonSouth)), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, mover.commands(), test.ShouldResemble, []movement.Command{movement.StepForwardCommand})
	})

	test.That(t, device.TriggerEvent(ctx, disconnect), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, mover.commands(), test.ShouldResemble, []movement.Command{
			movement.StepForwardCommand,
			movement.EmergencyStopCommand,
		})
	})
	test.That(t, p.IsConnected(), test.ShouldBeFalse)
}
