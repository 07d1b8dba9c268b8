// Package gamepadcontrol drives the movement controller from a gamepad.
//
// Three loops run independently: the input loop turns device events into
// commands, the command loop executes them in order, and the safety monitor
// disables movement when the gamepad goes quiet or away.
package gamepadcontrol

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"

	"github.com/tars-em/motioncore/components/input"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/services/movement"
	"github.com/tars-em/motioncore/services/safety"
	"github.com/tars-em/motioncore/utils"
)

// Config tunes the pipeline.
type Config struct {
	// Deadzone is ignored stick travel around center.
	Deadzone float64
	// MovementRepeatDelay is the minimum time between the end of one executed
	// command and the start of the next non-critical one.
	MovementRepeatDelay  time.Duration
	EnableAnalogMovement bool
	// SafetyTimeout is how long a connected gamepad may stay idle before
	// movement is disabled.
	SafetyTimeout time.Duration

	InputInterval   time.Duration
	MonitorInterval time.Duration
	// SpeedDebounce delays speed changes until the d-pad settles.
	SpeedDebounce time.Duration
	QueueSize     int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Deadzone:             0.2,
		MovementRepeatDelay:  500 * time.Millisecond,
		EnableAnalogMovement: false,
		SafetyTimeout:        5 * time.Second,
		InputInterval:        16 * time.Millisecond,
		MonitorInterval:      time.Second,
		SpeedDebounce:        150 * time.Millisecond,
		QueueSize:            32,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.MovementRepeatDelay <= 0 {
		cfg.MovementRepeatDelay = def.MovementRepeatDelay
	}
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = def.SafetyTimeout
	}
	if cfg.InputInterval <= 0 {
		cfg.InputInterval = def.InputInterval
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.SpeedDebounce <= 0 {
		cfg.SpeedDebounce = def.SpeedDebounce
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return cfg
}

const speedStep = 0.1

// Mover is the part of *movement.Controller the pipeline drives.
type Mover interface {
	ExecuteCommand(ctx context.Context, cmd movement.Command) error
	SetEnabled(ctx context.Context, enabled bool) error
	IsEnabled() bool
	SetMovementSpeed(speed float64) float64
	MovementSpeed() float64
}

// State is the pipeline's view of the gamepad.
type State struct {
	Connected       bool      `json:"connected"`
	MovementEnabled bool      `json:"movement_enabled"`
	CurrentSpeed    float64   `json:"current_speed"`
	LastInput       time.Time `json:"last_input"`
	DeviceName      string    `json:"device_name,omitempty"`
}

// Pipeline connects one input device to one mover.
type Pipeline struct {
	device   input.Controller
	mover    Mover
	gate     *safety.Gate
	cfg      Config
	clock    clock.Clock
	logger   logging.Logger
	commands chan movement.Command
	debounce func(func())

	mu      sync.Mutex
	state   State
	workers utils.StoppableWorkers

	// only touched by the command loop
	lastExecuted time.Time
}

// New builds a pipeline. Nothing runs until Start.
func New(
	ctx context.Context,
	device input.Controller,
	mover Mover,
	gate *safety.Gate,
	cfg Config,
	clk clock.Clock,
	logger logging.Logger,
) *Pipeline {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Pipeline{
		device:   device,
		mover:    mover,
		gate:     gate,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		commands: make(chan movement.Command, cfg.QueueSize),
		debounce: debounce.New(cfg.SpeedDebounce),
		state: State{
			MovementEnabled: mover.IsEnabled(),
			CurrentSpeed:    mover.MovementSpeed(),
		},
	}
}

// Config returns the effective settings.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// State returns a snapshot of the gamepad state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsConnected reports whether a gamepad is connected.
func (p *Pipeline) IsConnected() bool {
	return p.State().Connected
}

// Start launches the three loops. Calling it again does nothing.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers != nil {
		return
	}
	p.logger.Infow("starting gamepad control", "device", p.device.Name())
	p.workers = utils.NewStoppableWorkers(
		utils.TickerWorker(p.clock, p.cfg.InputInterval, p.pollInput),
		p.commandLoop,
		utils.TickerWorker(p.clock, p.cfg.MonitorInterval, p.checkSafety),
	)
}

// Close stops the loops. Commands still queued are dropped. The device is
// left open.
func (p *Pipeline) Close() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	if dropped := len(p.commands); dropped > 0 {
		p.logger.Debugw("dropping queued gamepad commands", "count", dropped)
	}
}

func (p *Pipeline) pollInput(ctx context.Context) {
	events, err := p.device.Events(ctx)
	if err != nil {
		p.logger.Debugw("failed to read gamepad events", "error", err)
		return
	}
	for _, ev := range events {
		p.handleEvent(ctx, ev)
	}
	if p.IsConnected() {
		p.gate.FeedWatchdog()
	}
}

// handleEvent updates the state for one event and enqueues what it maps to.
func (p *Pipeline) handleEvent(ctx context.Context, ev input.Event) {
	var (
		cmds         []movement.Command
		arm          *bool
		newSpeed     float64
		speedSet     bool
		connected    bool
		disconnected bool
	)

	p.mu.Lock()
	switch {
	case ev.Event == input.Connect:
		if !p.state.Connected {
			p.state.Connected = true
			p.state.DeviceName = p.device.Name()
			p.state.LastInput = p.clock.Now()
			connected = true
		}
	case !p.state.Connected:
		// nothing counts until the device says it is back
	case ev.Event == input.Disconnect:
		p.state = State{CurrentSpeed: p.state.CurrentSpeed}
		disconnected = true
		cmds = append(cmds, movement.EmergencyStopCommand)
	default:
		p.state.LastInput = p.clock.Now()
		cmds, arm, newSpeed, speedSet = p.mapEvent(ev)
	}
	armed := p.state.MovementEnabled
	p.mu.Unlock()

	if connected {
		p.logger.Infow("gamepad connected", "name", p.device.Name())
	}
	if disconnected {
		p.logger.Warn("gamepad disconnected, stopping")
	}
	if arm != nil {
		p.logger.Infow("gamepad movement toggled", "enabled", *arm)
		if err := p.mover.SetEnabled(ctx, *arm); err != nil {
			p.logger.Errorw("failed to change movement enable", "error", err)
		}
	}
	if speedSet {
		p.logger.Debugw("gamepad speed changed", "speed", newSpeed)
		p.debounce(func() {
			p.mover.SetMovementSpeed(newSpeed)
		})
	}

	for _, cmd := range cmds {
		if !cmd.IsCritical() && (!armed || p.gate.IsEmergency()) {
			p.logger.Debugw("ignoring gamepad motion", "command", cmd.String(), "armed", armed)
			continue
		}
		p.enqueue(ctx, cmd)
	}
}

// mapEvent translates an event from a connected gamepad. It must be called
// with mu held.
func (p *Pipeline) mapEvent(ev input.Event) (cmds []movement.Command, arm *bool, speed float64, speedSet bool) {
	changeSpeed := func(delta float64) {
		speed = utils.RoundToTenth(utils.Clamp(p.state.CurrentSpeed+delta, movement.MinSpeed, movement.MaxSpeed))
		p.state.CurrentSpeed = speed
		speedSet = true
	}

	switch ev.Event {
	case input.ButtonPress:
		switch ev.Control {
		case input.ButtonSouth:
			cmds = append(cmds, movement.StepForwardCommand)
		case input.ButtonEast:
			cmds = append(cmds, movement.EmergencyStopCommand)
		case input.ButtonNorth:
			cmds = append(cmds, movement.NeutralCommand)
		case input.ButtonLT:
			cmds = append(cmds, movement.TurnLeftCommand)
		case input.ButtonRT:
			cmds = append(cmds, movement.TurnRightCommand)
		case input.ButtonSelect:
			enabled := !p.state.MovementEnabled
			p.state.MovementEnabled = enabled
			arm = &enabled
		case input.ButtonWest, input.ButtonStart:
			p.logger.Info("calibration requested from gamepad; run calibration from the command surface")
		}
	case input.PositionChangeAbs:
		switch ev.Control {
		case input.AbsoluteHat0X:
			if ev.Value < 0 {
				cmds = append(cmds, movement.TurnLeftCommand)
			} else if ev.Value > 0 {
				cmds = append(cmds, movement.TurnRightCommand)
			}
		case input.AbsoluteHat0Y:
			if ev.Value < 0 {
				changeSpeed(speedStep)
			} else if ev.Value > 0 {
				changeSpeed(-speedStep)
			}
		case input.AbsoluteX, input.AbsoluteY:
			if !p.cfg.EnableAnalogMovement || math.Abs(ev.Value) < p.cfg.Deadzone {
				break
			}
			switch {
			case ev.Control == input.AbsoluteY && ev.Value > p.cfg.Deadzone:
				cmds = append(cmds, movement.StepForwardCommand)
			case ev.Control == input.AbsoluteX && ev.Value > p.cfg.Deadzone:
				cmds = append(cmds, movement.TurnRightCommand)
			case ev.Control == input.AbsoluteX && ev.Value < -p.cfg.Deadzone:
				cmds = append(cmds, movement.TurnLeftCommand)
			}
		}
	}
	return cmds, arm, speed, speedSet
}

// enqueue hands a command to the command loop. Motion is dropped when the
// queue is full; recovery commands wait for room.
func (p *Pipeline) enqueue(ctx context.Context, cmd movement.Command) {
	if cmd.IsCritical() {
		select {
		case p.commands <- cmd:
		case <-ctx.Done():
		}
		return
	}
	select {
	case p.commands <- cmd:
	default:
		p.logger.Warnw("gamepad command queue full, dropping", "command", cmd.String())
	}
}

func (p *Pipeline) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.commands:
			p.processCommand(ctx, cmd)
		}
	}
}

// processCommand executes one queued command, collapsing motion that arrives
// within the repeat delay of the previous executed command.
func (p *Pipeline) processCommand(ctx context.Context, cmd movement.Command) {
	if !cmd.IsCritical() && !p.lastExecuted.IsZero() &&
		p.clock.Since(p.lastExecuted) < p.cfg.MovementRepeatDelay {
		p.logger.Debugw("command ignored due to repeat delay", "command", cmd.String())
		return
	}
	p.logger.Debugw("executing gamepad command", "command", cmd.String())
	if err := p.mover.ExecuteCommand(ctx, cmd); err != nil {
		p.logger.Warnw("gamepad command failed", "command", cmd.String(), "error", err)
		return
	}
	p.lastExecuted = p.clock.Now()
}

// checkSafety disables movement when a connected gamepad has been idle too
// long or when no gamepad is connected at all.
func (p *Pipeline) checkSafety(ctx context.Context) {
	p.mu.Lock()
	connected := p.state.Connected
	idle := p.clock.Since(p.state.LastInput)
	p.mu.Unlock()

	if !p.mover.IsEnabled() {
		return
	}
	switch {
	case connected && idle > p.cfg.SafetyTimeout:
		p.logger.Warnw("gamepad input timeout, disabling movement", "idle", idle.String())
	case !connected:
		p.logger.Warn("no gamepad connected, disabling movement")
	default:
		return
	}

	p.mu.Lock()
	p.state.MovementEnabled = false
	p.mu.Unlock()
	if err := p.mover.SetEnabled(ctx, false); err != nil {
		p.logger.Errorw("failed to disable movement", "error", err)
	}
}
