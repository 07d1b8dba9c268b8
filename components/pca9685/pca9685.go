// Package pca9685 drives the 16 channel, 12-bit PCA9685 PWM controller over I2C.
package pca9685

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/tars-em/motioncore/components/buses"
	"github.com/tars-em/motioncore/components/servo"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/utils"
)

// Register map.
const (
	RegMode1      byte = 0x00
	RegMode2      byte = 0x01
	RegLED0OnL    byte = 0x06
	RegAllLEDOffH byte = 0xFD
	RegPrescale   byte = 0xFE

	registersPerChannel = 4
)

// MODE1 and MODE2 bits.
const (
	mode1Restart byte = 0x80
	mode1AI      byte = 0x20
	mode1Sleep   byte = 0x10
	mode2OutDrv  byte = 0x04
	ledFullOff   byte = 0x10
)

const (
	// NumChannels is the number of PWM outputs.
	NumChannels = 16
	// MaxCount is the largest 12-bit on or off count.
	MaxCount = 4095
	// OscillatorHz is the internal clock frequency.
	OscillatorHz = 25_000_000.0
	// DefaultAddress is the chip's bus address with no address pins strapped.
	DefaultAddress byte = 0x40
	// DefaultFrequencyHz suits hobby servos.
	DefaultFrequencyHz = 50.0

	minPrescale = 3
	maxPrescale = 255

	resetSettle   = 10 * time.Millisecond
	restartSettle = 5 * time.Millisecond
)

// Prescale returns the prescale register value for an output frequency:
// round(25MHz / (4096 * freq)) - 1, clamped to [3, 255].
func Prescale(frequencyHz float64) byte {
	v := math.Round(OscillatorHz/(4096*frequencyHz)) - 1
	return byte(utils.Clamp(v, minPrescale, maxPrescale))
}

// Driver owns one PCA9685. Initialize must succeed before any output changes.
type Driver struct {
	handle    buses.I2CHandle
	registry  *servo.Registry
	frequency float64
	clock     clock.Clock
	logger    logging.Logger

	initMu      sync.Mutex
	initialized atomic.Bool
}

// New returns a driver for the chip behind handle. A zero frequency selects
// DefaultFrequencyHz and a nil clock selects the wall clock.
func New(handle buses.I2CHandle, registry *servo.Registry, frequencyHz float64, clk clock.Clock, logger logging.Logger) *Driver {
	if frequencyHz <= 0 {
		frequencyHz = DefaultFrequencyHz
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{
		handle:    handle,
		registry:  registry,
		frequency: frequencyHz,
		clock:     clk,
		logger:    logger,
	}
}

// Frequency returns the configured output frequency in Hz.
func (d *Driver) Frequency() float64 {
	return d.frequency
}

// Initialized reports whether Initialize has completed.
func (d *Driver) Initialized() bool {
	return d.initialized.Load()
}

// Initialize resets the chip, programs the prescaler and enables register
// auto-increment with totem pole outputs. Calling it again is a no-op.
func (d *Driver) Initialize(ctx context.Context) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	if d.initialized.Load() {
		return nil
	}

	d.logger.CDebugw(ctx, "initializing pca9685", "frequency_hz", d.frequency)
	if err := d.writeRegister(ctx, RegMode1, mode1Restart); err != nil {
		return err
	}
	if err := utils.SleepContext(ctx, d.clock, resetSettle); err != nil {
		return err
	}
	if err := d.setFrequency(ctx); err != nil {
		return err
	}
	if err := d.writeRegister(ctx, RegMode1, mode1Restart|mode1AI); err != nil {
		return err
	}
	if err := d.writeRegister(ctx, RegMode2, mode2OutDrv); err != nil {
		return err
	}

	d.initialized.Store(true)
	d.logger.Infow("pca9685 initialized", "frequency_hz", d.frequency, "prescale", Prescale(d.frequency))
	return nil
}

// setFrequency follows the datasheet sequence: the prescaler can only be
// written while the oscillator sleeps.
func (d *Driver) setFrequency(ctx context.Context) error {
	prescale := Prescale(d.frequency)

	oldMode, err := d.handle.ReadByteData(ctx, RegMode1)
	if err != nil {
		return newHardwareError("read", RegMode1, -1, err)
	}
	if err := d.writeRegister(ctx, RegMode1, (oldMode&^mode1Restart)|mode1Sleep); err != nil {
		return err
	}
	if err := d.writeRegister(ctx, RegPrescale, prescale); err != nil {
		return err
	}
	if err := d.writeRegister(ctx, RegMode1, oldMode); err != nil {
		return err
	}
	if err := utils.SleepContext(ctx, d.clock, restartSettle); err != nil {
		return err
	}
	return d.writeRegister(ctx, RegMode1, oldMode|mode1Restart|mode1AI)
}

func (d *Driver) writeRegister(ctx context.Context, register, value byte) error {
	if err := d.handle.WriteByteData(ctx, register, value); err != nil {
		return newHardwareError("write", register, -1, err)
	}
	return nil
}

func channelRegister(channel uint8) byte {
	return RegLED0OnL + registersPerChannel*channel
}

// SetPWM sets the on and off counts of one channel. Arguments are validated
// before anything is sent to the chip.
func (d *Driver) SetPWM(ctx context.Context, channel uint8, on, off uint16) error {
	if channel >= NumChannels {
		return errors.Wrapf(ErrInvalidChannel, "channel %d", channel)
	}
	if on > MaxCount || off > MaxCount {
		return errors.Wrapf(ErrInvalidDutyCycle, "on %d off %d", on, off)
	}
	if !d.initialized.Load() {
		return errors.Wrap(ErrHardwareUnavailable, "controller not initialized")
	}

	register := channelRegister(channel)
	data := []byte{byte(on & 0xFF), byte(on >> 8), byte(off & 0xFF), byte(off >> 8)}
	if err := d.handle.WriteBlockData(ctx, register, data); err != nil {
		return newHardwareError("write", register, int(channel), err)
	}
	d.logger.CDebugw(ctx, "set pwm", "channel", channel, "on", on, "off", off)
	return nil
}

// PWM reads back the on and off counts of one channel.
func (d *Driver) PWM(ctx context.Context, channel uint8) (uint16, uint16, error) {
	if channel >= NumChannels {
		return 0, 0, errors.Wrapf(ErrInvalidChannel, "channel %d", channel)
	}
	if !d.initialized.Load() {
		return 0, 0, errors.Wrap(ErrHardwareUnavailable, "controller not initialized")
	}
	register := channelRegister(channel)
	data, err := d.handle.ReadBlockData(ctx, register, registersPerChannel)
	if err != nil {
		return 0, 0, newHardwareError("read", register, int(channel), err)
	}
	on := uint16(data[0]) | uint16(data[1]&0x0F)<<8
	off := uint16(data[2]) | uint16(data[3]&0x0F)<<8
	return on, off, nil
}

// SetPosition moves a joint to a normalized angle. The angle is clamped to
// [-1, 1] by the joint's range.
func (d *Driver) SetPosition(ctx context.Context, joint servo.JointID, angle float64) error {
	jointRange, err := d.registry.Get(joint)
	if err != nil {
		return err
	}
	duty := jointRange.AngleToDuty(angle)
	if err := d.SetPWM(ctx, jointRange.Channel(), 0, duty); err != nil {
		return errors.Wrapf(err, "failed to move %s", joint)
	}
	return nil
}

// PulseToDuty converts a pulse width in microseconds to an off count at the
// configured frequency.
func (d *Driver) PulseToDuty(pulse time.Duration) uint16 {
	period := float64(time.Second) / d.frequency
	count := math.Round(MaxCount * float64(pulse) / period)
	return uint16(utils.Clamp(count, 0, MaxCount))
}

// Close turns every output fully off if the chip was initialized and releases
// the bus handle.
func (d *Driver) Close(ctx context.Context) error {
	var err error
	if d.initialized.Load() {
		err = d.writeRegister(ctx, RegAllLEDOffH, ledFullOff)
		d.initialized.Store(false)
	}
	return multierr.Combine(err, d.handle.Close())
}
