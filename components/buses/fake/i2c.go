// Package fake implements an in-memory I2C bus for tests and mock hardware mode.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tars-em/motioncore/components/buses"
)

// ErrInjected is returned by handles configured to fail.
var ErrInjected = errors.New("injected i2c failure")

// Write is one recorded register write.
type Write struct {
	Register byte
	Data     []byte
}

// I2C is a fake bus. Each address gets its own register file that survives
// closing and reopening the handle.
type I2C struct {
	mu      sync.Mutex
	devices map[byte]*Handle
}

// NewI2C returns an empty fake bus.
func NewI2C() *I2C {
	return &I2C{devices: map[byte]*Handle{}}
}

// OpenHandle returns the device at addr, creating it if needed.
func (bus *I2C) OpenHandle(addr byte) (buses.I2CHandle, error) {
	return bus.Device(addr), nil
}

// Device returns the fake device at addr for inspection.
func (bus *I2C) Device(addr byte) *Handle {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	h, ok := bus.devices[addr]
	if !ok {
		h = NewHandle()
		bus.devices[addr] = h
	}
	return h
}

// Handle is a 256 register device. Block writes fill consecutive registers
// like a device with auto-increment enabled.
type Handle struct {
	mu        sync.Mutex
	registers [256]byte
	writes    []Write
	reads     int

	failWrites      bool
	failReads       bool
	failAfterWrites int
}

// NewHandle returns a device with all registers zeroed.
func NewHandle() *Handle {
	return &Handle{failAfterWrites: -1}
}

// ReadByteData returns the stored register value.
func (h *Handle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failReads {
		return 0, ErrInjected
	}
	h.reads++
	return h.registers[register], nil
}

// WriteByteData stores a register value.
func (h *Handle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.WriteBlockData(ctx, register, []byte{data})
}

// ReadBlockData returns consecutive registers starting at register.
func (h *Handle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failReads {
		return nil, ErrInjected
	}
	h.reads++
	out := make([]byte, numBytes)
	for i := range out {
		out[i] = h.registers[(int(register)+i)%len(h.registers)]
	}
	return out, nil
}

// WriteBlockData stores data into consecutive registers starting at register.
func (h *Handle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWrites || h.failAfterWrites == 0 {
		return ErrInjected
	}
	if h.failAfterWrites > 0 {
		h.failAfterWrites--
	}
	for i, b := range data {
		h.registers[(int(register)+i)%len(h.registers)] = b
	}
	h.writes = append(h.writes, Write{Register: register, Data: append([]byte(nil), data...)})
	return nil
}

// Close is a no-op; the register file is kept.
func (h *Handle) Close() error {
	return nil
}

// Register returns a register value without counting as a read.
func (h *Handle) Register(register byte) byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registers[register]
}

// SetRegister presets a register value.
func (h *Handle) SetRegister(register, value byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registers[register] = value
}

// Writes returns a copy of all recorded writes in order.
func (h *Handle) Writes() []Write {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Write, len(h.writes))
	copy(out, h.writes)
	return out
}

// WriteCount returns the number of recorded writes.
func (h *Handle) WriteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.writes)
}

// Reads returns the number of read transactions.
func (h *Handle) Reads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

// ResetWrites clears the write log.
func (h *Handle) ResetWrites() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes = nil
}

// FailWrites makes every subsequent write fail.
func (h *Handle) FailWrites(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failWrites = fail
}

// FailReads makes every subsequent read fail.
func (h *Handle) FailReads(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failReads = fail
}

// FailAfterWrites lets n more writes succeed and fails the rest. A negative n disables it.
func (h *Handle) FailAfterWrites(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAfterWrites = n
}
