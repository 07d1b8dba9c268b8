// Package buses offers the I2C transport the PWM driver talks through.
package buses

import (
	"context"
)

// I2C represents a shareable I2C bus.
type I2C interface {
	// OpenHandle returns a handle for one device address. It MUST be closed when done.
	OpenHandle(addr byte) (I2CHandle, error)
}

// I2CHandle is a register-oriented view of one device on the bus.
type I2CHandle interface {
	ReadByteData(ctx context.Context, register byte) (byte, error)
	WriteByteData(ctx context.Context, register, data byte) error

	ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error)
	// WriteBlockData writes data to consecutive registers starting at register.
	WriteBlockData(ctx context.Context, register byte, data []byte) error

	// Close releases the handle.
	Close() error
}

// An I2CRegister is a lightweight wrapper around a handle for a particular register.
type I2CRegister struct {
	Handle   I2CHandle
	Register byte
}

// ReadByteData reads a byte from the register.
func (reg *I2CRegister) ReadByteData(ctx context.Context) (byte, error) {
	return reg.Handle.ReadByteData(ctx, reg.Register)
}

// WriteByteData writes a byte to the register.
func (reg *I2CRegister) WriteByteData(ctx context.Context, data byte) error {
	return reg.Handle.WriteByteData(ctx, reg.Register, data)
}
