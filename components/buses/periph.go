package buses

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/tars-em/motioncore/logging"
)

// PeriphI2C is an I2C bus opened through periph.io. All handles on the bus
// share one lock so register transactions never interleave.
type PeriphI2C struct {
	name   string
	logger logging.Logger

	mu      sync.Mutex
	bus     i2c.BusCloser
	handles map[byte]*periphHandle
}

// BusName converts a bus number into the periph registry name, e.g. 1 -> "I2C1".
func BusName(number int) string {
	return fmt.Sprintf("I2C%d", number)
}

// NewPeriphI2C initializes the host drivers and opens the named bus. An empty
// name opens the first bus periph finds.
func NewPeriphI2C(name string, logger logging.Logger) (*PeriphI2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host drivers")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", name)
	}
	logger.Infow("opened i2c bus", "bus", bus.String())
	return &PeriphI2C{name: name, logger: logger, bus: bus, handles: map[byte]*periphHandle{}}, nil
}

// OpenHandle returns a handle for addr. Only one handle per address may be open.
func (p *PeriphI2C) OpenHandle(addr byte) (I2CHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return nil, errors.Errorf("i2c bus %q is closed", p.name)
	}
	if _, ok := p.handles[addr]; ok {
		return nil, errors.Errorf("address %#x on i2c bus %q is already open", addr, p.name)
	}
	h := &periphHandle{parent: p, addr: addr, dev: &i2c.Dev{Bus: p.bus, Addr: uint16(addr)}}
	p.handles[addr] = h
	return h, nil
}

// Close closes the bus. Open handles stop working.
func (p *PeriphI2C) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return nil
	}
	err := p.bus.Close()
	p.bus = nil
	p.handles = map[byte]*periphHandle{}
	return err
}

func (p *PeriphI2C) tx(ctx context.Context, dev *i2c.Dev, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return errors.Errorf("i2c bus %q is closed", p.name)
	}
	return dev.Tx(w, r)
}

type periphHandle struct {
	parent *PeriphI2C
	addr   byte
	dev    *i2c.Dev
}

func (h *periphHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	r := make([]byte, 1)
	if err := h.parent.tx(ctx, h.dev, []byte{register}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (h *periphHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.parent.tx(ctx, h.dev, []byte{register, data}, nil)
}

func (h *periphHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	r := make([]byte, numBytes)
	if err := h.parent.tx(ctx, h.dev, []byte{register}, r); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteBlockData writes the register address followed by the data in a single
// transaction. Devices with register auto-increment store the bytes in order.
func (h *periphHandle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	w := make([]byte, len(data)+1)
	w[0] = register
	copy(w[1:], data)
	return h.parent.tx(ctx, h.dev, w, nil)
}

func (h *periphHandle) Close() error {
	h.parent.mu.Lock()
	defer h.parent.mu.Unlock()
	if h.parent.handles[h.addr] == h {
		delete(h.parent.handles, h.addr)
	}
	return nil
}
