//go:build linux

package gamepad

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/viamrobotics/evdev"
	goutils "go.viam.com/utils"

	"github.com/tars-em/motioncore/components/input"
	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/utils"
)

var _ = input.Controller(&Controller{})

// Controller is an evdev gamepad. It reconnects on its own and reports each
// (re)connection and disconnection as an event.
type Controller struct {
	cfg     Config
	logger  logging.Logger
	queue   *input.Queue
	workers utils.StoppableWorkers

	mu   sync.Mutex
	name string
}

// New starts watching for the configured device. It does not fail when no
// gamepad is plugged in yet.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Controller, error) {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger,
		queue:  input.NewQueue(0),
		name:   "gamepad",
	}
	c.workers = utils.NewStoppableWorkers(c.run)
	return c, nil
}

// Name returns the device name reported by the kernel.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Events drains the events read since the previous call.
func (c *Controller) Events(ctx context.Context) ([]input.Event, error) {
	return c.queue.Drain(), nil
}

// Close stops reading and releases the device.
func (c *Controller) Close(ctx context.Context) error {
	c.workers.Stop()
	if dropped := c.queue.Dropped(); dropped > 0 {
		c.logger.Warnw("gamepad events dropped", "count", dropped)
	}
	return nil
}

func (c *Controller) run(ctx context.Context) {
	for {
		dev, path, err := c.open()
		if err != nil {
			c.logger.Debugw("no gamepad available", "error", err)
			if !goutils.SelectContextOrWait(ctx, c.cfg.ReconnectInterval) {
				return
			}
			continue
		}
		c.serve(ctx, dev, path)
		if ctx.Err() != nil {
			return
		}
	}
}

// eventDevices is where the kernel exposes evdev nodes.
var eventDevices = "/dev/input/event*"

// Device is an evdev node found while scanning for gamepads.
type Device struct {
	Path    string
	Name    string
	Gamepad bool
}

// Devices lists the readable input devices and flags the ones that look like
// gamepads.
func Devices() ([]Device, error) {
	paths, err := filepath.Glob(eventDevices)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, path := range paths {
		dev, err := evdev.OpenFile(path)
		if err != nil {
			continue
		}
		devices = append(devices, Device{Path: path, Name: dev.Name(), Gamepad: looksLikeGamepad(dev)})
		goutils.UncheckedError(dev.Close())
	}
	return devices, nil
}

func (c *Controller) open() (*evdev.Evdev, string, error) {
	if c.cfg.DevicePath != "" {
		dev, err := evdev.OpenFile(c.cfg.DevicePath)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to open %s", c.cfg.DevicePath)
		}
		return dev, c.cfg.DevicePath, nil
	}

	paths, err := filepath.Glob(eventDevices)
	if err != nil {
		return nil, "", err
	}
	for _, path := range paths {
		dev, err := evdev.OpenFile(path)
		if err != nil {
			continue
		}
		if looksLikeGamepad(dev) {
			return dev, path, nil
		}
		goutils.UncheckedError(dev.Close())
	}
	return nil, "", errors.New("no gamepad found under /dev/input")
}

// looksLikeGamepad accepts devices with both stick axes that are not touchpads.
func looksLikeGamepad(dev *evdev.Evdev) bool {
	name := strings.ToLower(dev.Name())
	if strings.Contains(name, "touchpad") || strings.Contains(name, "mouse") {
		return false
	}
	abs := dev.AbsoluteTypes()
	_, hasX := abs[evdev.AbsoluteType(absX)]
	_, hasY := abs[evdev.AbsoluteType(absY)]
	return hasX && hasY
}

func (c *Controller) serve(ctx context.Context, dev *evdev.Evdev, path string) {
	defer func() {
		goutils.UncheckedError(dev.Close())
	}()

	axes := map[uint16]axisRange{}
	for code, info := range dev.AbsoluteTypes() {
		axes[uint16(code)] = axisRange{min: info.Min, max: info.Max}
	}
	c.mu.Lock()
	c.name = dev.Name()
	c.mu.Unlock()

	c.logger.Infow("gamepad connected", "name", dev.Name(), "path", path)
	c.queue.Push(input.Event{Time: time.Now(), Event: input.Connect})

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := dev.Poll(pollCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok || env == nil {
				c.logger.Warnw("gamepad disconnected", "path", path)
				c.queue.Push(input.Event{Time: time.Now(), Event: input.Disconnect})
				return
			}
			raw := rawEvent{Type: uint16(env.Event.Type), Code: uint16(env.Event.Code), Value: int32(env.Event.Value)}
			if ev, ok := translate(raw, axes, time.Now()); ok {
				c.queue.Push(ev)
			}
		}
	}
}
