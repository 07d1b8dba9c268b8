// Package fake implements a scriptable input controller.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tars-em/motioncore/components/input"
)

var (
	_ = input.Controller(&InputController{})
	_ = input.Triggerable(&InputController{})
)

// InputController replays whatever events are triggered on it.
type InputController struct {
	name   string
	queue  *input.Queue
	mu     sync.Mutex
	closed bool
}

// NewInputController returns an empty controller.
func NewInputController(name string) *InputController {
	return &InputController{name: name, queue: input.NewQueue(0)}
}

// Name returns the controller name.
func (c *InputController) Name() string {
	return c.name
}

// Events drains the triggered events.
func (c *InputController) Events(ctx context.Context) ([]input.Event, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.New("input controller closed")
	}
	return c.queue.Drain(), nil
}

// TriggerEvent queues an event for the next Events call.
func (c *InputController) TriggerEvent(ctx context.Context, event input.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("input controller closed")
	}
	c.queue.Push(event)
	return nil
}

// Close marks the controller closed.
func (c *InputController) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
