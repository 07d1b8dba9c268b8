package inject

import (
	"context"

	"github.com/tars-em/motioncore/components/input"
)

// InputController is an injected InputController.
type InputController struct {
	input.Controller
	NameFunc   func() string
	EventsFunc func(ctx context.Context) ([]input.Event, error)
	CloseFunc  func(ctx context.Context) error
}

// Name calls the injected Name or the real version.
func (s *InputController) Name() string {
	if s.NameFunc == nil {
		return s.Controller.Name()
	}
	return s.NameFunc()
}

// Events calls the injected Events or the real version.
func (s *InputController) Events(ctx context.Context) ([]input.Event, error) {
	if s.EventsFunc == nil {
		return s.Controller.Events(ctx)
	}
	return s.EventsFunc(ctx)
}

// Close calls the injected Close or the real version.
func (s *InputController) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		return s.Controller.Close(ctx)
	}
	return s.CloseFunc(ctx)
}
