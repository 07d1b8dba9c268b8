// Package inject provides test doubles whose behavior is set per test through
// function fields.
package inject

import (
	"context"
	"sync"

	"github.com/tars-em/motioncore/components/servo"
)

// ServoWriter is an injected servo writer. Every call is recorded, including
// ones that fail.
type ServoWriter struct {
	SetPositionFunc func(ctx context.Context, joint servo.JointID, angle float64) error

	mu    sync.Mutex
	calls []servo.JointAngle
}

// SetPosition records the call and then calls the injected function if any.
func (s *ServoWriter) SetPosition(ctx context.Context, joint servo.JointID, angle float64) error {
	s.mu.Lock()
	s.calls = append(s.calls, servo.JointAngle{Joint: joint, Angle: angle})
	s.mu.Unlock()
	if s.SetPositionFunc == nil {
		return nil
	}
	return s.SetPositionFunc(ctx, joint, angle)
}

// Calls returns every SetPosition call in order.
func (s *ServoWriter) Calls() []servo.JointAngle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]servo.JointAngle(nil), s.calls...)
}

// CallCount returns the number of SetPosition calls.
func (s *ServoWriter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Reset forgets the recorded calls.
func (s *ServoWriter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
