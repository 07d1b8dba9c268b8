package operation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tars-em/motioncore/logging"
)

// Manager lets one operation run at a time. Callers queue on Start. An
// operation started from a context that already carries one of this manager's
// operations is nested and does not wait.
type Manager struct {
	sem    chan struct{}
	logger logging.Logger

	mu      sync.Mutex
	current *Operation
}

// NewManager creates a Manager with no operation running.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{sem: make(chan struct{}, 1), logger: logger}
}

// Start waits for the lock and returns a context bound to the new operation
// along with the function that releases it. The release function may be
// called more than once.
func (m *Manager) Start(ctx context.Context, method string, args interface{}) (context.Context, *Operation, func(), error) {
	if op := Get(ctx); op != nil && op.manager == m {
		return ctx, op, func() {}, nil
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, nil, func() {}, ctx.Err()
	}

	op := &Operation{
		ID:        uuid.New(),
		Method:    method,
		Arguments: args,
		Started:   time.Now(),
		manager:   m,
		done:      make(chan struct{}),
	}
	ctx = context.WithValue(ctx, opidKey, op)
	ctx, op.cancel = context.WithCancel(ctx)

	m.mu.Lock()
	m.current = op
	m.mu.Unlock()
	m.logger.Debugw("operation started", "id", op.ID.String(), "method", method)

	var once sync.Once
	return ctx, op, func() {
		once.Do(func() {
			m.mu.Lock()
			if m.current == op {
				m.current = nil
			}
			m.mu.Unlock()
			op.cancel()
			close(op.done)
			<-m.sem
			m.logger.Debugw("operation finished", "id", op.ID.String(), "method", method,
				"elapsed", time.Since(op.Started).String())
		})
	}, nil
}

// Current returns the running operation. This can be nil.
func (m *Manager) Current() *Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OpRunning returns if there is a current operation.
func (m *Manager) OpRunning() bool {
	return m.Current() != nil
}

// CancelRunning cancels the running operation and waits until it has released
// the lock or ctx is done. An operation does not cancel itself.
func (m *Manager) CancelRunning(ctx context.Context) {
	op := m.Current()
	if op == nil || Get(ctx) == op {
		return
	}
	op.Cancel()
	select {
	case <-op.Done():
	case <-ctx.Done():
	}
}
