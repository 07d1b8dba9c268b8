// Package operation tracks the command currently driving the servos.
package operation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type opidKeyType string

const opidKey = opidKeyType("opid")

// Operation is a command holding the motion lock.
type Operation struct {
	ID        uuid.UUID
	Method    string
	Arguments interface{}
	Started   time.Time

	manager *Manager
	cancel  context.CancelFunc
	done    chan struct{}
}

// Cancel cancels the context associated with an operation.
func (o *Operation) Cancel() {
	o.cancel()
}

// Done is closed once the operation has released the lock.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Get returns the current Operation. This can be nil.
func Get(ctx context.Context) *Operation {
	o, ok := ctx.Value(opidKey).(*Operation)
	if !ok {
		return nil
	}
	return o
}
