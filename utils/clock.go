package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// SleepContext waits for d on clk. It returns the context error if ctx ends
// first. Non-positive durations only check the context.
func SleepContext(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ScaleDuration divides d by speed. A non-positive speed leaves d unchanged.
func ScaleDuration(d time.Duration, speed float64) time.Duration {
	if speed <= 0 {
		return d
	}
	return time.Duration(float64(d) / speed)
}
