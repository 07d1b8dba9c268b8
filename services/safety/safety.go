// Package safety implements the gate every motion passes through: a command
// rate limiter, angle bounds, and a connection watchdog that latches an
// emergency when it is not fed.
package safety

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/tars-em/motioncore/logging"
	"github.com/tars-em/motioncore/utils"
)

var (
	// ErrEmergencyLatched is returned for motion refused because of the emergency latch.
	ErrEmergencyLatched = errors.New("emergency latched")
	// ErrRateLimited is returned for motion refused by the rate limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrOutOfBounds is returned for a target angle outside the configured bounds.
	ErrOutOfBounds = errors.New("angle out of bounds")
)

// Defaults.
const (
	DefaultRateLimit         = 100 * time.Millisecond
	DefaultConnectionTimeout = 3 * time.Second
	DefaultMinAngle          = -1.0
	DefaultMaxAngle          = 1.0
)

// Config tunes the gate.
type Config struct {
	RateLimit         time.Duration
	ConnectionTimeout time.Duration
	MinAngle          float64
	MaxAngle          float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		RateLimit:         DefaultRateLimit,
		ConnectionTimeout: DefaultConnectionTimeout,
		MinAngle:          DefaultMinAngle,
		MaxAngle:          DefaultMaxAngle,
	}
}

// State is a snapshot of the gate.
type State struct {
	LastCommand       time.Time
	LastWatchdogFeed  time.Time
	EmergencyLatched  bool
	EmergencyReason   string
	RateLimit         time.Duration
	ConnectionTimeout time.Duration
	MinAngle          float64
	MaxAngle          float64
}

// Gate is shared by the movement controller and the input pipeline. All
// methods are safe for concurrent use.
type Gate struct {
	cfg     Config
	clock   clock.Clock
	logger  logging.Logger
	limiter *rate.Limiter

	mu            sync.Mutex
	lastCommand   time.Time
	lastFeed      time.Time
	latched       bool
	latchedReason string

	workers utils.StoppableWorkers
}

// NewGate builds a gate. Zero fields in cfg take their defaults and a nil
// clock selects the wall clock.
func NewGate(cfg Config, clk clock.Clock, logger logging.Logger) *Gate {
	defaults := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if cfg.MinAngle == 0 && cfg.MaxAngle == 0 {
		cfg.MinAngle, cfg.MaxAngle = defaults.MinAngle, defaults.MaxAngle
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
		lastFeed: clk.Now(),
	}
}

// Config returns the effective settings.
func (g *Gate) Config() Config {
	return g.cfg
}

// CheckMoveAllowed consumes the single motion token. It returns false when
// the previous allowed move was less than the rate limit ago.
func (g *Gate) CheckMoveAllowed() bool {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.limiter.AllowN(now, 1) {
		return false
	}
	g.lastCommand = now
	return true
}

// CheckBounds reports whether angle lies within the configured bounds.
// NaN is never within bounds.
func (g *Gate) CheckBounds(angle float64) bool {
	return angle >= g.cfg.MinAngle && angle <= g.cfg.MaxAngle
}

// FeedWatchdog records liveness of the input source.
func (g *Gate) FeedWatchdog() {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastFeed = now
}

// TriggerEmergency sets the latch. Only the first reason is kept.
func (g *Gate) TriggerEmergency(reason string) {
	g.mu.Lock()
	if g.latched {
		g.mu.Unlock()
		return
	}
	g.latched = true
	g.latchedReason = reason
	g.mu.Unlock()
	g.logger.Errorw("emergency latched", "reason", reason)
}

// IsEmergency reports whether the latch is set.
func (g *Gate) IsEmergency() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}

// Reset clears the latch and restarts the watchdog window from now. This is
// the only way to clear an emergency.
func (g *Gate) Reset() {
	now := g.clock.Now()
	g.mu.Lock()
	wasLatched := g.latched
	g.latched = false
	g.latchedReason = ""
	g.lastFeed = now
	g.mu.Unlock()
	if wasLatched {
		g.logger.Warn("emergency latch reset")
	}
}

// checkWatchdog latches the emergency if no feed arrived within the timeout.
func (g *Gate) checkWatchdog() {
	now := g.clock.Now()
	g.mu.Lock()
	starved := !g.latched && now.Sub(g.lastFeed) > g.cfg.ConnectionTimeout
	since := now.Sub(g.lastFeed)
	g.mu.Unlock()
	if starved {
		g.logger.Warnw("watchdog starved", "since_last_feed", since.String())
		g.TriggerEmergency("watchdog timeout")
	}
}

// Start runs the watchdog check every connection timeout until Close.
func (g *Gate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.workers != nil {
		return
	}
	g.workers = utils.NewStoppableWorkerWithTicker(g.clock, g.cfg.ConnectionTimeout, func(context.Context) {
		g.checkWatchdog()
	})
}

// Close stops the watchdog.
func (g *Gate) Close() {
	g.mu.Lock()
	workers := g.workers
	g.workers = nil
	g.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
}

// State returns a snapshot.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		LastCommand:       g.lastCommand,
		LastWatchdogFeed:  g.lastFeed,
		EmergencyLatched:  g.latched,
		EmergencyReason:   g.latchedReason,
		RateLimit:         g.cfg.RateLimit,
		ConnectionTimeout: g.cfg.ConnectionTimeout,
		MinAngle:          g.cfg.MinAngle,
		MaxAngle:          g.cfg.MaxAngle,
	}
}
