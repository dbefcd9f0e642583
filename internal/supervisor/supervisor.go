// Package supervisor owns the connection lifecycle of one driver: the
// DISCONNECTED → CONNECTING → CONNECTED → FAULTED state machine, the backoff
// schedule between retries and the two-strike health rule. Connection level
// errors end here; they are never surfaced to the scheduler or the engine as
// errors, only as state.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/events"
	"github.com/Simumatik/simumatik-driver-manager/internal/retry"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateFaulted      State = "FAULTED"
)

// consecutive health probe failures tolerated before faulting
const healthFailureLimit = 2

// Snapshot is the externally visible supervisor state, served by the REST
// API and the websocket hub.
type Snapshot struct {
	Driver        string    `json:"driver"`
	State         State     `json:"state"`
	LastError     string    `json:"last_error,omitempty"`
	Attempts      int       `json:"connect_attempts"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`
	LastTransition time.Time `json:"last_transition"`
}

type Supervisor struct {
	name   string
	drv    driver.Driver
	params driver.Params
	policy retry.Policy
	bus    *events.Bus
	logger *zap.Logger

	mu           sync.RWMutex
	state        State
	lastErr      error
	attempts     int
	retryAt      time.Time
	healthFails  int
	transitionAt time.Time
	stopped      bool
}

func New(name string, drv driver.Driver, params driver.Params, policy retry.Policy, bus *events.Bus, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		name:         name,
		drv:          drv,
		params:       params,
		policy:       policy.Normalize(),
		bus:          bus,
		logger:       logger,
		state:        StateDisconnected,
		transitionAt: time.Now(),
	}
}

func (s *Supervisor) Name() string { return s.name }

// Driver exposes the adapter for the scheduler's cycle execution. Nothing
// else may touch it.
func (s *Supervisor) Driver() driver.Driver { return s.drv }

// Params returns the connection parameters the registration was built with.
func (s *Supervisor) Params() driver.Params { return s.params }

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) Info() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Driver:         s.name,
		State:          s.state,
		Attempts:       s.attempts,
		LastTransition: s.transitionAt,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	if s.state == StateFaulted {
		snap.NextRetryAt = s.retryAt
	}
	return snap
}

// ShouldAttemptConnect tells the scheduler whether a connect attempt is due:
// fresh drivers connect immediately, faulted drivers wait out their backoff
// delay, stopped drivers never reconnect.
func (s *Supervisor) ShouldAttemptConnect(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return false
	}
	switch s.state {
	case StateDisconnected:
		return true
	case StateFaulted:
		return !now.Before(s.retryAt)
	}
	return false
}

// Connect drives DISCONNECTED/FAULTED → CONNECTING → CONNECTED|FAULTED.
// Calling it while already connected is a no-op, mirroring the idempotency
// required from the adapters themselves.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	err := s.drv.Connect(ctx, s.params)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		// Stop raced the connect attempt. Leave the terminal state alone.
		return nil
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = driver.Timeoutf("connect to %s: %v", s.params.Endpoint, err)
		}
		s.faultLocked(err)
		return err
	}
	s.attempts = 0
	s.healthFails = 0
	s.setStateLocked(StateConnected)
	return nil
}

// UpdateVariables replaces the variable set handed to the adapter at connect
// time. A connected driver is disconnected and goes back through the connect
// path, so the adapter rebuilds its address map and subscriptions with the
// new set; a connect already in flight keeps the old set until its next
// reconnect.
func (s *Supervisor) UpdateVariables(ctx context.Context, defs []driver.VariableDef) {
	s.mu.Lock()
	s.params.Variables = defs
	reconnect := !s.stopped && s.state == StateConnected
	if reconnect {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	if reconnect {
		if err := s.drv.Disconnect(ctx); err != nil {
			s.logger.Warn("Driver disconnect failed",
				zap.String("driver", s.name),
				zap.Error(err))
		}
	}
}

// Fault records a connection level error from a cycle: CONNECTED|CONNECTING
// → FAULTED with the next retry scheduled by the backoff policy.
func (s *Supervisor) Fault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.state == StateFaulted || s.state == StateDisconnected {
		return
	}
	s.faultLocked(err)
}

// HealthFailure counts a failed probe and faults the driver on the second
// consecutive one. It reports whether the driver is now faulted.
func (s *Supervisor) HealthFailure(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return s.state == StateFaulted
	}
	s.healthFails++
	if s.healthFails >= healthFailureLimit {
		s.faultLocked(driver.Transportf("health check failed %d times: %v", s.healthFails, err))
		return true
	}
	s.lastErr = err
	return false
}

// HealthOK resets the consecutive failure counter.
func (s *Supervisor) HealthOK() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthFails = 0
}

// Stop moves the driver to the terminal DISCONNECTED state and disconnects
// the adapter. Every state may transition here.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasConnected := s.state == StateConnected || s.state == StateConnecting
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if wasConnected {
		if err := s.drv.Disconnect(ctx); err != nil {
			s.logger.Warn("Driver disconnect failed",
				zap.String("driver", s.name),
				zap.Error(err))
		}
	}
}

// Stopped reports whether the supervisor reached its terminal state.
func (s *Supervisor) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *Supervisor) faultLocked(err error) {
	s.lastErr = err
	delay := s.policy.Delay(s.attempts)
	s.attempts++
	s.retryAt = time.Now().Add(delay)
	s.healthFails = 0
	s.setStateLocked(StateFaulted)
	s.logger.Warn("Driver faulted",
		zap.String("driver", s.name),
		zap.Duration("retry_in", delay),
		zap.Error(err))
}

// setStateLocked transitions and emits the lifecycle event. Callers hold mu.
func (s *Supervisor) setStateLocked(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.transitionAt = time.Now()

	s.logger.Info("Driver state changed",
		zap.String("driver", s.name),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	if s.bus != nil {
		s.bus.DriverState(s.name, string(next))
	}
}
