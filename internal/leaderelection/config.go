package leaderelection

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// JitterFactor spreads acquire retries so that standby participants do not
// hit the lock in lockstep.
const JitterFactor = 1.2

// Callbacks are invoked on leadership transitions.
type Callbacks struct {
	// OnStartedLeading runs in its own goroutine when leadership is
	// acquired. ctx is cancelled when leadership is lost; the elector
	// waits for the function to return before reporting standby.
	OnStartedLeading func(ctx context.Context)

	// OnStoppedLeading is called after OnStartedLeading returned.
	OnStoppedLeading func()

	// OnNewLeader is called whenever a different holder is observed.
	OnNewLeader func(identity string)
}

// Config configures a LeaderElector.
type Config struct {
	Lock Lock

	// LeaseDuration is how long standby participants wait after the last
	// observed change of the record before taking over.
	LeaseDuration time.Duration

	// RenewDeadline bounds how long the leader keeps retrying a renewal
	// before giving up leadership.
	RenewDeadline time.Duration

	// RetryPeriod is the interval between acquire and renew attempts.
	RetryPeriod time.Duration

	Callbacks Callbacks

	// ReleaseOnCancel clears the holder when the run context is cancelled
	// so another participant can take over without waiting for expiry.
	ReleaseOnCancel bool

	// Name identifies the election in logs and metrics.
	Name string

	Clock clock.Clock
}

// Validate checks the timing relationships the election depends on.
func (c *Config) Validate() error {
	if c.Lock == nil {
		return fmt.Errorf("lock must not be nil")
	}
	if c.Lock.Identity() == "" {
		return fmt.Errorf("lock identity is empty")
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("leaseDuration must be greater than zero")
	}
	if c.RenewDeadline <= 0 {
		return fmt.Errorf("renewDeadline must be greater than zero")
	}
	if c.RetryPeriod <= 0 {
		return fmt.Errorf("retryPeriod must be greater than zero")
	}
	if c.LeaseDuration <= c.RenewDeadline {
		return fmt.Errorf("leaseDuration must be greater than renewDeadline")
	}
	if c.RenewDeadline <= time.Duration(JitterFactor*float64(c.RetryPeriod)) {
		return fmt.Errorf("renewDeadline must be greater than retryPeriod*JitterFactor")
	}
	if c.Callbacks.OnStartedLeading == nil {
		return fmt.Errorf("OnStartedLeading callback must not be nil")
	}
	if c.Callbacks.OnStoppedLeading == nil {
		return fmt.Errorf("OnStoppedLeading callback must not be nil")
	}
	return nil
}
