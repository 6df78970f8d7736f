package leaderelection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const subsystem = "LeaderElection"

// State is the position of a participant in the election.
type State string

const (
	StateStandby   State = "Standby"
	StateAcquiring State = "Acquiring"
	StateLeading   State = "Leading"
	StateRenewing  State = "Renewing"
	// StateExpired means a renewal did not succeed within the deadline.
	StateExpired State = "Expired"
	// StateReleased means leadership was given up on cancellation.
	StateReleased State = "Released"
)

// LeaderElector runs one participant of a leader election.
type LeaderElector struct {
	config Config
	clock  clock.Clock

	mu sync.Mutex

	// observedRecord is the last record read or written, observedTime the
	// local time it last changed. Expiry is judged on the local clock only.
	observedRecord  Record
	observedVersion string
	observedTime    time.Time

	reportedLeader string
	state          State
}

// NewLeaderElector validates config and creates an elector.
func NewLeaderElector(config Config) (*LeaderElector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := config.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	if config.Name == "" {
		config.Name = config.Lock.Describe()
	}
	return &LeaderElector{
		config: config,
		clock:  c,
		state:  StateStandby,
	}, nil
}

// Run takes part in the election until ctx is cancelled. Losing leadership
// returns the participant to standby and it competes again.
func (le *LeaderElector) Run(ctx context.Context) {
	defer le.setState(StateStandby)

	for {
		if !le.acquire(ctx) {
			return
		}
		le.lead(ctx)
		if ctx.Err() != nil {
			return
		}
		le.setState(StateStandby)
	}
}

// acquire loops until leadership is obtained or ctx is cancelled.
func (le *LeaderElector) acquire(ctx context.Context) bool {
	le.setState(StateAcquiring)
	logging.Info(subsystem, "Attempting to acquire lease %s as %s", le.config.Lock.Describe(), le.config.Lock.Identity())

	for {
		if le.tryAcquireOrRenew(ctx) {
			le.setState(StateLeading)
			recordLeading(le.config.Name, true)
			logging.Info(subsystem, "Acquired lease %s", le.config.Lock.Describe())
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-le.clock.After(wait.Jitter(le.config.RetryPeriod, JitterFactor)):
		}
	}
}

// lead runs the leading callback and renews until renewal fails or ctx is
// cancelled. The callback is always stopped before leadership is given up.
func (le *LeaderElector) lead(ctx context.Context) {
	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		le.config.Callbacks.OnStartedLeading(leaderCtx)
	}()

	renewed := le.renewLoop(ctx)

	cancel()
	<-done

	if renewed && le.config.ReleaseOnCancel {
		le.release()
		le.setState(StateReleased)
	} else if !renewed {
		le.setState(StateExpired)
		recordLost(le.config.Name)
		logging.Warn(subsystem, "Failed to renew lease %s within %s", le.config.Lock.Describe(), le.config.RenewDeadline)
	}

	recordLeading(le.config.Name, false)
	le.config.Callbacks.OnStoppedLeading()
}

// renewLoop returns false when a renewal failed and true when ctx was
// cancelled while still holding the lease.
func (le *LeaderElector) renewLoop(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-le.clock.After(le.config.RetryPeriod):
		}

		le.setState(StateRenewing)
		if !le.renew(ctx) {
			return ctx.Err() != nil
		}
		le.setState(StateLeading)
	}
}

// renew retries tryAcquireOrRenew every RetryPeriod until it succeeds or
// RenewDeadline has passed.
func (le *LeaderElector) renew(ctx context.Context) bool {
	deadline := le.clock.Now().Add(le.config.RenewDeadline)
	for {
		if le.tryAcquireOrRenew(ctx) {
			return true
		}
		if !le.clock.Now().Add(le.config.RetryPeriod).Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-le.clock.After(le.config.RetryPeriod):
		}
	}
}

// tryAcquireOrRenew makes one attempt to create, take over or renew the
// record. It returns true if this participant holds the lease afterwards.
func (le *LeaderElector) tryAcquireOrRenew(ctx context.Context) bool {
	now := le.clock.Now()
	identity := le.config.Lock.Identity()
	desired := Record{
		HolderIdentity: identity,
		LeaseDuration:  le.config.LeaseDuration,
		AcquireTime:    now,
		RenewTime:      now,
	}

	callCtx, cancel := context.WithTimeout(ctx, le.config.RenewDeadline)
	defer cancel()

	current, version, err := le.config.Lock.Get(callCtx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.Debug(subsystem, "Error retrieving lease %s: %v", le.config.Lock.Describe(), err)
			return false
		}
		newVersion, err := le.config.Lock.Create(callCtx, desired)
		if err != nil {
			logging.Debug(subsystem, "Error creating lease %s: %v", le.config.Lock.Describe(), err)
			return false
		}
		le.observe(desired, newVersion, now)
		return true
	}

	le.observe(*current, version, now)

	if current.HolderIdentity != "" && current.HolderIdentity != identity && !le.observedExpired(now) {
		logging.Debug(subsystem, "Lease %s is held by %s and has not expired", le.config.Lock.Describe(), current.HolderIdentity)
		return false
	}

	if current.HolderIdentity == identity {
		desired.AcquireTime = current.AcquireTime
		desired.LeaderTransitions = current.LeaderTransitions
	} else {
		desired.LeaderTransitions = current.LeaderTransitions + 1
	}

	newVersion, err := le.config.Lock.Update(callCtx, desired, version)
	if err != nil {
		logging.Debug(subsystem, "Error updating lease %s: %v", le.config.Lock.Describe(), err)
		return false
	}
	le.observe(desired, newVersion, now)
	return true
}

// release clears the holder so another participant can take over at once.
func (le *LeaderElector) release() {
	le.mu.Lock()
	record := le.observedRecord
	version := le.observedVersion
	le.mu.Unlock()

	if record.HolderIdentity != le.config.Lock.Identity() {
		return
	}

	now := le.clock.Now()
	released := Record{
		LeaseDuration:     time.Second,
		AcquireTime:       now,
		RenewTime:         now,
		LeaderTransitions: record.LeaderTransitions,
	}

	ctx, cancel := context.WithTimeout(context.Background(), le.config.RenewDeadline)
	defer cancel()

	newVersion, err := le.config.Lock.Update(ctx, released, version)
	if err != nil {
		logging.Error(subsystem, err, "Failed to release lease %s", le.config.Lock.Describe())
		return
	}
	le.observe(released, newVersion, now)
	logging.Info(subsystem, "Released lease %s", le.config.Lock.Describe())
}

// observe records what was read or written. observedTime only moves when
// the record content changes.
func (le *LeaderElector) observe(record Record, version string, now time.Time) {
	le.mu.Lock()
	changed := !record.Equal(le.observedRecord)
	if changed {
		le.observedRecord = record
		le.observedTime = now
	}
	le.observedVersion = version
	holder := record.HolderIdentity
	report := holder != "" && holder != le.reportedLeader
	if report {
		le.reportedLeader = holder
	}
	le.mu.Unlock()

	if report && le.config.Callbacks.OnNewLeader != nil {
		go le.config.Callbacks.OnNewLeader(holder)
	}
}

func (le *LeaderElector) observedExpired(now time.Time) bool {
	le.mu.Lock()
	defer le.mu.Unlock()

	duration := le.observedRecord.LeaseDuration
	if duration <= 0 {
		duration = le.config.LeaseDuration
	}
	return !le.observedTime.Add(duration).After(now)
}

func (le *LeaderElector) setState(s State) {
	le.mu.Lock()
	prev := le.state
	le.state = s
	le.mu.Unlock()

	if prev != s {
		logging.Debug(subsystem, "Election %s: %s -> %s", le.config.Name, prev, s)
	}
}

// State returns the current position in the election.
func (le *LeaderElector) State() State {
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.state
}

// IsLeader reports whether this participant currently holds the lease.
func (le *LeaderElector) IsLeader() bool {
	le.mu.Lock()
	defer le.mu.Unlock()
	return (le.state == StateLeading || le.state == StateRenewing) &&
		le.observedRecord.HolderIdentity == le.config.Lock.Identity()
}

// GetLeader returns the last observed holder identity.
func (le *LeaderElector) GetLeader() string {
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.observedRecord.HolderIdentity
}

// Check is a health check. It fails when this participant believes it
// leads but has not renewed for longer than the lease duration plus
// maxTolerableExpiredLease.
func (le *LeaderElector) Check(maxTolerableExpiredLease time.Duration) error {
	if !le.IsLeader() {
		return nil
	}

	le.mu.Lock()
	defer le.mu.Unlock()
	if le.clock.Since(le.observedTime) > le.config.LeaseDuration+maxTolerableExpiredLease {
		return fmt.Errorf("failed election to renew leadership on lease %s", le.config.Name)
	}
	return nil
}
