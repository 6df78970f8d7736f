package leaderelection

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Lock.Get when no record exists yet.
	ErrNotFound = errors.New("leader election record not found")

	// ErrConflict is returned by Lock.Create and Lock.Update when the
	// record changed since it was read.
	ErrConflict = errors.New("leader election record changed concurrently")
)

// Record is the lease stored in the remote system.
type Record struct {
	// HolderIdentity is empty when the lease was released.
	HolderIdentity    string
	LeaseDuration     time.Duration
	AcquireTime       time.Time
	RenewTime         time.Time
	LeaderTransitions int
}

// Equal reports whether two records are the same. Times are compared to
// the microsecond, the precision lease objects are stored with.
func (r Record) Equal(o Record) bool {
	return r.HolderIdentity == o.HolderIdentity &&
		r.LeaseDuration == o.LeaseDuration &&
		r.LeaderTransitions == o.LeaderTransitions &&
		r.AcquireTime.Truncate(time.Microsecond).Equal(o.AcquireTime.Truncate(time.Microsecond)) &&
		r.RenewTime.Truncate(time.Microsecond).Equal(o.RenewTime.Truncate(time.Microsecond))
}

// Lock is a conditional read-modify-write store for one Record.
type Lock interface {
	// Get returns the current record and an opaque version for Update.
	Get(ctx context.Context) (*Record, string, error)

	// Create stores the first record. It fails with ErrConflict when a
	// record already exists.
	Create(ctx context.Context, record Record) (string, error)

	// Update replaces the record if it is still at version, returning the
	// new version. It fails with ErrConflict otherwise.
	Update(ctx context.Context, record Record, version string) (string, error)

	// Identity is the holder identity this participant claims.
	Identity() string

	// Describe names the lock in logs.
	Describe() string
}
