// Package leaderelection makes sure at most one process of a fleet runs the
// controllers at a time.
//
// Participants compete for a lease record held in a remote store through a
// conditional update. The holder renews the record every RetryPeriod; if a
// renewal does not succeed within RenewDeadline the holder cancels its
// leading context, waits for the callback to return and only then reports
// standby. Standby participants take over once the record has not changed
// for LeaseDuration as measured on their own clock, so clock skew between
// hosts does not matter.
//
// Backends: kubelock stores the record in a coordination.k8s.io/v1 Lease.
package leaderelection
