// Package manager composes informers and controllers into one lifecycle.
//
// Informers is the shared set of event sources and caches. Manager runs the
// informers, waits until every cache synced and then runs all registered
// controllers; on shutdown the controllers stop before the informers.
// LeaderElectingManager keeps the informers running on every replica and
// runs the controllers only on the current leader.
package manager
