// Package app provides application bootstrap and lifecycle management for
// ctrlloop.
//
// # Components
//
//   - Bootstrap (bootstrap.go): loads and validates configuration,
//     initializes logging and wires services; Run executes them.
//   - Services (services.go): builds the event source (Kubernetes dynamic
//     client or manifest directory), the informer and its cache, the
//     database printing controller, the manager and, when enabled, the
//     leader electing wrapper with a Lease lock.
//   - DatabasePrinter (printer.go): the reconciler. It reads each
//     Database from a namespace scoped lister and logs its spec.
//   - MetricsServer (server.go): Prometheus metrics from the
//     controller-runtime registry plus /healthz (lease renewal) and
//     /readyz (cache sync).
//   - Events (events.go): records Kubernetes Events for failed and
//     recovered reconciles and for leadership changes on the Lease.
//   - Lease inspection (lease.go): reads the current lease holder for the
//     lease command.
//
// # Lifecycle
//
// Informers start immediately and keep the cache warm. Controllers start
// once the caches synced and, under leader election, only while this
// process holds the lease. On shutdown controllers drain their in-flight
// reconciles before informers stop.
package app
