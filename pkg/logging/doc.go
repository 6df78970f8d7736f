// Package logging provides the structured logging facade used across ctrlloop.
//
// The package is a thin layer over Go's slog package. Every entry carries a
// subsystem name so output from the cache, queue, controllers and leader
// election can be filtered independently.
//
// # Log Levels
//   - **Debug**: per-key queue and reconcile activity
//   - **Info**: lifecycle (sources started, caches synced, leadership changes)
//   - **Warn**: retried failures (watch errors, reconcile errors, renew failures)
//   - **Error**: failures that stop a component
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	logging.Info("Informer", "Cache synced with %d objects", n)
//	logging.Error("Controller", err, "Reconcile of %s failed", key)
//
// # Controller-Runtime and client-go
//
// Init also installs the same handler as controller-runtime's logr sink and
// as klog's slog backend, so messages from client-go (reflector warnings,
// REST client throttling) end up in the same stream and format.
//
// # Thread Safety
//
// Logging functions are safe for concurrent use. Init is expected to be
// called once during startup, before components begin logging.
package logging
