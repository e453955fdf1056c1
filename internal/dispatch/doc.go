// Package dispatch owns the draw queue and the engine slot pool. It is
// structured into small files by concern:
//
//   - dispatcher.go: Dispatcher type, admission (Submit) and the pump that
//     matches queued requests to free slots.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: request/slot state types, Result and Ticket.
//   - errors.go: admission errors and lookup errors.
//   - pool.go: slot selection, enable/disable and health probing.
//   - cancel.go: Cancel and Shutdown.
//   - estimate.go: queue position and wait-time estimation.
//   - status_report.go: Status/Lookup reporting helpers.
//   - events.go, eventlog.go: lifecycle events and the bounded event history.
//   - metrics.go: Prometheus collectors.
//
// All queue and slot state is guarded by a single mutex. Engine executions run
// on their own goroutines and report back through complete, which is the only
// place a slot leaves Busy.
package dispatch
