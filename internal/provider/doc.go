// Package provider serves the smart card provider API on top of the PC/SC
// backend module.
//
// Requests arrive as events from an EventSource. Each accepted event runs
// on its own goroutine: it waits for the backend to become ready, issues
// one remote call and reports the outcome through the Reporter. Requests
// keyed by an SCARDCONTEXT are checked against the contexts this provider
// established; card handles are checked by the backend.
//
// Once the backend module or readiness tracker goes away the provider
// disposes itself. Waiting requests are reported with NO_SERVICE and later
// events are dropped.
package provider
