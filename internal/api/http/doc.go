// Package http serves the bridge's REST surface: health, backend module
// status, the simulated device set and a JSON metrics snapshot.
package http
