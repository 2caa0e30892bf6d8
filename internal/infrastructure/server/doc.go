// Package server assembles the bridge: the backend supervisor, the gin
// router with its middleware chain, the websocket session handler and the
// Prometheus endpoint.
package server
