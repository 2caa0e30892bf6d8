// Package main is the entry point for the smart card connector server.
//
// The server runs a PC/SC backend module, either the in-process simulated
// daemon or a child process speaking newline-delimited JSON, and bridges it
// to browser clients over WebSocket. Each connection is an isolated
// provider session.
//
//	Client (WebSocket) → provider session → requester → module channel → backend
//
// Endpoints:
//   - GET /ws: provider session
//   - GET /health, GET /v1/module: backend status
//   - GET|PUT /v1/simulation/devices: simulated USB readers
//   - GET /metrics, GET /metrics/json
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Simulated backend with a device file
//	./server -devices devices.yaml
//
//	# Child process backend
//	./server -backend process -backend-path ./pcscsim -backend-args "-poll 100ms"
//
//	# Container health check against a running server
//	./server -healthcheck
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
