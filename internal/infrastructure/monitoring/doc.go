/*
Package monitoring provides Prometheus metrics for the smart card bridge.

# Overview

Collectors are registered against a caller-supplied prometheus.Registerer,
so the server and every test can own an isolated registry.

# Features

- HTTP request metrics (latency, status)
- Backend module lifecycle (state, starts, faults, restarts)
- Backend request correlation (issued, pending, settlement latency)
- API provider sessions and reports by result code
- WebSocket connection metrics

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "pcsc_lite_function_call")
	// ... await the response ...
	timer.Stop("ok")
*/
package monitoring
