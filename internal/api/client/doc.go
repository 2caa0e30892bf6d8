// Package client is a typed client for the bridge's REST surface, built on
// resty with a retryablehttp transport. The server binary uses it for its
// -healthcheck mode.
package client
