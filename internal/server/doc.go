// Package server implements the HTTP API for monitoring and managing the
// meeting session: health, statistics, sanitized configuration, mute
// control and Prometheus metrics.
package server
