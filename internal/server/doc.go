// Package server exposes the HTTP control and monitoring API: health and
// status, pipeline start/stop, live target language and AI toggles, the
// caption websocket and Prometheus metrics.
package server
