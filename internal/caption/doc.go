// Package caption defines the events emitted by the caption pipeline and
// the sinks that deliver them: console output and a websocket broadcaster.
package caption
