// Package capture selects a system-audio input device and streams it as
// fixed-duration chunks. Device access goes through a Driver; the default
// driver uses miniaudio and needs cgo.
package capture
