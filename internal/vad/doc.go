// Package vad measures voice activity on incoming audio. The meter is
// informational: it reports input level and the share of chunks that carry
// speech, but never withholds audio from transcription.
package vad
