// Package pipeline wires an audio producer, the transcription buffer and
// the translation orchestrator into a start/stop caption pipeline that
// emits events to a caption sink.
package pipeline
