// Package audio holds the sample containers that flow through the caption
// pipeline: fixed-cadence capture chunks, mono transcription windows, the
// bounded producer/worker hand-off queue, and PCM-16 WAV conversion used for
// speech-recognition uploads and file playback.
package audio
