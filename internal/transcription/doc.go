// Package transcription turns buffered audio into text.
//
// Buffer accumulates capture chunks until enough speech context is available
// and hands a bounded window to a Transcriber. The Transcriber owns the model
// load contract, input normalisation and error taxonomy, and delegates the
// actual inference to a Backend: a whisper.cpp HTTP server or an
// OpenAI-compatible transcription API.
package transcription
