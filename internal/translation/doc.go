// Package translation turns transcribed text into the caption language.
//
// The Orchestrator tries an AI backend first and silently falls back to a
// literal machine-translation backend with bounded retries. Both paths share
// best-effort source language detection and skip the network entirely when
// the text is already in the target language.
package translation
