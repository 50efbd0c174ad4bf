// Package ingestion accepts audio pushed by a remote producer, typically a
// browser tab, over a websocket and feeds it to the caption pipeline in
// place of local capture. Each binary message is one chunk of little-endian
// float32 mono PCM.
package ingestion
