// Package protocol implements the binary frame format of the network audio
// ingestion path: each websocket message carries one chunk of little-endian
// 32-bit float mono PCM at the pipeline sample rate.
package protocol
