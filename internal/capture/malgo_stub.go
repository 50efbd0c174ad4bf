//go:build !cgo

package capture

import (
	"errors"
	"log/slog"
)

// NewDriver reports that local capture is unavailable without cgo.
// Network ingestion mode still works.
func NewDriver(logger *slog.Logger) (Driver, error) {
	return nil, errors.New("local audio capture requires a cgo build")
}
