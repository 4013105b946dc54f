//go:build !darwin

// Package coremidi is the macOS backend. On other platforms only a stub
// constructor is compiled; the per-OS factory never selects it there.
package coremidi

import (
	"errors"

	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrUnavailable is returned when the backend is requested off-platform.
var ErrUnavailable = errors.New("CoreMIDI backend is only available on macOS")

// New fails on non-macOS systems.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	return nil, ErrUnavailable
}
