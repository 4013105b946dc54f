//go:build !linux

// Package alsaseq is the Linux backend, speaking to the ALSA sequencer
// through the rtmidi driver. On other platforms only a stub constructor is
// compiled; the per-OS factory never selects it there.
package alsaseq

import (
	"errors"

	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrUnavailable is returned when the backend is requested off-platform.
var ErrUnavailable = errors.New("ALSA backend is only available on Linux")

// New fails on non-Linux systems.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	return nil, ErrUnavailable
}
