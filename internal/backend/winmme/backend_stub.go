//go:build !windows

// Package winmme is the Windows backend over the multimedia extensions. On
// other platforms only a stub constructor is compiled; the per-OS factory
// never selects it there.
package winmme

import (
	"errors"

	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrUnavailable is returned when the backend is requested off-platform.
var ErrUnavailable = errors.New("MME backend is only available on Windows")

// New fails on non-Windows systems.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	return nil, ErrUnavailable
}
