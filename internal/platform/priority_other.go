//go:build !linux && !windows

package platform

import "github.com/snisim/pytakt/sdk/contracts"

// RaiseThreadPriority is a no-op where the runtime offers no portable way to
// change a single thread's scheduling class without cgo.
func RaiseThreadPriority(log contracts.Logger) {
	log.Debug("thread priority elevation not supported on this platform")
}
