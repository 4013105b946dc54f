//go:build linux

package platform

import (
	"golang.org/x/sys/unix"

	"github.com/snisim/pytakt/sdk/contracts"
)

// schedRRMaxPriority is sched_get_priority_max(SCHED_RR) on Linux.
const schedRRMaxPriority = 99

// RaiseThreadPriority moves the calling thread to the real-time round-robin
// class at maximum priority. The caller must be locked to its OS thread.
// Failure (typically missing CAP_SYS_NICE) is a warning, not fatal.
func RaiseThreadPriority(log contracts.Logger) {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_RR,
		Priority: schedRRMaxPriority,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		log.Warn("could not raise scheduling priority", log.Field().Error("error", err))
	}
}
