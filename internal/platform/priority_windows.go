//go:build windows

package platform

import (
	"golang.org/x/sys/windows"

	"github.com/snisim/pytakt/sdk/contracts"
)

const threadPriorityTimeCritical = 15

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadPriority = kernel32.NewProc("SetThreadPriority")
	procGetCurrentThread  = kernel32.NewProc("GetCurrentThread")
)

// RaiseThreadPriority moves the calling thread to TIME_CRITICAL priority.
// The caller must be locked to its OS thread. Failure is a warning, not fatal.
func RaiseThreadPriority(log contracts.Logger) {
	thread, _, _ := procGetCurrentThread.Call()
	r, _, err := procSetThreadPriority.Call(thread, threadPriorityTimeCritical)
	if r == 0 {
		log.Warn("could not raise scheduling priority", log.Field().Error("error", err))
	}
}
