// Package generic is the portable fallback backend. It provides the clock
// and the wait/terminate protocol but exposes no MIDI devices, so only the
// dummy and loopback device numbers are usable with it.
package generic

import (
	"errors"

	"github.com/snisim/pytakt/internal/backend/inqueue"
	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrNoDevices is returned for every open request.
var ErrNoDevices = errors.New("no MIDI devices on this platform")

// Backend implements contracts.Backend without any device I/O.
type Backend struct {
	clk *platform.Clock
	buf *inqueue.Buffer
}

// New creates the backend. It never fails.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	return &Backend{clk: platform.NewClock(), buf: inqueue.New()}, nil
}

func (b *Backend) Name() string { return "generic" }

func (b *Backend) Now() float64 { return b.clk.Now() }

func (b *Backend) OutputDevices() []contracts.DeviceInfo { return nil }

func (b *Backend) InputDevices() []contracts.DeviceInfo { return nil }

func (b *Backend) DefaultOutputDevice() int { return -1 }

func (b *Backend) DefaultInputDevice() int { return -1 }

func (b *Backend) OpenOutput(devNum int) (contracts.OutputDevice, error) {
	return nil, ErrNoDevices
}

func (b *Backend) OpenInput(devNum int) (contracts.InputDevice, error) {
	return nil, ErrNoDevices
}

// DeviceWait blocks until TerminateDeviceWait is called; nothing ever
// becomes ready because no input device can be opened.
func (b *Backend) DeviceWait() (int, bool) { return b.buf.Wait() }

func (b *Backend) TerminateDeviceWait() { b.buf.Terminate() }

func (b *Backend) Close() error { return nil }
