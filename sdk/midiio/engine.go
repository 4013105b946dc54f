// Package midiio exposes the real-time MIDI engine to the embedding host:
// a tick-timed output scheduler with a live-editable tempo, and an input
// queue drained with blocking, interruptible receives.
//
// Times are in ticks (480 per quarter note); at the default 125 bpm one
// tick equals one millisecond. Two virtual output devices exist besides the
// enumerated ones: the dummy device silently discards, and the loopback
// device reroutes scheduled messages back into the input queue.
package midiio

import (
	"strings"

	"go.uber.org/multierr"

	"github.com/snisim/pytakt/internal/midiin"
	"github.com/snisim/pytakt/internal/midiout"
	"github.com/snisim/pytakt/sdk/contracts"
)

// Re-exported device sentinels.
const (
	DeviceDummy    = contracts.DeviceDummy
	DeviceLoopback = contracts.DeviceLoopback
	AllTracks      = contracts.AllTracks
)

// Engine owns the output scheduler, the input queue, and the backend they
// share. Create it with New and release it with Shutdown.
type Engine struct {
	log contracts.Logger
	be  contracts.Backend
	out *midiout.Output
	in  *midiin.Input
}

// New creates an engine with the platform backend for the current OS (or
// the one given via WithBackend) and starts its two worker goroutines.
func New(opts ...contracts.Option) (*Engine, error) {
	options := applyDefaultOptions(opts...)
	be, err := newBackend(&options)
	if err != nil {
		return nil, err
	}

	e := &Engine{log: options.Logger, be: be}
	e.in = midiin.New(be, options.Logger)
	e.out = midiout.New(be, options.Logger, e.in.Enqueue)
	e.in.Startup(e.out.MsecsToTicks)
	e.out.Startup()
	return e, nil
}

// Shutdown stops both workers, closes every open device, and releases the
// backend. Messages still queued are discarded; call Stop first when
// silence is required.
func (e *Engine) Shutdown() error {
	e.out.Shutdown()
	return multierr.Append(e.in.Shutdown(), e.be.Close())
}

// OutputDevices returns the names of the enumerated output devices.
func (e *Engine) OutputDevices() []string {
	return deviceNames(e.be.OutputDevices())
}

// InputDevices returns the names of the enumerated input devices.
func (e *Engine) InputDevices() []string {
	return deviceNames(e.be.InputDevices())
}

func deviceNames(infos []contracts.DeviceInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// DefaultOutputDevice returns the preferred output device number, or -1
// when none is available.
func (e *Engine) DefaultOutputDevice() int { return e.be.DefaultOutputDevice() }

// DefaultInputDevice returns the preferred input device number, or -1 when
// none is available.
func (e *Engine) DefaultInputDevice() int { return e.be.DefaultInputDevice() }

// FindOutputDevice resolves a case-insensitive substring of a device name
// to its number, returning -1 when nothing matches.
func (e *Engine) FindOutputDevice(name string) int {
	return findDevice(e.OutputDevices(), name)
}

// FindInputDevice resolves a case-insensitive substring of a device name to
// its number, returning -1 when nothing matches.
func (e *Engine) FindInputDevice(name string) int {
	return findDevice(e.InputDevices(), name)
}

func findDevice(names []string, pattern string) int {
	pattern = strings.ToLower(pattern)
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), pattern) {
			return i
		}
	}
	return -1
}

// OpenOutputDevice opens an output device. Negative device numbers are
// no-ops returning success.
func (e *Engine) OpenOutputDevice(devNum int) error { return e.out.OpenDevice(devNum) }

// CloseOutputDevice closes an output device if it is open.
func (e *Engine) CloseOutputDevice(devNum int) { e.out.CloseDevice(devNum) }

// IsOpenedOutputDevice reports whether an output device is open.
func (e *Engine) IsOpenedOutputDevice(devNum int) bool { return e.out.IsOpenedDevice(devNum) }

// OpenInputDevice opens an input device. Negative device numbers are no-ops
// returning success.
func (e *Engine) OpenInputDevice(devNum int) error { return e.in.OpenDevice(devNum) }

// CloseInputDevice closes an input device and discards its pending
// messages.
func (e *Engine) CloseInputDevice(devNum int) { e.in.CloseDevice(devNum) }

// IsOpenedInputDevice reports whether an input device is open.
func (e *Engine) IsOpenedInputDevice(devNum int) bool { return e.in.IsOpenedDevice(devNum) }

// QueueMessage schedules msg for dispatch to devNum at the given tick time,
// tagged with track tk. Messages with equal times dispatch in call order.
func (e *Engine) QueueMessage(devNum int, ticks float64, tk int, msg []byte) error {
	return e.out.QueueMessage(devNum, ticks, tk, msg)
}

// CancelMessages deletes queued messages for the device whose track matches
// tk (every track when tk is AllTracks) and silences the matching sounding
// notes and held pedals.
func (e *Engine) CancelMessages(devNum, tk int) { e.out.CancelMessages(devNum, tk) }

// SetRetrigger switches note-retrigger mode; the change implies a stop.
func (e *Engine) SetRetrigger(enable bool) { e.out.SetRetrigger(enable) }

// CurrentTime returns the current time in ticks.
func (e *Engine) CurrentTime() float64 { return e.out.CurrentTime() }

// CurrentTempo returns the tempo in beats per minute.
func (e *Engine) CurrentTempo() float64 { return e.out.CurrentTempo() }

// CurrentTempoScale returns the tempo-scale multiplier.
func (e *Engine) CurrentTempoScale() float64 { return e.out.TempoScale() }

// SetTempoScale changes the tempo-scale multiplier; zero pauses dispatch.
func (e *Engine) SetTempoScale(scale float64) { e.out.SetTempoScale(scale) }

// TicksToMsecs converts ticks to wall-clock milliseconds.
func (e *Engine) TicksToMsecs(ticks float64) float64 { return e.out.TicksToMsecs(ticks) }

// MsecsToTicks converts wall-clock milliseconds to ticks.
func (e *Engine) MsecsToTicks(msecs float64) float64 { return e.out.MsecsToTicks(msecs) }

// Stop silences every open device, flushes the output queue, and
// interrupts a pending RecvMessage.
func (e *Engine) Stop() {
	e.out.StopAll()
	e.in.Interrupt()
}

// RecvReady reports whether RecvMessage would return without blocking.
func (e *Engine) RecvReady() bool { return e.in.ReceiveReady() }

// RecvMessage blocks until an input message arrives and returns its device,
// tick time, track, and payload. A SIGINT while blocked yields the
// distinguished empty message with devNum = DeviceDummy.
func (e *Engine) RecvMessage() (devNum int, ticks float64, tk int, msg []byte) {
	return e.in.ReceiveMessage()
}

// InterruptRecvMessage discards pending input and unblocks RecvMessage.
func (e *Engine) InterruptRecvMessage() { e.in.Interrupt() }
