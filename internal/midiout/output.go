// Package midiout schedules time-stamped MIDI messages for transmission.
//
// A single worker goroutine owns a min-heap of outgoing messages and the
// authoritative tempo mapping between musical ticks and wall-clock
// milliseconds. All public operations post state or requests under the
// engine mutex and wake the worker through its condition variable.
package midiout

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/snisim/pytakt/internal/notemap"
	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// Errors surfaced to the host at enqueue time.
var (
	ErrDeviceNotOpened = errors.New("device is not opened")
	ErrInvalidMessage  = errors.New("invalid MIDI (or meta) message")
)

// EnqueueFunc delivers a loopback-addressed message to the input queue.
type EnqueueFunc func(devNum int, ticks float64, tk int, msg []byte)

// defaultTempo is 125 bpm, at which one tick lasts one millisecond.
const defaultTempo = 125.0

// msecsPerTickFactor relates ticks to milliseconds: at a resolution of 480
// ticks per quarter, tick duration in ms is 125/bpm.
const msecsPerTickFactor = 60000.0 / contracts.TicksPerQuarter

// Output is the MIDI output engine.
type Output struct {
	be       contracts.Backend
	log      contracts.Logger
	loopback EnqueueFunc

	mu   sync.Mutex
	cond *platform.Cond

	handles []contracts.OutputDevice
	queue   eventQueue
	counter int

	// Tempo map: wall(T) = lastChangeMs + (T-lastChangeTicks)*125/(tempo*scale).
	tempo           float64
	tempoScale      float64
	lastChangeMs    float64
	lastChangeTicks float64

	// Pending control requests, consumed by the worker in a fixed order.
	shutdownReq        bool
	stopReq            bool
	scaleChangeReq     bool
	requestedScale     float64
	cancelReqs         [][2]int
	retriggerChangeReq int // 0 none, 1 disable, 2 enable

	retrigger    bool
	retriggerMap *notemap.Map
	cancelMap    *notemap.Map

	done chan struct{}
}

// New creates an output engine bound to a backend. The worker is not
// running until Startup is called.
func New(be contracts.Backend, log contracts.Logger, loopback EnqueueFunc) *Output {
	o := &Output{
		be:           be,
		log:          log,
		loopback:     loopback,
		tempo:        defaultTempo,
		tempoScale:   1.0,
		retrigger:    true,
		retriggerMap: notemap.New(),
		cancelMap:    notemap.New(),
		done:         make(chan struct{}),
	}
	o.cond = platform.NewCond(&o.mu)
	return o
}

// Startup launches the worker goroutine.
func (o *Output) Startup() {
	go o.run()
}

// Shutdown asks the worker to exit, waits for it, and leaves all devices
// closed. Messages still queued are discarded silently; call StopAll first
// when silence is required.
func (o *Output) Shutdown() {
	o.mu.Lock()
	o.shutdownReq = true
	o.cond.Signal()
	o.mu.Unlock()
	<-o.done
}

// OpenDevice opens the numbered output device if it is not open yet.
// Negative device numbers (dummy, loopback) are always considered open.
func (o *Output) OpenDevice(devNum int) error {
	if devNum < 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.handles) <= devNum {
		grown := make([]contracts.OutputDevice, devNum+1)
		copy(grown, o.handles)
		o.handles = grown
	}
	if o.handles[devNum] == nil {
		h, err := o.be.OpenOutput(devNum)
		if err != nil {
			return fmt.Errorf("open output device %d: %w", devNum, err)
		}
		o.handles[devNum] = h
	}
	return nil
}

// CloseDevice closes the numbered device if it is open.
func (o *Output) CloseDevice(devNum int) {
	if devNum < 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if devNum < len(o.handles) && o.handles[devNum] != nil {
		if err := o.handles[devNum].Close(); err != nil {
			o.log.Warn("output device close failed",
				o.log.Field().Int("device", devNum),
				o.log.Field().Error("error", err))
		}
		o.handles[devNum] = nil
	}
}

// IsOpenedDevice reports whether the device is open. Negative device
// numbers are always open.
func (o *Output) IsOpenedDevice(devNum int) bool {
	if devNum < 0 {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return devNum < len(o.handles) && o.handles[devNum] != nil
}

// QueueMessage validates msg and schedules it for dispatch at the given
// tick time on the given track. For the loopback device, whose payloads
// are opaque to the scheduler, only an empty payload is rejected.
func (o *Output) QueueMessage(devNum int, ticks float64, tk int, msg []byte) error {
	if devNum != contracts.DeviceLoopback && !contracts.ValidOutgoing(msg) {
		return ErrInvalidMessage
	}
	if len(msg) == 0 {
		return ErrInvalidMessage
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if devNum >= 0 && (devNum >= len(o.handles) || o.handles[devNum] == nil) {
		return ErrDeviceNotOpened
	}
	e := &entry{devNum: devNum, time: ticks, count: o.counter, tk: tk, msg: msg}
	o.counter++
	o.enqueue(e)
	return nil
}

// enqueue pushes onto the heap and, to reduce context switches, signals the
// worker only when the top-of-queue time changed (or the queue was empty).
// Callers hold o.mu.
func (o *Output) enqueue(e *entry) {
	timeChanged := len(o.queue) == 0
	var orgTime float64
	if !timeChanged {
		orgTime = o.queue[0].time
	}
	heap.Push(&o.queue, e)
	if !timeChanged && orgTime != o.queue[0].time {
		timeChanged = true
	}
	if timeChanged {
		o.cond.Signal()
	}
}

// CancelMessages asks the worker to delete every queued message for the
// device whose track matches tk (every track when tk is AllTracks) and to
// silence the matching sounding notes and held pedals.
func (o *Output) CancelMessages(devNum, tk int) {
	o.mu.Lock()
	o.cancelReqs = append(o.cancelReqs, [2]int{devNum, tk})
	o.cond.Signal()
	o.mu.Unlock()
}

// StopAll asks the worker to silence every open device and flush the queue.
func (o *Output) StopAll() {
	o.mu.Lock()
	o.stopReq = true
	o.cond.Signal()
	o.mu.Unlock()
}

// SetTempoScale asks the worker to change the tempo scale. Negative values
// clamp to zero, which pauses dispatch without disturbing the mapping.
func (o *Output) SetTempoScale(scale float64) {
	o.mu.Lock()
	o.scaleChangeReq = true
	if scale < 0 {
		scale = 0
	}
	o.requestedScale = scale
	o.cond.Signal()
	o.mu.Unlock()
}

// SetRetrigger switches note-retrigger mode. The toggle implies a stop so
// that the retrigger map never carries state across the mode change.
func (o *Output) SetRetrigger(enable bool) {
	o.mu.Lock()
	o.stopReq = true
	if enable {
		o.retriggerChangeReq = 2
	} else {
		o.retriggerChangeReq = 1
	}
	o.cond.Signal()
	o.mu.Unlock()
}

// TicksToMsecs converts a tick time to wall-clock milliseconds under the
// current mapping. The result is infinite while the tempo scale is zero.
func (o *Output) TicksToMsecs(ticks float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return (ticks-o.lastChangeTicks)*msecsPerTickFactor/(o.tempo*o.tempoScale) + o.lastChangeMs
}

// MsecsToTicks converts wall-clock milliseconds to a tick time under the
// current mapping.
func (o *Output) MsecsToTicks(msecs float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return (msecs-o.lastChangeMs)*o.tempo*o.tempoScale/msecsPerTickFactor + o.lastChangeTicks
}

// CurrentTime returns the current time in ticks.
func (o *Output) CurrentTime() float64 {
	return o.MsecsToTicks(o.be.Now())
}

// CurrentTempo returns the tempo in beats per minute.
func (o *Output) CurrentTempo() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tempo
}

// TempoScale returns the current tempo-scale multiplier.
func (o *Output) TempoScale() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tempoScale
}
