// Package midiin funnels inbound device messages to the host.
//
// A single worker goroutine blocks in the backend's device wait and, for
// each ready device, pulls the buffered message, converts its arrival time
// from milliseconds to ticks, and appends it to a FIFO. The host drains the
// FIFO with ReceiveMessage, which may be interrupted by SIGINT.
package midiin

import (
	"fmt"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/multierr"

	"github.com/snisim/pytakt/sdk/contracts"
)

// TickConverter maps a wall-clock millisecond stamp to ticks. It is the
// output engine's mapping, read under its own lock.
type TickConverter func(msecs float64) float64

type queueElm struct {
	devNum int
	time   float64 // in ticks
	tk     int
	msg    []byte
}

// Input is the MIDI input funnel.
type Input struct {
	be  contracts.Backend
	log contracts.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	handles   []contracts.InputDevice
	fifo      []queueElm
	receiving bool

	toTicks TickConverter
	done    chan struct{}
}

// New creates an input funnel bound to a backend. The worker is not running
// until Startup is called.
func New(be contracts.Backend, log contracts.Logger) *Input {
	in := &Input{be: be, log: log, done: make(chan struct{})}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Startup launches the worker goroutine. Timestamps of received messages
// are converted to ticks with toTicks.
func (in *Input) Startup(toTicks TickConverter) {
	in.toTicks = toTicks
	go in.run()
}

// Shutdown closes every open device, unblocks the worker, and waits for it.
func (in *Input) Shutdown() error {
	var errs error
	in.mu.Lock()
	for devNum, h := range in.handles {
		if h != nil {
			if err := h.Close(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("close input device %d: %w", devNum, err))
			}
			in.handles[devNum] = nil
		}
	}
	in.mu.Unlock()
	in.be.TerminateDeviceWait()
	<-in.done
	return errs
}

func (in *Input) run() {
	for {
		devNum, ok := in.be.DeviceWait()
		if !ok {
			break
		}
		in.mu.Lock()
		var h contracts.InputDevice
		if devNum >= 0 && devNum < len(in.handles) {
			h = in.handles[devNum]
		}
		in.mu.Unlock()
		if h == nil {
			continue
		}
		m, stamp, err := h.Recv()
		if err != nil {
			continue
		}
		data := m.Data
		if m.SysEx {
			data = append([]byte{0xf0}, data...)
		}
		in.Enqueue(devNum, in.toTicks(stamp), 0, data)
	}
	close(in.done)
}

// OpenDevice opens the numbered input device if it is not open yet.
// Negative device numbers are always considered open.
func (in *Input) OpenDevice(devNum int) error {
	if devNum < 0 {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.handles) <= devNum {
		grown := make([]contracts.InputDevice, devNum+1)
		copy(grown, in.handles)
		in.handles = grown
	}
	if in.handles[devNum] == nil {
		h, err := in.be.OpenInput(devNum)
		if err != nil {
			return fmt.Errorf("open input device %d: %w", devNum, err)
		}
		in.handles[devNum] = h
	}
	return nil
}

// CloseDevice closes the numbered device and removes its queued messages
// from the FIFO, preserving the order of the rest.
func (in *Input) CloseDevice(devNum int) {
	if devNum < 0 {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if devNum < len(in.handles) && in.handles[devNum] != nil {
		if err := in.handles[devNum].Close(); err != nil {
			in.log.Warn("input device close failed",
				in.log.Field().Int("device", devNum),
				in.log.Field().Error("error", err))
		}
		in.handles[devNum] = nil
	}
	kept := in.fifo[:0]
	for _, elm := range in.fifo {
		if elm.devNum != devNum {
			kept = append(kept, elm)
		}
	}
	in.fifo = kept
}

// IsOpenedDevice reports whether the device is open. Negative device
// numbers are always open.
func (in *Input) IsOpenedDevice(devNum int) bool {
	if devNum < 0 {
		return true
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return devNum < len(in.handles) && in.handles[devNum] != nil
}

// Enqueue appends a message to the host-facing FIFO.
func (in *Input) Enqueue(devNum int, ticks float64, tk int, msg []byte) {
	in.mu.Lock()
	in.fifo = append(in.fifo, queueElm{devNum, ticks, tk, msg})
	in.mu.Unlock()
	in.cond.Signal()
}

// ReceiveReady reports whether a message is waiting.
func (in *Input) ReceiveReady() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.fifo) > 0
}

// ReceiveMessage blocks until a message arrives and returns it. While
// blocked, SIGINT interrupts the wait and yields the distinguished empty
// message (devNum = dummy, empty payload); previous signal delivery is
// restored before returning.
func (in *Input) ReceiveMessage() (devNum int, ticks float64, tk int, msg []byte) {
	sigc := make(chan os.Signal, 1)
	stop := make(chan struct{})
	signal.Notify(sigc, os.Interrupt)
	go func() {
		select {
		case <-sigc:
			in.Interrupt()
		case <-stop:
		}
	}()
	defer func() {
		signal.Stop(sigc)
		close(stop)
	}()

	in.mu.Lock()
	defer in.mu.Unlock()
	in.receiving = true
	for len(in.fifo) == 0 && in.receiving {
		in.cond.Wait()
	}
	if !in.receiving {
		// Interrupted while receiving.
		return contracts.DeviceDummy, 0, 0, nil
	}
	in.receiving = false
	elm := in.fifo[0]
	in.fifo = in.fifo[1:]
	return elm.devNum, elm.time, elm.tk, elm.msg
}

// Interrupt discards all pending input messages and makes a blocked
// ReceiveMessage return the empty message.
func (in *Input) Interrupt() {
	in.mu.Lock()
	in.fifo = nil
	in.receiving = false
	in.mu.Unlock()
	in.cond.Signal()
}
