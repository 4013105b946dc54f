// Package inqueue buffers timestamped messages arriving from driver
// callbacks, one FIFO per input device, and implements the blocking
// device-wait shared by the I/O backends. Callbacks push; the input worker
// waits, then drains via Pop.
package inqueue

import (
	"errors"
	"sort"
	"sync"

	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrEmpty is returned by Pop when the device has no buffered messages.
var ErrEmpty = errors.New("input buffer is empty")

type item struct {
	msg   contracts.MidiMessage
	stamp float64
}

// Buffer holds the per-device input FIFOs and the wait/terminate state.
type Buffer struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queues     map[int][]item
	terminated bool
}

// New returns an empty buffer.
func New() *Buffer {
	b := &Buffer{queues: make(map[int][]item)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends a message with its arrival time to the device's FIFO and
// wakes a pending Wait. Safe to call from driver callbacks.
func (b *Buffer) Push(devNum int, msg contracts.MidiMessage, stamp float64) {
	b.mu.Lock()
	b.queues[devNum] = append(b.queues[devNum], item{msg, stamp})
	b.mu.Unlock()
	b.cond.Signal()
}

// Pop removes and returns the oldest message of the device.
func (b *Buffer) Pop(devNum int) (contracts.MidiMessage, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[devNum]
	if len(q) == 0 {
		return contracts.MidiMessage{}, 0, ErrEmpty
	}
	it := q[0]
	b.queues[devNum] = q[1:]
	return it.msg, it.stamp, nil
}

// Drop discards the FIFO of a closed device.
func (b *Buffer) Drop(devNum int) {
	b.mu.Lock()
	delete(b.queues, devNum)
	b.mu.Unlock()
}

// Wait blocks until some device FIFO is non-empty, returning the lowest such
// device number and true, or until Terminate is called, returning false.
func (b *Buffer) Wait() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		ready := make([]int, 0, len(b.queues))
		for dev, q := range b.queues {
			if len(q) > 0 {
				ready = append(ready, dev)
			}
		}
		if len(ready) > 0 {
			sort.Ints(ready)
			return ready[0], true
		}
		if b.terminated {
			b.terminated = false
			return 0, false
		}
		b.cond.Wait()
	}
}

// Terminate makes the pending (or next) Wait return false.
func (b *Buffer) Terminate() {
	b.mu.Lock()
	b.terminated = true
	b.mu.Unlock()
	b.cond.Signal()
}
