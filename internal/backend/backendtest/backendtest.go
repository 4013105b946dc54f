// Package backendtest provides a scripted in-memory backend for exercising
// the schedulers without OS MIDI services. Output devices record what they
// are sent; input messages are injected by the test.
package backendtest

import (
	"fmt"
	"sync"

	"github.com/snisim/pytakt/internal/backend/inqueue"
	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// Backend implements contracts.Backend with a fixed number of virtual
// devices per direction.
type Backend struct {
	clk *platform.Clock
	buf *inqueue.Buffer

	mu     sync.Mutex
	sent   map[int][]contracts.MidiMessage
	numOut int
	numIn  int
}

// New creates a backend exposing numOut output and numIn input devices.
func New(numOut, numIn int) *Backend {
	return &Backend{
		clk:    platform.NewClock(),
		buf:    inqueue.New(),
		sent:   make(map[int][]contracts.MidiMessage),
		numOut: numOut,
		numIn:  numIn,
	}
}

// Sent returns a snapshot of everything sent to the device so far.
func (b *Backend) Sent(devNum int) []contracts.MidiMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contracts.MidiMessage, len(b.sent[devNum]))
	copy(out, b.sent[devNum])
	return out
}

// Inject makes a message appear on an input device, stamped with the
// current clock unless stamp is non-negative.
func (b *Backend) Inject(devNum int, m contracts.MidiMessage, stamp float64) {
	if stamp < 0 {
		stamp = b.clk.Now()
	}
	b.buf.Push(devNum, m, stamp)
}

func (b *Backend) Name() string { return "test" }

func (b *Backend) Now() float64 { return b.clk.Now() }

func (b *Backend) OutputDevices() []contracts.DeviceInfo {
	infos := make([]contracts.DeviceInfo, b.numOut)
	for i := range infos {
		infos[i] = contracts.DeviceInfo{Name: fmt.Sprintf("Test Out %d", i)}
	}
	return infos
}

func (b *Backend) InputDevices() []contracts.DeviceInfo {
	infos := make([]contracts.DeviceInfo, b.numIn)
	for i := range infos {
		infos[i] = contracts.DeviceInfo{Name: fmt.Sprintf("Test In %d", i)}
	}
	return infos
}

func (b *Backend) DefaultOutputDevice() int {
	if b.numOut > 0 {
		return 0
	}
	return -1
}

func (b *Backend) DefaultInputDevice() int {
	if b.numIn > 0 {
		return 0
	}
	return -1
}

func (b *Backend) OpenOutput(devNum int) (contracts.OutputDevice, error) {
	if devNum < 0 || devNum >= b.numOut {
		return nil, fmt.Errorf("no such output device: %d", devNum)
	}
	return &outDevice{b: b, devNum: devNum}, nil
}

func (b *Backend) OpenInput(devNum int) (contracts.InputDevice, error) {
	if devNum < 0 || devNum >= b.numIn {
		return nil, fmt.Errorf("no such input device: %d", devNum)
	}
	return &inDevice{b: b, devNum: devNum}, nil
}

func (b *Backend) DeviceWait() (int, bool) { return b.buf.Wait() }

func (b *Backend) TerminateDeviceWait() { b.buf.Terminate() }

func (b *Backend) Close() error { return nil }

type outDevice struct {
	b      *Backend
	devNum int
}

func (d *outDevice) Send(m contracts.MidiMessage) {
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	d.b.mu.Lock()
	d.b.sent[d.devNum] = append(d.b.sent[d.devNum], contracts.MidiMessage{Data: data, SysEx: m.SysEx})
	d.b.mu.Unlock()
}

func (d *outDevice) Close() error { return nil }

type inDevice struct {
	b      *Backend
	devNum int
}

func (d *inDevice) Recv() (contracts.MidiMessage, float64, error) {
	return d.b.buf.Pop(d.devNum)
}

func (d *inDevice) Close() error {
	d.b.buf.Drop(d.devNum)
	return nil
}
