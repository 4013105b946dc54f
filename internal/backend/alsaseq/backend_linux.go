//go:build linux

// Package alsaseq is the Linux backend, speaking to the ALSA sequencer
// through the rtmidi driver. Port enumeration happens once at creation;
// listener callbacks run on a driver-owned goroutine and only post into the
// shared input buffer.
package alsaseq

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/snisim/pytakt/internal/backend/inqueue"
	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrInvalidDevice is returned when a device number is out of range.
var ErrInvalidDevice = errors.New("invalid device number")

// Backend implements contracts.Backend over the ALSA sequencer.
type Backend struct {
	clk *platform.Clock
	log contracts.Logger
	buf *inqueue.Buffer

	drv  *rtmididrv.Driver
	ins  []drivers.In
	outs []drivers.Out
}

// New opens the sequencer client and enumerates its ports.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open ALSA sequencer: %w", err)
	}
	ins, err := drv.Ins()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("enumerate input ports: %w", err)
	}
	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("enumerate output ports: %w", err)
	}
	return &Backend{
		clk:  platform.NewClock(),
		log:  opts.Logger,
		buf:  inqueue.New(),
		drv:  drv,
		ins:  ins,
		outs: outs,
	}, nil
}

func (b *Backend) Name() string { return "alsaseq" }

func (b *Backend) Now() float64 { return b.clk.Now() }

func (b *Backend) OutputDevices() []contracts.DeviceInfo {
	infos := make([]contracts.DeviceInfo, len(b.outs))
	for i, p := range b.outs {
		infos[i] = contracts.DeviceInfo{Name: p.String()}
	}
	return infos
}

func (b *Backend) InputDevices() []contracts.DeviceInfo {
	infos := make([]contracts.DeviceInfo, len(b.ins))
	for i, p := range b.ins {
		infos[i] = contracts.DeviceInfo{Name: p.String()}
	}
	return infos
}

// DefaultOutputDevice prefers the first port that is not an ALSA
// through-port, so a bare setup still reaches a real synthesizer. When every
// port is a through-port it returns -1.
func (b *Backend) DefaultOutputDevice() int {
	for i, p := range b.outs {
		if !strings.Contains(p.String(), "Through") {
			return i
		}
	}
	return -1
}

func (b *Backend) DefaultInputDevice() int {
	for i, p := range b.ins {
		if !strings.Contains(p.String(), "Through") {
			return i
		}
	}
	return -1
}

func (b *Backend) OpenOutput(devNum int) (contracts.OutputDevice, error) {
	if devNum < 0 || devNum >= len(b.outs) {
		return nil, ErrInvalidDevice
	}
	out := b.outs[devNum]
	if err := out.Open(); err != nil {
		return nil, err
	}
	return &outDevice{b: b, out: out}, nil
}

func (b *Backend) OpenInput(devNum int) (contracts.InputDevice, error) {
	if devNum < 0 || devNum >= len(b.ins) {
		return nil, ErrInvalidDevice
	}
	in := b.ins[devNum]
	if err := in.Open(); err != nil {
		return nil, err
	}
	d := &inDevice{b: b, in: in, devNum: devNum, openedAt: b.clk.Now()}
	stop, err := in.Listen(d.onMessage, drivers.ListenConfig{
		SysEx: true,
		OnErr: func(err error) {
			b.log.Warn("MIDI input error", b.log.Field().Error("error", err))
		},
	})
	if err != nil {
		in.Close()
		return nil, err
	}
	d.stop = stop
	return d, nil
}

func (b *Backend) DeviceWait() (int, bool) { return b.buf.Wait() }

func (b *Backend) TerminateDeviceWait() { b.buf.Terminate() }

func (b *Backend) Close() error { return b.drv.Close() }

type outDevice struct {
	b   *Backend
	out drivers.Out
}

// Send transmits the raw bytes; for sysex the data already carries the full
// 0xF0 ... 0xF7 run. Errors are logged and swallowed.
func (d *outDevice) Send(m contracts.MidiMessage) {
	if err := d.out.Send(m.Data); err != nil {
		d.b.log.Warn("MIDI send failed", d.b.log.Field().Error("error", err))
	}
}

func (d *outDevice) Close() error { return d.out.Close() }

type inDevice struct {
	b        *Backend
	in       drivers.In
	devNum   int
	openedAt float64
	stop     func()
	mu       sync.Mutex
	closed   bool
}

// onMessage runs on the driver goroutine. deltaMs is relative to the
// listener start; it is rebased onto the backend clock before buffering.
func (d *inDevice) onMessage(data []byte, deltaMs int32) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed || len(data) == 0 {
		return
	}
	stamp := d.openedAt + float64(deltaMs)
	m := contracts.MidiMessage{Data: data}
	if data[0] == 0xf0 {
		m = contracts.MidiMessage{Data: data[1:], SysEx: true}
	}
	d.b.buf.Push(d.devNum, m, stamp)
}

func (d *inDevice) Recv() (contracts.MidiMessage, float64, error) {
	return d.b.buf.Pop(d.devNum)
}

func (d *inDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()
	d.b.buf.Drop(d.devNum)
	return d.in.Close()
}
