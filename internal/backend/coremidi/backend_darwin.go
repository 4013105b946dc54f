//go:build darwin

// Package coremidi is the macOS backend. CoreMIDI read callbacks run on a
// driver-owned thread; they reassemble system-exclusive runs byte by byte
// and post complete messages into the shared input buffer.
package coremidi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/youpy/go-coremidi"

	"github.com/snisim/pytakt/internal/backend/inqueue"
	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// Error definitions for device lookup and connection issues.
var (
	ErrInvalidDevice = errors.New("invalid device number")
	ErrCreatePort    = errors.New("could not create MIDI port")
)

// portConnection is the subset of a CoreMIDI port connection we need.
type portConnection interface {
	Disconnect()
}

// Backend implements contracts.Backend over CoreMIDI.
type Backend struct {
	clk    *platform.Clock
	log    contracts.Logger
	buf    *inqueue.Buffer
	client coremidi.Client
	name   string
}

// New registers a CoreMIDI client under the configured name.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	client, err := coremidi.NewClient(opts.ClientName)
	if err != nil {
		return nil, err
	}
	return &Backend{
		clk:    platform.NewClock(),
		log:    opts.Logger,
		buf:    inqueue.New(),
		client: client,
		name:   opts.ClientName,
	}, nil
}

func (b *Backend) Name() string { return "coremidi" }

func (b *Backend) Now() float64 { return b.clk.Now() }

func (b *Backend) OutputDevices() []contracts.DeviceInfo {
	dests, err := coremidi.AllDestinations()
	if err != nil {
		b.log.Warn("could not enumerate MIDI destinations", b.log.Field().Error("error", err))
		return nil
	}
	infos := make([]contracts.DeviceInfo, len(dests))
	for i, d := range dests {
		entity := d.Entity()
		infos[i] = contracts.DeviceInfo{
			Name:         d.Name(),
			EntityName:   entity.Name(),
			Manufacturer: entity.Manufacturer(),
		}
	}
	return infos
}

func (b *Backend) InputDevices() []contracts.DeviceInfo {
	sources, err := coremidi.AllSources()
	if err != nil {
		b.log.Warn("could not enumerate MIDI sources", b.log.Field().Error("error", err))
		return nil
	}
	infos := make([]contracts.DeviceInfo, len(sources))
	for i, s := range sources {
		entity := s.Entity()
		infos[i] = contracts.DeviceInfo{
			Name:         s.Name(),
			EntityName:   entity.Name(),
			Manufacturer: entity.Manufacturer(),
		}
	}
	return infos
}

func (b *Backend) DefaultOutputDevice() int {
	if len(b.OutputDevices()) > 0 {
		return 0
	}
	return -1
}

func (b *Backend) DefaultInputDevice() int {
	if len(b.InputDevices()) > 0 {
		return 0
	}
	return -1
}

func (b *Backend) OpenOutput(devNum int) (contracts.OutputDevice, error) {
	dests, err := coremidi.AllDestinations()
	if err != nil {
		return nil, err
	}
	if devNum < 0 || devNum >= len(dests) {
		return nil, ErrInvalidDevice
	}
	port, err := coremidi.NewOutputPort(b.client, b.name+" output")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreatePort, err)
	}
	return &outDevice{b: b, port: port, dest: dests[devNum]}, nil
}

func (b *Backend) OpenInput(devNum int) (contracts.InputDevice, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, err
	}
	if devNum < 0 || devNum >= len(sources) {
		return nil, ErrInvalidDevice
	}
	d := &inDevice{b: b, devNum: devNum}
	port, err := coremidi.NewInputPort(b.client, b.name+" input", d.handlePacket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreatePort, err)
	}
	conn, err := port.Connect(sources[devNum])
	if err != nil {
		return nil, err
	}
	d.port = port
	d.conn = conn
	return d, nil
}

func (b *Backend) DeviceWait() (int, bool) { return b.buf.Wait() }

func (b *Backend) TerminateDeviceWait() { b.buf.Terminate() }

func (b *Backend) Close() error { return nil }

type outDevice struct {
	b    *Backend
	port coremidi.OutputPort
	dest coremidi.Destination
	mu   sync.Mutex
}

// Send packages the message into a CoreMIDI packet. Sysex data already
// carries the full 0xF0 ... 0xF7 run. Errors are logged and swallowed.
func (d *outDevice) Send(m contracts.MidiMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	packet := coremidi.NewPacket(m.Data, 0)
	if err := packet.Send(&d.port, &d.dest); err != nil {
		d.b.log.Warn("MIDI send failed", d.b.log.Field().Error("error", err))
	}
}

// Close silences the device with an all-notes-off and sustain-off sweep on
// every channel. The output port itself is not disposed.
func (d *outDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := 0; ch < 16; ch++ {
		data := []byte{
			byte(0xb0 + ch), contracts.CtrlAllNotesOff, 0,
			byte(0xb0 + ch), contracts.CtrlSustain, 0,
		}
		packet := coremidi.NewPacket(data, 0)
		packet.Send(&d.port, &d.dest)
	}
	return nil
}

type inDevice struct {
	b      *Backend
	devNum int
	port   coremidi.InputPort
	conn   portConnection

	// sysex collects the payload of an in-flight exclusive message, without
	// its leading 0xF0. Only the read callback touches it.
	sysex []byte

	mu     sync.Mutex
	closed bool
}

// handlePacket runs on the CoreMIDI thread. Packets from IAC buses may be
// dated far in the past (meaning "now"), so each complete message is
// stamped with the current clock at arrival.
func (d *inDevice) handlePacket(source coremidi.Source, packet coremidi.Packet) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}

	data := packet.Data
	k := 0
	for k < len(data) {
		if d.sysex != nil {
			c := data[k]
			k++
			switch {
			case c < 0x80:
				d.sysex = append(d.sysex, c)
			case c < 0xf8:
				if c != 0xf7 {
					k-- // abnormal termination: the byte starts a new message
				}
				d.sysex = append(d.sysex, 0xf7)
				d.b.buf.Push(d.devNum, contracts.MidiMessage{Data: d.sysex, SysEx: true}, d.b.clk.Now())
				d.sysex = nil
			default:
				// real-time bytes embedded in a sysex run are skipped
			}
			continue
		}
		st := data[k]
		k++
		switch {
		case st == 0xf0:
			d.sysex = []byte{}
		case st < 0x80:
			// stray data byte without a status; drop it
		case st < 0xf0:
			n := contracts.ShortMessageSize(st)
			if k+n-1 > len(data) {
				return // truncated packet
			}
			msg := make([]byte, 0, 3)
			msg = append(msg, st)
			msg = append(msg, data[k:k+n-1]...)
			k += n - 1
			d.b.buf.Push(d.devNum, contracts.MidiMessage{Data: msg}, d.b.clk.Now())
		default:
			// other system messages are ignored, skipping their data bytes
			k += contracts.ShortMessageSize(st) - 1
		}
	}
}

func (d *inDevice) Recv() (contracts.MidiMessage, float64, error) {
	return d.b.buf.Pop(d.devNum)
}

func (d *inDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.conn.Disconnect()
	d.b.buf.Drop(d.devNum)
	return nil
}
