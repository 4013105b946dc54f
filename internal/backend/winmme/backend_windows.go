//go:build windows

// Package winmme is the Windows backend over the multimedia extensions
// (winmm.dll). Driver callbacks never call back into winmm or user code;
// they post into the shared input buffer and leave sysex buffer recycling
// to the consuming thread.
package winmme

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/snisim/pytakt/internal/backend/inqueue"
	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// ErrInvalidDevice is returned when a device number is out of range.
var ErrInvalidDevice = errors.New("invalid device number")

// Callback configuration and driver message codes.
const (
	callbackNull     = 0x00000000
	callbackFunction = 0x00030000

	mimOpen      = 0x3C1
	mimClose     = 0x3C2
	mimData      = 0x3C3
	mimLongData  = 0x3C4
	mimError     = 0x3C5
	mimLongError = 0x3C6
	momDone      = 0x3C9

	mmsyserrNoError = 0

	// midiMapper is the MIDI_MAPPER pseudo-device, exposed as output
	// device 0 with the real drivers shifted up by one.
	midiMapper = 0xFFFFFFFF

	sysexBufferLength = 256
	numSysexBuffers   = 16
)

var (
	winmm                      = windows.NewLazySystemDLL("winmm.dll")
	procMidiOutGetNumDevs      = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps      = winmm.NewProc("midiOutGetDevCapsW")
	procMidiOutOpen            = winmm.NewProc("midiOutOpen")
	procMidiOutClose           = winmm.NewProc("midiOutClose")
	procMidiOutReset           = winmm.NewProc("midiOutReset")
	procMidiOutShortMsg        = winmm.NewProc("midiOutShortMsg")
	procMidiOutLongMsg         = winmm.NewProc("midiOutLongMsg")
	procMidiOutPrepareHeader   = winmm.NewProc("midiOutPrepareHeader")
	procMidiOutUnprepareHeader = winmm.NewProc("midiOutUnprepareHeader")
	procMidiInGetNumDevs       = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps       = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen             = winmm.NewProc("midiInOpen")
	procMidiInClose            = winmm.NewProc("midiInClose")
	procMidiInStart            = winmm.NewProc("midiInStart")
	procMidiInStop             = winmm.NewProc("midiInStop")
	procMidiInReset            = winmm.NewProc("midiInReset")
	procMidiInPrepareHeader    = winmm.NewProc("midiInPrepareHeader")
	procMidiInUnprepareHeader  = winmm.NewProc("midiInUnprepareHeader")
	procMidiInAddBuffer        = winmm.NewProc("midiInAddBuffer")
	procTimeBeginPeriod        = winmm.NewProc("timeBeginPeriod")
	procTimeEndPeriod          = winmm.NewProc("timeEndPeriod")
)

// midiHdr mirrors the MIDIHDR structure.
type midiHdr struct {
	lpData          *byte
	dwBufferLength  uint32
	dwBytesRecorded uint32
	dwUser          uintptr
	dwFlags         uint32
	lpNext          uintptr
	reserved        uintptr
	dwOffset        uint32
	dwReserved      [8]uintptr
}

// midiOutCaps mirrors MIDIOUTCAPSW.
type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

// midiInCaps mirrors MIDIINCAPSW.
type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

// Driver callbacks receive an opaque instance value; Go pointers cannot
// travel through it, so devices register under integer tokens.
var (
	registryMu   sync.Mutex
	nextToken    uintptr = 1
	inRegistry           = map[uintptr]*inDevice{}
	outRegistry          = map[uintptr]*outDevice{}
)

func registerIn(d *inDevice) uintptr {
	registryMu.Lock()
	defer registryMu.Unlock()
	token := nextToken
	nextToken++
	inRegistry[token] = d
	return token
}

func registerOut(d *outDevice) uintptr {
	registryMu.Lock()
	defer registryMu.Unlock()
	token := nextToken
	nextToken++
	outRegistry[token] = d
	return token
}

func unregister(token uintptr) {
	registryMu.Lock()
	delete(inRegistry, token)
	delete(outRegistry, token)
	registryMu.Unlock()
}

var (
	midiInCallbackPtr  uintptr
	midiOutCallbackPtr uintptr
	callbackOnce       sync.Once
)

func callbackPtrs() (in, out uintptr) {
	callbackOnce.Do(func() {
		midiInCallbackPtr = windows.NewCallback(midiInCallback)
		midiOutCallbackPtr = windows.NewCallback(midiOutCallback)
	})
	return midiInCallbackPtr, midiOutCallbackPtr
}

// Backend implements contracts.Backend over the MME API.
type Backend struct {
	clk *platform.Clock
	log contracts.Logger
	buf *inqueue.Buffer

	mu sync.Mutex
	// trash quarantines sysex headers returned empty by midiInReset; they
	// are unprepared and dropped when their device closes.
	trash []trashHdr
}

type trashHdr struct {
	hdr *midiHdr
	dev *inDevice
}

// New creates the backend and requests 1 ms timer resolution.
func New(opts *contracts.ClientOptions) (contracts.Backend, error) {
	procTimeBeginPeriod.Call(1)
	return &Backend{
		clk: platform.NewClock(),
		log: opts.Logger,
		buf: inqueue.New(),
	}, nil
}

func (b *Backend) Name() string { return "winmme" }

func (b *Backend) Now() float64 { return b.clk.Now() }

func (b *Backend) OutputDevices() []contracts.DeviceInfo {
	r, _, _ := procMidiOutGetNumDevs.Call()
	n := int(r)
	if n == 0 {
		return nil
	}
	// Device 0 is the MIDI mapper; drivers follow, shifted up by one.
	infos := make([]contracts.DeviceInfo, n+1)
	for i := range infos {
		id := uintptr(midiMapper)
		if i > 0 {
			id = uintptr(i - 1)
		}
		var caps midiOutCaps
		r, _, _ := procMidiOutGetDevCaps.Call(id, uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r != mmsyserrNoError {
			infos[i] = contracts.DeviceInfo{Name: "*Invalid device*"}
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		infos[i] = contracts.DeviceInfo{
			Name:         name,
			EntityName:   name,
			Manufacturer: fmt.Sprintf("MID:%d PID:%d", caps.wMid, caps.wPid),
		}
	}
	return infos
}

func (b *Backend) InputDevices() []contracts.DeviceInfo {
	r, _, _ := procMidiInGetNumDevs.Call()
	n := int(r)
	infos := make([]contracts.DeviceInfo, n)
	for i := range infos {
		var caps midiInCaps
		r, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r != mmsyserrNoError {
			infos[i] = contracts.DeviceInfo{Name: "*Invalid device*"}
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		infos[i] = contracts.DeviceInfo{
			Name:         name,
			EntityName:   name,
			Manufacturer: fmt.Sprintf("MID:%d PID:%d", caps.wMid, caps.wPid),
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
	r, _, _ := procMidiInGetNumDevs.Call()
	if r > 0 {
		return 0
	}
	return -1
}

func (b *Backend) OpenOutput(devNum int) (contracts.OutputDevice, error) {
	n := len(b.OutputDevices())
	if devNum < 0 || devNum >= n {
		return nil, ErrInvalidDevice
	}
	id := uintptr(midiMapper)
	if devNum > 0 {
		id = uintptr(devNum - 1)
	}

	d := &outDevice{b: b}
	d.token = registerOut(d)
	_, outCB := callbackPtrs()

	done, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		unregister(d.token)
		return nil, fmt.Errorf("create sysex event: %w", err)
	}
	d.sysexDone = done

	r, _, _ := procMidiOutOpen.Call(
		uintptr(unsafe.Pointer(&d.h)), id, outCB, d.token, callbackFunction)
	if r != mmsyserrNoError {
		windows.CloseHandle(done)
		unregister(d.token)
		return nil, fmt.Errorf("midiOutOpen failed (code %d)", r)
	}
	return d, nil
}

func (b *Backend) OpenInput(devNum int) (contracts.InputDevice, error) {
	r, _, _ := procMidiInGetNumDevs.Call()
	if devNum < 0 || devNum >= int(r) {
		return nil, ErrInvalidDevice
	}

	// Some drivers buffer messages from before the open; run a throwaway
	// open/start/reset/close cycle to flush them.
	var flush uintptr
	if r, _, _ := procMidiInOpen.Call(uintptr(unsafe.Pointer(&flush)), uintptr(devNum), 0, 0, callbackNull); r == mmsyserrNoError {
		procMidiInStart.Call(flush)
		procMidiInReset.Call(flush)
		procMidiInClose.Call(flush)
	}

	d := &inDevice{b: b, devNum: devNum}
	d.token = registerIn(d)
	inCB, _ := callbackPtrs()

	r, _, _ = procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&d.h)), uintptr(devNum), inCB, d.token, callbackFunction)
	if r != mmsyserrNoError {
		unregister(d.token)
		return nil, fmt.Errorf("midiInOpen failed (code %d)", r)
	}

	// Pre-post the sysex receive buffers.
	for i := 0; i < numSysexBuffers; i++ {
		buf := make([]byte, sysexBufferLength)
		hdr := &midiHdr{
			lpData:         &buf[0],
			dwBufferLength: sysexBufferLength,
		}
		procMidiInPrepareHeader.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
		procMidiInAddBuffer.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
		d.hdrs = append(d.hdrs, hdr)
		d.bufs = append(d.bufs, buf)
	}

	d.startMs = b.clk.Now()
	procMidiInStart.Call(d.h)
	return d, nil
}

func (b *Backend) DeviceWait() (int, bool) { return b.buf.Wait() }

func (b *Backend) TerminateDeviceWait() {
	b.buf.Terminate()
	procTimeEndPeriod.Call(1)
}

func (b *Backend) Close() error { return nil }

type outDevice struct {
	b         *Backend
	h         uintptr
	token     uintptr
	sysexDone windows.Handle
	mu        sync.Mutex
	sysexHdr  *midiHdr
	sysexData []byte
}

// midiOutCallback runs on a driver thread; it only flags sysex completion.
func midiOutCallback(hmo, wMsg, dwInstance, dwParam1, dwParam2 uintptr) uintptr {
	if wMsg == momDone {
		registryMu.Lock()
		d := outRegistry[dwInstance]
		registryMu.Unlock()
		if d != nil {
			windows.SetEvent(d.sysexDone)
		}
	}
	return 0
}

// waitSysexDone blocks until the previously queued sysex transmission
// completes, then releases its buffer. The driver owns the buffer from
// midiOutLongMsg until MOM_DONE, so the next send must not start earlier.
func (d *outDevice) waitSysexDone() {
	if d.sysexHdr == nil {
		return
	}
	windows.WaitForSingleObject(d.sysexDone, windows.INFINITE)
	procMidiOutUnprepareHeader.Call(d.h, uintptr(unsafe.Pointer(d.sysexHdr)), unsafe.Sizeof(*d.sysexHdr))
	d.sysexHdr = nil
	d.sysexData = nil
}

func (d *outDevice) Send(m contracts.MidiMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitSysexDone()

	if !m.SysEx {
		packed := uintptr(m.Data[0])
		if len(m.Data) >= 2 {
			packed |= uintptr(m.Data[1]) << 8
		}
		if len(m.Data) >= 3 {
			packed |= uintptr(m.Data[2]) << 16
		}
		if r, _, _ := procMidiOutShortMsg.Call(d.h, packed); r != mmsyserrNoError {
			d.b.log.Warn("MIDI send failed", d.b.log.Field().Int("code", int(r)))
		}
		return
	}

	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	hdr := &midiHdr{
		lpData:         &data[0],
		dwBufferLength: uint32(len(data)),
	}
	procMidiOutPrepareHeader.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
	d.sysexHdr = hdr
	d.sysexData = data
	if r, _, _ := procMidiOutLongMsg.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr)); r != mmsyserrNoError {
		d.b.log.Warn("MIDI sysex send failed", d.b.log.Field().Int("code", int(r)))
		windows.SetEvent(d.sysexDone)
	}
}

func (d *outDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	procMidiOutReset.Call(d.h)
	d.waitSysexDone()
	procMidiOutClose.Call(d.h)
	windows.CloseHandle(d.sysexDone)
	unregister(d.token)
	return nil
}

type inDevice struct {
	b       *Backend
	h       uintptr
	devNum  int
	token   uintptr
	startMs float64
	hdrs    []*midiHdr
	bufs    [][]byte

	mu      sync.Mutex
	pending []*midiHdr // filled sysex buffers awaiting recycling
	closed  bool
}

// midiInCallback runs on a driver thread. It copies data out, posts into
// the shared buffer, and never calls back into winmm.
func midiInCallback(hmi, wMsg, dwInstance, dwParam1, dwParam2 uintptr) uintptr {
	registryMu.Lock()
	d := inRegistry[dwInstance]
	registryMu.Unlock()
	if d == nil {
		return 0
	}

	switch wMsg {
	case mimData:
		status := byte(dwParam1)
		if status >= 0xf0 { // ignore system messages
			return 0
		}
		n := contracts.ShortMessageSize(status)
		msg := []byte{status, byte(dwParam1 >> 8), byte(dwParam1 >> 16)}[:n]
		d.b.buf.Push(d.devNum, contracts.MidiMessage{Data: msg}, d.startMs+float64(dwParam2))

	case mimLongData:
		hdr := d.findHdr(dwParam1)
		if hdr == nil {
			return 0
		}
		if hdr.dwBytesRecorded == 0 {
			// Buffer thrown back by midiInReset during close.
			d.b.mu.Lock()
			d.b.trash = append(d.b.trash, trashHdr{hdr: hdr, dev: d})
			d.b.mu.Unlock()
			return 0
		}
		raw := unsafe.Slice(hdr.lpData, hdr.dwBytesRecorded)
		data := make([]byte, len(raw))
		copy(data, raw)
		if len(data) > 0 && data[0] == 0xf0 {
			data = data[1:]
		}
		d.b.buf.Push(d.devNum, contracts.MidiMessage{Data: data, SysEx: true}, d.startMs+float64(dwParam2))
		d.mu.Lock()
		d.pending = append(d.pending, hdr)
		d.mu.Unlock()

	case mimOpen, mimClose:
		// ignore
	case mimError, mimLongError:
		d.b.log.Warn("MIDI input driver error", d.b.log.Field().Int("device", d.devNum))
	}
	return 0
}

func (d *inDevice) findHdr(p uintptr) *midiHdr {
	for _, hdr := range d.hdrs {
		if uintptr(unsafe.Pointer(hdr)) == p {
			return hdr
		}
	}
	return nil
}

// Recv pops the next buffered message, then re-posts any sysex buffers the
// callback has consumed since the last call.
func (d *inDevice) Recv() (contracts.MidiMessage, float64, error) {
	m, stamp, err := d.b.buf.Pop(d.devNum)

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	closed := d.closed
	d.mu.Unlock()
	if !closed {
		for _, hdr := range pending {
			procMidiInUnprepareHeader.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
			hdr.dwFlags = 0
			// Without this, new messages are concatenated to the previous one.
			hdr.dwBytesRecorded = 0
			procMidiInPrepareHeader.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
			procMidiInAddBuffer.Call(d.h, uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
		}
	}
	return m, stamp, err
}

func (d *inDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	procMidiInStop.Call(d.h)
	// Reset returns all posted sysex buffers through the callback with zero
	// bytes recorded; they land in the trash list drained below.
	procMidiInReset.Call(d.h)

	d.b.mu.Lock()
	trash := d.b.trash
	d.b.trash = nil
	d.b.mu.Unlock()
	for _, t := range trash {
		procMidiInUnprepareHeader.Call(t.dev.h, uintptr(unsafe.Pointer(t.hdr)), unsafe.Sizeof(*t.hdr))
	}

	procMidiInClose.Call(d.h)
	unregister(d.token)
	d.b.buf.Drop(d.devNum)
	d.hdrs = nil
	d.bufs = nil
	return nil
}
