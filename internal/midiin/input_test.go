package midiin

import (
	"bytes"
	"testing"
	"time"

	"github.com/snisim/pytakt/internal/backend/backendtest"
	"github.com/snisim/pytakt/internal/logger"
	"github.com/snisim/pytakt/sdk/contracts"
)

func newTestInput(t *testing.T, numDevices int) (*Input, *backendtest.Backend) {
	t.Helper()
	be := backendtest.New(0, numDevices)
	in := New(be, logger.NewNopLogger())
	// Identity mapping keeps millisecond stamps readable as ticks.
	in.Startup(func(msecs float64) float64 { return msecs })
	t.Cleanup(func() { in.Shutdown() })
	return in, be
}

func TestReceiveInjectedMessage(t *testing.T) {
	in, be := newTestInput(t, 1)
	if err := in.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	be.Inject(0, contracts.MidiMessage{Data: []byte{0x90, 60, 100}}, 250)

	devNum, ticks, tk, msg := in.ReceiveMessage()
	if devNum != 0 || tk != 0 {
		t.Errorf("got devNum=%d tk=%d, want 0, 0", devNum, tk)
	}
	if ticks != 250 {
		t.Errorf("got ticks=%f, want 250", ticks)
	}
	if !bytes.Equal(msg, []byte{0x90, 60, 100}) {
		t.Errorf("got msg=%v", msg)
	}
}

func TestSysexGetsStartByte(t *testing.T) {
	in, be := newTestInput(t, 1)
	if err := in.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	be.Inject(0, contracts.MidiMessage{Data: []byte{0x7e, 0x09, 0x01, 0xf7}, SysEx: true}, 0)

	_, _, _, msg := in.ReceiveMessage()
	if !bytes.Equal(msg, []byte{0xf0, 0x7e, 0x09, 0x01, 0xf7}) {
		t.Errorf("sysex delivered as %v, want leading 0xF0 restored", msg)
	}
}

func TestReceiveReady(t *testing.T) {
	in, _ := newTestInput(t, 1)
	if in.ReceiveReady() {
		t.Error("ReceiveReady true on empty queue")
	}
	in.Enqueue(contracts.DeviceLoopback, 10, 2, []byte{0x90, 60, 100})
	if !in.ReceiveReady() {
		t.Error("ReceiveReady false after Enqueue")
	}
}

func TestInterruptUnblocksReceive(t *testing.T) {
	in, _ := newTestInput(t, 1)

	type result struct {
		devNum int
		msg    []byte
	}
	done := make(chan result, 1)
	go func() {
		devNum, _, _, msg := in.ReceiveMessage()
		done <- result{devNum, msg}
	}()

	time.Sleep(20 * time.Millisecond)
	in.Interrupt()

	select {
	case r := <-done:
		if r.devNum != contracts.DeviceDummy || len(r.msg) != 0 {
			t.Errorf("interrupted receive = (%d, %v), want (dummy, empty)", r.devNum, r.msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt did not unblock ReceiveMessage")
	}
}

func TestInterruptDiscardsPending(t *testing.T) {
	in, _ := newTestInput(t, 1)
	in.Enqueue(0, 1, 0, []byte{0x90, 60, 100})
	in.Interrupt()
	if in.ReceiveReady() {
		t.Error("pending messages survived Interrupt")
	}
}

func TestCloseDeviceFiltersQueue(t *testing.T) {
	in, _ := newTestInput(t, 2)
	if err := in.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	in.Enqueue(0, 1, 0, []byte{0x90, 60, 1})
	in.Enqueue(1, 2, 0, []byte{0x90, 61, 2})
	in.Enqueue(0, 3, 0, []byte{0x90, 62, 3})

	in.CloseDevice(0)

	devNum, ticks, _, msg := in.ReceiveMessage()
	if devNum != 1 || ticks != 2 || msg[1] != 61 {
		t.Errorf("surviving entry = (%d, %f, %v), want device 1's message", devNum, ticks, msg)
	}
	if in.ReceiveReady() {
		t.Error("closed device's entries still queued")
	}
}

func TestLoopbackTagsSurviveFIFO(t *testing.T) {
	in, _ := newTestInput(t, 0)
	in.Enqueue(contracts.DeviceLoopback, 5, 7, []byte{1, 2, 3})

	devNum, ticks, tk, msg := in.ReceiveMessage()
	if devNum != contracts.DeviceLoopback || ticks != 5 || tk != 7 {
		t.Errorf("got (%d, %f, %d), want loopback tags preserved", devNum, ticks, tk)
	}
	if !bytes.Equal(msg, []byte{1, 2, 3}) {
		t.Errorf("payload = %v", msg)
	}
}
