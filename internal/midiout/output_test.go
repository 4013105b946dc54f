package midiout

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/snisim/pytakt/internal/backend/backendtest"
	"github.com/snisim/pytakt/internal/logger"
	"github.com/snisim/pytakt/sdk/contracts"
)

type loopbackMsg struct {
	devNum int
	ticks  float64
	tk     int
	msg    []byte
}

func newTestOutput(t *testing.T, numDevices int) (*Output, *backendtest.Backend, chan loopbackMsg) {
	t.Helper()
	be := backendtest.New(numDevices, 0)
	loop := make(chan loopbackMsg, 64)
	o := New(be, logger.NewNopLogger(), func(devNum int, ticks float64, tk int, msg []byte) {
		loop <- loopbackMsg{devNum, ticks, tk, msg}
	})
	o.Startup()
	t.Cleanup(o.Shutdown)
	return o, be, loop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTickMillisecondMapping(t *testing.T) {
	be := backendtest.New(0, 0)
	o := New(be, logger.NewNopLogger(), nil)

	// Default state: 125 bpm, scale 1, anchored at zero.
	if got := o.TicksToMsecs(480); got != 480.0 {
		t.Errorf("TicksToMsecs(480) = %f, want 480", got)
	}
	for _, ticks := range []float64{0, 1, 480, 12345.5} {
		if got := o.MsecsToTicks(o.TicksToMsecs(ticks)); math.Abs(got-ticks) > 1e-9 {
			t.Errorf("round trip of %f ticks = %f", ticks, got)
		}
	}
	if got := o.CurrentTempo(); got != 125.0 {
		t.Errorf("CurrentTempo = %f, want 125", got)
	}
	if got := o.TempoScale(); got != 1.0 {
		t.Errorf("TempoScale = %f, want 1", got)
	}
}

func TestQueueMessageValidation(t *testing.T) {
	o, _, _ := newTestOutput(t, 1)

	cases := []struct {
		name string
		msg  []byte
	}{
		{"empty", nil},
		{"note-on too short", []byte{0x90, 60}},
		{"note-on too long", []byte{0x90, 60, 100, 0}},
		{"bare data byte", []byte{0x42}},
		{"system common", []byte{0xf1, 0x01}},
	}
	for _, tc := range cases {
		if err := o.QueueMessage(contracts.DeviceDummy, 0, 0, tc.msg); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("%s: err = %v, want ErrInvalidMessage", tc.name, err)
		}
	}

	// Valid shapes are accepted for the dummy device without opening.
	for _, msg := range [][]byte{
		{0x90, 60, 100},
		{0xc5, 10},
		{0xf0, 1, 2, 0xf7},
		{0xff, 0x51, 7, 0xa1, 0x20},
	} {
		if err := o.QueueMessage(contracts.DeviceDummy, 1e9, 0, msg); err != nil {
			t.Errorf("valid message %v rejected: %v", msg, err)
		}
	}

	// A real device must be opened first.
	if err := o.QueueMessage(0, 0, 0, []byte{0x90, 60, 100}); !errors.Is(err, ErrDeviceNotOpened) {
		t.Errorf("unopened device: err = %v, want ErrDeviceNotOpened", err)
	}
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	if err := o.QueueMessage(0, 1e9, 0, []byte{0x90, 60, 100}); err != nil {
		t.Errorf("opened device rejected message: %v", err)
	}

	// The loopback device accepts arbitrary payloads.
	if err := o.QueueMessage(contracts.DeviceLoopback, 1e9, 0, []byte{1, 2, 3}); err != nil {
		t.Errorf("loopback payload rejected: %v", err)
	}
}

func TestFIFOAmongEqualTimes(t *testing.T) {
	o, be, _ := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	for _, n := range []byte{60, 64, 67} {
		if err := o.QueueMessage(0, 100, 0, []byte{0x90, n, 100}); err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
	}

	waitFor(t, "three dispatches", func() bool { return len(be.Sent(0)) == 3 })
	sent := be.Sent(0)
	for i, n := range []byte{60, 64, 67} {
		if sent[i].Data[1] != n {
			t.Errorf("dispatch %d carries note %d, want %d", i, sent[i].Data[1], n)
		}
	}
}

func TestMetaTempoChange(t *testing.T) {
	o, be, _ := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	// 1,000,000 us per quarter = 60 bpm, scheduled immediately.
	if err := o.QueueMessage(contracts.DeviceDummy, 0, 0, []byte{0xff, 0x51, 0x0f, 0x42, 0x40}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	waitFor(t, "tempo change", func() bool { return o.CurrentTempo() == 60.0 })

	// Under the new mapping a quarter note lasts one second.
	if got := o.TicksToMsecs(480) - o.TicksToMsecs(0); math.Abs(got-1000) > 1e-6 {
		t.Errorf("quarter-note duration after tempo meta = %f ms, want 1000", got)
	}

	// Other meta messages are discarded without disturbing the map.
	if err := o.QueueMessage(0, 0, 0, []byte{0xff, 0x03, 'x'}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := o.CurrentTempo(); got != 60.0 {
		t.Errorf("non-tempo meta changed the tempo to %f", got)
	}
	if len(be.Sent(0)) != 0 {
		t.Errorf("meta message reached the device: %v", be.Sent(0))
	}
}

func TestCancelMessages(t *testing.T) {
	o, be, _ := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	// Note-on now, its note-off much later, in 0x8n form so that an
	// explicit cancellation off (0x9n, velocity 0) is distinguishable.
	if err := o.QueueMessage(0, 0, 3, []byte{0x91, 60, 100}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	if err := o.QueueMessage(0, 5000, 3, []byte{0x81, 60, 64}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	waitFor(t, "note-on dispatch", func() bool { return len(be.Sent(0)) == 1 })

	o.CancelMessages(0, contracts.AllTracks)
	waitFor(t, "cancellation note-off", func() bool { return len(be.Sent(0)) == 2 })

	sent := be.Sent(0)
	if !bytes.Equal(sent[1].Data, []byte{0x91, 60, 0}) {
		t.Errorf("cancellation emitted %v, want explicit note-off [91 60 0]", sent[1].Data)
	}

	// A later marker proves the queued note-off is gone, not merely late.
	if err := o.QueueMessage(0, 0, 0, []byte{0xb1, 7, 100}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	waitFor(t, "marker dispatch", func() bool { return len(be.Sent(0)) == 3 })
	for _, m := range be.Sent(0) {
		if m.Data[0] == 0x81 {
			t.Errorf("cancelled note-off still dispatched: %v", m.Data)
		}
	}
}

func TestStopAll(t *testing.T) {
	o, be, _ := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	if err := o.QueueMessage(0, 0, 0, []byte{0x90, 72, 100}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	waitFor(t, "note-on dispatch", func() bool { return len(be.Sent(0)) == 1 })

	o.StopAll()
	// 1 note-on + 1 cancellation off + 16 channels x 3 controllers.
	waitFor(t, "stop sequence", func() bool { return len(be.Sent(0)) == 2+48 })

	sent := be.Sent(0)
	if !bytes.Equal(sent[1].Data, []byte{0x90, 72, 0}) {
		t.Errorf("stop did not first silence the sounding note: %v", sent[1].Data)
	}
	for ch := 0; ch < 16; ch++ {
		base := 2 + ch*3
		want := [][]byte{
			{byte(0xb0 + ch), contracts.CtrlAllNotesOff, 0},
			{byte(0xb0 + ch), contracts.CtrlSustain, 0},
			{byte(0xb0 + ch), contracts.CtrlAllSoundOff, 0},
		}
		for i, w := range want {
			if !bytes.Equal(sent[base+i].Data, w) {
				t.Errorf("channel %d message %d = %v, want %v", ch, i, sent[base+i].Data, w)
			}
		}
	}
}

func TestRetrigger(t *testing.T) {
	o, be, _ := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	// Two overlapping notes on the same key.
	o.QueueMessage(0, 0, 0, []byte{0x90, 60, 100})
	o.QueueMessage(0, 30, 0, []byte{0x90, 60, 90})
	o.QueueMessage(0, 60, 0, []byte{0x90, 60, 0})
	o.QueueMessage(0, 90, 0, []byte{0x90, 60, 0})

	waitFor(t, "retrigger sequence", func() bool { return len(be.Sent(0)) == 4 })
	time.Sleep(30 * time.Millisecond)

	sent := be.Sent(0)
	if len(sent) != 4 {
		t.Fatalf("got %d messages, want exactly 4", len(sent))
	}
	want := [][]byte{
		{0x90, 60, 100}, // first note-on
		{0x90, 60, 0},   // explicit off cleaning the key for the retrigger
		{0x90, 60, 90},  // second note-on
		{0x90, 60, 0},   // final note-off; the first queued off is suppressed
	}
	for i, w := range want {
		if !bytes.Equal(sent[i].Data, w) {
			t.Errorf("message %d = %v, want %v", i, sent[i].Data, w)
		}
	}
}

func TestTempoScalePauseAndResume(t *testing.T) {
	o, be, _ := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	o.SetTempoScale(0)
	waitFor(t, "pause", func() bool { return o.TempoScale() == 0 })

	// The mapping is infinite while paused, and dispatch is held.
	anchor := o.MsecsToTicks(o.be.Now())
	if got := o.TicksToMsecs(anchor + 480); !math.IsInf(got, 1) {
		t.Errorf("TicksToMsecs while paused = %f, want +Inf", got)
	}
	if err := o.QueueMessage(0, 0, 0, []byte{0x90, 60, 100}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(be.Sent(0)); n != 0 {
		t.Fatalf("paused engine dispatched %d messages", n)
	}

	o.SetTempoScale(1)
	waitFor(t, "resume dispatch", func() bool { return len(be.Sent(0)) == 1 })

	// Negative scales clamp to zero.
	o.SetTempoScale(-3)
	waitFor(t, "clamped pause", func() bool { return o.TempoScale() == 0 })
}

func TestLoopbackAndDummyRouting(t *testing.T) {
	o, be, loop := newTestOutput(t, 1)
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}

	o.QueueMessage(contracts.DeviceDummy, 0, 0, []byte{0x90, 60, 100})
	o.QueueMessage(contracts.DeviceLoopback, 0, 7, []byte{0x90, 61, 100})

	select {
	case got := <-loop:
		if got.devNum != contracts.DeviceLoopback || got.tk != 7 || got.msg[1] != 61 {
			t.Errorf("loopback delivery = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("loopback message never delivered")
	}
	// The dummy message preceded the loopback one at the same tick, so it
	// has been consumed by now without reaching any device.
	if n := len(be.Sent(0)); n != 0 {
		t.Errorf("dummy-addressed message reached the device (%d sends)", n)
	}
}

func TestShutdownClosesDevices(t *testing.T) {
	be := backendtest.New(1, 0)
	o := New(be, logger.NewNopLogger(), nil)
	o.Startup()
	if err := o.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	o.Shutdown()
	if o.IsOpenedDevice(0) {
		t.Error("device still open after shutdown")
	}
}
