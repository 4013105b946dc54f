package midiout

import (
	"container/heap"
	"math"
	"runtime"

	"github.com/snisim/pytakt/internal/platform"
	"github.com/snisim/pytakt/sdk/contracts"
)

// run is the worker main loop. It holds o.mu except while blocked in the
// condition variable and while handing a loopback entry to the input queue,
// and is the only goroutine that mutates the tempo map, drains the heap, or
// touches the note maps.
func (o *Output) run() {
	runtime.LockOSThread()
	platform.RaiseThreadPriority(o.log)

	o.mu.Lock()
	for {
		// Wait until the time of the queue's top comes, or a request is
		// signalled from the host.
		tmout := false
		var msecs, ticks float64
		if len(o.queue) == 0 {
			o.cond.Wait()
		} else if tempo := o.tempo * o.tempoScale; tempo <= 0 {
			o.cond.Wait()
		} else {
			ticks = o.queue[0].time
			if math.IsInf(ticks, 1) {
				o.cond.Wait()
			} else {
				if math.IsInf(ticks, -1) {
					ticks = 0
				}
				msecs = (ticks-o.lastChangeTicks)*msecsPerTickFactor/tempo + o.lastChangeMs
				tmout = o.cond.WaitUntil(o.be.Now, msecs)
			}
		}

		if o.shutdownReq {
			break
		}
		if o.scaleChangeReq {
			// Re-anchor at the current instant so neither time domain jumps.
			now := o.be.Now()
			o.lastChangeTicks = (now-o.lastChangeMs)*o.tempo*o.tempoScale/
				msecsPerTickFactor + o.lastChangeTicks
			o.lastChangeMs = now
			o.tempoScale = o.requestedScale
			o.scaleChangeReq = false
		}
		if o.stopReq {
			o.doStopAll()
			o.stopReq = false
			if o.retriggerChangeReq != 0 {
				o.retrigger = o.retriggerChangeReq == 2
				o.retriggerChangeReq = 0
			}
		}
		if len(o.cancelReqs) > 0 {
			for _, req := range o.cancelReqs {
				o.doCancelMessages(req[0], req[1])
			}
			o.cancelReqs = o.cancelReqs[:0]
		}
		if !tmout {
			// Woken by a signal: the heap may hold a new, earlier top.
			continue
		}

		// Dispatch every entry that is due at the snapshot used for the wait.
		for len(o.queue) > 0 && o.queue[0].time <= ticks {
			e := heap.Pop(&o.queue).(*entry)
			if e.devNum == contracts.DeviceLoopback {
				// The mutexes never nest: the input queue is fed with o.mu
				// released, and the input side never takes o.mu.
				o.mu.Unlock()
				o.loopback(e.devNum, e.time, e.tk, e.msg)
				o.mu.Lock()
			} else if e.msg[0] != 0xff {
				if e.devNum >= 0 && e.devNum < len(o.handles) && o.handles[e.devNum] != nil {
					m := contracts.MidiMessage{Data: e.msg, SysEx: e.msg[0] == 0xf0}
					o.sendMessage(e.devNum, e.tk, m)
				}
			} else if len(e.msg) >= 5 && e.msg[1] == contracts.MetaTempo {
				o.lastChangeMs = msecs
				o.lastChangeTicks = e.time
				usecsPerQuarter := int(e.msg[2])<<16 | int(e.msg[3])<<8 | int(e.msg[4])
				o.tempo = 6e7 / float64(usecsPerQuarter)
			} // other meta-events are discarded
		}
	}

	// Shutdown: close every open device.
	for i, h := range o.handles {
		if h != nil {
			if err := h.Close(); err != nil {
				o.log.Warn("output device close failed",
					o.log.Field().Int("device", i),
					o.log.Field().Error("error", err))
			}
			o.handles[i] = nil
		}
	}
	o.mu.Unlock()
	close(o.done)
}

// sendMessage transmits one short or sysex message, applying the retrigger
// policy and keeping the note maps current. Callers hold o.mu and guarantee
// the device handle exists.
func (o *Output) sendMessage(devNum, tk int, m contracts.MidiMessage) {
	ch := int(m.Data[0] & 0xf)
	suppress := false

	switch {
	case (m.Data[0]&0xf0) == 0x80 || ((m.Data[0]&0xf0) == 0x90 && m.Data[2] == 0):
		// Note-off. Under retrigger, a positive pile count means a newer
		// note-on for the same key is still sounding; keep it alive.
		if o.retrigger && o.retriggerMap.Pop(devNum, 0, ch, int(m.Data[1])) >= 1 {
			suppress = true
		}
		o.cancelMap.Pop(devNum, tk, ch, int(m.Data[1]))
	case (m.Data[0] & 0xf0) == 0x90:
		// Note-on. A clean retrigger needs an explicit off first.
		if o.retrigger && o.retriggerMap.Push(devNum, 0, ch, int(m.Data[1])) >= 1 {
			off := contracts.MidiMessage{Data: []byte{m.Data[0], m.Data[1], 0}}
			o.handles[devNum].Send(off)
		}
		o.cancelMap.Push(devNum, tk, ch, int(m.Data[1]))
	case (m.Data[0]&0xf0) == 0xb0 &&
		(m.Data[1] == contracts.CtrlAllNotesOff || m.Data[1] == contracts.CtrlAllSoundOff):
		if o.retrigger {
			o.retriggerMap.ClearChannel(devNum, 0, ch)
		}
		// The cancel map stays: synthesizers that ignore all-notes-off
		// still need explicit note-offs from a later cancellation.
	case (m.Data[0]&0xf0) == 0xb0 && m.Data[1] == contracts.CtrlSustain:
		if m.Data[2] == 0 {
			o.cancelMap.Pop(devNum, tk, ch, -1)
		} else {
			o.cancelMap.Set(devNum, tk, ch, -1, 1)
		}
	}

	if !suppress {
		o.handles[devNum].Send(m)
	}
}

// cancelVisitor silences one note-map entry: a sustain-off for a pedal key,
// or count explicit note-offs for a note key.
func (o *Output) cancelVisitor(devNum, tk, ch, n, count int) {
	if n == -1 {
		m := contracts.MidiMessage{Data: []byte{byte(0xb0 + ch), contracts.CtrlSustain, 0}}
		o.handles[devNum].Send(m)
		return
	}
	for k := 0; k < count; k++ {
		m := contracts.MidiMessage{Data: []byte{byte(0x90 + ch), byte(n), 0}}
		o.handles[devNum].Send(m)
		if o.retrigger {
			o.retriggerMap.Pop(devNum, 0, ch, n)
		}
	}
}

// doStopAll silences every open device, then flushes the queue and both
// note maps. Callers hold o.mu.
func (o *Output) doStopAll() {
	for devNum, h := range o.handles {
		if h == nil {
			continue
		}
		o.cancelMap.ClearAndVisit(devNum, contracts.AllTracks, o.cancelVisitor)
		for ch := 0; ch < 16; ch++ {
			for _, ctrl := range [3]byte{contracts.CtrlAllNotesOff, contracts.CtrlSustain, contracts.CtrlAllSoundOff} {
				h.Send(contracts.MidiMessage{Data: []byte{byte(0xb0 + ch), ctrl, 0}})
			}
		}
	}
	o.queue = o.queue[:0]
	o.retriggerMap.Clear()
	o.cancelMap.Clear()
}

// doCancelMessages removes every queued entry matching (devNum, tk) and
// silences the matching sounding notes. Callers hold o.mu.
func (o *Output) doCancelMessages(devNum, tk int) {
	keep := o.queue.partitionOut(devNum, tk, tk == contracts.AllTracks)
	for i := keep; i < len(o.queue); i++ {
		o.queue[i] = nil
	}
	o.queue = o.queue[:keep]
	heap.Init(&o.queue)

	if devNum >= 0 && devNum < len(o.handles) && o.handles[devNum] != nil {
		o.cancelMap.ClearAndVisit(devNum, tk, o.cancelVisitor)
	}
}
