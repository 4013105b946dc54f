// Package notemap tracks the currently sounding note-on events and held
// sustain pedals, keyed by device, track, channel, and note number.
package notemap

import (
	"sort"

	"github.com/snisim/pytakt/sdk/contracts"
)

// Key identifies one counted entry. Note is the MIDI note number, or -1 to
// record the sustain-pedal-down state of the channel.
type Key struct {
	Dev   int
	Track int
	Ch    int
	Note  int
}

// Map counts outstanding note-ons per key. Counts are strictly positive
// while an entry exists; entries are removed when their count reaches zero.
type Map struct {
	m map[Key]int
}

// New returns an empty map.
func New() *Map {
	return &Map{m: make(map[Key]int)}
}

// Push increments the count for the key, creating it at 1 when absent, and
// returns the count before the increment.
func (nm *Map) Push(dev, tk, ch, n int) int {
	key := Key{dev, tk, ch, n}
	prev := nm.m[key]
	nm.m[key] = prev + 1
	return prev
}

// Set inserts the key with the given count only when the key is absent.
func (nm *Map) Set(dev, tk, ch, n, count int) {
	key := Key{dev, tk, ch, n}
	if _, ok := nm.m[key]; !ok {
		nm.m[key] = count
	}
}

// Pop decrements the count for the key and returns the new count, removing
// the entry when it reaches zero. For an absent key it returns 0.
func (nm *Map) Pop(dev, tk, ch, n int) int {
	key := Key{dev, tk, ch, n}
	count, ok := nm.m[key]
	if !ok {
		return 0
	}
	count--
	if count == 0 {
		delete(nm.m, key)
	} else {
		nm.m[key] = count
	}
	return count
}

// Len returns the number of live entries.
func (nm *Map) Len() int {
	return len(nm.m)
}

// Clear removes every entry.
func (nm *Map) Clear() {
	nm.m = make(map[Key]int)
}

// ClearChannel removes all entries for one (device, track, channel).
func (nm *Map) ClearChannel(dev, tk, ch int) {
	for key := range nm.m {
		if key.Dev == dev && key.Track == tk && key.Ch == ch {
			delete(nm.m, key)
		}
	}
}

// ClearAndVisit removes every entry matching the device and track (every
// track when tk is contracts.AllTracks) and calls visit exactly once per
// removed entry, in lexicographic (track, channel, note) order.
func (nm *Map) ClearAndVisit(dev, tk int, visit func(dev, tk, ch, n, count int)) {
	var keys []Key
	for key := range nm.m {
		if key.Dev == dev && (tk == contracts.AllTracks || key.Track == tk) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Track != b.Track {
			return a.Track < b.Track
		}
		if a.Ch != b.Ch {
			return a.Ch < b.Ch
		}
		return a.Note < b.Note
	})
	for _, key := range keys {
		count := nm.m[key]
		delete(nm.m, key)
		visit(key.Dev, key.Track, key.Ch, key.Note, count)
	}
}
