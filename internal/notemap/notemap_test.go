package notemap

import (
	"reflect"
	"testing"

	"github.com/snisim/pytakt/sdk/contracts"
)

func TestPushPop(t *testing.T) {
	nm := New()

	if got := nm.Push(0, 1, 2, 60); got != 0 {
		t.Errorf("first Push returned %d, want 0", got)
	}
	if got := nm.Push(0, 1, 2, 60); got != 1 {
		t.Errorf("second Push returned %d, want 1", got)
	}
	if got := nm.Pop(0, 1, 2, 60); got != 1 {
		t.Errorf("first Pop returned %d, want 1", got)
	}
	if got := nm.Pop(0, 1, 2, 60); got != 0 {
		t.Errorf("second Pop returned %d, want 0", got)
	}
	if nm.Len() != 0 {
		t.Errorf("map not empty after balanced push/pop: %d entries", nm.Len())
	}
	if got := nm.Pop(0, 1, 2, 60); got != 0 {
		t.Errorf("Pop on absent key returned %d, want 0", got)
	}
}

func TestSetOnlyWhenAbsent(t *testing.T) {
	nm := New()
	nm.Set(0, 0, 3, -1, 1)
	nm.Set(0, 0, 3, -1, 5)
	if got := nm.Pop(0, 0, 3, -1); got != 0 {
		t.Errorf("Pop after Set returned %d, want 0 (second Set must not overwrite)", got)
	}
}

func TestClearChannel(t *testing.T) {
	nm := New()
	nm.Push(0, 0, 1, 60)
	nm.Push(0, 0, 1, 62)
	nm.Push(0, 0, 2, 60)
	nm.Push(1, 0, 1, 60)

	nm.ClearChannel(0, 0, 1)

	if nm.Len() != 2 {
		t.Fatalf("got %d entries after ClearChannel, want 2", nm.Len())
	}
	if got := nm.Pop(0, 0, 2, 60); got != 0 {
		t.Errorf("unrelated channel entry damaged")
	}
}

func TestClearAndVisit(t *testing.T) {
	nm := New()
	nm.Push(0, 2, 1, 64)
	nm.Push(0, 1, 0, 60)
	nm.Push(0, 1, 0, 60) // pile count 2
	nm.Push(0, 1, 5, 72)
	nm.Push(1, 1, 0, 60) // other device, must survive

	type visited struct{ tk, ch, n, count int }
	var got []visited
	nm.ClearAndVisit(0, contracts.AllTracks, func(dev, tk, ch, n, count int) {
		if dev != 0 {
			t.Errorf("visitor called with device %d, want 0", dev)
		}
		got = append(got, visited{tk, ch, n, count})
	})

	want := []visited{{1, 0, 60, 2}, {1, 5, 72, 1}, {2, 1, 64, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("visit order/content = %v, want %v", got, want)
	}
	if nm.Len() != 1 {
		t.Errorf("entries of other devices must survive, have %d", nm.Len())
	}
}

func TestClearAndVisitSingleTrack(t *testing.T) {
	nm := New()
	nm.Push(0, 1, 0, 60)
	nm.Push(0, 2, 0, 61)

	calls := 0
	nm.ClearAndVisit(0, 2, func(dev, tk, ch, n, count int) {
		calls++
		if tk != 2 || n != 61 {
			t.Errorf("visited (tk=%d n=%d), want (2, 61)", tk, n)
		}
	})
	if calls != 1 {
		t.Errorf("visitor called %d times, want 1", calls)
	}
	if nm.Len() != 1 {
		t.Errorf("non-matching track entry must survive")
	}
}
