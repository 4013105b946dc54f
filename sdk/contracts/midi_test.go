package contracts

import "testing"

func TestShortMessageSize(t *testing.T) {
	cases := []struct {
		status byte
		want   int
	}{
		{0x80, 3}, {0x93, 3}, {0xa0, 3}, {0xbf, 3},
		{0xc0, 2}, {0xd7, 2},
		{0xe2, 3},
		{0xf1, 2}, {0xf2, 3}, {0xf3, 2},
		{0xf6, 1}, {0xf8, 1}, {0xfe, 1},
		{0xf0, 0},
	}
	for _, tc := range cases {
		if got := ShortMessageSize(tc.status); got != tc.want {
			t.Errorf("ShortMessageSize(%#x) = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestValidOutgoing(t *testing.T) {
	valid := [][]byte{
		{0x90, 60, 100},
		{0x80, 60, 0},
		{0xc0, 5},
		{0xe0, 0, 64},
		{0xf0, 0x7e, 0xf7},
		{0xff, 0x51, 7, 0xa1, 0x20},
		{0xff},
	}
	for _, msg := range valid {
		if !ValidOutgoing(msg) {
			t.Errorf("ValidOutgoing(%v) = false, want true", msg)
		}
	}

	invalid := [][]byte{
		nil,
		{},
		{0x42},
		{0x90, 60},
		{0x90, 60, 100, 1},
		{0xc0, 5, 0},
		{0xf1, 3},
		{0xf8},
	}
	for _, msg := range invalid {
		if ValidOutgoing(msg) {
			t.Errorf("ValidOutgoing(%v) = true, want false", msg)
		}
	}
}
