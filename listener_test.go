package redsocks

import (
	"errors"
	"syscall"
	"testing"
)

func TestClampMs(t *testing.T) {
	cases := []struct {
		name           string
		v, min, max    uint16
		want           uint16
	}{
		{"below min clamps up", 1, 10, 1000, 10},
		{"within range unchanged", 500, 10, 1000, 500},
		{"above max clamps down", 5000, 10, 1000, 1000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := clampMs(c.v, c.min, c.max); got != c.want {
				t.Errorf("clampMs(%d, %d, %d) = %d, want %d", c.v, c.min, c.max, got, c.want)
			}
		})
	}
}

// TestBackoffProgression exercises the shift-left+1 sequence spec §4.2
// describes, the way armBackoff computes it hit-by-hit.
func TestBackoffProgression(t *testing.T) {
	min, max := uint16(10), uint16(1000)

	current := clampMs(backoffStartMs, min, max)
	if current != 10 {
		t.Fatalf("first hit = %d, want 10 (clamped start)", current)
	}

	var seq []uint16
	for i := 0; i < 5; i++ {
		current = clampMs(current<<1+1, min, max)
		seq = append(seq, current)
	}
	want := []uint16{21, 43, 87, 175, 351}
	for i, w := range want {
		if seq[i] != w {
			t.Errorf("hit %d = %d, want %d", i+2, seq[i], w)
		}
	}
}

func TestIsTransientAcceptError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"emfile", syscall.EMFILE, true},
		{"enfile", syscall.ENFILE, true},
		{"enobufs", syscall.ENOBUFS, true},
		{"enomem", syscall.ENOMEM, true},
		{"econnreset not transient", syscall.ECONNRESET, false},
		{"non-errno error", errors.New("boom"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isTransientAcceptError(c.err); got != c.want {
				t.Errorf("isTransientAcceptError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
