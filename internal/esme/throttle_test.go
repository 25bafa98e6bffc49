package esme

import (
	"testing"
	"time"
)

func TestThrottleMarkAndClear(t *testing.T) {
	th := NewThrottle(0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !th.Mark(now) {
		t.Fatal("first Mark() did not enter the throttled state")
	}
	if th.Mark(now.Add(time.Millisecond)) {
		t.Error("second Mark() reported entering again")
	}
	if th.QuietFor(now.Add(50*time.Millisecond), 100*time.Millisecond) {
		t.Error("QuietFor() true inside the delay")
	}
	if !th.QuietFor(now.Add(200*time.Millisecond), 100*time.Millisecond) {
		t.Error("QuietFor() false after the delay")
	}
	if !th.Clear() || th.Throttled() {
		t.Error("Clear() did not leave the throttled state")
	}
	if th.Clear() {
		t.Error("second Clear() reported a change")
	}
}

func TestThrottleRetryQueueIsFIFO(t *testing.T) {
	th := NewThrottle(0)
	for _, seq := range []uint32{7, 3, 9} {
		th.Enqueue(seq)
	}
	if th.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", th.Pending())
	}
	for _, want := range []uint32{7, 3, 9} {
		got, ok := th.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %d, %v; want %d", got, ok, want)
		}
	}
	if _, ok := th.Pop(); ok {
		t.Error("Pop() on an empty queue reported a value")
	}
}

func TestThrottleWindow(t *testing.T) {
	tests := []struct {
		tps   int
		sends []int
		want  bool
	}{
		{tps: 0, sends: []int{100}, want: false},
		{tps: 3, sends: []int{1, 1}, want: false},
		{tps: 3, sends: []int{1, 2}, want: true},
		{tps: 3, sends: []int{4}, want: true},
	}
	for _, tt := range tests {
		th := NewThrottle(tt.tps)
		var full bool
		for _, n := range tt.sends {
			full = th.CountSends(n)
		}
		if full != tt.want || th.WindowFull() != tt.want {
			t.Errorf("tps=%d sends=%v: CountSends=%v WindowFull=%v, want %v", tt.tps, tt.sends, full, th.WindowFull(), tt.want)
		}
		th.ResetWindow()
		if th.WindowFull() {
			t.Errorf("tps=%d: WindowFull() after ResetWindow", tt.tps)
		}
	}
}
