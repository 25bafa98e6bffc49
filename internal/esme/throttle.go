package esme

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Throttle is the outbound flow-control state of one bind. It outlives
// individual sessions so throttled PDUs are replayed after a reconnect.
type Throttle struct {
	throttled   *atomic.Bool
	lastMarked  *atomic.Int64 // unix nanos of the latest throttling signal
	windowCount *atomic.Int32
	tps         int32

	mu      sync.Mutex
	retries []uint32
}

// NewThrottle returns an unthrottled state. tps <= 0 disables the
// proactive send-rate limit.
func NewThrottle(tps int) *Throttle {
	return &Throttle{
		throttled:   atomic.NewBool(false),
		lastMarked:  atomic.NewInt64(0),
		windowCount: atomic.NewInt32(0),
		tps:         int32(tps),
	}
}

func (t *Throttle) Throttled() bool {
	return t.throttled.Load()
}

// Mark records a throttling signal. It reports whether this entered the
// throttled state.
func (t *Throttle) Mark(now time.Time) bool {
	t.lastMarked.Store(now.UnixNano())
	return t.throttled.CompareAndSwap(false, true)
}

// QuietFor reports whether no throttling signal arrived within d of now.
func (t *Throttle) QuietFor(now time.Time, d time.Duration) bool {
	return now.Sub(time.Unix(0, t.lastMarked.Load())) >= d
}

// Clear leaves the throttled state. It reports whether the state changed.
func (t *Throttle) Clear() bool {
	return t.throttled.CompareAndSwap(true, false)
}

// Enqueue adds a sequence number whose cached PDU must be resent.
func (t *Throttle) Enqueue(seq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries = append(t.retries, seq)
}

// Pop removes the oldest pending retry.
func (t *Throttle) Pop() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.retries) == 0 {
		return 0, false
	}
	seq := t.retries[0]
	t.retries = t.retries[1:]
	return seq, true
}

func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.retries)
}

// CountSends adds n sends to the current window and reports whether the
// window is now at its limit.
func (t *Throttle) CountSends(n int) bool {
	count := t.windowCount.Add(int32(n))
	return t.tps > 0 && count >= t.tps
}

// WindowFull reports whether the current window has reached the limit.
func (t *Throttle) WindowFull() bool {
	return t.tps > 0 && t.windowCount.Load() >= t.tps
}

// ResetWindow starts a new rate window.
func (t *Throttle) ResetWindow() {
	t.windowCount.Store(0)
}
