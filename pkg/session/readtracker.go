package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ScrollThresholdPx is how close to the bottom of the message view counts
// as "at the bottom" for read purposes.
const ScrollThresholdPx = 40

// ReadTracker derives the thread's boolean read state from thread-open
// events and scroll position. The outbound mark-read signal fires on the
// transition into "read"; while the view sits at the bottom, a rate limiter
// keeps further qualifying events from spamming the (idempotent) signal.
type ReadTracker struct {
	mu       sync.Mutex
	read     bool
	atBottom bool
	limiter  *rate.Limiter
	signal   func()
}

// NewReadTracker builds a tracker that invokes signal for each mark-read
// it decides to emit. signal must not block.
func NewReadTracker(signal func()) *ReadTracker {
	return &ReadTracker{
		// One redundant re-send per 30 s at most while already read.
		limiter: rate.NewLimiter(rate.Every(30*time.Second), 1),
		signal:  signal,
	}
}

// ThreadOpened records explicit activation of the thread. Opening always
// counts as reading, so the signal fires unconditionally.
func (t *ReadTracker) ThreadOpened() {
	t.mu.Lock()
	t.read = true
	t.atBottom = true
	t.mu.Unlock()
	t.signal()
}

// Scrolled reports the current distance (px) between the view's scroll
// position and its bottom. Entering the threshold edge-triggers one signal;
// staying inside it re-signals only when the limiter allows.
func (t *ReadTracker) Scrolled(distanceFromBottom float64) {
	near := distanceFromBottom < ScrollThresholdPx
	t.mu.Lock()
	t.atBottom = near
	if !near {
		t.mu.Unlock()
		return
	}
	if !t.read {
		t.read = true
		t.mu.Unlock()
		t.signal()
		return
	}
	allowed := t.limiter.Allow()
	t.mu.Unlock()
	if allowed {
		t.signal()
	}
}

// PeerMessage records an inbound message from the other participant. With
// the view away from the bottom the thread turns unread; at the bottom it
// stays read and the arrival itself qualifies as a read event.
func (t *ReadTracker) PeerMessage() {
	t.mu.Lock()
	if !t.atBottom {
		t.read = false
		t.mu.Unlock()
		return
	}
	allowed := t.limiter.Allow()
	t.mu.Unlock()
	if allowed {
		t.signal()
	}
}

// IsRead reports the current derived read state.
func (t *ReadTracker) IsRead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read
}
