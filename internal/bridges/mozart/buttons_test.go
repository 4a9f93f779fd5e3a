package mozart

import (
	"sync"
	"testing"
	"time"
)

// Short thresholds keep the timing tests fast while leaving generous
// margins around the sleeps.
const (
	testLongThreshold     = 60 * time.Millisecond
	testVeryLongThreshold = 60 * time.Millisecond
)

type buttonRecorder struct {
	mu     sync.Mutex
	events []ButtonEvent
}

func (r *buttonRecorder) record(ev ButtonEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *buttonRecorder) eventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Event
	}
	return names
}

func newTestClassifier(t *testing.T) (*ButtonClassifier, *buttonRecorder) {
	t.Helper()
	rec := &buttonRecorder{}
	c := NewButtonClassifier(testLongThreshold, testVeryLongThreshold, rec.record)
	return c, rec
}

func assertEvents(t *testing.T, rec *buttonRecorder, want []string) {
	t.Helper()

	got := rec.eventNames()
	if len(got) != len(want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestShortPress(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlPlayPause)
	time.Sleep(10 * time.Millisecond)
	c.Release(ControlPlayPause)

	// No timer may fire after return to Idle
	time.Sleep(2 * testLongThreshold)

	assertEvents(t, rec, []string{
		EventKeyPress,
		EventKeyRelease,
		EventShortPressRelease,
	})
}

func TestLongPress(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlPlayPause)
	time.Sleep(testLongThreshold + 30*time.Millisecond)
	c.Release(ControlPlayPause)

	assertEvents(t, rec, []string{
		EventKeyPress,
		EventLongPressTimeout,
		EventKeyRelease,
		EventLongPressRelease,
	})
}

func TestVeryLongPress(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlVolume)
	time.Sleep(testLongThreshold + testVeryLongThreshold + 30*time.Millisecond)
	c.Release(ControlVolume)

	// The very long release must not also emit a long release
	assertEvents(t, rec, []string{
		EventKeyPress,
		EventLongPressTimeout,
		EventVeryLongPressTimeout,
		EventKeyRelease,
		EventVeryLongPressRelease,
	})
}

func TestDuplicatePressIgnored(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlNext)
	c.Press(ControlNext)
	time.Sleep(10 * time.Millisecond)
	c.Release(ControlNext)

	assertEvents(t, rec, []string{
		EventKeyPress,
		EventKeyRelease,
		EventShortPressRelease,
	})
}

func TestReleaseWhileIdle(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Release(ControlNext)
	c.Release(ControlNext)

	// The raw release is surfaced even for an unseen control, but no
	// semantic release event follows
	assertEvents(t, rec, []string{EventKeyRelease, EventKeyRelease})
}

func TestReleaseCancelsTimers(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlPrevious)
	c.Release(ControlPrevious)

	time.Sleep(testLongThreshold + testVeryLongThreshold + 50*time.Millisecond)

	// No long/very-long event may fire after the release
	assertEvents(t, rec, []string{
		EventKeyPress,
		EventKeyRelease,
		EventShortPressRelease,
	})
}

func TestControlsIndependent(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlNext)
	c.Press(ControlPrevious)
	time.Sleep(10 * time.Millisecond)
	c.Release(ControlNext)
	time.Sleep(testLongThreshold + 30*time.Millisecond)
	c.Release(ControlPrevious)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var nextEvents, prevEvents []string
	for _, ev := range rec.events {
		switch ev.Control {
		case ControlNext:
			nextEvents = append(nextEvents, ev.Event)
		case ControlPrevious:
			prevEvents = append(prevEvents, ev.Event)
		}
	}

	wantNext := []string{EventKeyPress, EventKeyRelease, EventShortPressRelease}
	wantPrev := []string{EventKeyPress, EventLongPressTimeout, EventKeyRelease, EventLongPressRelease}

	if len(nextEvents) != len(wantNext) {
		t.Fatalf("Next events = %v, want %v", nextEvents, wantNext)
	}
	for i := range wantNext {
		if nextEvents[i] != wantNext[i] {
			t.Errorf("Next event[%d] = %q, want %q", i, nextEvents[i], wantNext[i])
		}
	}
	if len(prevEvents) != len(wantPrev) {
		t.Fatalf("Previous events = %v, want %v", prevEvents, wantPrev)
	}
	for i := range wantPrev {
		if prevEvents[i] != wantPrev[i] {
			t.Errorf("Previous event[%d] = %q, want %q", i, prevEvents[i], wantPrev[i])
		}
	}
}

func TestResetCancelsPendingTimers(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlPlayPause)
	c.Reset()

	time.Sleep(testLongThreshold + testVeryLongThreshold + 50*time.Millisecond)

	// Only the raw press; no escalation after reset
	assertEvents(t, rec, []string{EventKeyPress})
}

func TestPressAfterReset(t *testing.T) {
	c, rec := newTestClassifier(t)

	c.Press(ControlPlayPause)
	c.Reset()
	c.Press(ControlPlayPause)
	time.Sleep(10 * time.Millisecond)
	c.Release(ControlPlayPause)

	assertEvents(t, rec, []string{
		EventKeyPress,
		EventKeyPress,
		EventKeyRelease,
		EventShortPressRelease,
	})
}

func TestDefaultThresholds(t *testing.T) {
	c := NewButtonClassifier(0, 0, nil)

	if c.longThreshold != defaultLongPressThreshold {
		t.Errorf("longThreshold = %v, want %v", c.longThreshold, defaultLongPressThreshold)
	}
	if c.veryLongThreshold != defaultVeryLongPressThreshold {
		t.Errorf("veryLongThreshold = %v, want %v", c.veryLongThreshold, defaultVeryLongPressThreshold)
	}
}
