package mozart

import (
	"sync"
	"testing"
	"time"
)

const testQuietPeriod = 50 * time.Millisecond

type rotationRecorder struct {
	mu     sync.Mutex
	events []RotationEvent
}

func (r *rotationRecorder) record(ev RotationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *rotationRecorder) snapshot() []RotationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RotationEvent(nil), r.events...)
}

func newTestDebouncer(t *testing.T) (*WheelDebouncer, *rotationRecorder) {
	t.Helper()
	rec := &rotationRecorder{}
	w := NewWheelDebouncer(testQuietPeriod, rec.record)
	return w, rec
}

func waitSettle() {
	time.Sleep(testQuietPeriod + 40*time.Millisecond)
}

func TestBurstEmitsSingleEvent(t *testing.T) {
	w, rec := newTestDebouncer(t)

	for range 5 {
		w.Tick(ControlVolume, 1)
		time.Sleep(5 * time.Millisecond)
	}
	waitSettle()

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Direction != 1 || events[0].Magnitude != 5 {
		t.Errorf("event = %+v, want direction 1 magnitude 5", events[0])
	}
}

func TestMixedSignsNetMovement(t *testing.T) {
	w, rec := newTestDebouncer(t)

	w.Tick(ControlVolume, 3)
	w.Tick(ControlVolume, -1)
	w.Tick(ControlVolume, -4)
	waitSettle()

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Direction != -1 || events[0].Magnitude != 2 {
		t.Errorf("event = %+v, want direction -1 magnitude 2", events[0])
	}
}

func TestNetZeroEmitsNothing(t *testing.T) {
	w, rec := newTestDebouncer(t)

	w.Tick(ControlVolume, 2)
	w.Tick(ControlVolume, -2)
	waitSettle()

	if events := rec.snapshot(); len(events) != 0 {
		t.Errorf("net zero movement emitted %v, want none", events)
	}
}

func TestTickResetsQuietPeriod(t *testing.T) {
	w, rec := newTestDebouncer(t)

	// Keep ticking just inside the quiet period; nothing may emit
	for range 4 {
		w.Tick(ControlVolume, 1)
		time.Sleep(testQuietPeriod / 2)
	}
	if events := rec.snapshot(); len(events) != 0 {
		t.Fatalf("emitted %v before the wheel settled", events)
	}

	waitSettle()

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events after settling, want 1", len(events))
	}
	if events[0].Magnitude != 4 {
		t.Errorf("magnitude = %d, want 4", events[0].Magnitude)
	}
}

func TestSeparateGestures(t *testing.T) {
	w, rec := newTestDebouncer(t)

	w.Tick(ControlVolume, 2)
	waitSettle()
	w.Tick(ControlVolume, -3)
	waitSettle()

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0].Direction != 1 || events[0].Magnitude != 2 {
		t.Errorf("first event = %+v, want direction 1 magnitude 2", events[0])
	}
	if events[1].Direction != -1 || events[1].Magnitude != 3 {
		t.Errorf("second event = %+v, want direction -1 magnitude 3", events[1])
	}
}

func TestControlsSettleIndependently(t *testing.T) {
	w, rec := newTestDebouncer(t)

	w.Tick("WheelA", 1)
	w.Tick("WheelB", -2)
	waitSettle()

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}

	byControl := make(map[string]RotationEvent)
	for _, ev := range events {
		byControl[ev.Control] = ev
	}
	if ev := byControl["WheelA"]; ev.Direction != 1 || ev.Magnitude != 1 {
		t.Errorf("WheelA event = %+v", ev)
	}
	if ev := byControl["WheelB"]; ev.Direction != -1 || ev.Magnitude != 2 {
		t.Errorf("WheelB event = %+v", ev)
	}
}

func TestResetDiscardsAccumulation(t *testing.T) {
	w, rec := newTestDebouncer(t)

	w.Tick(ControlVolume, 7)
	w.Reset()
	waitSettle()

	if events := rec.snapshot(); len(events) != 0 {
		t.Errorf("reset debouncer emitted %v, want none", events)
	}
}
