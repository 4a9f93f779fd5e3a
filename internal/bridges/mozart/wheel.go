package mozart

import (
	"sync"
	"time"
)

// defaultWheelQuietPeriod is how long a wheel must be still before the
// accumulated detents are emitted as one rotation event.
const defaultWheelQuietPeriod = 250 * time.Millisecond

// RotationEvent is one settled wheel gesture: direction is the sign of
// the net detent count (+1 clockwise, -1 counter-clockwise), magnitude
// its absolute value.
type RotationEvent struct {
	Control   string
	Direction int
	Magnitude int
}

// wheelAccumulator tracks one wheel control between emissions.
// gen invalidates a timer callback that fired but lost the lock race
// against a newer tick.
type wheelAccumulator struct {
	net   int
	gen   uint64
	timer *time.Timer
}

// WheelDebouncer converts bursts of rotary detent notifications into a
// single rotation event per physical gesture.
//
// Each detent adds to a per-control signed counter and re-arms that
// control's quiet-period timer. When the quiet period elapses with no
// further detents, one RotationEvent is emitted for the net movement
// and the counter clears. A net movement of zero emits nothing.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Controls are independent; a burst on one wheel never delays
//     emission for another.
type WheelDebouncer struct {
	mu     sync.Mutex
	wheels map[string]*wheelAccumulator

	quietPeriod time.Duration

	emit func(RotationEvent)
}

// NewWheelDebouncer creates a debouncer with the given quiet period.
// A zero quiet period uses the default (250ms).
func NewWheelDebouncer(quietPeriod time.Duration, emit func(RotationEvent)) *WheelDebouncer {
	if quietPeriod <= 0 {
		quietPeriod = defaultWheelQuietPeriod
	}
	return &WheelDebouncer{
		wheels:      make(map[string]*wheelAccumulator),
		quietPeriod: quietPeriod,
		emit:        emit,
	}
}

// Tick records one or more detents for a control. Positive delta is
// clockwise. The quiet-period timer restarts on every tick.
func (w *WheelDebouncer) Tick(control string, delta int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	acc := w.wheels[control]
	if acc == nil {
		acc = &wheelAccumulator{}
		w.wheels[control] = acc
	}

	acc.net += delta
	acc.gen++
	gen := acc.gen

	if acc.timer != nil {
		acc.timer.Stop()
	}
	acc.timer = time.AfterFunc(w.quietPeriod, func() {
		w.settle(control, gen)
	})
}

// settle emits the accumulated movement for a control once its quiet
// period has elapsed.
func (w *WheelDebouncer) settle(control string, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	acc := w.wheels[control]
	if acc == nil || acc.gen != gen {
		return // Superseded by a newer tick
	}

	net := acc.net
	acc.net = 0
	acc.timer = nil

	if net == 0 {
		return // Movement cancelled itself out
	}

	direction := 1
	if net < 0 {
		direction = -1
		net = -net
	}

	if w.emit != nil {
		w.emit(RotationEvent{Control: control, Direction: direction, Magnitude: net})
	}
}

// Reset cancels all pending timers and discards accumulated movement.
// Called when the device disconnects.
func (w *WheelDebouncer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, acc := range w.wheels {
		if acc.timer != nil {
			acc.timer.Stop()
		}
	}
	w.wheels = make(map[string]*wheelAccumulator)
}
