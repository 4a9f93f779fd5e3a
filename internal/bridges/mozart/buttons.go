package mozart

import (
	"sync"
	"time"
)

// Default press classification thresholds.
const (
	// defaultLongPressThreshold is how long a control must be held
	// before the press escalates from short to long.
	defaultLongPressThreshold = 1500 * time.Millisecond

	// defaultVeryLongPressThreshold is the additional hold time after
	// the long threshold before the press escalates to very long.
	defaultVeryLongPressThreshold = 2 * time.Second
)

// Semantic button events emitted by the classifier.
const (
	EventKeyPress             = "key_press"
	EventKeyRelease           = "key_release"
	EventShortPressRelease    = "short_press_release"
	EventLongPressTimeout     = "long_press_timeout"
	EventLongPressRelease     = "long_press_release"
	EventVeryLongPressTimeout = "very_long_press_timeout"
	EventVeryLongPressRelease = "very_long_press_release"
)

// Device control names carried in button notifications.
const (
	ControlBluetooth  = "Bluetooth"
	ControlMicrophone = "Microphone"
	ControlNext       = "Next"
	ControlPlayPause  = "PlayPause"
	ControlPreset1    = "Preset1"
	ControlPreset2    = "Preset2"
	ControlPreset3    = "Preset3"
	ControlPreset4    = "Preset4"
	ControlPrevious   = "Previous"
	ControlVolume     = "Volume"
	ControlWheel      = "Wheel"
)

// ButtonEvent is one classified user-intent event for a control.
type ButtonEvent struct {
	Control string
	Event   string
}

// Per-control press phases.
type pressPhase int

const (
	phaseIdle pressPhase = iota
	phasePressed
	phaseLongHeld
	phaseVeryLongHeld
)

// controlState tracks one physical control's press lifecycle.
// Created on first event for a control, cleared on Reset. seq
// invalidates timers from an earlier press that fired but lost the
// lock race against a release-and-repress.
type controlState struct {
	phase         pressPhase
	seq           uint64
	pressedAt     time.Time
	longTimer     *time.Timer
	veryLongTimer *time.Timer
}

// ButtonClassifier turns raw press/release notifications into discrete
// semantic events per control.
//
// State machine per control: Idle, Pressed, LongHeld, VeryLongHeld.
// A release before the long threshold emits short_press_release. The
// long timer firing while pressed emits long_press_timeout; the very
// long timer firing afterwards emits very_long_press_timeout. The
// eventual release emits the matching release event for the phase it
// left. Raw key_press/key_release events are surfaced alongside.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Events for a single control are emitted in order; the emit
//     callback runs with the classifier lock held and must not call
//     back into the classifier or block.
type ButtonClassifier struct {
	mu       sync.Mutex
	controls map[string]*controlState

	longThreshold     time.Duration
	veryLongThreshold time.Duration

	emit func(ButtonEvent)
}

// NewButtonClassifier creates a classifier with the given thresholds.
// Zero thresholds use the defaults (1.5s long, +2s very long). The emit
// callback receives every semantic event.
func NewButtonClassifier(longThreshold, veryLongThreshold time.Duration, emit func(ButtonEvent)) *ButtonClassifier {
	if longThreshold <= 0 {
		longThreshold = defaultLongPressThreshold
	}
	if veryLongThreshold <= 0 {
		veryLongThreshold = defaultVeryLongPressThreshold
	}
	return &ButtonClassifier{
		controls:          make(map[string]*controlState),
		longThreshold:     longThreshold,
		veryLongThreshold: veryLongThreshold,
		emit:              emit,
	}
}

// Press records a press notification for a control. A press while the
// control is already held is a duplicate and is ignored.
func (c *ButtonClassifier) Press(control string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.controls[control]
	if state == nil {
		state = &controlState{}
		c.controls[control] = state
	}

	if state.phase != phaseIdle {
		return // Duplicate press
	}

	state.phase = phasePressed
	state.seq++
	seq := state.seq
	state.pressedAt = time.Now()
	c.emitLocked(control, EventKeyPress)

	state.longTimer = time.AfterFunc(c.longThreshold, func() {
		c.escalate(control, seq, phasePressed, phaseLongHeld, EventLongPressTimeout)
	})
	state.veryLongTimer = time.AfterFunc(c.longThreshold+c.veryLongThreshold, func() {
		c.escalate(control, seq, phaseLongHeld, phaseVeryLongHeld, EventVeryLongPressTimeout)
	})
}

// Release records a release notification for a control. The semantic
// release event depends on the phase the press reached. A release while
// Idle is ignored (the raw key_release is still surfaced).
func (c *ButtonClassifier) Release(control string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.controls[control]
	if state == nil {
		state = &controlState{}
		c.controls[control] = state
	}

	c.emitLocked(control, EventKeyRelease)

	if state.phase == phaseIdle {
		return
	}

	state.cancelTimers()

	switch state.phase {
	case phasePressed:
		c.emitLocked(control, EventShortPressRelease)
	case phaseLongHeld:
		c.emitLocked(control, EventLongPressRelease)
	case phaseVeryLongHeld:
		c.emitLocked(control, EventVeryLongPressRelease)
	case phaseIdle:
		// Unreachable, handled above
	}

	state.phase = phaseIdle
}

// escalate moves a held control from one phase to the next when its
// timer fires. The from check guards against a release (or a later
// escalation) that won the race with the timer.
func (c *ButtonClassifier) escalate(control string, seq uint64, from, to pressPhase, event string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.controls[control]
	if state == nil || state.seq != seq || state.phase != from {
		return // Released or escalated in the meantime
	}

	state.phase = to
	c.emitLocked(control, event)
}

// Reset cancels all pending timers and returns every control to Idle.
// Called when the device disconnects so no stale timer fires against a
// pre-disconnect press.
func (c *ButtonClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.controls {
		state.cancelTimers()
	}
	c.controls = make(map[string]*controlState)
}

func (c *ButtonClassifier) emitLocked(control, event string) {
	if c.emit != nil {
		c.emit(ButtonEvent{Control: control, Event: event})
	}
}

func (s *controlState) cancelTimers() {
	if s.longTimer != nil {
		s.longTimer.Stop()
		s.longTimer = nil
	}
	if s.veryLongTimer != nil {
		s.veryLongTimer.Stop()
		s.veryLongTimer = nil
	}
}
