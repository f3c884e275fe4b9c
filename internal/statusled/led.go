// Package statusled renders the fused verdict on a single GPIO LED:
// off = empty, solid = occupied, fast blink = moving, slow blink =
// calibrating. The deployed nodes used an RGB pixel; a plain LED keeps
// the same states apart with blink patterns instead of colors.
package statusled

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// State is the tri-state status plus the calibration override.
type State int

const (
	Empty State = iota
	Occupied
	Moving
	Calibrating
)

// StateOf maps a verdict to a State.
func StateOf(occupied, moving, calibrating bool) State {
	switch {
	case calibrating:
		return Calibrating
	case moving:
		return Moving
	case occupied:
		return Occupied
	default:
		return Empty
	}
}

// LED drives the status pin. A nil *LED is a no-op, so callers without LED
// hardware configured can skip the nil checks.
type LED struct {
	pin   gpio.PinIO
	ticks int
	lit   bool
}

// Open initializes the periph host and claims the named pin. An empty
// pin name means no LED is wired; the returned nil LED is a no-op.
func Open(pinName string) (*LED, error) {
	if pinName == "" {
		return nil, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("LED pin %q not found", pinName)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("LED pin %q: %w", pinName, err)
	}
	return &LED{pin: pin}, nil
}

// Set renders the state. It is meant to be called on the publisher tick;
// blink patterns advance one step per call.
func (l *LED) Set(s State) error {
	if l == nil {
		return nil
	}
	l.ticks++

	var lit bool
	switch s {
	case Empty:
		lit = false
	case Occupied:
		lit = true
	case Moving:
		lit = l.ticks%2 == 0 // fast blink
	case Calibrating:
		lit = l.ticks%4 < 2 // slow blink
	}

	if lit == l.lit {
		return nil
	}
	l.lit = lit
	level := gpio.Low
	if lit {
		level = gpio.High
	}
	return l.pin.Out(level)
}

// Close turns the LED off.
func (l *LED) Close() error {
	if l == nil {
		return nil
	}
	return l.pin.Out(gpio.Low)
}
