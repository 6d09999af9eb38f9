package presence

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Sensor is a single boolean presence signal. true means a vehicle is in the
// detection zone.
type Sensor interface {
	Read() (bool, error)
}

// Toggle is a software sensor driven by Set. Used by the simulator and the
// debug endpoints.
type Toggle struct {
	v atomic.Bool
}

func (t *Toggle) Set(present bool) { t.v.Store(present) }

func (t *Toggle) Read() (bool, error) { return t.v.Load(), nil }

// GPIO reads a digital input pin through periph.io.
type GPIO struct {
	pin       gpio.PinIn
	activeLow bool
}

// OpenGPIO initialises the host drivers and configures name (e.g. "GPIO18") as
// a pulled-down input.
func OpenGPIO(name string, activeLow bool) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", name, err)
	}
	return &GPIO{pin: p, activeLow: activeLow}, nil
}

func (g *GPIO) Read() (bool, error) {
	high := g.pin.Read() == gpio.High
	return high != g.activeLow, nil
}
