// Package steps holds the five calibration steps and the state machine that
// walks a single step from pending to a terminal state.
package steps

import (
	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/params"
)

// Quantity is one physical value a step writes to the meter, paired with the
// standard-source value it is taken from.
type Quantity struct {
	Kind     params.Kind
	Standard float64
}

// Spec describes one calibration step: its identity, the data identifier it
// writes, and which standard quantities make up its payload, in payload order.
type Spec struct {
	ID         int
	Name       string
	DI         dlt645.DI
	Quantities func(v params.StandardValues) []Quantity
}

// All returns the five steps in the canonical execution order. Step 1 writes
// no parameters: the meter only needs the no-load condition asserted.
func All() []Spec {
	return []Spec{
		{
			ID:   1,
			Name: "current-offset",
			DI:   dlt645.DICurrentOffset,
			Quantities: func(params.StandardValues) []Quantity {
				return nil
			},
		},
		{
			ID:   2,
			Name: "voltage-current-gain",
			DI:   dlt645.DIVoltageCurrentGain,
			Quantities: func(v params.StandardValues) []Quantity {
				return []Quantity{
					{Kind: params.Voltage, Standard: v.Voltage},
					{Kind: params.Current, Standard: v.Current},
				}
			},
		},
		{
			ID:   3,
			Name: "power-gain",
			DI:   dlt645.DIPowerGain,
			Quantities: func(v params.StandardValues) []Quantity {
				return []Quantity{{Kind: params.Power, Standard: v.Power()}}
			},
		},
		{
			ID:   4,
			Name: "phase-compensation",
			DI:   dlt645.DIPhaseCompensation,
			Quantities: func(v params.StandardValues) []Quantity {
				return []Quantity{{Kind: params.Phase, Standard: v.Phase}}
			},
		},
		{
			ID:   5,
			Name: "small-current-bias",
			DI:   dlt645.DISmallCurrentBias,
			Quantities: func(v params.StandardValues) []Quantity {
				return []Quantity{{Kind: params.Threshold, Standard: v.SmallCurrentThreshold}}
			},
		},
	}
}

// ByID returns the spec for one step id, or false when no such step exists.
func ByID(id int) (Spec, bool) {
	for _, s := range All() {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}
