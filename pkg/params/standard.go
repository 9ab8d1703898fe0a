package params

import "fmt"

// StandardValues are the reference-source quantities a calibration run is
// performed against. PowerFactor is dimensionless; the remaining fields use
// the units of their parameter kind.
type StandardValues struct {
	Voltage               float64 `json:"voltage"`
	Current               float64 `json:"current"`
	PowerFactor           float64 `json:"powerFactor"`
	Frequency             float64 `json:"frequency"`
	Phase                 float64 `json:"phase"`
	SmallCurrentThreshold float64 `json:"smallCurrentThreshold"`
}

// Power returns the active power implied by the standard source settings.
func (s StandardValues) Power() float64 {
	return s.Voltage * s.Current * s.PowerFactor
}

// Validate checks every field against its kind's range. The implied power is
// checked too, since that is what the power-gain command actually writes.
func (s StandardValues) Validate() error {
	checks := []struct {
		kind  Kind
		value float64
	}{
		{Voltage, s.Voltage},
		{Current, s.Current},
		{Frequency, s.Frequency},
		{Phase, s.Phase},
		{Threshold, s.SmallCurrentThreshold},
		{Power, s.Power()},
	}
	for _, c := range checks {
		if _, err := Encode(c.kind, c.value); err != nil {
			return err
		}
	}
	if s.PowerFactor < -1 || s.PowerFactor > 1 {
		return fmt.Errorf("%w: power factor %g outside [-1, 1]", ErrOutOfRange, s.PowerFactor)
	}
	return nil
}
