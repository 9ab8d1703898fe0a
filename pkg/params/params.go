// Package params converts between physical calibration quantities and their
// fixed-point wire encodings, validates ranges, and computes deviations.
package params

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies a physical quantity and fixes its wire encoding.
type Kind int

const (
	Voltage Kind = iota
	Current
	Power
	Frequency
	Phase
	Threshold
)

var kindNames = map[Kind]string{
	Voltage:   "voltage",
	Current:   "current",
	Power:     "power",
	Frequency: "frequency",
	Phase:     "phase",
	Threshold: "threshold",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// encoding describes a kind's fixed-point layout: value*scale rounded to the
// nearest integer, little-endian, width bytes, optionally two's-complement.
type encoding struct {
	min, max float64
	scale    float64
	width    int
	signed   bool
	unit     string
}

var encodings = map[Kind]encoding{
	Voltage:   {min: 90, max: 300, scale: 100, width: 2, unit: "V"},
	Current:   {min: 0, max: 200, scale: 1000, width: 4, unit: "A"},
	Power:     {min: 0, max: 60000, scale: 100, width: 4, unit: "W"},
	Frequency: {min: 45, max: 65, scale: 100, width: 2, unit: "Hz"},
	Phase:     {min: -180, max: 180, scale: 100, width: 2, signed: true, unit: "°"},
	Threshold: {min: 0, max: 200, scale: 10000, width: 4, unit: "A"},
}

// Width returns the wire width in bytes of the kind's encoding.
func Width(k Kind) int { return encodings[k].width }

// Range returns the inclusive validity bounds of the kind.
func Range(k Kind) (min, max float64) {
	e := encodings[k]
	return e.min, e.max
}

// Encode converts a physical value to its little-endian fixed-point wire
// bytes. Values are range-checked first; scaling rounds half to even.
func Encode(k Kind, value float64) ([]byte, error) {
	e, ok := encodings[k]
	if !ok {
		return nil, fmt.Errorf("unknown parameter kind %d", int(k))
	}
	if value < e.min || value > e.max || math.IsNaN(value) {
		return nil, fmt.Errorf("%w: %s %g%s outside [%g, %g]", ErrOutOfRange, k, value, e.unit, e.min, e.max)
	}

	scaled := int64(math.RoundToEven(value * e.scale))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(scaled))
	return buf[:e.width], nil
}

// Decode converts wire bytes back to the physical value. The byte slice must
// be exactly the kind's width.
func Decode(k Kind, b []byte) (float64, error) {
	e, ok := encodings[k]
	if !ok {
		return 0, fmt.Errorf("unknown parameter kind %d", int(k))
	}
	if len(b) != e.width {
		return 0, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedPayload, k, e.width, len(b))
	}

	var raw uint64
	for i := e.width - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(b[i])
	}
	scaled := int64(raw)
	if e.signed {
		shift := uint(64 - 8*e.width)
		scaled = int64(raw<<shift) >> shift // sign-extend
	}
	return float64(scaled) / e.scale, nil
}

// Deviation returns (measured - standard) / standard * 100, rounded to three
// decimal places. A zero standard makes the quotient meaningless.
func Deviation(measured, standard float64) (float64, error) {
	if standard == 0 {
		return 0, ErrZeroStandard
	}
	d := (measured - standard) / standard * 100
	return math.Round(d*1000) / 1000, nil
}
