package params

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeKnownValues(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		value float64
		want  []byte
	}{
		{"voltage 220V", Voltage, 220.0, []byte{0xF0, 0x55}},
		{"current 1A", Current, 1.0, []byte{0xE8, 0x03, 0x00, 0x00}},
		{"power 220W", Power, 220.0, []byte{0xE0, 0x55, 0x00, 0x00}},
		{"frequency 50Hz", Frequency, 50.0, []byte{0x88, 0x13}},
		{"phase -1°", Phase, -1.0, []byte{0x9C, 0xFF}},
		{"phase +1°", Phase, 1.0, []byte{0x64, 0x00}},
		{"threshold 0.1A", Threshold, 0.1, []byte{0xE8, 0x03, 0x00, 0x00}},
	}

	for _, tc := range cases {
		got, err := Encode(tc.kind, tc.value)
		if err != nil {
			t.Fatalf("%s: Encode failed: %v", tc.name, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("%s: Encode = %X, want %X", tc.name, got, tc.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		kind  Kind
		value float64
	}{
		{Voltage, 90.0},
		{Voltage, 300.0},
		{Voltage, 220.5},
		{Current, 0.0},
		{Current, 200.0},
		{Power, 60000.0},
		{Frequency, 45.0},
		{Frequency, 65.0},
		{Phase, -180.0},
		{Phase, 180.0},
		{Phase, 0.0},
		{Threshold, 200.0},
	}

	for _, tc := range cases {
		b, err := Encode(tc.kind, tc.value)
		if err != nil {
			t.Fatalf("Encode(%s, %g) failed: %v", tc.kind, tc.value, err)
		}
		got, err := Decode(tc.kind, b)
		if err != nil {
			t.Fatalf("Decode(%s, %X) failed: %v", tc.kind, b, err)
		}
		if got != tc.value {
			t.Fatalf("%s %g round-tripped to %g", tc.kind, tc.value, got)
		}
	}
}

func TestEncodeRangeBounds(t *testing.T) {
	reject := []struct {
		kind  Kind
		value float64
	}{
		{Voltage, 89.9},
		{Voltage, 300.1},
		{Current, -0.001},
		{Current, 200.5},
		{Power, -1},
		{Power, 60001},
		{Frequency, 44.99},
		{Frequency, 65.01},
		{Phase, -180.01},
		{Phase, 180.01},
		{Threshold, -0.1},
		{Threshold, 200.01},
	}
	for _, tc := range reject {
		if _, err := Encode(tc.kind, tc.value); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Encode(%s, %g): err = %v, want ErrOutOfRange", tc.kind, tc.value, err)
		}
	}
}

func TestDecodeWidthMismatch(t *testing.T) {
	if _, err := Decode(Voltage, []byte{0xF0, 0x55, 0x00}); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if _, err := Decode(Current, []byte{0xE8, 0x03}); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestDeviation(t *testing.T) {
	cases := []struct {
		measured, standard, want float64
	}{
		{220.11, 220.0, 0.05},
		{219.89, 220.0, -0.05},
		{220.0, 220.0, 0},
		{100.0, 30.0, 233.333},
	}
	for _, tc := range cases {
		got, err := Deviation(tc.measured, tc.standard)
		if err != nil {
			t.Fatalf("Deviation(%g, %g) failed: %v", tc.measured, tc.standard, err)
		}
		if got != tc.want {
			t.Fatalf("Deviation(%g, %g) = %g, want %g", tc.measured, tc.standard, got, tc.want)
		}
	}

	if _, err := Deviation(1, 0); !errors.Is(err, ErrZeroStandard) {
		t.Fatalf("err = %v, want ErrZeroStandard", err)
	}
}

func TestStandardValuesValidate(t *testing.T) {
	good := StandardValues{
		Voltage:               220,
		Current:               1,
		PowerFactor:           1,
		Frequency:             50,
		Phase:                 0,
		SmallCurrentThreshold: 0.1,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate failed on sane values: %v", err)
	}
	if got := good.Power(); got != 220 {
		t.Fatalf("Power() = %g, want 220", got)
	}

	// 300 V * 200 A * 1.0 = 60 kW, the inclusive power ceiling.
	ceiling := good
	ceiling.Voltage, ceiling.Current = 300, 200
	if err := ceiling.Validate(); err != nil {
		t.Fatalf("Validate rejected the 60 kW boundary: %v", err)
	}

	bad := []StandardValues{
		func() StandardValues { s := good; s.Voltage = 80; return s }(),
		func() StandardValues { s := good; s.Current = 300; return s }(),
		func() StandardValues { s := good; s.Frequency = 70; return s }(),
		func() StandardValues { s := good; s.Phase = 200; return s }(),
		func() StandardValues { s := good; s.SmallCurrentThreshold = 250; return s }(),
		func() StandardValues { s := good; s.PowerFactor = 1.5; return s }(),
	}
	for i, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("case %d: err = %v, want ErrOutOfRange", i, err)
		}
	}
}
