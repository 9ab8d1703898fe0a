// Package dlt645 implements the DL/T645 frame encoding used by the meter
// calibration commands.
//
// The wire format carries a few quirks inherited from the vendor's reference
// tooling that must be reproduced byte-exactly: the 4-byte data identifier is
// transmitted in reversed byte order, every byte of the data field is shifted
// by +0x33 (mod 256), and the checksum is the unsigned sum of the whole frame
// up to (and excluding) the checksum byte itself.
package dlt645

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Wire constants. These are fixed by the protocol and must not change.
const (
	FrameStart = 0x68
	FrameEnd   = 0x16
	DataOffset = 0x33

	// Control codes. A response carries the request's control code with the
	// high bit set.
	CtrlRead      = 0x11
	CtrlWrite     = 0x14
	RespBit       = 0x80
	CtrlBroadcast = 0x08

	// AddressLen is the fixed device address width in bytes.
	AddressLen = 6

	// MinFrameLen is the smallest well-formed frame: two start markers,
	// address, control, length, a 4-byte data identifier is not required,
	// checksum and end marker. Anything shorter cannot be parsed.
	MinFrameLen = 12
)

// DI is a 4-byte data identifier. Its canonical textual form is the
// big-endian hex string (e.g. "00F81500"); on the wire the bytes travel in
// reversed order, which conveniently is the little-endian encoding.
type DI uint32

// Calibration data identifiers, in the canonical step order.
const (
	DICurrentOffset      DI = 0x00F81500
	DIVoltageCurrentGain DI = 0x00F81600
	DIPowerGain          DI = 0x00F81700
	DIPhaseCompensation  DI = 0x00F81800
	DISmallCurrentBias   DI = 0x00F81900
)

func (d DI) String() string { return fmt.Sprintf("%08X", uint32(d)) }

// ParseDI parses the canonical 8-digit hex form of a data identifier.
func ParseDI(s string) (DI, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return 0, fmt.Errorf("data identifier must be 8 hex digits, got %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid data identifier %q: %v", s, err)
	}
	return DI(binary.BigEndian.Uint32(b)), nil
}

// Address is a 6-byte meter address. The textual form is 12 hex digits with
// the most significant byte first; the wire form is reversed (LSB first).
type Address [AddressLen]byte

// ParseAddress parses the 12-hex-digit textual address form.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if len(s) != AddressLen*2 {
		return a, fmt.Errorf("address must be %d hex digits, got %q", AddressLen*2, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %v", s, err)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string { return strings.ToUpper(hex.EncodeToString(a[:])) }

// Frame is a decoded logical frame. Raw always holds the assembled wire
// representation; for frames produced by Build it is the exact bytes to
// transmit, for frames produced by Parse it is the bytes that were received.
type Frame struct {
	Address Address
	Control byte
	DI      DI
	// Payload is the logical payload after the data identifier, before the
	// +0x33 offset is applied.
	Payload []byte
	Raw     []byte
}

// IsResponse reports whether the frame's control code has the response bit set.
func (f Frame) IsResponse() bool { return f.Control&RespBit != 0 }

// RawHex returns the wire bytes as an upper-case hex string, for logs.
func (f Frame) RawHex() string { return strings.ToUpper(hex.EncodeToString(f.Raw)) }

// Checksum computes the DL/T645 frame checksum: the unsigned sum of all given
// bytes reduced mod 256. The checksum byte itself is never offset-shifted.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// Build assembles a wire frame for the given data identifier and payload.
// It cannot fail: payload shape is validated by the parameter layer before a
// frame is ever built.
func Build(di DI, payload []byte, addr Address, control byte) Frame {
	data := make([]byte, 0, 4+len(payload))
	data = binary.LittleEndian.AppendUint32(data, uint32(di)) // reversed DI
	data = append(data, payload...)
	for i := range data {
		data[i] += DataOffset // wraps mod 256
	}

	raw := make([]byte, 0, MinFrameLen+len(data))
	raw = append(raw, FrameStart)
	for i := AddressLen - 1; i >= 0; i-- { // address travels LSB first
		raw = append(raw, addr[i])
	}
	raw = append(raw, FrameStart, control, byte(len(data)))
	raw = append(raw, data...)
	raw = append(raw, Checksum(raw), FrameEnd)

	return Frame{
		Address: addr,
		Control: control,
		DI:      di,
		Payload: append([]byte(nil), payload...),
		Raw:     raw,
	}
}

// Parse decodes a received wire frame. It is the exact inverse of Build:
// offset removal, DI byte-order restoration and address un-reversal included.
func Parse(raw []byte) (Frame, error) {
	if len(raw) < MinFrameLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need at least %d", ErrFrameTooShort, len(raw), MinFrameLen)
	}
	if raw[0] != FrameStart {
		return Frame{}, fmt.Errorf("%w: first start marker 0x%02X", ErrBadMarker, raw[0])
	}
	if raw[1+AddressLen] != FrameStart {
		return Frame{}, fmt.Errorf("%w: second start marker 0x%02X", ErrBadMarker, raw[1+AddressLen])
	}

	dataLen := int(raw[9])
	total := 10 + dataLen + 2
	if len(raw) < total {
		return Frame{}, fmt.Errorf("%w: length byte claims %d data bytes but frame has %d bytes", ErrFrameTooShort, dataLen, len(raw))
	}
	if len(raw) != total {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes after end marker position", ErrBadMarker, len(raw)-total)
	}
	if raw[total-1] != FrameEnd {
		return Frame{}, fmt.Errorf("%w: end marker 0x%02X", ErrBadMarker, raw[total-1])
	}

	if got, want := raw[total-2], Checksum(raw[:total-2]); got != want {
		return Frame{}, fmt.Errorf("%w: frame carries 0x%02X, computed 0x%02X", ErrChecksumMismatch, got, want)
	}
	if dataLen < 4 {
		return Frame{}, fmt.Errorf("%w: data field of %d bytes cannot hold a data identifier", ErrFrameTooShort, dataLen)
	}

	data := make([]byte, dataLen)
	for i, b := range raw[10 : 10+dataLen] {
		data[i] = b - DataOffset // wraps mod 256
	}

	var addr Address
	for i := 0; i < AddressLen; i++ {
		addr[i] = raw[1+AddressLen-1-i]
	}

	return Frame{
		Address: addr,
		Control: raw[8],
		DI:      DI(binary.LittleEndian.Uint32(data[:4])),
		Payload: data[4:],
		Raw:     append([]byte(nil), raw...),
	}, nil
}
