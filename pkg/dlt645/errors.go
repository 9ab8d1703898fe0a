package dlt645

import "errors"

var (
	// ErrFrameTooShort is returned when a buffer cannot hold a well-formed
	// frame, or when the length byte claims more data than the buffer has.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrBadMarker is returned when a start or end marker byte is wrong.
	ErrBadMarker = errors.New("bad frame marker")
	// ErrChecksumMismatch is returned when the carried checksum does not
	// match the one computed over the received bytes.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)
