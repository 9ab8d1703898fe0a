package params

import "errors"

var (
	// ErrOutOfRange is returned when a value falls outside its kind's
	// inclusive validity bounds.
	ErrOutOfRange = errors.New("parameter out of range")
	// ErrMalformedPayload is returned when decode input has the wrong width.
	ErrMalformedPayload = errors.New("malformed parameter payload")
	// ErrZeroStandard is returned when a deviation is requested against a
	// zero standard value.
	ErrZeroStandard = errors.New("standard value is zero")
)
