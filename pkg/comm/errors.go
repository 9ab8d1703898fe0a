package comm

import (
	"context"
	"errors"
	"fmt"

	"github.com/junwei-lu/metercal/pkg/dlt645"
)

var (
	// ErrTimeout is returned when no complete response arrives within the
	// configured per-attempt timeout.
	ErrTimeout = errors.New("response timeout")
	// ErrResponseMismatch is returned when a well-formed response does not
	// match the request (address, control code or data identifier).
	ErrResponseMismatch = errors.New("response mismatch")
	// ErrCancelled is returned when the caller's context is cancelled.
	ErrCancelled = errors.New("exchange cancelled")
)

// DecodeError wraps a dlt645 parse failure together with the offending hex
// bytes, so operators can see what the meter actually sent.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("undecodable response %s: %v", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func isTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

func isMismatch(err error) bool { return errors.Is(err, ErrResponseMismatch) }

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isDecode(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return true
	}
	return errors.Is(err, dlt645.ErrFrameTooShort) ||
		errors.Is(err, dlt645.ErrBadMarker) ||
		errors.Is(err, dlt645.ErrChecksumMismatch)
}
