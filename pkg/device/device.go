// Package device exposes calibratable meters behind a small capability
// interface, so the executor does not care whether it talks to a serial
// port or a simulated meter.
package device

import (
	"context"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/dlt645"
)

// Device is a connectable meter that accepts calibration commands and
// returns validated responses.
type Device interface {
	Connect(ctx context.Context) error
	// SendCommand writes one calibration command and returns the validated
	// response and the number of exchange attempts used.
	SendCommand(ctx context.Context, di dlt645.DI, payload []byte) (dlt645.Frame, int, error)
	Disconnect() error
}

// Connector is a transport with an explicit open/close lifecycle.
type Connector interface {
	comm.Transport
	Open() error
	Close() error
}
