// Package serialport provides the serial transport for real meters.
package serialport

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Config describes the serial link. DL/T645 meters default to 9600 8E1.
type Config struct {
	Name     string `json:"name"`     // e.g. /dev/ttyUSB0
	BaudRate int    `json:"baudRate"` // 9600 default
}

func DefaultConfig() Config {
	return Config{BaudRate: 9600}
}

// Port is a serial connector implementing the transport the communicator and
// device layers expect.
type Port struct {
	cfg  Config
	port serial.Port
}

func New(cfg Config) *Port {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultConfig().BaudRate
	}
	return &Port{cfg: cfg}
}

func (p *Port) Open() error {
	mode := &serial.Mode{
		BaudRate: p.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(p.cfg.Name, mode)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open serial port %s", p.cfg.Name)
	}
	p.port = port
	logrus.WithFields(logrus.Fields{
		"port": p.cfg.Name,
		"baud": p.cfg.BaudRate,
	}).Info("serial port opened (8E1)")
	return nil
}

func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to close serial port %s", p.cfg.Name)
	}
	return nil
}

func (p *Port) Send(b []byte) error {
	if p.port == nil {
		return pkgerrors.Errorf("serial port %s is not open", p.cfg.Name)
	}
	if err := p.port.ResetInputBuffer(); err != nil {
		return pkgerrors.Wrap(err, "failed to drain input buffer")
	}
	n, err := p.port.Write(b)
	if err != nil {
		return pkgerrors.Wrapf(err, "serial write failed after %d bytes", n)
	}
	if n != len(b) {
		return pkgerrors.Errorf("short serial write: %d of %d bytes", n, len(b))
	}
	return nil
}

// Receive reads whatever arrives within wait. A nil error with no bytes
// means the port stayed silent; the communicator keeps polling.
func (p *Port) Receive(ctx context.Context, wait time.Duration) ([]byte, error) {
	if p.port == nil {
		return nil, pkgerrors.Errorf("serial port %s is not open", p.cfg.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.port.SetReadTimeout(wait); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to set read timeout")
	}
	buf := make([]byte, 256)
	n, err := p.port.Read(buf)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "serial read failed")
	}
	return buf[:n], nil
}

// List returns the serial port names present on the system.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to enumerate serial ports")
	}
	return ports, nil
}
