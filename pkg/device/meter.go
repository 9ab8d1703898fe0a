package device

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/events"
)

// Meter is a real DL/T645 meter behind a connector (usually a serial port).
type Meter struct {
	conn Connector
	com  *comm.Communicator
	addr dlt645.Address

	mu     sync.Mutex
	lastTx string
}

// NewMeter wires a meter over the given connector. The communicator is
// created here so the transport and retry config stay together.
func NewMeter(conn Connector, addr dlt645.Address, cfg comm.Config, hub *events.EventHub) *Meter {
	return &Meter{
		conn: conn,
		com:  comm.NewCommunicator(conn, cfg, hub),
		addr: addr,
	}
}

func (m *Meter) Connect(_ context.Context) error {
	logrus.WithField("addr", m.addr.String()).Debug("connecting to meter")
	return m.conn.Open()
}

func (m *Meter) Disconnect() error {
	logrus.WithField("addr", m.addr.String()).Debug("disconnecting from meter")
	return m.conn.Close()
}

// SendCommand builds a write frame for the meter's address and performs a
// validated exchange.
func (m *Meter) SendCommand(ctx context.Context, di dlt645.DI, payload []byte) (dlt645.Frame, int, error) {
	req := dlt645.Build(di, payload, m.addr, dlt645.CtrlWrite)
	m.mu.Lock()
	m.lastTx = req.RawHex()
	m.mu.Unlock()
	return m.com.Exchange(ctx, req)
}

// LastTxHex returns the hex of the most recent request frame, recorded before
// the exchange so it survives a timeout.
func (m *Meter) LastTxHex() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTx
}

// Stats exposes the underlying communicator counters.
func (m *Meter) Stats() comm.Stats { return m.com.Stats() }

// CommState exposes the underlying communicator state.
func (m *Meter) CommState() comm.State { return m.com.State() }
