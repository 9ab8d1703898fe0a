package device

import (
	"context"
	"fmt"
	"time"

	"github.com/junwei-lu/metercal/pkg/dlt645"
)

// Loopback is a simulated meter transport: every frame sent to it is parsed
// and answered with a protocol-correct response echoing the parameter bytes.
// It backs the --simulate mode and the end-to-end tests, exercising the same
// codec and communicator paths as a real serial port.
type Loopback struct {
	// ChunkSize splits responses into reads of at most this many bytes,
	// mimicking serial trickle. Zero means one whole read.
	ChunkSize int
	// Rewrite, when set, replaces the echoed parameter body. It receives the
	// request's data identifier and auth-stripped body.
	Rewrite func(di dlt645.DI, body []byte) []byte
	// Drop, when positive, swallows that many requests before answering,
	// to exercise retries.
	Drop int

	open    bool
	pending [][]byte
}

func (l *Loopback) Open() error {
	l.open = true
	return nil
}

func (l *Loopback) Close() error {
	l.open = false
	l.pending = nil
	return nil
}

func (l *Loopback) Send(b []byte) error {
	if !l.open {
		return fmt.Errorf("loopback: not connected")
	}
	if l.Drop > 0 {
		l.Drop--
		return nil
	}

	req, err := dlt645.Parse(b)
	if err != nil {
		// a real meter stays silent on garbage
		return nil
	}

	body := req.Payload
	if stripped, ok := dlt645.StripAuth(body); ok {
		body = stripped
	}
	if l.Rewrite != nil {
		body = l.Rewrite(req.DI, body)
	}

	resp := dlt645.Build(req.DI, body, req.Address, req.Control|dlt645.RespBit)
	raw := resp.Raw
	if l.ChunkSize <= 0 {
		l.pending = append(l.pending, raw)
		return nil
	}
	for len(raw) > 0 {
		n := l.ChunkSize
		if n > len(raw) {
			n = len(raw)
		}
		l.pending = append(l.pending, raw[:n])
		raw = raw[n:]
	}
	return nil
}

func (l *Loopback) Receive(ctx context.Context, wait time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(l.pending) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		return nil, nil
	}
	chunk := l.pending[0]
	l.pending = l.pending[1:]
	return chunk, nil
}
