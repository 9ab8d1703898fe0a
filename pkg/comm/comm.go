// Package comm drives request/response exchanges with a DL/T645 meter over an
// already-connected transport, with timeouts, retries and response validation.
package comm

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/events"
)

// Transport moves raw bytes to and from the meter. Implementations are handed
// in already connected; the communicator never opens or closes one.
type Transport interface {
	// Send writes the whole buffer or fails.
	Send(b []byte) error
	// Receive returns whatever bytes arrive within wait. An empty slice with
	// a nil error means nothing arrived; the communicator keeps polling until
	// its own deadline expires.
	Receive(ctx context.Context, wait time.Duration) ([]byte, error)
}

// Config controls exchange timing. The zero value is unusable; use
// DefaultConfig and override fields as needed.
type Config struct {
	// Timeout bounds one attempt, from send to complete response.
	Timeout time.Duration `json:"timeout"`
	// MaxAttempts is the total number of tries, first attempt included.
	MaxAttempts int `json:"maxAttempts"`
	// RetryDelay is the backoff base: the wait before attempt n+1 is
	// n * RetryDelay.
	RetryDelay time.Duration `json:"retryDelay"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:     3 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// State is the communicator's externally visible condition.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting-response"
	StateError            State = "error"
)

// Stats are running exchange counters, reset only by NewCommunicator.
type Stats struct {
	Commands  int `json:"commands"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Retries   int `json:"retries"`
}

// Communicator performs validated exchanges over a Transport. Safe for use
// from one goroutine at a time; the executor serializes access.
type Communicator struct {
	transport Transport
	cfg       Config
	hub       *events.EventHub // may be nil

	mu    sync.Mutex
	state State
	stats Stats
}

func NewCommunicator(t Transport, cfg Config, hub *events.EventHub) *Communicator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Communicator{transport: t, cfg: cfg, hub: hub, state: StateIdle}
}

func (c *Communicator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Communicator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Communicator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Exchange sends the request frame and waits for a matching response,
// retrying per the config. It returns the parsed response and the number of
// attempts actually made. Cancellation returns ErrCancelled immediately and
// does not count as an attempt failure.
func (c *Communicator) Exchange(ctx context.Context, req dlt645.Frame) (dlt645.Frame, int, error) {
	c.mu.Lock()
	c.stats.Commands++
	c.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"di":   req.DI.String(),
		"addr": req.Address.String(),
	})

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.mu.Lock()
			c.stats.Retries++
			c.mu.Unlock()
			// linear backoff: 1x, 2x, ... of the base delay
			delay := time.Duration(attempt-1) * c.cfg.RetryDelay
			log.WithField("attempt", attempt).Debugf("retrying in %v", delay)
			select {
			case <-ctx.Done():
				c.setState(StateIdle)
				return dlt645.Frame{}, attempt - 1, ErrCancelled
			case <-time.After(delay):
			}
		}

		start := time.Now()
		resp, err := c.attempt(ctx, req)
		elapsed := time.Since(start)

		ev := events.AttemptEvent{
			Attempt:   attempt,
			DI:        req.DI.String(),
			TxHex:     req.RawHex(),
			ElapsedMs: elapsed.Milliseconds(),
			Ts:        time.Now().Unix(),
		}

		if err == nil {
			ev.Outcome = "success"
			ev.RxHex = resp.RawHex()
			c.hub.PublishAttempt(ev)
			log.WithField("attempt", attempt).Debugf("exchange ok in %v", elapsed)
			c.mu.Lock()
			c.stats.Successes++
			c.state = StateIdle
			c.mu.Unlock()
			return resp, attempt, nil
		}

		ev.Outcome = classify(err)
		ev.Error = err.Error()
		c.hub.PublishAttempt(ev)

		if ev.Outcome == "cancelled" {
			c.setState(StateIdle)
			return dlt645.Frame{}, attempt - 1, ErrCancelled
		}

		log.WithField("attempt", attempt).Warnf("exchange failed: %v", err)
		lastErr = err
	}

	c.mu.Lock()
	c.stats.Failures++
	c.state = StateError
	c.mu.Unlock()
	return dlt645.Frame{}, c.cfg.MaxAttempts, lastErr
}

func classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case isCancelled(err):
		return "cancelled"
	case isTimeout(err):
		return "timeout"
	case isDecode(err):
		return "decode-error"
	case isMismatch(err):
		return "mismatch"
	default:
		return "error"
	}
}

// attempt performs one send + accumulate + parse + validate cycle.
func (c *Communicator) attempt(ctx context.Context, req dlt645.Frame) (dlt645.Frame, error) {
	if err := c.transport.Send(req.Raw); err != nil {
		return dlt645.Frame{}, fmt.Errorf("send: %w", err)
	}
	c.setState(StateAwaitingResponse)

	deadline := time.Now().Add(c.cfg.Timeout)
	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return dlt645.Frame{}, ErrCancelled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return dlt645.Frame{}, fmt.Errorf("%w: no complete response within %v (got %d bytes)", ErrTimeout, c.cfg.Timeout, len(buf))
		}

		wait := 50 * time.Millisecond
		if remaining < wait {
			wait = remaining
		}
		chunk, err := c.transport.Receive(ctx, wait)
		if err != nil {
			if isCancelled(err) {
				return dlt645.Frame{}, ErrCancelled
			}
			return dlt645.Frame{}, fmt.Errorf("receive: %w", err)
		}
		buf = append(buf, chunk...)

		if !frameComplete(buf) {
			continue
		}

		resp, err := dlt645.Parse(buf)
		if err != nil {
			return dlt645.Frame{}, &DecodeError{Raw: strings.ToUpper(hex.EncodeToString(buf)), Err: err}
		}
		return resp, c.validate(req, resp)
	}
}

// frameComplete reports whether buf holds one whole frame, judged by the
// length byte. Buffers whose markers are already wrong are treated as
// complete so Parse can reject them instead of waiting out the timeout.
func frameComplete(buf []byte) bool {
	if len(buf) < dlt645.MinFrameLen {
		return false
	}
	if buf[0] != dlt645.FrameStart || buf[7] != dlt645.FrameStart {
		return true
	}
	dataLen := int(buf[9])
	return len(buf) >= 10+dataLen+2
}

// validate checks the response against the request: same meter, the request's
// control code with the response bit set, and the same data identifier.
func (c *Communicator) validate(req, resp dlt645.Frame) error {
	if resp.Address != req.Address {
		return fmt.Errorf("%w: address %s, want %s", ErrResponseMismatch, resp.Address, req.Address)
	}
	if want := req.Control | dlt645.RespBit; resp.Control != want {
		return fmt.Errorf("%w: control 0x%02X, want 0x%02X", ErrResponseMismatch, resp.Control, want)
	}
	if resp.DI != req.DI {
		return fmt.Errorf("%w: data identifier %s, want %s", ErrResponseMismatch, resp.DI, req.DI)
	}
	return nil
}
