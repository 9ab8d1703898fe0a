package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/junwei-lu/metercal/pkg/comm"
	"github.com/junwei-lu/metercal/pkg/dlt645"
)

func fastComm() comm.Config {
	return comm.Config{Timeout: 100 * time.Millisecond, MaxAttempts: 3, RetryDelay: time.Millisecond}
}

func testAddr(t *testing.T) dlt645.Address {
	t.Helper()
	a, err := dlt645.ParseAddress("123456789012")
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	return a
}

func TestMeterOverLoopback(t *testing.T) {
	lb := &Loopback{}
	m := NewMeter(lb, testAddr(t), fastComm(), nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() {
		if err := m.Disconnect(); err != nil {
			t.Fatalf("Disconnect failed: %v", err)
		}
	}()

	body := []byte{0xF0, 0x55, 0xE8, 0x03, 0x00, 0x00}
	resp, attempts, err := m.SendCommand(context.Background(), dlt645.DIVoltageCurrentGain, dlt645.AppendAuth(body))
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !resp.IsResponse() || resp.DI != dlt645.DIVoltageCurrentGain {
		t.Fatalf("response = %+v", resp)
	}
	if !bytes.Equal(resp.Payload, body) {
		t.Fatalf("echoed body %X, want %X", resp.Payload, body)
	}
}

// Chunked loopback reads must still assemble into one frame.
func TestMeterOverChunkedLoopback(t *testing.T) {
	lb := &Loopback{ChunkSize: 3}
	m := NewMeter(lb, testAddr(t), fastComm(), nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, attempts, err := m.SendCommand(context.Background(), dlt645.DICurrentOffset, dlt645.AppendAuth(nil))
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

// A dropped request burns one attempt; the retry succeeds.
func TestMeterRetriesDroppedRequest(t *testing.T) {
	lb := &Loopback{Drop: 1}
	m := NewMeter(lb, testAddr(t), fastComm(), nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, attempts, err := m.SendCommand(context.Background(), dlt645.DIPowerGain, dlt645.AppendAuth([]byte{0xE0, 0x55, 0x00, 0x00}))
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if s := m.Stats(); s.Retries != 1 || s.Successes != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestLoopbackRejectsWhenClosed(t *testing.T) {
	lb := &Loopback{}
	m := NewMeter(lb, testAddr(t), fastComm(), nil)

	_, _, err := m.SendCommand(context.Background(), dlt645.DICurrentOffset, nil)
	if err == nil {
		t.Fatalf("SendCommand succeeded on a closed transport")
	}
	if errors.Is(err, comm.ErrTimeout) {
		t.Fatalf("closed transport surfaced as timeout: %v", err)
	}
}
