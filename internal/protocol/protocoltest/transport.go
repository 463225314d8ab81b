// internal/protocol/protocoltest/transport.go
// Package protocoltest provides a scripted Transport for tests.
package protocoltest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// Transport replays scripted replies. Each Write releases the next reply's
// chunks to Read. When nothing is queued, Read blocks until ctx ends.
type Transport struct {
	mu      sync.Mutex
	open    bool
	replies [][][]byte
	queue   [][]byte
	written bytes.Buffer
	writes  []string
	ready   chan struct{}

	OpenErr  error
	WriteErr error
	ReadErr  error
	// Gate, when set, blocks every Read until it is closed
	Gate chan struct{}

	Opens  int
	Closes int
}

// New creates a closed scripted transport
func New() *Transport {
	return &Transport{ready: make(chan struct{}, 1)}
}

// Reply queues the reply to the next unanswered write. Passing no chunks
// scripts a silent device.
func (t *Transport) Reply(chunks ...string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	reply := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		reply = append(reply, []byte(c))
	}
	t.replies = append(t.replies, reply)
	return t
}

// Stray queues bytes that are readable before any write
func (t *Transport) Stray(data string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, []byte(data))
	t.signal()
	return t
}

// Written returns all bytes written so far
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written.Bytes()...)
}

// Writes returns each write as a string
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Opens++
	if t.OpenErr != nil {
		return &protocol.ConnectionError{Device: "scripted", Err: t.OpenErr}
	}
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.Closes++
	}
	t.open = false
	return nil
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return protocol.ErrNotOpen
	}
	if t.WriteErr != nil {
		return t.WriteErr
	}
	t.written.Write(data)
	t.writes = append(t.writes, string(data))
	if len(t.replies) > 0 {
		t.queue = append(t.queue, t.replies[0]...)
		t.replies = t.replies[1:]
		t.signal()
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	if t.Gate != nil {
		select {
		case <-t.Gate:
		case <-ctx.Done():
			return nil, ctxErr(ctx)
		}
	}

	for {
		t.mu.Lock()
		if !t.open {
			t.mu.Unlock()
			return nil, protocol.ErrNotOpen
		}
		if t.ReadErr != nil {
			err := t.ReadErr
			t.mu.Unlock()
			return nil, err
		}
		if len(t.queue) > 0 {
			chunk := t.queue[0]
			if maxBytes > 0 && len(chunk) > maxBytes {
				t.queue[0] = chunk[maxBytes:]
				chunk = chunk[:maxBytes]
			} else {
				t.queue = t.queue[1:]
			}
			t.mu.Unlock()
			return chunk, nil
		}
		t.mu.Unlock()

		select {
		case <-t.ready:
		case <-ctx.Done():
			return nil, ctxErr(ctx)
		}
	}
}

func (t *Transport) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

func (t *Transport) Stats() protocol.ProtocolStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return protocol.ProtocolStats{BytesWritten: int64(t.written.Len()), IsConnected: t.open}
}

func (t *Transport) signal() {
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: read deadline reached", protocol.ErrTimeout)
	}
	return ctx.Err()
}
