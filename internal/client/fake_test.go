package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paate57/among-pale/internal/protocol"
)

// fakeTransport is an in-memory Transport. The test plays the server by pushing
// frames into in and reading what the client wrote from out.
type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteFrame(data []byte) error {
	select {
	case <-f.closed:
		return errors.New("transport closed")
	default:
	}
	f.out <- data
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push delivers a server message to the client.
func (f *fakeTransport) push(t *testing.T, msg protocol.ServerMessage) {
	t.Helper()
	data, err := protocol.EncodeServer(msg)
	require.NoError(t, err)
	f.in <- data
}

// next returns the next client message written, or fails after timeout.
func (f *fakeTransport) next(t *testing.T, timeout time.Duration) protocol.ClientMessage {
	t.Helper()
	select {
	case data := <-f.out:
		msg, err := protocol.DecodeClient(data)
		require.NoError(t, err)
		return msg
	case <-time.After(timeout):
		t.Fatal("no frame written")
		return nil
	}
}

// written drains every frame written so far.
func (f *fakeTransport) written(t *testing.T) []protocol.ClientMessage {
	t.Helper()
	var out []protocol.ClientMessage
	for {
		select {
		case data := <-f.out:
			msg, err := protocol.DecodeClient(data)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}

// fakeDialer hands out transports from a queue; a nil entry or an empty queue fails the dial.
type fakeDialer struct {
	mu     sync.Mutex
	queue  []*fakeTransport
	dials  atomic.Int32
	dialed chan *fakeTransport
}

func newFakeDialer(transports ...*fakeTransport) *fakeDialer {
	return &fakeDialer{queue: transports, dialed: make(chan *fakeTransport, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	d.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, errors.New("connection refused")
	}
	t := d.queue[0]
	d.queue = d.queue[1:]
	if t == nil {
		return nil, errors.New("connection refused")
	}
	d.dialed <- t
	return t, nil
}

func (d *fakeDialer) add(t *fakeTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, t)
}

// recorder collects events of the kinds it is attached to.
type recorder struct {
	ch chan Event
}

func record(m *Manager, kinds ...EventKind) *recorder {
	r := &recorder{ch: make(chan Event, 256)}
	for _, k := range kinds {
		m.Subscribe(k, func(ev Event) {
			select {
			case r.ch <- ev:
			default:
			}
		})
	}
	return r
}

func (r *recorder) wait(t *testing.T, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", kind, timeout)
			return Event{}
		}
	}
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				n++
			}
		default:
			return n
		}
	}
}
