package room

import (
	"errors"
	"sync"
)

// fakePeer records pushed frames and can be closed to refuse further data.
type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (p *fakePeer) Push(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	p.frames = append(p.frames, data)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) Frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.frames))
	for i, f := range p.frames {
		out[i] = string(f)
	}
	return out
}
