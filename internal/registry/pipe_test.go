package registry

import (
	"errors"
	"sync"
)

// memPipe is an in-process, in-memory duplex wire.FrameConn used to test
// Session/Registry behaviour without a real websocket. Each side reads
// what the other side wrote.
type memPipe struct {
	mu     sync.Mutex
	closed bool
	in     chan []byte
	out    chan []byte
}

func newMemPipePair() (a *memPipe, b *memPipe) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a = &memPipe{in: ba, out: ab}
	b = &memPipe{in: ab, out: ba}
	return a, b
}

var errPipeClosed = errors.New("memPipe: closed")

func (p *memPipe) ReadMessage() ([]byte, error) {
	data, ok := <-p.in
	if !ok {
		return nil, errPipeClosed
	}
	return data, nil
}

func (p *memPipe) WriteMessage(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errPipeClosed
	}
	p.out <- data
	return nil
}

func (p *memPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	return nil
}
