package comm

import (
	"context"
	"net"
	"sync"

	"ric/wire"
)

// Pipe constructs a connected in-memory Conn pair that passes envelopes
// directly without encoding. Envelopes sent to A are received by B and vice
// versa. Intended for tests and in-process wiring.
func Pipe() (a, b *PipeConn) {
	ab := make(chan *wire.Envelope)
	ba := make(chan *wire.Envelope)
	a = &PipeConn{remote: "pipe:b", out: ab, in: ba}
	b = &PipeConn{remote: "pipe:a", out: ba, in: ab}
	return a, b
}

// PipeConn is one end of an in-memory envelope pipe.
type PipeConn struct {
	remote string
	out    chan<- *wire.Envelope
	in     <-chan *wire.Envelope

	mu      sync.Mutex
	recv    func(*wire.Envelope)
	started bool
	closed  bool
}

func (p *PipeConn) RemoteAddress() string { return p.remote }

func (p *PipeConn) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *PipeConn) Send(env *wire.Envelope) (err error) {
	defer func() {
		if recover() != nil {
			err = net.ErrClosed
		}
	}()
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	p.out <- env
	return nil
}

func (p *PipeConn) Close(ctx context.Context, reason string) (err error) {
	defer func() {
		if recover() != nil {
			err = net.ErrClosed
		}
	}()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.out)
	return nil
}

// SetReceiver registers the callback invoked per received envelope and
// starts the delivery loop on first use.
func (p *PipeConn) SetReceiver(fn func(*wire.Envelope)) {
	p.mu.Lock()
	p.recv = fn
	start := !p.started
	p.started = true
	p.mu.Unlock()
	if start {
		go p.deliver()
	}
}

func (p *PipeConn) deliver() {
	for env := range p.in {
		p.mu.Lock()
		fn := p.recv
		p.mu.Unlock()
		if fn != nil {
			fn(env)
		}
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
