package replication

import (
	"sync"
)

// pipeConn is an in-memory Conn. Closing either end closes both.
type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
	addr string
}

func newPipe() (*pipeConn, *pipeConn) {
	ab := make(chan []byte, 1024)
	ba := make(chan []byte, 1024)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, done: done, once: once, addr: "pipe-a"},
		&pipeConn{in: ab, out: ba, done: done, once: once, addr: "pipe-b"}
}

func (p *pipeConn) Send(data []byte) error {
	buf := append([]byte(nil), data...)
	select {
	case <-p.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case p.out <- buf:
		return nil
	case <-p.done:
		return ErrConnectionClosed
	}
}

func (p *pipeConn) Receive() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, ErrConnectionClosed
	}
}

func (p *pipeConn) RemoteAddr() string { return p.addr }

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
