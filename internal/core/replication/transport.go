// Package replication mirrors replicated entities between peers. A Hub owns
// the peer connections and queues what they receive; the Manager applies the
// queue on the tick goroutine and sends constructions, destructions and
// serialization deltas; the Connection turns allocation requests into local
// entities.
package replication

import (
	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single frame on every transport.
const MaxFrameSize = 4 << 20

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
)

// Conn is a message oriented, bidirectional link to one peer. Send may be
// called from any goroutine; Receive is called by a single reader.
type Conn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	RemoteAddr() string
	Close() error
}
