package replica

import (
	"fmt"

	"github.com/zeusync/authority/internal/core/network"
)

// Op is the operation carried by a frame.
type Op uint8

const (
	// OpHello opens a session: sender GUID and mode.
	OpHello Op = iota + 1
	// OpPermissions carries the policies the server enforces on the receiver.
	OpPermissions
	// OpConstruct carries an allocation followed by the construction payload.
	OpConstruct
	// OpDestroy announces destruction of the entity with the frame's NetworkID.
	OpDestroy
	// OpSerialize carries a serialization delta.
	OpSerialize
)

func (o Op) String() string {
	switch o {
	case OpHello:
		return "hello"
	case OpPermissions:
		return "permissions"
	case OpConstruct:
		return "construct"
	case OpDestroy:
		return "destroy"
	case OpSerialize:
		return "serialize"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Frame is the unit exchanged between peers.
type Frame struct {
	Op        Op
	NetworkID network.NetworkID
	Payload   []byte
}

func (f Frame) Encode() []byte {
	w := NewWriter()
	defer w.Release()
	w.Uint8(uint8(f.Op))
	w.NetworkID(f.NetworkID)
	w.Blob(f.Payload)
	return w.Bytes()
}

func DecodeFrame(b []byte) (Frame, error) {
	r := NewReader(b)
	f := Frame{Op: Op(r.Uint8()), NetworkID: r.NetworkID(), Payload: r.Blob()}
	if err := r.Err(); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Op < OpHello || f.Op > OpSerialize {
		return Frame{}, fmt.Errorf("decode frame: unknown op %d", uint8(f.Op))
	}
	if r.Remaining() != 0 {
		return Frame{}, fmt.Errorf("decode frame: %d trailing bytes", r.Remaining())
	}
	return f, nil
}

// Hello is the payload of OpHello.
type Hello struct {
	GUID network.GUID
	Mode network.Mode
}

func (h Hello) Encode() []byte {
	w := NewWriter()
	defer w.Release()
	w.GUID(h.GUID)
	w.Uint8(uint8(h.Mode))
	return w.Bytes()
}

func DecodeHello(b []byte) (Hello, error) {
	r := NewReader(b)
	h := Hello{GUID: r.GUID(), Mode: network.Mode(r.Uint8())}
	if err := r.Err(); err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	return h, nil
}
