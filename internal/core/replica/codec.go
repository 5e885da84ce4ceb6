package replica

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/scene"
	"github.com/zeusync/authority/pkg/generic"
)

var buffers = generic.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// Writer appends little-endian values to a pooled buffer.
type Writer struct {
	buf     *bytes.Buffer
	scratch [binary.MaxVarintLen64]byte
}

func NewWriter() *Writer { return &Writer{buf: buffers.Get()} }

// Release hands the buffer back to the pool. Bytes must not be used after.
func (w *Writer) Release() {
	if w.buf != nil {
		buffers.Put(w.buf)
		w.buf = nil
	}
}

// Bytes returns a copy of what was written.
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

func (w *Writer) Len() int { return w.buf.Len() }

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) Uint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) Uvarint(v uint64) {
	n := binary.PutUvarint(w.scratch[:], v)
	w.buf.Write(w.scratch[:n])
}

func (w *Writer) Varint(v int64) {
	n := binary.PutVarint(w.scratch[:], v)
	w.buf.Write(w.scratch[:n])
}

func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	w.buf.Write(w.scratch[:8])
}

func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

func (w *Writer) Text(s string) {
	w.Uvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Blob(b []byte) {
	w.Uvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *Writer) GUID(g network.GUID) {
	u := uuid.UUID(g)
	w.buf.Write(u[:])
}

func (w *Writer) NetworkID(id network.NetworkID) { w.Uint64(uint64(id)) }

func (w *Writer) Vector3(v scene.Vector3) {
	w.Float64(v.X)
	w.Float64(v.Y)
	w.Float64(v.Z)
}

func (w *Writer) Quaternion(q scene.Quaternion) {
	w.Float64(q.W)
	w.Float64(q.X)
	w.Float64(q.Y)
	w.Float64(q.Z)
}

func (w *Writer) Transform(t scene.Transform) {
	w.Vector3(t.Position)
	w.Quaternion(t.Orientation)
	w.Vector3(t.Scale)
}

func (w *Writer) Value(v property.Value) {
	w.Uint8(uint8(v.Kind()))
	switch v.Kind() {
	case property.Bool:
		w.Bool(v.Bool())
	case property.Int:
		w.Varint(v.Int())
	case property.Float:
		w.Float64(v.Float())
	case property.String:
		w.Text(v.Str())
	case property.Vector3:
		w.Vector3(v.Vector3())
	case property.Bytes:
		w.Blob(v.Bytes())
	}
}

// Values writes a property map with its names in the given order.
func (w *Writer) Values(names []string, values map[string]property.Value) {
	w.Uvarint(uint64(len(names)))
	for _, n := range names {
		w.Text(n)
		w.Value(values[n])
	}
}

// Reader decodes what a Writer produced. The first failure sticks: later
// reads return zero values and Err reports it.
type Reader struct {
	r   *bytes.Reader
	err error
}

func NewReader(b []byte) *Reader { return &Reader{r: bytes.NewReader(b)} }

func (r *Reader) Err() error { return r.err }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return r.r.Len() }

func (r *Reader) fail(err error) {
	if r.err == nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
	}
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Uint8() uint8 {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return 0
	}
	return b
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *Reader) Varint() int64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(r.r)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *Reader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (r *Reader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

func (r *Reader) raw() []byte {
	n := r.Uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(r.r.Len()) {
		r.fail(fmt.Errorf("length %d exceeds remaining %d bytes", n, r.r.Len()))
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *Reader) Text() string { return string(r.raw()) }

func (r *Reader) Blob() []byte { return r.raw() }

func (r *Reader) GUID() network.GUID {
	if r.err != nil {
		return network.Unassigned
	}
	var u uuid.UUID
	if _, err := io.ReadFull(r.r, u[:]); err != nil {
		r.fail(err)
		return network.Unassigned
	}
	return network.GUID(u)
}

func (r *Reader) NetworkID() network.NetworkID { return network.NetworkID(r.Uint64()) }

func (r *Reader) Vector3() scene.Vector3 {
	return scene.Vector3{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
}

func (r *Reader) Quaternion() scene.Quaternion {
	return scene.Quaternion{W: r.Float64(), X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
}

func (r *Reader) Transform() scene.Transform {
	return scene.Transform{Position: r.Vector3(), Orientation: r.Quaternion(), Scale: r.Vector3()}
}

func (r *Reader) Value() property.Value {
	switch k := property.Kind(r.Uint8()); k {
	case property.Bool:
		return property.BoolValue(r.Bool())
	case property.Int:
		return property.IntValue(r.Varint())
	case property.Float:
		return property.FloatValue(r.Float64())
	case property.String:
		return property.StringValue(r.Text())
	case property.Vector3:
		return property.Vector3Value(r.Vector3())
	case property.Bytes:
		return property.BytesValue(r.Blob())
	default:
		r.fail(fmt.Errorf("unknown property kind %d", uint8(k)))
		return property.Value{}
	}
}

// Values reads a property map and the order its names were written in.
func (r *Reader) Values() ([]string, map[string]property.Value) {
	n := r.Uvarint()
	if r.err != nil {
		return nil, nil
	}
	if n > uint64(r.r.Len()) {
		r.fail(fmt.Errorf("property count %d exceeds payload", n))
		return nil, nil
	}
	names := make([]string, 0, n)
	values := make(map[string]property.Value, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		name := r.Text()
		values[name] = r.Value()
		names = append(names, name)
	}
	return names, values
}
