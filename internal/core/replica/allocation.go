package replica

import (
	"fmt"

	"github.com/zeusync/authority/internal/core/network"
)

// Allocation is the kind-specific identifier sent ahead of a construction
// payload. Which fields are set depends on Kind:
//
//	object, object template:       Name, DisplayName
//	component, component template: Owner, Type, Name
//	plugin:                        Type
type Allocation struct {
	Kind        Kind
	Name        string
	DisplayName string
	Type        string
	Owner       network.NetworkID
}

func (a Allocation) String() string {
	switch a.Kind {
	case KindComponent, KindComponentTemplate:
		return fmt.Sprintf("%s %s/%s on %s", a.Kind, a.Type, a.Name, a.Owner)
	case KindPlugin:
		return fmt.Sprintf("%s %s", a.Kind, a.Type)
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.Name)
	}
}

func (a Allocation) Write(w *Writer) {
	w.Uint8(uint8(a.Kind))
	switch a.Kind {
	case KindObject, KindObjectTemplate:
		w.Text(a.Name)
		w.Text(a.DisplayName)
	case KindComponent, KindComponentTemplate:
		w.NetworkID(a.Owner)
		w.Text(a.Type)
		w.Text(a.Name)
	case KindPlugin:
		w.Text(a.Type)
	}
}

// Encode returns the allocation as a standalone byte slice.
func (a Allocation) Encode() []byte {
	w := NewWriter()
	defer w.Release()
	a.Write(w)
	return w.Bytes()
}

// ReadAllocation decodes an allocation written by Allocation.Write. Unknown
// kinds are returned as an error after the tag was consumed.
func ReadAllocation(r *Reader) (Allocation, error) {
	a := Allocation{Kind: Kind(r.Uint8())}
	if err := r.Err(); err != nil {
		return Allocation{}, err
	}
	switch a.Kind {
	case KindObject, KindObjectTemplate:
		a.Name = r.Text()
		a.DisplayName = r.Text()
	case KindComponent, KindComponentTemplate:
		a.Owner = r.NetworkID()
		a.Type = r.Text()
		a.Name = r.Text()
	case KindPlugin:
		a.Type = r.Text()
	default:
		return a, fmt.Errorf("unknown replica kind 0x%02x", uint8(a.Kind))
	}
	if err := r.Err(); err != nil {
		return Allocation{}, fmt.Errorf("decode %s allocation: %w", a.Kind, err)
	}
	return a, nil
}

func DecodeAllocation(b []byte) (Allocation, error) {
	return ReadAllocation(NewReader(b))
}
