// Package replica defines what the replication layer knows about replicated
// entities: the closed set of kinds, allocation identifiers, the binary codec
// used for construction and serialization payloads, and the frame envelope.
package replica

import "fmt"

// Kind tags the type of a replicated entity in allocation requests.
type Kind uint8

const (
	KindObject            Kind = 0x00
	KindComponent         Kind = 0x01
	KindPlugin            Kind = 0x02
	KindObjectTemplate    Kind = 0x03
	KindComponentTemplate Kind = 0x04
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindComponent:
		return "component"
	case KindPlugin:
		return "plugin"
	case KindObjectTemplate:
		return "object_template"
	case KindComponentTemplate:
		return "component_template"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

func (k Kind) Valid() bool { return k <= KindComponentTemplate }
