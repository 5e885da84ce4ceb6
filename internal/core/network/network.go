// Package network defines peer identity and the authority axes shared by every
// replicated entity.
package network

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GUID identifies a peer. The zero value means "unassigned"; entry points
// replace it with the caller's own GUID.
type GUID uuid.UUID

// Unassigned is the zero GUID.
var Unassigned GUID

func NewGUID() GUID { return GUID(uuid.New()) }

func ParseGUID(s string) (GUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Unassigned, err
	}
	return GUID(id), nil
}

func (g GUID) String() string { return uuid.UUID(g).String() }

func (g GUID) IsZero() bool { return g == Unassigned }

// Or returns g, or fallback when g is unassigned.
func (g GUID) Or(fallback GUID) GUID {
	if g.IsZero() {
		return fallback
	}
	return g
}

func (g GUID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *GUID) UnmarshalText(b []byte) error {
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*g = GUID(id)
	return nil
}

// Mode selects which side of the authority rules applies. Fixed per process.
type Mode uint8

const (
	Server Mode = iota
	Client
)

func (m Mode) String() string {
	switch m {
	case Server:
		return "server"
	case Client:
		return "client"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "server":
		*m = Server
	case "client":
		*m = Client
	default:
		return fmt.Errorf("unknown mode %q", string(b))
	}
	return nil
}

// Type is the networking type of an entity: Local entities are never
// replicated, Remote ones are.
type Type uint8

const (
	Local Type = iota
	Remote
)

func (t Type) String() string {
	switch t {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "local":
		*t = Local
	case "remote":
		*t = Remote
	default:
		return fmt.Errorf("unknown networking type %q", string(b))
	}
	return nil
}

// Source is the coarse origin of an entity.
type Source uint8

const (
	SourceServer Source = iota
	SourceClient
)

func (s Source) String() string {
	if s == SourceServer {
		return "server"
	}
	return "client"
}

// Identity is what every entity needs to know about the local process.
type Identity struct {
	Mode   Mode
	Own    GUID
	Server GUID
}

// SourceOf classifies a peer GUID as server or client.
func (id Identity) SourceOf(guid GUID) Source {
	if guid == id.Server {
		return SourceServer
	}
	return SourceClient
}

// Broadcasts reports whether an entity with the given state is mirrored to
// peers by this process.
func (id Identity) Broadcasts(t Type, source Source) bool {
	return (id.Mode == Server && t == Remote) || (id.Mode == Client && t == Remote && source == SourceClient)
}

// BroadcastsOnCreate is the stricter rule applied when an object or template
// is first constructed: a server only announces what it sourced itself.
// Client-sourced objects are announced after their construction payload has
// been applied.
func (id Identity) BroadcastsOnCreate(t Type, source Source) bool {
	return (id.Mode == Server && t == Remote && source == SourceServer) ||
		(id.Mode == Client && t == Remote && source == SourceClient)
}
