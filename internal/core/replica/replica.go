package replica

import "github.com/zeusync/authority/internal/core/network"

// Replica is an entity that can be mirrored onto other peers.
type Replica interface {
	NetworkID() network.NetworkID
	Allocation() Allocation

	// QueryConstruction reports whether this side sends the construction to
	// dest.
	QueryConstruction(dest network.GUID) bool
	// QueryRemoteConstruction reports whether a construction received from
	// source is honored.
	QueryRemoteConstruction(source network.GUID) bool
	SerializeConstruction(w *Writer, dest network.GUID)
	DeserializeConstruction(r *Reader, source network.GUID) error

	// QuerySerialization reports whether a delta should be produced for dest
	// this tick.
	QuerySerialization(dest network.GUID) bool
	// Serialize writes the pending delta, clears it, and reports whether
	// anything changed. It is called once per flush; the same bytes go to
	// every destination QuerySerialization approved.
	Serialize(w *Writer, dest network.GUID) bool
	Deserialize(r *Reader, source network.GUID) error

	// DeserializeDestruction reports whether a destruction request from
	// source is honored.
	DeserializeDestruction(source network.GUID) bool
	// DeallocReplica destroys the local copy after an honored remote
	// destruction.
	DeallocReplica(source network.GUID)
}

// Broadcaster mirrors local construction and destruction to peers.
type Broadcaster interface {
	Reference(r Replica)
	// Dereference forgets r without telling anyone. Called when the local
	// copy is freed.
	Dereference(r Replica)
	BroadcastDestruction(r Replica)
}

// Nop drops every broadcast. Used offline and in tests.
type Nop struct{}

func (Nop) Reference(Replica)            {}
func (Nop) Dereference(Replica)          {}
func (Nop) BroadcastDestruction(Replica) {}
