package object

import (
	"github.com/zeusync/authority/internal/core/network"
)

// Entity is what the authority rules need to know about an object or an
// object template.
type Entity interface {
	Name() string
	Mode() network.Mode
	NetworkingType() network.Type
	Source() network.Source
	SourceGUID() network.GUID
	IsCreatedBy(guid network.GUID) bool
}

// ComponentEntity is the component-side counterpart of Entity.
type ComponentEntity interface {
	Entity
	Type() string
	LocalOverride() bool
	Owner() Entity
}

// base carries the identity shared by all four entity kinds.
type base struct {
	name           string
	id             network.Identity
	networkingType network.Type
	sourceGUID     network.GUID
	networkID      network.NetworkID

	broadcastingDestruction bool
}

func newBase(name string, id network.Identity, t network.Type, source network.GUID, nid network.NetworkID) base {
	return base{
		name:           name,
		id:             id,
		networkingType: t,
		sourceGUID:     source.Or(id.Own),
		networkID:      nid,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) Mode() network.Mode { return b.id.Mode }

func (b *base) Identity() network.Identity { return b.id }

func (b *base) NetworkingType() network.Type { return b.networkingType }

func (b *base) IsRemote() bool { return b.networkingType == network.Remote }

func (b *base) Source() network.Source { return b.id.SourceOf(b.sourceGUID) }

func (b *base) SourceGUID() network.GUID { return b.sourceGUID }

func (b *base) NetworkID() network.NetworkID { return b.networkID }

func (b *base) IsCreatedBy(guid network.GUID) bool { return b.sourceGUID == guid }

func (b *base) IsCreatedByOwnGUID() bool { return b.sourceGUID == b.id.Own }

func (b *base) IsCreatedByServer() bool { return b.sourceGUID == b.id.Server }

// broadcasts reports whether this process mirrors the entity in its current
// state.
func (b *base) broadcasts() bool {
	return b.id.Broadcasts(b.networkingType, b.Source())
}

// sendsTo reports whether this process replicates the entity to dest. A
// server relays everything remote except back to its creator; a client only
// sends what it created itself.
func (b *base) sendsTo(dest network.GUID) bool {
	if b.networkingType != network.Remote || dest == b.sourceGUID {
		return false
	}
	return b.id.Mode == network.Server || b.sourceGUID == b.id.Own
}

// acceptsConstruction reports whether a construction received from source
// may stay. A client keeps whatever the server sends, even entities it forced
// local; otherwise only remote entities are accepted.
func acceptsConstruction(id network.Identity, t network.Type, source network.GUID) bool {
	return (id.Mode == network.Client && source == id.Server) || t == network.Remote
}
