package network

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// NetworkID resolves cross-process references to replicated entities. It is
// derived from the entity kind and names, so every peer computes the same id
// for the same entity.
type NetworkID uint64

const UnassignedNetworkID NetworkID = 0

func NewNetworkID(kind string, names ...string) NetworkID {
	d := xxhash.New()
	_, _ = d.WriteString(kind)
	for _, n := range names {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(n)
	}
	id := NetworkID(d.Sum64())
	if id == UnassignedNetworkID {
		id = 1
	}
	return id
}

func (id NetworkID) String() string { return strconv.FormatUint(uint64(id), 16) }
