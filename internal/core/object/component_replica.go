package object

import (
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/replica"
)

var _ replica.Replica = (*Component)(nil)

func (c *Component) Allocation() replica.Allocation {
	return replica.Allocation{
		Kind:  replica.KindComponent,
		Owner: c.object.networkID,
		Type:  c.typ,
		Name:  c.name,
	}
}

func (c *Component) QueryConstruction(dest network.GUID) bool {
	return !c.localOverride && c.sendsTo(dest)
}

func (c *Component) QueryRemoteConstruction(source network.GUID) bool {
	return acceptsConstruction(c.id, c.networkingType, source)
}

func (c *Component) SerializeConstruction(w *replica.Writer, _ network.GUID) {
	w.Values(c.properties.Names(), c.properties.Snapshot())
}

func (c *Component) DeserializeConstruction(r *replica.Reader, source network.GUID) error {
	names, values := r.Values()
	if err := r.Err(); err != nil {
		return err
	}
	c.receive(names, values, source)
	// A server announces client-sourced components once their state arrived.
	if c.id.Mode == network.Server && c.Source() == network.SourceClient && c.QueryBroadcastDestruction() {
		c.broadcastConstruction()
	}
	return nil
}

// QuerySerialization: a server sends every pending change except back to the
// peer it came from, a client only for components it created or whose object
// it controls.
func (c *Component) QuerySerialization(dest network.GUID) bool {
	if c.dirty.Len() == 0 || c.localOverride || c.networkingType != network.Remote {
		return false
	}
	if c.id.Mode == network.Server {
		return dest != c.changedBy
	}
	return c.IsCreatedByOwnGUID() || c.object.IsControlledBy(c.id.Own)
}

func (c *Component) Serialize(w *replica.Writer, _ network.GUID) bool {
	if c.dirty.Len() == 0 {
		return false
	}
	names := c.dirty.Keys()
	values := make(map[string]property.Value, len(names))
	for _, name := range names {
		values[name], _ = c.properties.Get(name)
	}
	w.Values(names, values)
	c.dirty.Clear()
	c.changedBy = network.Unassigned
	return true
}

func (c *Component) Deserialize(r *replica.Reader, source network.GUID) error {
	names, values := r.Values()
	if err := r.Err(); err != nil {
		return err
	}
	if c.networkingType != network.Remote {
		return nil
	}
	if c.id.Mode == network.Server && !c.IsCreatedBy(source) && !c.object.IsControlledBy(source) {
		c.object.manager.logger.Debug("Ignoring component update from peer without authority",
			log.String("component", c.name),
			log.Stringer("peer", source),
		)
		return nil
	}
	c.receive(names, values, source)
	return nil
}

func (c *Component) DeserializeDestruction(source network.GUID) bool {
	return c.auth.QueryDestroyComponent(c, source) == nil
}

// DeallocReplica destroys the component after a peer destroyed its copy. The
// peer already had permission, so this acts as the server.
func (c *Component) DeallocReplica(source network.GUID) {
	if c.broadcastingDestruction || c.destroyed {
		return
	}
	if err := c.object.DestroyComponent(c.name, c.id.Server); err != nil {
		c.object.manager.logger.Warn("Failed to deallocate component from replica system",
			log.String("component", c.name),
			log.String("object", c.object.name),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
}

func (c *Component) receive(names []string, values map[string]property.Value, source network.GUID) {
	c.receiving, c.receivingFrom = true, source
	defer func() { c.receiving, c.receivingFrom = false, network.Unassigned }()
	for _, name := range names {
		if err := c.properties.Receive(name, values[name]); err != nil {
			c.object.manager.logger.Debug("Dropping replicated property",
				log.String("component", c.name),
				log.String("property", name),
				log.Error(err),
			)
		}
	}
}
