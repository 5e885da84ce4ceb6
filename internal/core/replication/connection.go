package replication

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/object"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/plugin"
	"github.com/zeusync/authority/internal/core/replica"
)

// Connection creates local entities for allocation requests sent by peers.
// Any of the managers may be nil, in which case requests of that kind are
// dropped.
type Connection struct {
	objects   *object.Manager
	templates *object.TemplateManager
	plugins   *plugin.Manager
	logger    log.Log
	metrics   *metrics.Metrics
}

func NewConnection(objects *object.Manager, templates *object.TemplateManager, plugins *plugin.Manager, logger log.Log, m *metrics.Metrics) *Connection {
	return &Connection{
		objects:   objects,
		templates: templates,
		plugins:   plugins,
		logger:    logger.Named("connection"),
		metrics:   m,
	}
}

// AllocReplica decodes an allocation and creates the entity it names on
// behalf of source. Failures are logged and counted; the peer is not told.
func (c *Connection) AllocReplica(source network.GUID, allocation []byte) (replica.Replica, error) {
	a, err := replica.DecodeAllocation(allocation)
	if err != nil {
		return nil, c.drop(source, "unknown", a, err)
	}
	r, err := c.alloc(source, a)
	if err != nil {
		return nil, c.drop(source, a.Kind.String(), a, err)
	}
	return r, nil
}

func (c *Connection) alloc(source network.GUID, a replica.Allocation) (replica.Replica, error) {
	const op = "Connection.AllocReplica"
	switch a.Kind {
	case replica.KindObject:
		if c.objects == nil {
			return nil, errors.InvalidState(op, "object manager has not been set")
		}
		o, err := c.objects.CreateObject(a.Name, network.Remote, a.DisplayName, source)
		if err != nil {
			return nil, err
		}
		return o, nil

	case replica.KindComponent:
		if c.objects == nil {
			return nil, errors.InvalidState(op, "object manager has not been set")
		}
		// The owner may have been destroyed before the component arrived.
		o, ok := c.objects.ObjectByNetworkID(a.Owner)
		if !ok {
			return nil, errors.ItemNotFound(op, "owner %s of component %q not found", a.Owner, a.Name)
		}
		comp, err := o.CreateComponent(a.Type, a.Name, false, source)
		if err != nil {
			return nil, err
		}
		return comp, nil

	case replica.KindObjectTemplate:
		if c.templates == nil {
			return nil, errors.InvalidState(op, "template manager has not been set")
		}
		ot, err := c.templates.CreateObjectTemplate(a.Name, network.Remote, a.DisplayName, source)
		if err != nil {
			return nil, err
		}
		return ot, nil

	case replica.KindComponentTemplate:
		if c.templates == nil {
			return nil, errors.InvalidState(op, "template manager has not been set")
		}
		ot, ok := c.templates.ObjectTemplateByNetworkID(a.Owner)
		if !ok {
			return nil, errors.ItemNotFound(op, "owner %s of component template %q not found", a.Owner, a.Name)
		}
		ct, err := ot.CreateComponentTemplate(a.Type, a.Name, false, source)
		if err != nil {
			return nil, err
		}
		return ct, nil

	case replica.KindPlugin:
		if c.plugins == nil {
			return nil, errors.InvalidState(op, "plugin manager has not been set")
		}
		p, err := c.plugins.CreatePlugin(a.Type, source)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, errors.InvalidParams(op, "unknown replica kind %s", a.Kind)
}

func (c *Connection) drop(source network.GUID, kind string, a replica.Allocation, err error) error {
	c.metrics.AllocationDropped(kind)
	c.logger.Error("Dropping allocation",
		log.String("kind", kind),
		log.String("allocation", a.String()),
		log.Stringer("peer", source),
		log.Error(err),
	)
	return err
}
