package object

import (
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/replica"
)

var _ replica.Replica = (*Object)(nil)

// Delta flags written ahead of an object update.
const (
	deltaParent uint8 = 1 << iota
	deltaUnparent
	deltaDisplayName
	deltaTransform
)

func (o *Object) Allocation() replica.Allocation {
	return replica.Allocation{Kind: replica.KindObject, Name: o.name, DisplayName: o.displayName}
}

func (o *Object) QueryConstruction(dest network.GUID) bool { return o.sendsTo(dest) }

func (o *Object) QueryRemoteConstruction(source network.GUID) bool {
	return acceptsConstruction(o.id, o.networkingType, source)
}

// SerializeConstruction writes the parent, the controller and the transform.
func (o *Object) SerializeConstruction(w *replica.Writer, _ network.GUID) {
	if p := o.Parent(); p != nil {
		w.Bool(true)
		w.NetworkID(p.networkID)
	} else {
		w.Bool(false)
	}
	w.GUID(o.controller)
	w.Transform(o.node.LocalTransform())
}

func (o *Object) DeserializeConstruction(r *replica.Reader, source network.GUID) error {
	var parentID network.NetworkID
	hasParent := r.Bool()
	if hasParent {
		parentID = r.NetworkID()
	}
	controller := r.GUID()
	tr := r.Transform()
	if err := r.Err(); err != nil {
		return err
	}

	if hasParent {
		if p, ok := o.manager.ObjectByNetworkID(parentID); ok {
			if err := o.SetParent(p, network.Unassigned); err != nil {
				o.manager.logger.Debug("Could not set replicated parent",
					log.String("object", o.name),
					log.String("parent", p.name),
					log.Error(err),
				)
			}
		} else {
			o.manager.logger.Debug("Replicated parent not found",
				log.String("object", o.name),
				log.Stringer("parent_id", parentID),
			)
		}
		o.parentDirty = false
	}
	o.controller = controller
	o.node.SetLocalTransform(tr)
	o.sentTransform = tr

	// A server announces client-sourced objects once their state arrived.
	if o.id.Mode == network.Server && o.networkingType == network.Remote && o.Source() == network.SourceClient {
		o.manager.broadcaster.Reference(o)
	}
	return nil
}

// writesTransform reports whether this peer is the one moving the object.
func (o *Object) writesTransform() bool {
	return o.id.Mode == network.Server || o.IsControlledBy(o.id.Own) || o.IsCreatedByOwnGUID()
}

func (o *Object) transformDirty() bool {
	return o.writesTransform() && o.node.LocalTransform() != o.sentTransform
}

func (o *Object) QuerySerialization(dest network.GUID) bool {
	if o.networkingType != network.Remote {
		return false
	}
	if !o.parentDirty && !o.displayNameDirty && !o.transformDirty() {
		return false
	}
	return o.id.Mode == network.Client || dest != o.changedBy
}

// Serialize writes the parent and display name changes and the transform
// when this peer moves the object.
func (o *Object) Serialize(w *replica.Writer, _ network.GUID) bool {
	var flags uint8
	p := o.Parent()
	if o.parentDirty {
		if p != nil {
			flags |= deltaParent
		} else {
			flags |= deltaUnparent
		}
	}
	if o.displayNameDirty {
		flags |= deltaDisplayName
	}
	if o.transformDirty() {
		flags |= deltaTransform
	}
	if flags == 0 {
		return false
	}

	w.Uint8(flags)
	if flags&deltaParent != 0 {
		w.NetworkID(p.networkID)
	}
	if flags&deltaDisplayName != 0 {
		w.Text(o.displayName)
	}
	if flags&deltaTransform != 0 {
		tr := o.node.LocalTransform()
		w.Transform(tr)
		o.sentTransform = tr
	}
	o.parentDirty, o.displayNameDirty = false, false
	o.changedBy = network.Unassigned
	return true
}

func (o *Object) Deserialize(r *replica.Reader, source network.GUID) error {
	flags := r.Uint8()
	var parentID network.NetworkID
	if flags&deltaParent != 0 {
		parentID = r.NetworkID()
	}
	var displayName string
	if flags&deltaDisplayName != 0 {
		displayName = r.Text()
	}
	var tr = o.node.LocalTransform()
	if flags&deltaTransform != 0 {
		tr = r.Transform()
	}
	if err := r.Err(); err != nil {
		return err
	}
	if o.networkingType != network.Remote {
		return nil
	}
	relay := o.id.Mode == network.Server

	switch {
	case flags&deltaParent != 0:
		if p, ok := o.manager.ObjectByNetworkID(parentID); ok && p != o.Parent() {
			o.deserializeParent(p, source)
		}
	case flags&deltaUnparent != 0:
		o.deserializeParent(nil, source)
	}
	if !relay {
		o.parentDirty = false
	}

	if flags&deltaDisplayName != 0 && displayName != o.displayName {
		o.displayName = displayName
		o.displayNameChanged.Publish(displayName)
		if relay {
			o.displayNameDirty = true
			o.changedBy = source
		}
	}

	if flags&deltaTransform != 0 {
		switch {
		case relay && (o.IsCreatedBy(source) || o.IsControlledBy(source)):
			o.node.SetLocalTransform(tr)
			o.changedBy = source
		case !relay && !o.IsControlledBy(o.id.Own):
			o.node.SetLocalTransform(tr)
			o.sentTransform = tr
		}
	}
	return nil
}

func (o *Object) deserializeParent(p *Object, source network.GUID) {
	if err := o.SetParent(p, source); err != nil {
		o.manager.logger.Debug("Could not change parent object",
			log.String("object", o.name),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
}

func (o *Object) DeserializeDestruction(source network.GUID) bool {
	return o.manager.auth.AllowRemoteDestruction(o, source)
}

// DeallocReplica destroys the object after a peer destroyed its copy. The
// peer already had permission, so this acts as the server.
func (o *Object) DeallocReplica(source network.GUID) {
	if o.broadcastingDestruction || o.scheduled || o.freed {
		return
	}
	if err := o.manager.DestroyObject(o, o.id.Server); err != nil {
		o.manager.logger.Warn("Failed to deallocate object from replica system",
			log.String("object", o.name),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
}
