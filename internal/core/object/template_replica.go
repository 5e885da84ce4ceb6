package object

import (
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/replica"
)

var _ replica.Replica = (*ObjectTemplate)(nil)

func (ot *ObjectTemplate) Allocation() replica.Allocation {
	return replica.Allocation{Kind: replica.KindObjectTemplate, Name: ot.name, DisplayName: ot.displayName}
}

func (ot *ObjectTemplate) QueryConstruction(dest network.GUID) bool { return ot.sendsTo(dest) }

func (ot *ObjectTemplate) QueryRemoteConstruction(source network.GUID) bool {
	return acceptsConstruction(ot.id, ot.networkingType, source)
}

func (ot *ObjectTemplate) SerializeConstruction(w *replica.Writer, _ network.GUID) {
	if p := ot.Parent(); p != nil {
		w.Bool(true)
		w.NetworkID(p.networkID)
	} else {
		w.Bool(false)
	}
	w.Bool(ot.runtime)
	w.Transform(ot.node.LocalTransform())
}

func (ot *ObjectTemplate) DeserializeConstruction(r *replica.Reader, source network.GUID) error {
	var parentID network.NetworkID
	hasParent := r.Bool()
	if hasParent {
		parentID = r.NetworkID()
	}
	runtime := r.Bool()
	tr := r.Transform()
	if err := r.Err(); err != nil {
		return err
	}
	if hasParent {
		if p, ok := ot.manager.ObjectTemplateByNetworkID(parentID); ok {
			if err := ot.SetParent(p, network.Unassigned); err != nil {
				ot.manager.logger.Debug("Could not set replicated parent template",
					log.String("template", ot.name),
					log.Error(err),
				)
			}
		}
		ot.parentDirty = false
	}
	ot.runtime = runtime
	ot.node.SetLocalTransform(tr)
	ot.sentTransform = tr

	if ot.id.Mode == network.Server && ot.networkingType == network.Remote && ot.Source() == network.SourceClient {
		ot.manager.broadcaster.Reference(ot)
	}
	return nil
}

func (ot *ObjectTemplate) transformDirty() bool {
	writer := ot.id.Mode == network.Server || ot.IsCreatedByOwnGUID()
	return writer && ot.node.LocalTransform() != ot.sentTransform
}

func (ot *ObjectTemplate) QuerySerialization(dest network.GUID) bool {
	if ot.networkingType != network.Remote {
		return false
	}
	if !ot.parentDirty && !ot.displayNameDirty && !ot.transformDirty() {
		return false
	}
	return ot.id.Mode == network.Client || dest != ot.changedBy
}

func (ot *ObjectTemplate) Serialize(w *replica.Writer, _ network.GUID) bool {
	var flags uint8
	p := ot.Parent()
	if ot.parentDirty {
		if p != nil {
			flags |= deltaParent
		} else {
			flags |= deltaUnparent
		}
	}
	if ot.displayNameDirty {
		flags |= deltaDisplayName
	}
	if ot.transformDirty() {
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
		w.Text(ot.displayName)
	}
	if flags&deltaTransform != 0 {
		tr := ot.node.LocalTransform()
		w.Transform(tr)
		ot.sentTransform = tr
	}
	ot.parentDirty, ot.displayNameDirty = false, false
	ot.changedBy = network.Unassigned
	return true
}

func (ot *ObjectTemplate) Deserialize(r *replica.Reader, source network.GUID) error {
	flags := r.Uint8()
	var parentID network.NetworkID
	if flags&deltaParent != 0 {
		parentID = r.NetworkID()
	}
	var displayName string
	if flags&deltaDisplayName != 0 {
		displayName = r.Text()
	}
	tr := ot.node.LocalTransform()
	if flags&deltaTransform != 0 {
		tr = r.Transform()
	}
	if err := r.Err(); err != nil {
		return err
	}
	if ot.networkingType != network.Remote {
		return nil
	}
	relay := ot.id.Mode == network.Server

	var err error
	switch {
	case flags&deltaParent != 0:
		if p, ok := ot.manager.ObjectTemplateByNetworkID(parentID); ok && p != ot.Parent() {
			err = ot.SetParent(p, source)
		}
	case flags&deltaUnparent != 0:
		err = ot.SetParent(nil, source)
	}
	if err != nil {
		ot.manager.logger.Debug("Could not change parent template",
			log.String("template", ot.name),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
	if !relay {
		ot.parentDirty = false
	}

	if flags&deltaDisplayName != 0 && displayName != ot.displayName {
		ot.displayName = displayName
		ot.displayNameChanged.Publish(displayName)
		if relay {
			ot.displayNameDirty = true
			ot.changedBy = source
		}
	}
	if flags&deltaTransform != 0 {
		switch {
		case relay && ot.IsCreatedBy(source):
			ot.node.SetLocalTransform(tr)
			ot.changedBy = source
		case !relay:
			ot.node.SetLocalTransform(tr)
			ot.sentTransform = tr
		}
	}
	return nil
}

func (ot *ObjectTemplate) DeserializeDestruction(source network.GUID) bool {
	return ot.manager.auth.AllowRemoteDestruction(ot, source)
}

func (ot *ObjectTemplate) DeallocReplica(source network.GUID) {
	if ot.broadcastingDestruction || ot.destroyed {
		return
	}
	if err := ot.manager.DestroyObjectTemplate(ot, ot.id.Server); err != nil {
		ot.manager.logger.Warn("Failed to deallocate object template from replica system",
			log.String("template", ot.name),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
}
