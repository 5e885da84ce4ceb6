package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/permission"
)

// clientAuthority checks the local peer's own ledger entry, and only for
// mutations this client originates. Whatever the server pushes is accepted.
type clientAuthority struct {
	ledgerOps
	id network.Identity

	// saved holds one entry per approved networking type query until its
	// cleanup runs. Cleanups run in reverse query order.
	saved [][]permission.Snapshot
}

func (a *clientAuthority) save(keys ...string) {
	a.saved = append(a.saved, a.ledger.Snapshot(a.id.Own, keys...))
}

func (a *clientAuthority) restore() {
	n := len(a.saved)
	if n == 0 {
		return
	}
	permission.Restore(a.saved[n-1])
	a.saved = a.saved[:n-1]
}

func (a *clientAuthority) fromServer(source network.GUID) bool {
	return source == a.id.Server
}

func (a *clientAuthority) QueryCreate(_ string, t network.Type, source network.GUID) error {
	if a.fromServer(source) {
		return nil
	}
	key := a.keys.CreateLocal
	if t == network.Remote {
		key = a.keys.CreateRemote
	}
	return a.check(a.id.Own, key, "ObjectManager.CreateObject")
}

func (a *clientAuthority) Created(e Entity) {
	switch {
	case e.NetworkingType() == network.Local:
		a.add(a.id.Own, a.keys.CreateLocal)
	case e.IsCreatedBy(a.id.Own):
		a.add(a.id.Own, a.keys.CreateRemote)
	}
}

func (a *clientAuthority) Released(e Entity) {
	switch {
	case e.NetworkingType() == network.Local:
		a.remove(a.id.Own, false, a.keys.CreateLocal)
	case e.IsCreatedBy(a.id.Own):
		a.remove(a.id.Own, false, a.keys.CreateRemote)
	}
}

func (a *clientAuthority) QueryDestroy(e Entity, source network.GUID) error {
	if a.fromServer(source) {
		return nil
	}
	if e.NetworkingType() == network.Remote {
		return a.check(a.id.Own, a.keys.DestroyObject(e.IsCreatedBy(source)), "ObjectManager.DestroyObject")
	}
	return a.check(a.id.Own, a.keys.DestroyLocal, "ObjectManager.DestroyObject")
}

func (a *clientAuthority) QueryNetworkingType(e Entity, t network.Type) error {
	const op = "Object.SetNetworkingType"
	if t == network.Remote {
		if err := a.check(a.id.Own, a.keys.CreateRemote, op); err != nil {
			return err
		}
		a.save(a.keys.CreateLocal, a.keys.CreateRemote)
		a.remove(a.id.Own, true, a.keys.CreateLocal)
		a.add(a.id.Own, a.keys.CreateRemote)
		return nil
	}
	if !e.IsCreatedBy(a.id.Own) {
		return errors.PermissionDenied(op, "cannot set non-owned %q to local networking type", e.Name())
	}
	if err := a.check(a.id.Own, a.keys.CreateLocal, op); err != nil {
		return err
	}
	a.save(a.keys.CreateRemote, a.keys.CreateLocal)
	a.remove(a.id.Own, true, a.keys.CreateRemote)
	a.add(a.id.Own, a.keys.CreateLocal)
	return nil
}

func (a *clientAuthority) CleanupNetworkingType(Entity, network.Type) { a.restore() }

func (a *clientAuthority) NetworkingTypeChanged(e Entity, t network.Type) {
	own := e.IsCreatedBy(a.id.Own)
	if t == network.Remote {
		a.remove(a.id.Own, false, a.keys.CreateLocal)
		if own {
			a.add(a.id.Own, a.keys.CreateRemote)
		}
		return
	}
	if own {
		a.remove(a.id.Own, false, a.keys.CreateRemote)
	}
	a.add(a.id.Own, a.keys.CreateLocal)
}

func (a *clientAuthority) QuerySetParent(e Entity, parent Entity, source network.GUID) error {
	if a.fromServer(source) {
		return nil
	}
	ownParent := parent != nil && parent.IsCreatedBy(a.id.Own)
	key := a.keys.Parent(parent == nil, ownParent, e.IsCreatedBy(a.id.Own))
	return a.check(a.id.Own, key, "Object.Parent")
}

func (a *clientAuthority) AllowRemoteDestruction(Entity, network.GUID) bool { return true }

func (a *clientAuthority) QueryCreateComponent(owner Entity, componentType string, localOverride bool, source network.GUID) error {
	if a.fromServer(source) {
		return nil
	}
	const op = "Object.CreateComponent"
	if owner.NetworkingType() == network.Remote && !localOverride {
		if err := a.check(a.id.Own, a.keys.CreateRemoteComponent, op); err != nil {
			return err
		}
		if err := a.check(a.id.Own, a.keys.CreateComponentOn(owner.IsCreatedBy(source)), op); err != nil {
			return err
		}
	} else if err := a.check(a.id.Own, a.keys.CreateLocalComponent, op); err != nil {
		return err
	}
	return a.check(a.id.Own, a.keys.ComponentCreate(componentType), op)
}

func (a *clientAuthority) ComponentCreated(c ComponentEntity) {
	own := c.IsCreatedBy(a.id.Own)
	switch {
	case !countsAsRemote(c):
		a.add(a.id.Own, a.keys.CreateLocalComponent)
	case own:
		a.add(a.id.Own, a.keys.CreateRemoteComponent, a.componentOn(c))
	}
	if own {
		a.add(a.id.Own, a.keys.ComponentCreate(c.Type()))
	}
}

func (a *clientAuthority) ComponentReleased(c ComponentEntity) {
	own := c.IsCreatedBy(a.id.Own)
	switch {
	case !countsAsRemote(c):
		a.remove(a.id.Own, false, a.keys.CreateLocalComponent)
	case own:
		a.remove(a.id.Own, false, a.keys.CreateRemoteComponent, a.componentOn(c))
	}
	if own {
		a.remove(a.id.Own, false, a.keys.ComponentCreate(c.Type()))
	}
}

func (a *clientAuthority) QueryDestroyComponent(c ComponentEntity, source network.GUID) error {
	if a.fromServer(source) {
		return nil
	}
	const op = "Object.DestroyComponent"
	if countsAsRemote(c) {
		key := a.keys.DestroyComponentOn(c.IsCreatedBy(source), c.Owner().IsCreatedBy(source))
		return a.check(a.id.Own, key, op)
	}
	return a.check(a.id.Own, a.keys.DestroyLocalComponent, op)
}

func (a *clientAuthority) QueryComponentNetworkingType(c ComponentEntity, t network.Type) error {
	const op = "Component.SetNetworkingType"
	if t == network.Remote {
		if c.LocalOverride() {
			a.save()
			return nil
		}
		if err := a.check(a.id.Own, a.keys.CreateRemoteComponent, op); err != nil {
			return err
		}
		on := a.componentOn(c)
		if err := a.check(a.id.Own, on, op); err != nil {
			return err
		}
		a.save(on, a.keys.CreateRemoteComponent, a.keys.CreateLocalComponent)
		a.add(a.id.Own, on, a.keys.CreateRemoteComponent)
		a.remove(a.id.Own, true, a.keys.CreateLocalComponent)
		return nil
	}
	if err := a.check(a.id.Own, a.keys.CreateLocalComponent, op); err != nil {
		return err
	}
	a.save(a.componentOn(c), a.keys.CreateRemoteComponent, a.keys.CreateLocalComponent)
	if c.IsCreatedBy(a.id.Own) {
		a.remove(a.id.Own, true, a.componentOn(c), a.keys.CreateRemoteComponent)
	}
	a.add(a.id.Own, a.keys.CreateLocalComponent)
	return nil
}

func (a *clientAuthority) CleanupComponentNetworkingType(ComponentEntity, network.Type) { a.restore() }

func (a *clientAuthority) ComponentNetworkingTypeChanged(c ComponentEntity, t network.Type) {
	own := c.IsCreatedBy(a.id.Own)
	if t == network.Remote {
		a.remove(a.id.Own, false, a.keys.CreateLocalComponent)
		if own {
			a.add(a.id.Own, a.keys.CreateRemoteComponent, a.componentOn(c))
		}
		return
	}
	if own {
		a.remove(a.id.Own, false, a.keys.CreateRemoteComponent, a.componentOn(c))
	}
	a.add(a.id.Own, a.keys.CreateLocalComponent)
}
