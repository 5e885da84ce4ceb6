package permission

// KeySet names the ledger keys checked by one family of entities. Objects and
// object templates run the same authority rules against different keys.
type KeySet struct {
	CreateRemote string
	CreateLocal  string
	DestroyOwn   string
	DestroyOther string
	DestroyLocal string

	UnparentOnOwn         string
	UnparentOnOther       string
	SetOwnParentOnOwn     string
	SetOtherParentOnOwn   string
	SetOwnParentOnOther   string
	SetOtherParentOnOther string

	CreateRemoteComponent        string
	CreateRemoteComponentOnOwn   string
	CreateRemoteComponentOnOther string
	CreateLocalComponent         string

	DestroyOwnComponentOnOwn     string
	DestroyOwnComponentOnOther   string
	DestroyOtherComponentOnOwn   string
	DestroyOtherComponentOnOther string
	DestroyLocalComponent        string

	componentSuffix string
}

// ObjectKeys is the key family for live objects and components.
var ObjectKeys = KeySet{
	CreateRemote: "ObjectManager_CreateRemoteObject",
	CreateLocal:  "ObjectManager_CreateLocalObject",
	DestroyOwn:   "ObjectManager_DestroyOwnObject",
	DestroyOther: "ObjectManager_DestroyOtherObject",
	DestroyLocal: "ObjectManager_DestroyLocalObject",

	UnparentOnOwn:         "Object_UnparentOnOwnObject",
	UnparentOnOther:       "Object_UnparentOnOtherObject",
	SetOwnParentOnOwn:     "Object_SetOwnParentOnOwnObject",
	SetOtherParentOnOwn:   "Object_SetOtherParentOnOwnObject",
	SetOwnParentOnOther:   "Object_SetOwnParentOnOtherObject",
	SetOtherParentOnOther: "Object_SetOtherParentOnOtherObject",

	CreateRemoteComponent:        "ObjectManager_CreateRemoteComponent",
	CreateRemoteComponentOnOwn:   "ObjectManager_CreateRemoteComponentOnOwnObject",
	CreateRemoteComponentOnOther: "ObjectManager_CreateRemoteComponentOnOtherObject",
	CreateLocalComponent:         "ObjectManager_CreateLocalComponent",

	DestroyOwnComponentOnOwn:     "ObjectManager_DestroyOwnComponentOnOwnObject",
	DestroyOwnComponentOnOther:   "ObjectManager_DestroyOwnComponentOnOtherObject",
	DestroyOtherComponentOnOwn:   "ObjectManager_DestroyOtherComponentOnOwnObject",
	DestroyOtherComponentOnOther: "ObjectManager_DestroyOtherComponentOnOtherObject",
	DestroyLocalComponent:        "ObjectManager_DestroyLocalComponent",
}

// TemplateKeys is the key family for object templates and component templates.
var TemplateKeys = KeySet{
	CreateRemote: "ObjectTemplateManager_CreateRemoteObjectTemplate",
	CreateLocal:  "ObjectTemplateManager_CreateLocalObjectTemplate",
	DestroyOwn:   "ObjectTemplateManager_DestroyOwnObjectTemplate",
	DestroyOther: "ObjectTemplateManager_DestroyOtherObjectTemplate",
	DestroyLocal: "ObjectTemplateManager_DestroyLocalObjectTemplate",

	UnparentOnOwn:         "ObjectTemplate_UnparentOnOwnObjectTemplate",
	UnparentOnOther:       "ObjectTemplate_UnparentOnOtherObjectTemplate",
	SetOwnParentOnOwn:     "ObjectTemplate_SetOwnParentOnOwnObjectTemplate",
	SetOtherParentOnOwn:   "ObjectTemplate_SetOtherParentOnOwnObjectTemplate",
	SetOwnParentOnOther:   "ObjectTemplate_SetOwnParentOnOtherObjectTemplate",
	SetOtherParentOnOther: "ObjectTemplate_SetOtherParentOnOtherObjectTemplate",

	CreateRemoteComponent:        "ObjectTemplateManager_CreateRemoteComponentTemplate",
	CreateRemoteComponentOnOwn:   "ObjectTemplateManager_CreateRemoteComponentTemplateOnOwnObjectTemplate",
	CreateRemoteComponentOnOther: "ObjectTemplateManager_CreateRemoteComponentTemplateOnOtherObjectTemplate",
	CreateLocalComponent:         "ObjectTemplateManager_CreateLocalComponentTemplate",

	DestroyOwnComponentOnOwn:     "ObjectTemplateManager_DestroyOwnComponentTemplateOnOwnObjectTemplate",
	DestroyOwnComponentOnOther:   "ObjectTemplateManager_DestroyOwnComponentTemplateOnOtherObjectTemplate",
	DestroyOtherComponentOnOwn:   "ObjectTemplateManager_DestroyOtherComponentTemplateOnOwnObjectTemplate",
	DestroyOtherComponentOnOther: "ObjectTemplateManager_DestroyOtherComponentTemplateOnOtherObjectTemplate",
	DestroyLocalComponent:        "ObjectTemplateManager_DestroyLocalComponentTemplate",

	componentSuffix: "Template",
}

// ComponentCreate is the per-type creation key, e.g. "Counter_Create" or
// "CounterTemplate_Create".
func (k KeySet) ComponentCreate(componentType string) string {
	return componentType + k.componentSuffix + "_Create"
}

// Parent selects the reparent key from ownership of the new parent and of the
// moved entity. A nil parent is expressed with unparent=true.
func (k KeySet) Parent(unparent, ownParent, ownObject bool) string {
	switch {
	case unparent && ownObject:
		return k.UnparentOnOwn
	case unparent:
		return k.UnparentOnOther
	case ownParent && ownObject:
		return k.SetOwnParentOnOwn
	case ownObject:
		return k.SetOtherParentOnOwn
	case ownParent:
		return k.SetOwnParentOnOther
	default:
		return k.SetOtherParentOnOther
	}
}

// CreateComponentOn selects the remote component creation key by ownership of
// the owning object.
func (k KeySet) CreateComponentOn(ownObject bool) string {
	if ownObject {
		return k.CreateRemoteComponentOnOwn
	}
	return k.CreateRemoteComponentOnOther
}

// DestroyComponentOn selects the remote component destruction key.
func (k KeySet) DestroyComponentOn(ownComponent, ownObject bool) string {
	switch {
	case ownComponent && ownObject:
		return k.DestroyOwnComponentOnOwn
	case ownComponent:
		return k.DestroyOwnComponentOnOther
	case ownObject:
		return k.DestroyOtherComponentOnOwn
	default:
		return k.DestroyOtherComponentOnOther
	}
}

// DestroyObject selects the remote object destruction key.
func (k KeySet) DestroyObject(own bool) string {
	if own {
		return k.DestroyOwn
	}
	return k.DestroyOther
}
