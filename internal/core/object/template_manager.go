package object

import (
	"strconv"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/pkg/sequence"
)

// TemplateEvent is published when an object template was created or
// destroyed.
type TemplateEvent struct {
	Template *ObjectTemplate
	Created  bool
}

// TemplateManager owns the object templates of a process. Unlike objects,
// templates are destroyed immediately.
type TemplateManager struct {
	id          network.Identity
	logger      log.Log
	metrics     *metrics.Metrics
	registry    *Registry
	auth        Authority
	broadcaster replica.Broadcaster
	offline     bool

	templates   *sequence.Ordered[string, *ObjectTemplate]
	byNetworkID map[network.NetworkID]*ObjectTemplate
	generated   int

	changed bus.Signal[TemplateEvent]
}

func NewTemplateManager(id network.Identity, registry *Registry, logger log.Log, opts ...Option) *TemplateManager {
	s := newSettings(opts)
	return &TemplateManager{
		id:          id,
		logger:      logger.Named("templates"),
		metrics:     s.metrics,
		registry:    registry,
		auth:        s.authority(id, permission.TemplateKeys),
		broadcaster: s.broadcaster,
		offline:     s.offline,
		templates:   sequence.NewOrdered[string, *ObjectTemplate](),
		byNetworkID: make(map[network.NetworkID]*ObjectTemplate),
	}
}

func (tm *TemplateManager) Identity() network.Identity { return tm.id }

func (tm *TemplateManager) Registry() *Registry { return tm.registry }

func (tm *TemplateManager) SetBroadcaster(b replica.Broadcaster) { tm.broadcaster = b }

func (tm *TemplateManager) CreateObjectTemplate(name string, t network.Type, displayName string, source network.GUID) (*ObjectTemplate, error) {
	const op = "TemplateManager.CreateObjectTemplate"
	if name == "" {
		return nil, errors.InvalidParams(op, "template name is empty")
	}
	if tm.templates.Has(name) {
		return nil, errors.DuplicateItem(op, "object template %q already exists", name)
	}
	source = source.Or(tm.id.Own)
	if tm.offline {
		t = network.Local
	}
	if err := tm.auth.QueryCreate(name, t, source); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = name
	}

	ot := newObjectTemplate(tm, name, displayName, t, source)
	tm.templates.Set(name, ot)
	tm.byNetworkID[ot.networkID] = ot
	tm.auth.Created(ot)
	tm.metrics.EntityCreated("object_template")
	if tm.id.BroadcastsOnCreate(t, ot.Source()) {
		tm.broadcaster.Reference(ot)
	}

	tm.logger.Debug("Object template created",
		log.String("template", name),
		log.Stringer("networking_type", t),
	)
	tm.changed.Publish(TemplateEvent{Template: ot, Created: true})
	return ot, nil
}

// CreateTemplateFromObject captures o, its children and its components as a
// new template tree.
func (tm *TemplateManager) CreateTemplateFromObject(o *Object, name string, t network.Type) (*ObjectTemplate, error) {
	displayName := o.displayName
	if displayName == "" {
		displayName = o.name
	}
	ot, err := tm.CreateObjectTemplate(name, t, displayName, network.Unassigned)
	if err != nil {
		return nil, err
	}
	if err := ot.CreateComponentTemplates(o); err != nil {
		return ot, err
	}
	return ot, nil
}

func (tm *TemplateManager) ObjectTemplate(name string) (*ObjectTemplate, error) {
	ot, ok := tm.templates.Get(name)
	if !ok {
		return nil, errors.ItemNotFound("TemplateManager.ObjectTemplate", "object template %q does not exist", name)
	}
	return ot, nil
}

func (tm *TemplateManager) HasObjectTemplate(name string) bool { return tm.templates.Has(name) }

func (tm *TemplateManager) ObjectTemplateByNetworkID(id network.NetworkID) (*ObjectTemplate, bool) {
	ot, ok := tm.byNetworkID[id]
	return ot, ok
}

func (tm *TemplateManager) ObjectTemplates() []*ObjectTemplate { return tm.templates.Values() }

// GenerateName returns an unused template name of the form ObjectTemplate<n>.
func (tm *TemplateManager) GenerateName() string {
	for {
		name := "ObjectTemplate" + strconv.Itoa(tm.generated)
		tm.generated++
		if !tm.templates.Has(name) {
			return name
		}
	}
}

// DestroyObjectTemplate destroys ot at once after asking the authority.
func (tm *TemplateManager) DestroyObjectTemplate(ot *ObjectTemplate, source network.GUID) error {
	const op = "TemplateManager.DestroyObjectTemplate"
	if ot.manager != tm {
		return errors.InvalidParams(op, "template %q belongs to another manager", ot.name)
	}
	if ot.destroyed {
		return errors.ItemNotFound(op, "object template %q is already destroyed", ot.name)
	}
	if err := tm.auth.QueryDestroy(ot, source.Or(tm.id.Own)); err != nil {
		return err
	}
	tm.changed.Publish(TemplateEvent{Template: ot, Created: false})
	if ot.QueryBroadcastDestruction() {
		ot.broadcastDestruction()
	}
	tm.free(ot)
	return nil
}

// DestroyObjectTemplateTree destroys ot and all of its descendants.
func (tm *TemplateManager) DestroyObjectTemplateTree(ot *ObjectTemplate, source network.GUID) error {
	children := ot.Children()
	if err := tm.DestroyObjectTemplate(ot, source); err != nil {
		return err
	}
	for _, c := range children {
		if err := tm.DestroyObjectTemplateTree(c, source); err != nil {
			return err
		}
	}
	return nil
}

func (tm *TemplateManager) DestroyWholeObjectTemplateTree(ot *ObjectTemplate, source network.GUID) error {
	return tm.DestroyObjectTemplateTree(ot.Root(), source)
}

func (tm *TemplateManager) free(ot *ObjectTemplate) {
	tm.templates.Delete(ot.name)
	delete(tm.byNetworkID, ot.networkID)
	ot.node.Detach()
	for _, child := range ot.Children() {
		child.node.Detach()
		child.parentChanged.Publish(nil)
	}
	ot.release()
	tm.auth.Released(ot)
	tm.broadcaster.Dereference(ot)
	tm.metrics.EntityDestroyed("object_template")
}

// Reset destroys every template without asking and without broadcasting.
func (tm *TemplateManager) Reset() {
	for _, ot := range tm.templates.Values() {
		tm.changed.Publish(TemplateEvent{Template: ot, Created: false})
		tm.free(ot)
	}
	tm.templates.Clear()
	tm.byNetworkID = make(map[network.NetworkID]*ObjectTemplate)
}

func (tm *TemplateManager) Offline() bool { return tm.offline }

func (tm *TemplateManager) SetOffline(v bool) {
	if v == tm.offline {
		return
	}
	tm.offline = v
	if v {
		for _, ot := range tm.templates.Values() {
			if ot.IsRoot() {
				ot.applyNetworkingType(network.Local)
			}
		}
	}
}

func (tm *TemplateManager) Subscribe(h bus.Handler[TemplateEvent]) bus.Subscription {
	return tm.changed.Subscribe(h)
}
