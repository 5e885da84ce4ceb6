package object

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/replica"
)

// recorder is a Broadcaster that writes what it was asked to do into a
// shared journal.
type recorder struct {
	journal *[]string
}

func (r recorder) Reference(rep replica.Replica) {
	*r.journal = append(*r.journal, "reference:"+rep.Allocation().Name)
}

func (r recorder) Dereference(rep replica.Replica) {
	*r.journal = append(*r.journal, "dereference:"+rep.Allocation().Name)
}

func (r recorder) BroadcastDestruction(rep replica.Replica) {
	*r.journal = append(*r.journal, "destroy:"+rep.Allocation().Name)
}

type probe struct {
	created  int
	released int
	delayed  bool
	types    []network.Type
}

func (p *probe) Create()                              { p.created++ }
func (p *probe) Release()                             { p.released++ }
func (p *probe) DelayedDestruction() bool             { return p.delayed }
func (p *probe) NetworkingTypeChanged(t network.Type) { p.types = append(p.types, t) }

var componentTypes = []string{"Counter", "Tag", "Anchor", "Light", "Input", "Resource"}

func testRegistry() *Registry {
	return NewRegistry().MustRegister(
		NewFactory("Counter", FactoryOptions{Properties: []property.Definition{
			{Name: "value", Default: property.IntValue(0)},
			{Name: "label", Default: property.StringValue("")},
		}}, nil),
		NewFactory("Tag", FactoryOptions{Multiple: true}, nil),
		NewFactory("Anchor", FactoryOptions{Indestructible: true}, nil),
		NewFactory("Light", FactoryOptions{ServerOnly: true}, nil),
		NewFactory("Input", FactoryOptions{ClientOnly: true}, nil),
		NewFactory("Resource", FactoryOptions{}, func(c *Component) (Behavior, error) {
			return &probe{delayed: true}, nil
		}),
	)
}

type peer struct {
	id        network.Identity
	ledger    *permission.Ledger
	objects   *Manager
	templates *TemplateManager
	journal   []string
}

func newPeer(t *testing.T, mode network.Mode, group func(*permission.Group), ledgerOpts ...permission.Option) *peer {
	t.Helper()
	server := network.NewGUID()
	own := server
	if mode == network.Client {
		own = network.NewGUID()
	}
	p := &peer{id: network.Identity{Mode: mode, Own: own, Server: server}}

	logger := log.NewNop()
	p.ledger = permission.NewLedger(logger, ledgerOpts...)
	g := permission.GuestGroup(componentTypes...)
	if group != nil {
		group(&g)
	}
	p.ledger.RegisterPeer(own, g)

	registry := testRegistry()
	opts := []Option{WithLedger(p.ledger), WithBroadcaster(recorder{journal: &p.journal})}
	p.objects = NewManager(p.id, registry, logger, opts...)
	p.templates = NewTemplateManager(p.id, registry, logger, opts...)
	return p
}

func (p *peer) items(key string) uint32 { return p.ledger.Items(p.id.Own, key) }

func (p *peer) object(t *testing.T, name string, typ network.Type) *Object {
	t.Helper()
	o, err := p.objects.CreateObject(name, typ, "", network.Unassigned)
	require.NoError(t, err)
	return o
}

func (p *peer) chain(t *testing.T, typ network.Type, names ...string) []*Object {
	t.Helper()
	out := make([]*Object, 0, len(names))
	for i, name := range names {
		if i == 0 {
			out = append(out, p.object(t, name, typ))
			continue
		}
		child, err := out[i-1].CreateChildObject(name)
		require.NoError(t, err, fmt.Sprintf("child %s", name))
		out = append(out, child)
	}
	return out
}
