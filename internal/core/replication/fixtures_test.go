package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/object"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/plugin"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/replica"
)

func testRegistry() *object.Registry {
	return object.NewRegistry().MustRegister(
		object.NewFactory("Counter", object.FactoryOptions{Properties: []property.Definition{
			{Name: "value", Default: property.IntValue(0)},
		}}, nil),
		object.NewFactory("Tag", object.FactoryOptions{Multiple: true}, nil),
		object.NewFactory("Input", object.FactoryOptions{ClientOnly: true}, nil),
		object.NewFactory("Beacon", object.FactoryOptions{ServerOnly: true}, nil),
	)
}

func testPlugins(t *testing.T) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register("Clock", []property.Definition{{Name: "tick", Default: property.IntValue(0)}}, nil))
	return r
}

func identities(clients int) (network.Identity, []network.Identity) {
	server := network.NewGUID()
	out := make([]network.Identity, clients)
	for i := range out {
		out[i] = network.Identity{Mode: network.Client, Own: network.NewGUID(), Server: server}
	}
	return network.Identity{Mode: network.Server, Own: server, Server: server}, out
}

// node is one process: entity managers wired to a replication manager the
// way the runtime wires them.
type node struct {
	id        network.Identity
	metrics   *metrics.Metrics
	ledger    *permission.Ledger
	hub       *Hub
	rm        *Manager
	conn      *Connection
	objects   *object.Manager
	templates *object.TemplateManager
	plugins   *plugin.Manager
}

func newNode(t *testing.T, id network.Identity, registry *object.Registry, plugins *plugin.Registry, group permission.Group) *node {
	t.Helper()
	logger := log.NewNop()
	m := metrics.New()
	ledger := permission.NewLedger(logger, permission.WithMetrics(m))
	ledger.RegisterPeer(id.Own, group)

	hub := NewHub(replica.Hello{GUID: id.Own, Mode: id.Mode}, logger, m)
	rm := NewManager(id, hub, logger, m, WithLedger(ledger, group))
	n := &node{
		id:      id,
		metrics: m,
		ledger:  ledger,
		hub:     hub,
		rm:      rm,
		objects: object.NewManager(id, registry, logger,
			object.WithLedger(ledger), object.WithMetrics(m), object.WithBroadcaster(rm)),
		templates: object.NewTemplateManager(id, registry, logger,
			object.WithLedger(ledger), object.WithMetrics(m), object.WithBroadcaster(rm)),
		plugins: plugin.NewManager(id, plugins, logger, plugin.WithMetrics(m), plugin.WithBroadcaster(rm)),
	}
	n.conn = NewConnection(n.objects, n.templates, n.plugins, logger, m)
	rm.SetConnection(n.conn)
	t.Cleanup(hub.Close)
	return n
}

func (n *node) tick() {
	n.rm.Update()
	n.objects.Update()
	n.plugins.Update()
	n.rm.Flush()
}

// tickUntil ticks nodes until cond holds.
func tickUntil(t *testing.T, what string, cond func() bool, nodes ...*node) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		for _, n := range nodes {
			n.tick()
		}
		time.Sleep(time.Millisecond)
	}
}
