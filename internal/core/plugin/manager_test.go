package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/replica"
)

type journal []string

func (j *journal) Reference(r replica.Replica)            { *j = append(*j, "reference:"+r.Allocation().Type) }
func (j *journal) Dereference(r replica.Replica)          { *j = append(*j, "dereference:"+r.Allocation().Type) }
func (j *journal) BroadcastDestruction(r replica.Replica) { *j = append(*j, "destroy:"+r.Allocation().Type) }

type clock struct {
	created, updates, released int
	states                     []State
}

func (c *clock) Create()                   { c.created++ }
func (c *clock) Update()                   { c.updates++ }
func (c *clock) Release()                  { c.released++ }
func (c *clock) StateChanged(s, _ State)   { c.states = append(c.states, s) }

func testRegistry(t *testing.T, behavior *clock) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register("Clock", []property.Definition{{Name: "tick", Default: property.IntValue(0)}},
		func(*Plugin) (Behavior, error) { return behavior, nil }))
	require.NoError(t, r.Register("Chat", nil, nil))
	assert.ErrorIs(t, r.Register("Chat", nil, nil), errors.ErrDuplicateItem)
	return r
}

func identities() (server, client network.Identity) {
	s := network.NewGUID()
	server = network.Identity{Mode: network.Server, Own: s, Server: s}
	client = network.Identity{Mode: network.Client, Own: network.NewGUID(), Server: s}
	return server, client
}

func TestPluginLifecycle(t *testing.T) {
	behavior := &clock{}
	var j journal
	server, _ := identities()
	m := NewManager(server, testRegistry(t, behavior), log.NewNop(), WithBroadcaster(&j))

	var events []bool
	m.Subscribe(func(e Event) { events = append(events, e.Created) })

	p, err := m.CreatePlugin("Clock", network.Unassigned)
	require.NoError(t, err)
	assert.Equal(t, server.Own, p.SourceGUID())
	assert.False(t, p.Created())
	_, err = m.CreatePlugin("Clock", network.Unassigned)
	assert.ErrorIs(t, err, errors.ErrDuplicateItem)
	_, err = m.CreatePlugin("Missing", network.Unassigned)
	assert.ErrorIs(t, err, errors.ErrItemNotFound)

	m.Update()
	assert.True(t, p.Created())
	assert.Equal(t, 1, behavior.created)
	assert.Equal(t, 1, behavior.updates)

	m.SetState(Pause)
	m.Update()
	assert.Equal(t, 1, behavior.updates)
	assert.Equal(t, []State{Pause}, behavior.states)

	require.NoError(t, m.DestroyPlugin("Clock"))
	assert.False(t, m.HasPlugin("Clock"))
	assert.ErrorIs(t, m.DestroyPlugin("Clock"), errors.ErrItemNotFound)
	m.Update()

	assert.Equal(t, 1, behavior.released)
	assert.Equal(t, []bool{true, false}, events)
	assert.Equal(t, journal{"reference:Clock", "destroy:Clock", "dereference:Clock"}, j)
}

func TestServerRefusesClientPlugins(t *testing.T) {
	server, client := identities()
	m := NewManager(server, testRegistry(t, &clock{}), log.NewNop())

	_, err := m.CreatePlugin("Chat", client.Own)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	assert.False(t, m.HasPlugin("Chat"))
}

func TestPluginReplication(t *testing.T) {
	server, client := identities()
	registry := testRegistry(t, &clock{})
	sm := NewManager(server, registry, log.NewNop())
	cm := NewManager(client, registry, log.NewNop())

	sp, err := sm.CreatePlugin("Clock", network.Unassigned)
	require.NoError(t, err)
	require.NoError(t, sp.SetProperty("tick", property.IntValue(3)))
	assert.True(t, sp.QueryConstruction(client.Own))

	w := replica.NewWriter()
	defer w.Release()
	sp.SerializeConstruction(w, client.Own)

	cp, err := cm.CreatePlugin("Clock", server.Server)
	require.NoError(t, err)
	assert.True(t, cp.QueryRemoteConstruction(server.Own))
	assert.False(t, cp.QueryConstruction(server.Own))
	require.NoError(t, cp.DeserializeConstruction(replica.NewReader(w.Bytes()), server.Own))
	v, _ := cp.Properties().Get("tick")
	assert.Equal(t, int64(3), v.Int())
	assert.False(t, cp.QuerySerialization(server.Own))

	require.True(t, sp.QuerySerialization(client.Own))
	delta := replica.NewWriter()
	defer delta.Release()
	require.True(t, sp.Serialize(delta, client.Own))
	assert.False(t, sp.QuerySerialization(client.Own))
	require.NoError(t, cp.Deserialize(replica.NewReader(delta.Bytes()), server.Own))
	v, _ = cp.Properties().Get("tick")
	assert.Equal(t, int64(3), v.Int())

	assert.False(t, cp.DeserializeDestruction(client.Own))
	require.True(t, cp.DeserializeDestruction(server.Own))
	cp.DeallocReplica(server.Own)
	assert.False(t, cm.HasPlugin("Clock"))
}

func TestAutoCreate(t *testing.T) {
	server, _ := identities()
	registry := testRegistry(t, &clock{})
	assert.ErrorIs(t, registry.AddAutoCreate("Missing"), errors.ErrItemNotFound)
	require.NoError(t, registry.AddAutoCreate("Chat"))
	require.NoError(t, registry.AddAutoCreate("Clock"))

	m := NewManager(server, registry, log.NewNop(), WithState(Stop))
	_, err := m.CreatePlugin("Chat", network.Unassigned)
	require.NoError(t, err)
	require.NoError(t, m.CreateAutoPlugins())
	assert.Equal(t, []string{"Chat", "Clock"}, []string{m.Plugins()[0].Type(), m.Plugins()[1].Type()})

	m.Reset()
	assert.Empty(t, m.Plugins())
	assert.Equal(t, Stop, m.State())
}
