package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/object"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/scene"
)

// ReplicationSuite runs one server and two clients connected by in-memory
// pipes. Every node is ticked from the test goroutine.
type ReplicationSuite struct {
	suite.Suite

	ctx    context.Context
	cancel context.CancelFunc

	registry *object.Registry
	server   *node
	clients  []*node
	pipes    []*pipeConn
}

func TestReplicationSuite(t *testing.T) {
	suite.Run(t, new(ReplicationSuite))
}

func (s *ReplicationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.registry = testRegistry()
	s.pipes = nil

	serverID, clientIDs := identities(2)
	group := permission.GuestGroup(s.registry.Types()...)
	s.server = newNode(s.T(), serverID, s.registry, testPlugins(s.T()), group)
	s.clients = make([]*node, len(clientIDs))
	for i, id := range clientIDs {
		s.clients[i] = newNode(s.T(), id, s.registry, testPlugins(s.T()), group)
	}
}

func (s *ReplicationSuite) TearDownTest() {
	s.cancel()
}

func (s *ReplicationSuite) nodes() []*node {
	return append([]*node{s.server}, s.clients...)
}

func (s *ReplicationSuite) connect(c *node) {
	a, b := newPipe()
	s.pipes = append(s.pipes, a)
	go func() { _ = s.server.hub.Serve(s.ctx, a) }()
	go func() { _ = c.hub.Serve(s.ctx, b) }()
	s.until("peer joins", func() bool {
		_, ok := c.rm.peers.Get(s.server.id.Own)
		_, known := s.server.rm.peers.Get(c.id.Own)
		return ok && known
	})
}

func (s *ReplicationSuite) connectAll() {
	for _, c := range s.clients {
		s.connect(c)
	}
}

func (s *ReplicationSuite) until(what string, cond func() bool) {
	s.T().Helper()
	tickUntil(s.T(), what, cond, s.nodes()...)
}

func intProperty(c *object.Component, name string) int64 {
	v, ok := c.Property(name)
	if !ok {
		return -1
	}
	return v.Int()
}

func counterOf(n *node, objectName string) (*object.Component, bool) {
	o, err := n.objects.Object(objectName)
	if err != nil {
		return nil, false
	}
	c, err := o.Component("Counter")
	if err != nil {
		return nil, false
	}
	return c, true
}

func (s *ReplicationSuite) TestClientObjectReachesEveryone() {
	s.connectAll()
	owner, other := s.clients[0], s.clients[1]

	ship, err := owner.objects.CreateObject("Ship", network.Remote, "The Ship", network.Unassigned)
	s.Require().NoError(err)
	counter, err := ship.CreateComponent("Counter", "", false, network.Unassigned)
	s.Require().NoError(err)
	s.Require().NoError(counter.SetProperty("value", property.IntValue(3)))
	ship.SetPosition(scene.Vector3{X: 1, Y: 2, Z: 3})

	s.until("ship reaches the other client", func() bool {
		c, ok := counterOf(other, "Ship")
		return ok && intProperty(c, "value") == 3
	})

	onServer, err := s.server.objects.Object("Ship")
	s.Require().NoError(err)
	s.Equal(owner.id.Own, onServer.SourceGUID())
	s.Equal("The Ship", onServer.DisplayName())
	s.Equal(uint32(1), s.server.ledger.Items(owner.id.Own, permission.ObjectKeys.CreateRemote))

	mirror, err := other.objects.Object("Ship")
	s.Require().NoError(err)
	s.Equal(s.server.id.Own, mirror.SourceGUID())
	s.Equal(scene.Vector3{X: 1, Y: 2, Z: 3}, mirror.Position())

	s.Require().NoError(counter.SetProperty("value", property.IntValue(4)))
	s.until("update relays through the server", func() bool {
		c, _ := counterOf(other, "Ship")
		return intProperty(c, "value") == 4
	})
	c, _ := counterOf(s.server, "Ship")
	s.Equal(int64(4), intProperty(c, "value"))
	s.True(s.server.rm.Knows(c, owner.id.Own))
	s.True(s.server.rm.Knows(c, other.id.Own))
}

func (s *ReplicationSuite) TestDestructionPropagates() {
	s.connectAll()
	owner, other := s.clients[0], s.clients[1]

	ship, err := owner.objects.CreateObject("Ship", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	_, err = ship.CreateComponent("Counter", "", false, network.Unassigned)
	s.Require().NoError(err)
	s.until("ship reaches the other client", func() bool {
		_, ok := counterOf(other, "Ship")
		return ok
	})

	s.Require().NoError(owner.objects.DestroyObject(ship, network.Unassigned))
	s.until("ship is gone everywhere", func() bool {
		return !s.server.objects.HasObject("Ship") && !other.objects.HasObject("Ship") &&
			s.server.objects.PendingDestruction() == 0 && other.objects.PendingDestruction() == 0
	})
	s.Zero(s.server.ledger.Items(owner.id.Own, permission.ObjectKeys.CreateRemote))
	s.Zero(s.server.rm.Tracked())
	s.Zero(other.rm.Tracked())
}

func (s *ReplicationSuite) TestForcedLocalComponentFollowsServer() {
	s.connectAll()
	client := s.clients[0]

	ship, err := s.server.objects.CreateObject("Ship", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	input, err := ship.CreateComponent("Input", "", false, network.Unassigned)
	s.Require().NoError(err)
	s.Equal(network.Remote, input.NetworkingType())

	var mirror *object.Component
	s.until("input reaches the client", func() bool {
		o, err := client.objects.Object("Ship")
		if err != nil {
			return false
		}
		mirror, err = o.Component("Input")
		return err == nil
	})
	s.Equal(network.Local, mirror.NetworkingType())
	s.True(mirror.LocalOverride())
	s.True(client.rm.Knows(mirror, s.server.id.Own))

	s.Require().NoError(ship.DestroyComponent("Input", network.Unassigned))
	s.until("input is gone on the client", func() bool {
		o, err := client.objects.Object("Ship")
		return err == nil && !o.HasComponent("Input")
	})
	s.False(client.rm.Knows(mirror, s.server.id.Own))
}

func (s *ReplicationSuite) TestRefusedConstructionIsDeallocated() {
	s.connectAll()
	owner := s.clients[0]

	ship, err := owner.objects.CreateObject("Ship", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	beacon, err := ship.CreateComponent("Beacon", "", false, network.Unassigned)
	s.Require().NoError(err)
	s.Equal(network.Remote, beacon.NetworkingType())
	_, err = ship.CreateComponent("Counter", "", false, network.Unassigned)
	s.Require().NoError(err)

	s.until("ship reaches the server", func() bool {
		_, ok := counterOf(s.server, "Ship")
		return ok
	})
	onServer, err := s.server.objects.Object("Ship")
	s.Require().NoError(err)
	s.False(onServer.HasComponent("Beacon"))
	s.Equal(2, s.server.rm.Tracked())
}

func (s *ReplicationSuite) TestDisconnectDestroysPeerObjects() {
	s.connectAll()
	owner, other := s.clients[0], s.clients[1]

	ship, err := owner.objects.CreateObject("Ship", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	_, err = ship.CreateComponent("Counter", "", false, network.Unassigned)
	s.Require().NoError(err)
	station, err := s.server.objects.CreateObject("Station", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	s.until("objects reach every client", func() bool {
		_, ok := counterOf(other, "Ship")
		return ok && owner.objects.HasObject("Station")
	})

	s.Require().NoError(s.pipes[0].Close())
	s.until("owner's objects are destroyed", func() bool {
		return !s.server.objects.HasObject("Ship") && !other.objects.HasObject("Ship")
	})
	s.False(s.server.ledger.HasPeer(owner.id.Own))
	s.Equal([]network.GUID{other.id.Own}, s.server.rm.Peers())
	s.True(s.server.objects.HasObject("Station"))
	s.True(other.objects.HasObject("Station"))
	s.False(station.Freed())
}

func (s *ReplicationSuite) TestServerObjectsReachLateJoiner() {
	s.connect(s.clients[0])
	station, err := s.server.objects.CreateObject("Station", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	counter, err := station.CreateComponent("Counter", "", false, network.Unassigned)
	s.Require().NoError(err)
	s.Require().NoError(counter.SetProperty("value", property.IntValue(9)))
	s.until("station reaches the first client", func() bool {
		c, ok := counterOf(s.clients[0], "Station")
		return ok && intProperty(c, "value") == 9
	})

	late := s.clients[1]
	s.connect(late)
	s.until("station reaches the late joiner", func() bool {
		c, ok := counterOf(late, "Station")
		return ok && intProperty(c, "value") == 9
	})

	mirror, err := late.objects.Object("Station")
	s.Require().NoError(err)
	err = late.objects.DestroyObject(mirror, network.Unassigned)
	s.ErrorIs(err, errors.ErrPermissionDenied)
	s.True(late.objects.HasObject("Station"))
}

func (s *ReplicationSuite) TestPluginsReachClients() {
	s.connect(s.clients[0])
	clock, err := s.server.plugins.CreatePlugin("Clock", network.Unassigned)
	s.Require().NoError(err)
	s.Require().NoError(clock.SetProperty("tick", property.IntValue(7)))

	client := s.clients[0]
	s.until("plugin reaches the client", func() bool {
		p, err := client.plugins.Plugin("Clock")
		if err != nil {
			return false
		}
		v, _ := p.Properties().Get("tick")
		return p.Created() && v.Int() == 7
	})

	_, err = client.plugins.CreatePlugin("Clock", network.Unassigned)
	s.ErrorIs(err, errors.ErrDuplicateItem)

	s.Require().NoError(s.server.plugins.DestroyPlugin("Clock"))
	s.until("plugin is destroyed on the client", func() bool {
		return !client.plugins.HasPlugin("Clock")
	})
}

func (s *ReplicationSuite) TestTemplatesReplicate() {
	s.connectAll()
	owner, other := s.clients[0], s.clients[1]

	hull, err := owner.templates.CreateObjectTemplate("Hull", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	_, err = hull.CreateComponentTemplate("Tag", "Tag", false, network.Unassigned)
	s.Require().NoError(err)

	s.until("template reaches the other client", func() bool {
		ot, err := other.templates.ObjectTemplate("Hull")
		return err == nil && ot.HasComponentTemplate("Tag")
	})
	s.True(s.server.templates.HasObjectTemplate("Hull"))

	s.Require().NoError(owner.templates.DestroyObjectTemplate(hull, network.Unassigned))
	s.until("template is destroyed everywhere", func() bool {
		return !s.server.templates.HasObjectTemplate("Hull") && !other.templates.HasObjectTemplate("Hull")
	})
}

func (s *ReplicationSuite) TestPermissionsSentOnJoin() {
	strict := permission.GuestGroup(s.registry.Types()...).Clone().
		Set(permission.ObjectKeys.CreateRemote, permission.Limit(1))
	s.server.rm.group = strict

	client := s.clients[0]
	s.connect(client)
	s.until("client receives its policies", func() bool {
		p, err := client.ledger.Permission(client.id.Own, permission.ObjectKeys.CreateRemote)
		return err == nil && p.Policy().MaxItems == 1
	})

	_, err := client.objects.CreateObject("First", network.Remote, "", network.Unassigned)
	s.Require().NoError(err)
	_, err = client.objects.CreateObject("Second", network.Remote, "", network.Unassigned)
	s.ErrorIs(err, errors.ErrPermissionDenied)

	s.until("first object reaches the server", func() bool {
		return s.server.objects.HasObject("First")
	})
	s.False(s.server.objects.HasObject("Second"))
}
