package permission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	return NewLedger(log.NewNop(), opts...)
}

func TestCheckHasNoSideEffect(t *testing.T) {
	l := newTestLedger(t)
	peer := network.NewGUID()
	l.RegisterPeer(peer, NewGroup("g").Set("k", Limit(1)))

	require.NoError(t, l.CheckPermission(peer, "k", "test"))
	require.NoError(t, l.CheckPermission(peer, "k", "test"))
	assert.Equal(t, uint32(0), l.Items(peer, "k"))

	l.AddItem(peer, "k")
	err := l.CheckPermission(peer, "k", "test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))
	assert.Equal(t, errors.CodePermissionDenied, errors.Code(err))
	assert.False(t, l.CheckPermissionAllowed(peer, "k"))

	l.RemoveItem(peer, "k", false)
	assert.True(t, l.CheckPermissionAllowed(peer, "k"))
}

func TestDeniedPolicy(t *testing.T) {
	l := newTestLedger(t)
	peer := network.NewGUID()
	l.RegisterPeer(peer, NewGroup("g").Set("k", Deny()))

	assert.ErrorIs(t, l.CheckPermission(peer, "k", "test"), errors.ErrPermissionDenied)
}

func TestUnknownPeerAndKey(t *testing.T) {
	l := newTestLedger(t)
	peer := network.NewGUID()

	_, err := l.Permission(peer, "k")
	assert.ErrorIs(t, err, errors.ErrItemNotFound)

	l.RegisterPeer(peer, NewGroup("g"))
	assert.ErrorIs(t, l.CheckPermission(peer, "missing", "test"), errors.ErrItemNotFound)
	assert.False(t, l.CheckPermissionAllowed(peer, "missing"))
}

func TestOfflineAllowsEverything(t *testing.T) {
	l := newTestLedger(t)
	l.SetOffline(true)
	peer := network.NewGUID()

	require.NoError(t, l.CheckPermission(peer, "anything", "test"))
	perm, err := l.Permission(peer, "anything")
	require.NoError(t, err)
	perm.AddItem()
	assert.Equal(t, uint32(1), l.Items(peer, "anything"))
}

func TestTimeframeLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestLedger(t, WithClock(clock.Now))
	peer := network.NewGUID()
	l.RegisterPeer(peer, NewGroup("g").Set("k", Policy{
		Allowed:              true,
		MaxItemsPerTimeframe: 2,
		Timeframe:            10 * time.Second,
	}))

	l.AddItem(peer, "k")
	l.AddItem(peer, "k")
	assert.ErrorIs(t, l.CheckPermission(peer, "k", "test"), errors.ErrPermissionDenied)

	// releasing a real item keeps the rate slot used
	l.RemoveItem(peer, "k", false)
	assert.False(t, l.CheckPermissionAllowed(peer, "k"))

	// a provisional release gives it back
	l.RemoveItem(peer, "k", true)
	assert.True(t, l.CheckPermissionAllowed(peer, "k"))

	l.AddItem(peer, "k")
	assert.False(t, l.CheckPermissionAllowed(peer, "k"))
	clock.t = clock.t.Add(11 * time.Second)
	assert.True(t, l.CheckPermissionAllowed(peer, "k"))
}

func TestProvisionalRoundTripRestoresCounters(t *testing.T) {
	l := newTestLedger(t)
	peer := network.NewGUID()
	l.RegisterPeer(peer, GuestGroup())
	local, remote := ObjectKeys.CreateLocal, ObjectKeys.CreateRemote

	l.AddItem(peer, local)
	perm, err := l.Permission(peer, local)
	require.NoError(t, err)
	before := *perm

	l.RemoveItem(peer, local, true)
	l.AddItem(peer, local)

	assert.Equal(t, before.Items(), perm.Items())
	assert.Equal(t, before.ItemsInTimeframe(), perm.ItemsInTimeframe())
	assert.Equal(t, uint32(0), l.Items(peer, remote))
}

func TestRegisterPeerKeepsCounters(t *testing.T) {
	l := newTestLedger(t)
	peer := network.NewGUID()
	l.RegisterPeer(peer, NewGroup("a").Set("k", Allow()).Set("old", Allow()))
	l.AddItem(peer, "k")

	l.RegisterPeer(peer, NewGroup("b").Set("k", Limit(1)))
	assert.Equal(t, uint32(1), l.Items(peer, "k"))
	assert.False(t, l.CheckPermissionAllowed(peer, "k"))
	_, err := l.Permission(peer, "old")
	assert.ErrorIs(t, err, errors.ErrItemNotFound)

	group, ok := l.PeerGroup(peer)
	assert.True(t, ok)
	assert.Equal(t, "b", group)

	policies, err := l.Policies(peer)
	require.NoError(t, err)
	assert.Equal(t, Limit(1), policies.Policies["k"])

	l.UnregisterPeer(peer)
	assert.False(t, l.HasPeer(peer))
}

func TestGuestGroupDefaults(t *testing.T) {
	g := GuestGroup("Counter")

	assert.Equal(t, Limit(300), g.Policies[ObjectKeys.CreateRemote])
	assert.Equal(t, Limit(900), g.Policies[ObjectKeys.CreateRemoteComponent])
	assert.False(t, g.Policies[ObjectKeys.DestroyOther].Allowed)
	assert.True(t, g.Policies[ObjectKeys.SetOwnParentOnOwn].Allowed)
	assert.False(t, g.Policies[ObjectKeys.SetOtherParentOnOwn].Allowed)
	assert.True(t, g.Policies["Counter_Create"].Allowed)
	assert.True(t, g.Policies["CounterTemplate_Create"].Allowed)
	assert.True(t, g.Policies[TemplateKeys.CreateLocal].Allowed)
}

func TestKeySelection(t *testing.T) {
	k := ObjectKeys
	assert.Equal(t, k.UnparentOnOwn, k.Parent(true, false, true))
	assert.Equal(t, k.UnparentOnOther, k.Parent(true, true, false))
	assert.Equal(t, k.SetOwnParentOnOwn, k.Parent(false, true, true))
	assert.Equal(t, k.SetOtherParentOnOwn, k.Parent(false, false, true))
	assert.Equal(t, k.SetOwnParentOnOther, k.Parent(false, true, false))
	assert.Equal(t, k.SetOtherParentOnOther, k.Parent(false, false, false))

	assert.Equal(t, k.DestroyOtherComponentOnOwn, k.DestroyComponentOn(false, true))
	assert.Equal(t, k.CreateRemoteComponentOnOther, k.CreateComponentOn(false))
	assert.Equal(t, k.DestroyOwn, k.DestroyObject(true))
}

func TestLoadGroups(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "groups.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
groups:
  - name: builder
    policies:
      ObjectManager_CreateRemoteObject:
        allowed: true
        max_items: 5
      ObjectManager_DestroyOtherObject:
        allowed: true
        max_items_per_timeframe: 2
        timeframe: 30s
`), 0o600))

	groups, err := LoadGroups(yamlPath)
	require.NoError(t, err)
	require.Contains(t, groups, "builder")
	b := groups["builder"]
	assert.Equal(t, Limit(5), b.Policies[ObjectKeys.CreateRemote])
	assert.Equal(t, 30*time.Second, b.Policies[ObjectKeys.DestroyOther].Timeframe)

	tomlPath := filepath.Join(dir, "groups.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[[groups]]
name = "viewer"
[groups.policies.ObjectManager_CreateLocalObject]
allowed = true
`), 0o600))

	groups, err = LoadGroups(tomlPath)
	require.NoError(t, err)
	assert.True(t, groups["viewer"].Policies[ObjectKeys.CreateLocal].Allowed)

	jsonPath := filepath.Join(dir, "groups.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"groups":[{"name":"a"},{"name":"a"}]}`), 0o600))
	_, err = LoadGroups(jsonPath)
	assert.Error(t, err)

	_, err = ParseGroups(nil, ".ini")
	assert.Error(t, err)
}
