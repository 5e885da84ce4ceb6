package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNetworkIDIsDeterministic(t *testing.T) {
	a := NewNetworkID("object", "Player")
	b := NewNetworkID("object", "Player")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, NewNetworkID("object-template", "Player"))
	assert.NotEqual(t, NewNetworkID("component", "ab", "c"), NewNetworkID("component", "a", "bc"))
}

func TestGUIDText(t *testing.T) {
	g := NewGUID()
	b, err := g.MarshalText()
	require.NoError(t, err)

	var back GUID
	require.NoError(t, back.UnmarshalText(b))
	assert.Equal(t, g, back)
	assert.True(t, Unassigned.IsZero())
	assert.Equal(t, g, Unassigned.Or(g))
}

func TestModeAndTypeYAML(t *testing.T) {
	var v struct {
		Mode Mode `yaml:"mode"`
		Type Type `yaml:"type"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("mode: client\ntype: remote\n"), &v))
	assert.Equal(t, Client, v.Mode)
	assert.Equal(t, Remote, v.Type)

	assert.Error(t, yaml.Unmarshal([]byte("mode: editor\n"), &v))
}

func TestBroadcastRules(t *testing.T) {
	server := Identity{Mode: Server}
	client := Identity{Mode: Client}

	assert.True(t, server.Broadcasts(Remote, SourceClient))
	assert.False(t, server.BroadcastsOnCreate(Remote, SourceClient))
	assert.True(t, server.BroadcastsOnCreate(Remote, SourceServer))

	assert.True(t, client.Broadcasts(Remote, SourceClient))
	assert.False(t, client.Broadcasts(Remote, SourceServer))
	assert.False(t, client.Broadcasts(Local, SourceClient))
}

func TestSourceOf(t *testing.T) {
	srv := NewGUID()
	id := Identity{Mode: Client, Own: NewGUID(), Server: srv}
	assert.Equal(t, SourceServer, id.SourceOf(srv))
	assert.Equal(t, SourceClient, id.SourceOf(id.Own))
}
