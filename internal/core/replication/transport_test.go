package replication

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/property"
)

func transportNodes(t *testing.T) (*node, *node) {
	serverID, clients := identities(1)
	registry := testRegistry()
	group := permission.GuestGroup(registry.Types()...)
	return newNode(t, serverID, registry, testPlugins(t), group),
		newNode(t, clients[0], registry, testPlugins(t), group)
}

// exchange checks that a client object and a property change make it to the
// server over an established pair of connections.
func exchange(t *testing.T, server, client *node) {
	t.Helper()
	tickUntil(t, "peers join", func() bool {
		return len(server.rm.Peers()) == 1 && len(client.rm.Peers()) == 1
	}, server, client)

	ship, err := client.objects.CreateObject("Ship", network.Remote, "", network.Unassigned)
	require.NoError(t, err)
	counter, err := ship.CreateComponent("Counter", "", false, network.Unassigned)
	require.NoError(t, err)
	require.NoError(t, counter.SetProperty("value", property.IntValue(11)))

	tickUntil(t, "ship reaches the server", func() bool {
		c, ok := counterOf(server, "Ship")
		return ok && intProperty(c, "value") == 11
	}, server, client)
}

func TestWebsocketTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, client := transportNodes(t)

	srv := httptest.NewServer(NewWebsocketHandler(server.hub.Serve, time.Second, log.NewNop()))
	defer srv.Close()

	conn, err := DialWebsocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	require.NoError(t, err)
	go func() { _ = client.hub.Serve(ctx, conn) }()

	exchange(t, server, client)

	require.NoError(t, conn.Close())
	tickUntil(t, "client leaves", func() bool {
		return len(server.rm.Peers()) == 0 && !server.objects.HasObject("Ship")
	}, server, client)
	assert.ErrorIs(t, conn.Send([]byte{1}), ErrConnectionClosed)
}

func TestWebsocketRejectsOversizedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, _ := transportNodes(t)

	srv := httptest.NewServer(NewWebsocketHandler(server.hub.Serve, time.Second, log.NewNop()))
	defer srv.Close()

	conn, err := DialWebsocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	assert.ErrorIs(t, conn.Send(make([]byte, MaxFrameSize+1)), ErrFrameTooLarge)
}

func TestQUICTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, client := transportNodes(t)

	l, err := ListenQUIC("127.0.0.1:0", nil, 5*time.Second)
	require.NoError(t, err)
	defer l.Close()

	go func() {
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go func() { _ = server.hub.Serve(ctx, conn) }()
		}
	}()

	conn, err := DialQUIC(ctx, l.Addr().String(), nil, 5*time.Second)
	require.NoError(t, err)
	go func() { _ = client.hub.Serve(ctx, conn) }()

	exchange(t, server, client)

	require.NoError(t, conn.Close())
	tickUntil(t, "client leaves", func() bool {
		return len(server.rm.Peers()) == 0
	}, server, client)
}

func TestDialQUICFailsWithoutListener(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := DialQUIC(ctx, "127.0.0.1:1", nil, time.Second)
	assert.Error(t, err)
}
