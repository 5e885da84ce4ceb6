package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/replica"
)

func helloFrame(guid network.GUID, mode network.Mode) []byte {
	return replica.Frame{Op: replica.OpHello, Payload: replica.Hello{GUID: guid, Mode: mode}.Encode()}.Encode()
}

func TestHandshake(t *testing.T) {
	server := network.NewGUID()
	client := network.NewGUID()
	hub := NewHub(replica.Hello{GUID: server, Mode: network.Server}, log.NewNop(), nil)

	a, b := newPipe()
	require.NoError(t, b.Send(helloFrame(client, network.Client)))
	p, err := hub.Handshake(a)
	require.NoError(t, err)
	assert.Equal(t, client, p.GUID())
	assert.Equal(t, network.Client, p.Mode())
	assert.Equal(t, "pipe-a", p.RemoteAddr())

	// The hub sent its own hello first.
	data, err := b.Receive()
	require.NoError(t, err)
	f, err := replica.DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, replica.OpHello, f.Op)
	hello, err := replica.DecodeHello(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, server, hello.GUID)

	got, ok := hub.Peer(client)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 1, hub.Len())

	events := hub.drain()
	require.Len(t, events, 1)
	assert.Equal(t, peerJoined, events[0].kind)
	assert.Empty(t, hub.drain())
}

func TestHandshakeRejects(t *testing.T) {
	server := network.NewGUID()
	taken := network.NewGUID()

	tests := []struct {
		name  string
		hello []byte
	}{
		{"same mode", helloFrame(network.NewGUID(), network.Server)},
		{"unassigned guid", helloFrame(network.GUID{}, network.Client)},
		{"duplicate guid", helloFrame(taken, network.Client)},
		{"not a hello", replica.Frame{Op: replica.OpSerialize, NetworkID: 7}.Encode()},
		{"garbage", []byte{0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(replica.Hello{GUID: server, Mode: network.Server}, log.NewNop(), nil)
			first, other := newPipe()
			require.NoError(t, other.Send(helloFrame(taken, network.Client)))
			_, err := hub.Handshake(first)
			require.NoError(t, err)

			a, b := newPipe()
			require.NoError(t, b.Send(tt.hello))
			err = hub.Serve(context.Background(), a)
			assert.Error(t, err)
			assert.Equal(t, 1, hub.Len())

			_, err = b.Receive()
			for err == nil {
				_, err = b.Receive()
			}
			assert.ErrorIs(t, err, ErrConnectionClosed)
		})
	}
}

func TestClosedHubRefusesPeers(t *testing.T) {
	hub := NewHub(replica.Hello{GUID: network.NewGUID(), Mode: network.Server}, log.NewNop(), nil)
	hub.Close()

	a, b := newPipe()
	require.NoError(t, b.Send(helloFrame(network.NewGUID(), network.Client)))
	_, err := hub.Handshake(a)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRunQueuesFramesAndLeave(t *testing.T) {
	hub := NewHub(replica.Hello{GUID: network.NewGUID(), Mode: network.Server}, log.NewNop(), nil)
	client := network.NewGUID()

	a, b := newPipe()
	require.NoError(t, b.Send(helloFrame(client, network.Client)))
	p, err := hub.Handshake(a)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- hub.Run(context.Background(), p) }()

	require.NoError(t, b.Send(replica.Frame{Op: replica.OpSerialize, NetworkID: 42, Payload: []byte{1}}.Encode()))
	var events []event
	require.Eventually(t, func() bool {
		events = append(events, hub.drain()...)
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, frameReceived, events[1].kind)
	assert.Equal(t, network.NetworkID(42), events[1].frame.NetworkID)

	require.NoError(t, b.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the connection closed")
	}
	left := hub.drain()
	require.Len(t, left, 1)
	assert.Equal(t, peerLeft, left[0].kind)
	assert.Zero(t, hub.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	hub := NewHub(replica.Hello{GUID: network.NewGUID(), Mode: network.Client}, log.NewNop(), nil)

	a, b := newPipe()
	require.NoError(t, b.Send(helloFrame(network.NewGUID(), network.Server)))
	p, err := hub.Handshake(a)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, p) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServeStopsWaitingForHello(t *testing.T) {
	hub := NewHub(replica.Hello{GUID: network.NewGUID(), Mode: network.Server}, log.NewNop(), nil)

	a, b := newPipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx, a) }()

	// Only our own hello arrives; the other end never answers.
	_, err := b.Receive()
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Zero(t, hub.Len())
}
