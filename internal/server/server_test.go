package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/authority/internal/config"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/plugin"
	"github.com/zeusync/authority/internal/core/property"
)

func newRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	plugins, err := DefaultPlugins()
	require.NoError(t, err)
	rt, err := NewRuntime(cfg, DefaultRegistry(), plugins, log.NewNop(), metrics.New())
	require.NoError(t, err)
	return rt
}

func serverConfig() config.Config {
	cfg := config.Default()
	cfg.TickRate = 200
	cfg.Transport.Websocket.Listen = "127.0.0.1:0"
	return cfg
}

func clientConfig(dial string) config.Config {
	cfg := config.Default()
	cfg.Mode = network.Client
	cfg.TickRate = 200
	cfg.Transport.Websocket.Listen = ""
	cfg.Transport.Dial = dial
	return cfg
}

// start runs rt until the test ends and returns the channel Run reports on.
func start(t *testing.T, rt *Runtime) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- rt.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("runtime did not stop")
		}
		_ = rt.Close()
	})
	return cancel, done
}

func addr(t *testing.T, rt *Runtime, name string) string {
	t.Helper()
	var a string
	require.Eventually(t, func() bool {
		v, ok := rt.Addr(name)
		if ok {
			a = v.String()
		}
		return ok
	}, 3*time.Second, 5*time.Millisecond)
	return a
}

func ready(t *testing.T, rt *Runtime) {
	t.Helper()
	select {
	case <-rt.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("runtime never became ready")
	}
}

// eventually polls cond on the tick goroutine of rt.
func eventually(t *testing.T, rt *Runtime, cond func(*Runtime) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		var ok bool
		err := rt.Do(context.Background(), func(r *Runtime) error {
			ok = cond(r)
			return nil
		})
		return err == nil && ok
	}, 3*time.Second, 5*time.Millisecond)
}

func TestOfflineRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = network.Client
	cfg.Offline = true
	cfg.TickRate = 200
	rt := newRuntime(t, cfg)
	ready(t, rt)
	assert.Equal(t, network.Client, rt.Identity().Mode)
	assert.True(t, rt.Ledger().Offline())

	start(t, rt)

	err := rt.Do(context.Background(), func(r *Runtime) error {
		o, err := r.Objects().CreateObject("Ship", network.Remote, "ship", r.GUID())
		if err != nil {
			return err
		}
		_, err = o.CreateComponent("Health", "", false, r.GUID())
		return err
	})
	require.NoError(t, err)

	eventually(t, rt, func(r *Runtime) bool {
		return r.Objects().HasObject("Ship") && r.Plugins().HasPlugin(ClockPlugin)
	})
	assert.Zero(t, rt.Hub().Len())
	_, listening := rt.Addr(websocketListener)
	assert.False(t, listening)
}

func TestDoReturnsError(t *testing.T) {
	rt := newRuntime(t, serverConfig())
	start(t, rt)

	err := rt.Do(context.Background(), func(r *Runtime) error {
		_, err := r.Objects().CreateObject("Ship", network.Remote, "", r.GUID())
		if err != nil {
			return err
		}
		_, err = r.Objects().CreateObject("Ship", network.Remote, "", r.GUID())
		return err
	})
	require.Error(t, err)
}

func TestClientOverWebsocket(t *testing.T) {
	srv := newRuntime(t, serverConfig())
	start(t, srv)
	ws := addr(t, srv, websocketListener)

	client := newRuntime(t, clientConfig("ws://"+ws+"/replication"))
	_, done := start(t, client)
	ready(t, client)
	assert.Equal(t, srv.GUID(), client.Identity().Server)

	require.NoError(t, client.Do(context.Background(), func(r *Runtime) error {
		o, err := r.Objects().CreateObject("Ship", network.Remote, "ship", r.GUID())
		if err != nil {
			return err
		}
		c, err := o.CreateComponent("Health", "", false, r.GUID())
		if err != nil {
			return err
		}
		return c.SetProperty("hp", property.IntValue(42))
	}))

	eventually(t, srv, func(r *Runtime) bool {
		o, err := r.Objects().Object("Ship")
		if err != nil {
			return false
		}
		c, err := o.ComponentByType("Health")
		if err != nil {
			return false
		}
		hp, _ := c.Properties().Get("hp")
		return o.SourceGUID() == client.GUID() && hp.Equal(property.IntValue(42))
	})
	eventually(t, client, func(r *Runtime) bool {
		p, err := r.Plugins().Plugin(ClockPlugin)
		return err == nil && p.SourceGUID() == srv.GUID()
	})

	select {
	case err := <-done:
		t.Fatalf("client stopped early: %v", err)
	default:
	}
}

func TestClientStopsWhenServerGoes(t *testing.T) {
	srv := newRuntime(t, serverConfig())
	stop, _ := start(t, srv)
	ws := addr(t, srv, websocketListener)

	client := newRuntime(t, clientConfig("ws://"+ws+"/replication"))
	_, done := start(t, client)
	ready(t, client)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 3*time.Second, 5*time.Millisecond)

	stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("client kept running")
	}
}

func TestClientOverQUIC(t *testing.T) {
	cfg := serverConfig()
	cfg.Transport.Websocket.Listen = ""
	cfg.Transport.QUIC.Listen = "127.0.0.1:0"
	srv := newRuntime(t, cfg)
	start(t, srv)
	q := addr(t, srv, quicListener)

	client := newRuntime(t, clientConfig("quic://"+q))
	start(t, client)
	ready(t, client)

	require.NoError(t, client.Do(context.Background(), func(r *Runtime) error {
		_, err := r.Objects().CreateObject("Probe", network.Remote, "", r.GUID())
		return err
	}))
	eventually(t, srv, func(r *Runtime) bool { return r.Objects().HasObject("Probe") })
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("shared with websocket", func(t *testing.T) {
		srv := newRuntime(t, serverConfig())
		start(t, srv)
		body := scrape(t, "http://"+addr(t, srv, websocketListener)+"/metrics")
		assert.Contains(t, body, "tick_duration_seconds")
	})

	t.Run("own listener", func(t *testing.T) {
		cfg := serverConfig()
		cfg.Metrics.Listen = "127.0.0.1:0"
		srv := newRuntime(t, cfg)
		start(t, srv)
		body := scrape(t, "http://"+addr(t, srv, metricsListener)+"/metrics")
		assert.Contains(t, body, "tick_duration_seconds")
	})
}

func scrape(t *testing.T, url string) string {
	t.Helper()
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(b)
		return true
	}, 3*time.Second, 10*time.Millisecond)
	return body
}

func TestNewRuntimeErrors(t *testing.T) {
	plugins, err := DefaultPlugins()
	require.NoError(t, err)

	cfg := serverConfig()
	cfg.Permission.Group = "admins"
	_, err = NewRuntime(cfg, DefaultRegistry(), plugins, log.NewNop(), metrics.New())
	assert.ErrorIs(t, err, ErrUnknownGroup)

	cfg = serverConfig()
	cfg.TickRate = 0
	_, err = NewRuntime(cfg, DefaultRegistry(), plugins, log.NewNop(), metrics.New())
	assert.Error(t, err)
}

func TestRunLifecycle(t *testing.T) {
	rt := newRuntime(t, serverConfig())
	start(t, rt)
	require.Eventually(t, func() bool { return rt.Ticks() > 0 }, 3*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, rt.Run(context.Background()), ErrRuntimeAlreadyRunning)
	assert.ErrorIs(t, rt.Close(), ErrRuntimeAlreadyRunning)
}

func TestClosedRuntime(t *testing.T) {
	rt := newRuntime(t, serverConfig())
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	assert.ErrorIs(t, rt.Run(context.Background()), ErrRuntimeClosed)
	assert.ErrorIs(t, rt.Do(context.Background(), func(*Runtime) error { return nil }), ErrRuntimeClosed)
	assert.False(t, rt.Plugins().HasPlugin(ClockPlugin))
}

func TestClockUptime(t *testing.T) {
	now := time.Unix(1000, 0)
	types := plugin.NewRegistry()
	require.NoError(t, types.Register(ClockPlugin, []property.Definition{
		{Name: "uptime", Default: property.IntValue(0)},
	}, newClock(func() time.Time { return now })))

	guid := network.NewGUID()
	uptime := func(mode network.Mode) int64 {
		m := plugin.NewManager(network.Identity{Mode: mode, Own: guid, Server: guid}, types, log.NewNop())
		p, err := m.CreatePlugin(ClockPlugin, guid)
		require.NoError(t, err)
		m.Update()
		now = now.Add(2500 * time.Millisecond)
		m.Update()
		v, ok := p.Properties().Get("uptime")
		require.True(t, ok)
		return v.Int()
	}

	assert.EqualValues(t, 2, uptime(network.Server))
	assert.EqualValues(t, 0, uptime(network.Client))
}
