package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/authority/internal/config"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/object"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/plugin"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/internal/core/replication"
)

type command struct {
	fn   func(*Runtime) error
	done chan error
}

// Runtime owns the managers of one process and the tick goroutine that
// mutates them. Transport goroutines only queue frames; everything else runs
// inside Tick or a function passed to Do.
type Runtime struct {
	config   config.Config
	logger   log.Log
	metrics  *metrics.Metrics
	registry *object.Registry
	types    *plugin.Registry
	group    permission.Group
	own      network.GUID

	ledger    *permission.Ledger
	hub       *replication.Hub
	rm        *replication.Manager
	objects   *object.Manager
	templates *object.TemplateManager
	plugins   *plugin.Manager
	id        network.Identity

	commands chan command
	ready    chan struct{}
	addrs    sync.Map // listener name -> net.Addr

	running int32 // atomic bool
	closed  int32 // atomic bool
	ticks   uint64
}

// NewRuntime prepares a runtime. Servers and offline processes get their
// managers at once; an online client gets them in Run, once the server
// answered the handshake.
func NewRuntime(cfg config.Config, registry *object.Registry, types *plugin.Registry, logger log.Log, m *metrics.Metrics) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	group, err := loadGroup(cfg.Permission, registry)
	if err != nil {
		return nil, err
	}

	own := network.NewGUID()
	r := &Runtime{
		config:   cfg,
		logger:   logger.With(log.String("component", "runtime")),
		metrics:  m,
		registry: registry,
		types:    types,
		group:    group,
		own:      own,
		ledger:   permission.NewLedger(logger, permission.WithMetrics(m)),
		hub:      replication.NewHub(replica.Hello{GUID: own, Mode: cfg.Mode}, logger, m),
		commands: make(chan command, 64),
		ready:    make(chan struct{}),
	}
	r.ledger.SetOffline(cfg.Offline)

	switch {
	case cfg.Mode == network.Server:
		err = r.build(network.Identity{Mode: network.Server, Own: own, Server: own})
	case cfg.Offline:
		err = r.build(network.Identity{Mode: network.Client, Own: own})
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("Runtime created",
		log.Stringer("mode", cfg.Mode),
		log.Stringer("guid", own),
		log.Bool("offline", cfg.Offline),
		log.Int("tick_rate", cfg.TickRate))
	return r, nil
}

func loadGroup(cfg config.Permission, registry *object.Registry) (permission.Group, error) {
	groups := map[string]permission.Group{}
	if cfg.File != "" {
		loaded, err := permission.LoadGroups(cfg.File)
		if err != nil {
			return permission.Group{}, err
		}
		groups = loaded
	}
	if _, ok := groups[permission.GuestGroupName]; !ok {
		groups[permission.GuestGroupName] = permission.GuestGroup(registry.Types()...)
	}
	g, ok := groups[cfg.Group]
	if !ok {
		return permission.Group{}, fmt.Errorf("%w %q", ErrUnknownGroup, cfg.Group)
	}
	return g, nil
}

// build creates the managers once the identity is known.
func (r *Runtime) build(id network.Identity) error {
	r.id = id
	r.ledger.RegisterPeer(r.own, r.group)

	r.rm = replication.NewManager(id, r.hub, r.logger, r.metrics, replication.WithLedger(r.ledger, r.group))
	r.objects = object.NewManager(id, r.registry, r.logger,
		object.WithLedger(r.ledger),
		object.WithMetrics(r.metrics),
		object.WithBroadcaster(r.rm),
		object.WithOffline(r.config.Offline))
	r.templates = object.NewTemplateManager(id, r.registry, r.logger,
		object.WithLedger(r.ledger),
		object.WithMetrics(r.metrics),
		object.WithBroadcaster(r.rm),
		object.WithOffline(r.config.Offline))
	r.plugins = plugin.NewManager(id, r.types, r.logger,
		plugin.WithMetrics(r.metrics),
		plugin.WithBroadcaster(r.rm))
	r.rm.SetConnection(replication.NewConnection(r.objects, r.templates, r.plugins, r.logger, r.metrics))

	// Clients receive the server's plugins instead.
	if id.Mode == network.Server || r.config.Offline {
		if err := r.plugins.CreateAutoPlugins(); err != nil {
			return err
		}
	}
	close(r.ready)
	return nil
}

// Ready is closed once the managers exist.
func (r *Runtime) Ready() <-chan struct{} { return r.ready }

func (r *Runtime) Config() config.Config { return r.config }

func (r *Runtime) GUID() network.GUID { return r.own }

// Identity is the zero value until Ready is closed.
func (r *Runtime) Identity() network.Identity { return r.id }

func (r *Runtime) Ledger() *permission.Ledger { return r.ledger }

func (r *Runtime) Hub() *replication.Hub { return r.hub }

func (r *Runtime) Replication() *replication.Manager { return r.rm }

func (r *Runtime) Objects() *object.Manager { return r.objects }

func (r *Runtime) Templates() *object.TemplateManager { return r.templates }

func (r *Runtime) Plugins() *plugin.Manager { return r.plugins }

func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Ticks is the number of completed ticks.
func (r *Runtime) Ticks() uint64 { return atomic.LoadUint64(&r.ticks) }

// Tick applies queued frames, updates the managers and flushes replication.
// It must only be called from the goroutine that owns the runtime.
func (r *Runtime) Tick() {
	start := time.Now()
	r.rm.Update()
	r.objects.Update()
	r.plugins.Update()
	r.rm.Flush()
	atomic.AddUint64(&r.ticks, 1)
	r.metrics.ObserveTick(time.Since(start).Seconds())
}

// Do runs fn on the tick goroutine before the next tick and returns its
// error.
func (r *Runtime) Do(ctx context.Context, fn func(*Runtime) error) error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return ErrRuntimeClosed
	}
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case r.commands <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the transports and ticks until ctx ends or a transport fails.
func (r *Runtime) Run(ctx context.Context) error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return ErrRuntimeClosed
	}
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return ErrRuntimeAlreadyRunning
	}
	defer atomic.StoreInt32(&r.running, 0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if err := r.start(ctx, g); err != nil {
		cancel()
		r.hub.Close()
		_ = g.Wait()
		return err
	}

	g.Go(func() error { return r.loop(ctx) })
	err := g.Wait()
	r.hub.Close()
	r.logger.Info("Runtime stopped", log.Uint64("ticks", r.Ticks()), log.Error(err))
	return err
}

func (r *Runtime) start(ctx context.Context, g *errgroup.Group) error {
	if !r.config.Offline {
		var err error
		switch r.config.Mode {
		case network.Server:
			err = r.listen(ctx, g)
		case network.Client:
			err = r.connect(ctx, g)
		}
		if err != nil {
			return err
		}
	}
	return r.serveMetrics(ctx, g)
}

func (r *Runtime) loop(ctx context.Context) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(r.config.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.drainCommands(ctx.Err())
			r.Tick()
			return nil
		case <-ticker.C:
			r.runCommands()
			r.Tick()
		}
	}
}

func (r *Runtime) runCommands() {
	for {
		select {
		case c := <-r.commands:
			c.done <- c.fn(r)
		default:
			return
		}
	}
}

func (r *Runtime) drainCommands(err error) {
	for {
		select {
		case c := <-r.commands:
			c.done <- err
		default:
			return
		}
	}
}

// Close releases every entity without broadcasting. The runtime cannot be
// run again.
func (r *Runtime) Close() error {
	if atomic.LoadInt32(&r.running) == 1 {
		return ErrRuntimeAlreadyRunning
	}
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.hub.Close()
	select {
	case <-r.ready:
		r.objects.Reset()
		r.templates.Reset()
		r.plugins.Reset()
	default:
	}
	r.logger.Info("Runtime closed")
	return nil
}
