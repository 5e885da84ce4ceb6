package server

import (
	"time"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/object"
	"github.com/zeusync/authority/internal/core/plugin"
	"github.com/zeusync/authority/internal/core/property"
)

// ClockPlugin is created on every server and publishes its uptime in whole
// seconds.
const ClockPlugin = "Clock"

// DefaultRegistry holds the component types every runtime knows.
func DefaultRegistry() *object.Registry {
	return object.NewRegistry().MustRegister(
		object.NewFactory("Health", object.FactoryOptions{Properties: []property.Definition{
			{Name: "hp", Default: property.IntValue(100)},
			{Name: "max_hp", Default: property.IntValue(100)},
		}}, nil),
		object.NewFactory("Nameplate", object.FactoryOptions{Properties: []property.Definition{
			{Name: "text", Default: property.StringValue("")},
		}}, nil),
		object.NewFactory("Tag", object.FactoryOptions{Multiple: true, Properties: []property.Definition{
			{Name: "value", Default: property.StringValue("")},
		}}, nil),
	)
}

// DefaultPlugins registers the Clock plugin and creates it automatically.
func DefaultPlugins() (*plugin.Registry, error) {
	r := plugin.NewRegistry()
	err := r.Register(ClockPlugin, []property.Definition{
		{Name: "uptime", Default: property.IntValue(0)},
	}, newClock(time.Now))
	if err != nil {
		return nil, err
	}
	if err := r.AddAutoCreate(ClockPlugin); err != nil {
		return nil, err
	}
	return r, nil
}

type clock struct {
	plugin  *plugin.Plugin
	now     func() time.Time
	started time.Time
}

func newClock(now func() time.Time) plugin.Constructor {
	return func(p *plugin.Plugin) (plugin.Behavior, error) {
		return &clock{plugin: p, now: now}, nil
	}
}

func (c *clock) Create() { c.started = c.now() }

// Update only writes on the server; clients receive the value.
func (c *clock) Update() {
	if c.plugin.Manager().Identity().Mode != network.Server {
		return
	}
	uptime := int64(c.now().Sub(c.started) / time.Second)
	_ = c.plugin.SetProperty("uptime", property.IntValue(uptime))
}
