// Package injector wires a Runtime from a configuration file.
package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/authority/internal/config"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/server"
)

// App is what the command needs to run and shut down.
type App struct {
	Runtime *server.Runtime
	Logger  *log.Logger
}

var AppSet = wire.NewSet(
	config.Load,
	ProvideLogger,
	metrics.New,
	server.DefaultRegistry,
	server.DefaultPlugins,
	server.NewRuntime,
	wire.Bind(new(log.Log), new(*log.Logger)),
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.NewWithConfig(cfg.Log)
}
