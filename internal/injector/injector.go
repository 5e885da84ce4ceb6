//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"
)

func InitializeApp(path string) (*App, error) {
	wire.Build(AppSet)
	return nil, nil
}
