package storage

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/seekbatch/pkg/batch/core/config"
)

// Module provides the storage Provider over the storage section and closes its
// connections on stop. Backends are enabled by importing their packages.
var Module = fx.Options(
	fx.Provide(newProviderFromConfig),
)

func newProviderFromConfig(lc fx.Lifecycle, cfg *config.Config) *Provider {
	p := NewProvider(cfg.Seekbatch.Storage)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.CloseAll()
		},
	})
	return p
}
