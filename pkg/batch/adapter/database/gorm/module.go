package gorm

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the connection Provider and closes its connections when the
// application stops. The application supplies the raw datasource map.
var Module = fx.Options(
	fx.Provide(newProviderFromParams),
	fx.Invoke(registerProviderLifecycle),
)

// ProviderParams are the fx inputs of the Provider.
type ProviderParams struct {
	fx.In
	Datasources map[string]interface{} `name:"datasources"`
}

func newProviderFromParams(p ProviderParams) *Provider {
	return NewProvider(p.Datasources)
}

func registerProviderLifecycle(lc fx.Lifecycle, p *Provider) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.CloseAll()
		},
	})
}
