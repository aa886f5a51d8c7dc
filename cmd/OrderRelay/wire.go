//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"OrderRelay/internal/biz"
	"OrderRelay/internal/conf"
	"OrderRelay/internal/data"
	"OrderRelay/internal/server"
	"OrderRelay/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap),
			"Server", "Data", "Upstream", "Polling", "Acknowledgment", "Retry",
			"Breaker", "RateLimit", "Compliance", "Cache", "Dedup",
		),
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newRegistry,
		wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
		wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
		NewHousekeepingCron,
		newApp,
	))
}
