package server

import (
	"context"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/server/middleware"
	"OrderRelay/internal/service"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, pollingService *service.PollingService, gatherer prometheus.Gatherer, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var token string
	if c != nil && c.Http != nil {
		token = c.Http.AdminToken
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			// 健康检查不需要令牌
			selector.Server(middleware.AdminToken(token, logHelper)).
				Match(func(_ context.Context, operation string) bool {
					return operation != service.OperationHealth
				}).
				Build(),
			middleware.Logging(logHelper),
		),
	}
	if c != nil && c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout > 0 {
			opts = append(opts, http.Timeout(c.Http.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	service.RegisterPollingHTTPServer(srv, pollingService)
	srv.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return srv
}
