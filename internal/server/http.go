// Package server 组装 Kratos HTTP Server：中间件链、业务路由与探活/指标端点。
package server

import (
	"context"
	stdhttp "net/http"

	"github.com/bionicotaku/lingo-services-storage/internal/controllers"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"

	obsTrace "github.com/bionicotaku/lingo-utils/observability/tracing"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/metadata"
	kmetrics "github.com/go-kratos/kratos/v2/middleware/metrics"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessProbe 报告依赖是否就绪，nil 表示可以接收流量。
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// NewHTTPServer 构造 HTTP Server 并注册媒体文件与上传路由。
func NewHTTPServer(
	c configloader.ServerConfig,
	tel *Telemetry,
	ready ReadinessProbe,
	files *controllers.MediaFileHandler,
	uploads *controllers.UploadHandler,
	logger log.Logger,
) *http.Server {
	middlewares := []middleware.Middleware{
		recovery.Recovery(),
		obsTrace.Server(),
		metadata.Server(
			metadata.WithPropagatedPrefix("x-md-"),
		),
	}
	if tel != nil {
		middlewares = append(middlewares, kmetrics.Server(
			kmetrics.WithRequests(tel.RequestCounter),
			kmetrics.WithSeconds(tel.SecondsHistogram),
		))
	}
	middlewares = append(middlewares, logging.Server(logger))

	opts := []http.ServerOption{
		http.Middleware(middlewares...),
	}
	if c.HTTP.Network != "" {
		opts = append(opts, http.Network(c.HTTP.Network))
	}
	if c.HTTP.Addr != "" {
		opts = append(opts, http.Address(c.HTTP.Addr))
	}
	if c.HTTP.Timeout.Duration > 0 {
		opts = append(opts, http.Timeout(c.HTTP.Timeout.Duration))
	}

	srv := http.NewServer(opts...)

	srv.Handle("/healthz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
	}))

	helper := log.NewHelper(logger)
	srv.Handle("/readyz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if ready != nil {
			if err := ready.Ready(r.Context()); err != nil {
				helper.WithContext(r.Context()).Warnf("readiness check failed: %v", err)
				stdhttp.Error(w, "not ready", stdhttp.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(stdhttp.StatusOK)
	}))

	if tel != nil && !c.Metrics.Disabled && c.Metrics.Path != "" {
		srv.Handle(c.Metrics.Path, promhttp.HandlerFor(tel.PrometheusRegistry, promhttp.HandlerOpts{}))
	}

	files.RegisterRoutes(srv)
	uploads.RegisterRoutes(srv)
	return srv
}
