// Package logger builds the Kratos logger used across the storage service.
package logger

import (
	"context"

	gclog "github.com/bionicotaku/lingo-utils/gclog"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	handlermd "github.com/bionicotaku/lingo-services-storage/internal/metadata"
	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/trace"
)

// Config captures runtime metadata used to annotate logs.
type Config struct {
	Service string
	Version string
	HostID  string
	Env     string
}

// ConfigFromMetadata maps resolved service metadata onto logger settings.
func ConfigFromMetadata(meta configloader.ServiceMetadata) Config {
	return Config{
		Service: meta.Name,
		Version: meta.Version,
		HostID:  meta.InstanceID,
		Env:     meta.Environment,
	}
}

// NewLogger builds a Cloud Logging compatible logger with trace/span and request id enrichment.
func NewLogger(cfg Config) (log.Logger, error) {
	labels := map[string]string{}
	if cfg.HostID != "" {
		labels["service.id"] = cfg.HostID
	}
	baseLogger, err := gclog.NewLogger(
		gclog.WithService(cfg.Service),
		gclog.WithVersion(cfg.Version),
		gclog.WithEnvironment(cfg.Env),
		gclog.WithStaticLabels(labels),
		gclog.EnableSourceLocation(),
	)
	if err != nil {
		return nil, err
	}
	return log.With(
		baseLogger,
		"trace_id", spanValuer(func(sc trace.SpanContext) string {
			if sc.HasTraceID() {
				return sc.TraceID().String()
			}
			return ""
		}),
		"span_id", spanValuer(func(sc trace.SpanContext) string {
			if sc.HasSpanID() {
				return sc.SpanID().String()
			}
			return ""
		}),
		"request_id", RequestIDValuer(),
	), nil
}

// RequestIDValuer reports the x-md-request-id injected by the HTTP handlers, or "" outside a request.
func RequestIDValuer() log.Valuer {
	return func(ctx context.Context) interface{} {
		if ctx == nil {
			return ""
		}
		meta, ok := handlermd.FromContext(ctx)
		if !ok {
			return ""
		}
		return meta.RequestID
	}
}

func spanValuer(extract func(trace.SpanContext) string) log.Valuer {
	return func(ctx context.Context) interface{} {
		return extract(trace.SpanContextFromContext(ctx))
	}
}
