package server

import (
	"context"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"

	"github.com/go-kratos/kratos/v2/log"
	kmetrics "github.com/go-kratos/kratos/v2/middleware/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const buildInfoMetric = "storage_build_info"

// Telemetry 持有 /metrics 暴露的 Prometheus registry，以及 HTTP 中间件与服务层共用的 Meter。
// registry 中所有序列都带有 service 常量标签。
type Telemetry struct {
	MeterProvider      *sdkmetric.MeterProvider
	Meter              metric.Meter
	RequestCounter     metric.Int64Counter
	SecondsHistogram   metric.Float64Histogram
	PrometheusRegistry *prometheus.Registry
}

// NewTelemetry 创建 OpenTelemetry MeterProvider（Prometheus exporter）并注册 HTTP 请求指标与构建信息。
func NewTelemetry(meta configloader.ServiceMetadata, logger log.Logger) (*Telemetry, func(), error) {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": meta.Name}, registry)

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: buildInfoMetric,
		Help: "Build and runtime identity of the storage registry; always 1.",
	}, []string{"version", "environment"})
	buildInfo.WithLabelValues(meta.Version, meta.Environment).Set(1)

	if err := registerer.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return nil, nil, err
	}
	if err := registerer.Register(prometheus.NewGoCollector()); err != nil {
		return nil, nil, err
	}
	if err := registerer.Register(buildInfo); err != nil {
		return nil, nil, err
	}

	exporter, err := promexp.New(
		promexp.WithRegisterer(registerer),
		promexp.WithoutUnits(),
	)
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(kmetrics.DefaultSecondsHistogramView(kmetrics.DefaultServerSecondsHistogramName)),
	)
	otel.SetMeterProvider(mp)

	meterName := meta.Name
	if meterName == "" {
		meterName = "storage"
	}
	meter := mp.Meter(meterName, metric.WithInstrumentationVersion(meta.Version))

	requestCounter, err := kmetrics.DefaultRequestsCounter(meter, kmetrics.DefaultServerRequestsCounterName)
	if err != nil {
		return nil, nil, err
	}
	secondsHistogram, err := kmetrics.DefaultSecondsHistogram(meter, kmetrics.DefaultServerSecondsHistogramName)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(ctx); err != nil {
			log.NewHelper(logger).Warnf("shutdown meter provider: %v", err)
		}
	}

	return &Telemetry{
		MeterProvider:      mp,
		Meter:              meter,
		RequestCounter:     requestCounter,
		SecondsHistogram:   secondsHistogram,
		PrometheusRegistry: registry,
	}, cleanup, nil
}

// ProvideMeter 向服务层暴露共享 Meter；未启用 Telemetry 时回退到全局 MeterProvider。
func ProvideMeter(tel *Telemetry) metric.Meter {
	if tel == nil || tel.Meter == nil {
		return otel.GetMeterProvider().Meter("storage")
	}
	return tel.Meter
}
