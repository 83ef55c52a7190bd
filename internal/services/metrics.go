package services

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricNameUploadItems    = "storage_upload_items_total"
	metricNameUploadBytes    = "storage_upload_bytes_total"
	metricNameReconcileDrift = "storage_reconcile_findings_total"

	meterName = "lingo-services-storage.services"
)

// Metrics 汇总服务层的业务指标。零值或 nil 接收者均可安全调用。
type Metrics struct {
	uploadItems metric.Int64Counter
	uploadBytes metric.Int64Counter
	drift       metric.Int64Counter
	enabled     bool
}

// NewMetrics 使用全局 MeterProvider 注册指标，供不启动 HTTP Server 的命令行使用。
func NewMetrics(logger log.Logger) *Metrics {
	return newMetrics(otel.GetMeterProvider().Meter(meterName), log.NewHelper(logger))
}

// NewMetricsWithMeter 在指定 Meter 上注册指标，服务进程中由 server.Telemetry 提供。
func NewMetricsWithMeter(meter metric.Meter, logger log.Logger) *Metrics {
	return newMetrics(meter, log.NewHelper(logger))
}

func newMetrics(meter metric.Meter, helper *log.Helper) *Metrics {
	m := &Metrics{}
	if meter == nil {
		return m
	}

	var err error
	if m.uploadItems, err = meter.Int64Counter(metricNameUploadItems,
		metric.WithDescription("Number of upload items processed, by flow and outcome")); err != nil {
		helper.Warnf("storage metrics: register upload items counter: %v", err)
		return m
	}
	if m.uploadBytes, err = meter.Int64Counter(metricNameUploadBytes,
		metric.WithDescription("Bytes written to the object store by direct uploads"), metric.WithUnit("By")); err != nil {
		helper.Warnf("storage metrics: register upload bytes counter: %v", err)
	}
	if m.drift, err = meter.Int64Counter(metricNameReconcileDrift,
		metric.WithDescription("Reconcile findings, by kind")); err != nil {
		helper.Warnf("storage metrics: register reconcile counter: %v", err)
	}
	m.enabled = true
	return m
}

func (m *Metrics) recordUpload(ctx context.Context, flow string, err error, size int) {
	if m == nil || !m.enabled {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.uploadItems.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
	if err == nil && size > 0 && m.uploadBytes != nil {
		m.uploadBytes.Add(ctx, int64(size), metric.WithAttributes(attribute.String("flow", flow)))
	}
}

func (m *Metrics) recordFinding(ctx context.Context, kind string, n int) {
	if m == nil || !m.enabled || m.drift == nil || n == 0 {
		return
	}
	m.drift.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}
