package configloader

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration 支持在 YAML/JSON 中以 "5s"、"15m" 或纳秒整数表示时长。
type Duration struct {
	time.Duration
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		d.Duration = 0
	case float64:
		d.Duration = time.Duration(v)
	case string:
		if strings.TrimSpace(v) == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// MarshalJSON 实现 json.Marshaler。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Bootstrap 是配置文件的根结构。
type Bootstrap struct {
	Server        ServerConfig        `json:"server"`
	Data          DataConfig          `json:"data"`
	Storage       StorageConfig       `json:"storage"`
	Observability ObservabilityConfig `json:"observability"`
}

// ServerConfig 描述 HTTP 服务端配置。
type ServerConfig struct {
	HTTP     HTTPConfig     `json:"http"`
	Handlers HandlerConfig  `json:"handlers"`
	Metrics  MetricsPathCfg `json:"metrics"`
}

// HTTPConfig 描述监听地址与请求超时。
type HTTPConfig struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// HandlerConfig 描述各类 Handler 的超时策略。
type HandlerConfig struct {
	DefaultTimeout Duration `json:"default_timeout"`
	CommandTimeout Duration `json:"command_timeout"`
	QueryTimeout   Duration `json:"query_timeout"`
	UploadTimeout  Duration `json:"upload_timeout"`
}

// MetricsPathCfg 控制 Prometheus 抓取端点。
type MetricsPathCfg struct {
	Disabled bool   `json:"disabled"`
	Path     string `json:"path"`
}

// DataConfig 聚合数据层配置。
type DataConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

// PostgresConfig 描述连接池与迁移参数。
type PostgresConfig struct {
	DSN                      string            `json:"dsn"`
	MaxOpenConns             int32             `json:"max_open_conns"`
	MinOpenConns             int32             `json:"min_open_conns"`
	MaxConnLifetime          Duration          `json:"max_conn_lifetime"`
	MaxConnIdleTime          Duration          `json:"max_conn_idle_time"`
	HealthCheckPeriod        Duration          `json:"health_check_period"`
	Schema                   string            `json:"schema"`
	EnablePreparedStatements bool              `json:"enable_prepared_statements"`
	MigrateOnStart           bool              `json:"migrate_on_start"`
	Transaction              TransactionConfig `json:"transaction"`
}

// TransactionConfig 对应 txmanager.Config。
type TransactionConfig struct {
	DefaultIsolation string   `json:"default_isolation"`
	DefaultTimeout   Duration `json:"default_timeout"`
	LockTimeout      Duration `json:"lock_timeout"`
	MaxRetries       int      `json:"max_retries"`
	MetricsEnabled   *bool    `json:"metrics_enabled"`
}

// StorageConfig 描述对象存储驱动与上传/下载策略。
type StorageConfig struct {
	Driver            string    `json:"driver"`
	DefaultBucket     string    `json:"default_bucket"`
	UploadURLTTL      Duration  `json:"upload_url_ttl"`
	DownloadURLTTL    Duration  `json:"download_url_ttl"`
	UploadConcurrency int       `json:"upload_concurrency"`
	MaxUploadBytes    int64     `json:"max_upload_bytes"`
	MaxRequestBytes   int64     `json:"max_request_bytes"`
	GCS               GCSConfig `json:"gcs"`
	S3                S3Config  `json:"s3"`
}

// GCSConfig 描述 Google Cloud Storage 适配器参数。
type GCSConfig struct {
	SignerServiceAccount string `json:"signer_service_account"`
	CredentialsFile      string `json:"credentials_file"`
	Endpoint             string `json:"endpoint"`
}

// S3Config 描述 S3 兼容存储适配器参数；凭据留空时使用 AWS 默认凭据链。
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	UsePathStyle    bool   `json:"use_path_style"`
}

// ObservabilityConfig 对应 lingo-utils/observability 的配置。
type ObservabilityConfig struct {
	GlobalAttributes map[string]string `json:"global_attributes"`
	Tracing          *TracingConfig    `json:"tracing"`
	Metrics          *MetricsConfig    `json:"metrics"`
}

// TracingConfig 描述链路追踪导出参数。
type TracingConfig struct {
	Enabled            bool              `json:"enabled"`
	Exporter           string            `json:"exporter"`
	Endpoint           string            `json:"endpoint"`
	Headers            map[string]string `json:"headers"`
	Insecure           bool              `json:"insecure"`
	SamplingRatio      float64           `json:"sampling_ratio"`
	BatchTimeout       Duration          `json:"batch_timeout"`
	ExportTimeout      Duration          `json:"export_timeout"`
	MaxQueueSize       int               `json:"max_queue_size"`
	MaxExportBatchSize int               `json:"max_export_batch_size"`
	Required           bool              `json:"required"`
	ServiceName        string            `json:"service_name"`
	ServiceVersion     string            `json:"service_version"`
	Environment        string            `json:"environment"`
	Attributes         map[string]string `json:"attributes"`
}

// MetricsConfig 描述 OTLP 指标导出参数（Prometheus 抓取端点由 server.metrics 控制）。
type MetricsConfig struct {
	Enabled             bool              `json:"enabled"`
	Exporter            string            `json:"exporter"`
	Endpoint            string            `json:"endpoint"`
	Headers             map[string]string `json:"headers"`
	Insecure            bool              `json:"insecure"`
	Interval            Duration          `json:"interval"`
	DisableRuntimeStats bool              `json:"disable_runtime_stats"`
	Required            bool              `json:"required"`
	ResourceAttributes  map[string]string `json:"resource_attributes"`
}

const (
	DriverGCS = "gcs"
	DriverS3  = "s3"
)

// applyDefaults 为缺省字段填充默认值。
func (b *Bootstrap) applyDefaults() {
	if b.Server.HTTP.Addr == "" {
		b.Server.HTTP.Addr = defaultHTTPAddr
	}
	if b.Server.HTTP.Timeout.Duration <= 0 {
		b.Server.HTTP.Timeout.Duration = defaultHTTPTimeout
	}
	if b.Server.Metrics.Path == "" {
		b.Server.Metrics.Path = defaultMetricsPath
	}
	if b.Data.Postgres.Schema == "" {
		b.Data.Postgres.Schema = defaultSchema
	}
	st := &b.Storage
	st.Driver = strings.ToLower(strings.TrimSpace(st.Driver))
	if st.Driver == "" {
		st.Driver = DriverGCS
	}
	if st.UploadURLTTL.Duration <= 0 {
		st.UploadURLTTL.Duration = defaultSignedURLTTL
	}
	if st.DownloadURLTTL.Duration <= 0 {
		st.DownloadURLTTL.Duration = defaultSignedURLTTL
	}
	if st.UploadConcurrency <= 0 {
		st.UploadConcurrency = defaultUploadConcurrency
	}
	if st.MaxUploadBytes <= 0 {
		st.MaxUploadBytes = defaultMaxUploadBytes
	}
	if st.MaxRequestBytes <= 0 {
		st.MaxRequestBytes = defaultMaxRequestBytes
	}
	st.MaxRequestBytes = max(st.MaxRequestBytes, st.MaxUploadBytes)
	if st.Driver == DriverS3 && st.S3.Region == "" {
		st.S3.Region = defaultS3Region
	}
}
