package configloader

import "time"

const (
	// defaultConfPath is the fallback configuration directory when no overrides are provided.
	defaultConfPath = "configs"
	// defaultEnvironment is used when APP_ENV is missing.
	defaultEnvironment = "development"
	// defaultServiceName is used when SERVICE_NAME is missing.
	defaultServiceName = "storage"
	// defaultServiceVersion is used when SERVICE_VERSION is missing.
	defaultServiceVersion = "dev"

	defaultHTTPAddr          = "0.0.0.0:8000"
	defaultHTTPTimeout       = 30 * time.Second
	defaultMetricsPath       = "/metrics"
	defaultSchema            = "catalog"
	defaultSignedURLTTL      = 900 * time.Second
	defaultUploadConcurrency = 4
	// defaultMaxUploadBytes caps a single file accepted by the direct upload endpoint.
	defaultMaxUploadBytes = 64 << 20
	// defaultMaxRequestBytes caps the whole multipart body of one direct upload request.
	defaultMaxRequestBytes = 256 << 20
	defaultS3Region        = "us-east-1"
)
