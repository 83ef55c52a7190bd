// Package services 包含媒体文件目录、上传编排、下载地址签发与对账的用例。
package services

import "github.com/google/wire"

// ProviderSet 暴露服务层构造器。
var ProviderSet = wire.NewSet(
	NewMetricsWithMeter,
	NewURLEnricher,
	NewMediaFileService,
	NewUploadService,
	NewReconcileService,
)
