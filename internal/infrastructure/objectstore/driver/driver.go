// Package driver 根据 storage.driver 配置选择对象存储实现。
package driver

import (
	"context"
	"fmt"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	s3store "github.com/bionicotaku/lingo-services-storage/internal/infrastructure/s3"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet 暴露对象存储构造器供 Wire 使用。
var ProviderSet = wire.NewSet(New)

// New 按配置构造对象存储适配器，返回的 cleanup 释放底层客户端。
func New(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (objectstore.Store, func(), error) {
	helper := log.NewHelper(logger)
	switch cfg.Driver {
	case configloader.DriverGCS, "":
		store, cleanup, err := gcs.NewStoreFromConfig(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		helper.Infof("object store ready: driver=gcs default_bucket=%s", cfg.DefaultBucket)
		return store, cleanup, nil
	case configloader.DriverS3:
		store, err := s3store.NewStoreFromConfig(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		helper.Infof("object store ready: driver=s3 default_bucket=%s endpoint=%s", cfg.DefaultBucket, cfg.S3.Endpoint)
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
