package services

import (
	"context"
	"errors"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDownloadTTL     = 900 * time.Second
	enrichConcurrencyLimit = 16
)

// DownloadSigner 生成限时下载地址。
type DownloadSigner interface {
	PresignDownload(ctx context.Context, bucket, key string, versionID *string, ttl time.Duration) (string, time.Time, error)
}

// URLEnricher 为每条返回给调用方的记录签发新的下载地址。
// 地址从不缓存，每次读取都会重新签名。
type URLEnricher struct {
	signer DownloadSigner
	ttl    time.Duration
	log    *log.Helper
}

// NewURLEnricher 构造 URLEnricher，TTL 未配置时使用 900 秒。
func NewURLEnricher(signer DownloadSigner, cfg configloader.StorageConfig, logger log.Logger) (*URLEnricher, error) {
	if signer == nil {
		return nil, errors.New("url enricher: signer is required")
	}
	ttl := cfg.DownloadURLTTL.Duration
	if ttl <= 0 {
		ttl = defaultDownloadTTL
	}
	return &URLEnricher{
		signer: signer,
		ttl:    ttl,
		log:    log.NewHelper(logger),
	}, nil
}

// Enrich 为单条记录附加下载地址。
func (e *URLEnricher) Enrich(ctx context.Context, file *po.MediaFile) (*vo.MediaFileView, error) {
	if file == nil {
		return nil, nil
	}
	url, expires, err := e.signer.PresignDownload(ctx, file.Bucket, file.ObjectKey, file.VersionID, e.ttl)
	if err != nil {
		e.log.WithContext(ctx).Errorf("sign download url failed: uuid=%s bucket=%s key=%s err=%v",
			file.MediaFileUUID, file.Bucket, file.ObjectKey, err)
		return nil, errObjectStore("sign download url", err)
	}
	return vo.NewMediaFileView(file, url, expires), nil
}

// EnrichMany 并发为多条记录签名，结果顺序与输入一致；任一失败则整体失败。
func (e *URLEnricher) EnrichMany(ctx context.Context, files []*po.MediaFile) ([]*vo.MediaFileView, error) {
	views := make([]*vo.MediaFileView, len(files))
	if len(files) == 0 {
		return views, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrencyLimit)
	for i, file := range files {
		g.Go(func() error {
			view, err := e.Enrich(gctx, file)
			if err != nil {
				return err
			}
			views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}
