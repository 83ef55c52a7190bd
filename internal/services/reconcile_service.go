package services

import (
	"context"
	"errors"
	"strings"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReconcileBatch = 200
	maxReconcileBatch     = 1000
)

// ObjectInspector 读取对象元数据。
type ObjectInspector interface {
	HeadObject(ctx context.Context, bucket, key string, versionID *string) (*objectstore.ObjectInfo, error)
}

// ReconcileOptions 控制一次对账扫描。
type ReconcileOptions struct {
	// Bucket 为空时扫描全部 bucket。
	Bucket    string
	BatchSize int
	// Refresh 为 true 时把漂移记录的观测元数据缓存改写为 HEAD 结果。
	Refresh bool
}

// ReconcileService 逐批扫描活跃记录并与对象存储比对。
// 只报告缺失与元数据漂移，从不修改状态，也不删除任何对象。
type ReconcileService struct {
	repo        MediaFileRepo
	inspector   ObjectInspector
	metrics     *Metrics
	concurrency int
	log         *log.Helper
}

// NewReconcileService 构造对账服务。
func NewReconcileService(repo MediaFileRepo, inspector ObjectInspector, metrics *Metrics, cfg configloader.StorageConfig, logger log.Logger) *ReconcileService {
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &ReconcileService{
		repo:        repo,
		inspector:   inspector,
		metrics:     metrics,
		concurrency: concurrency,
		log:         log.NewHelper(logger),
	}
}

type inspection struct {
	info    *objectstore.ObjectInfo
	missing bool
	fields  []string
	err     error
}

// Reconcile 以 media_file_id 为游标分页扫描，返回汇总报告。
// 上下文取消时返回已完成部分的报告与取消原因。
func (s *ReconcileService) Reconcile(ctx context.Context, opts ReconcileOptions) (*vo.ReconcileReport, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	batch = min(batch, maxReconcileBatch)
	bucket := strings.TrimSpace(opts.Bucket)

	report := &vo.ReconcileReport{
		Missing: []vo.DriftEntry{},
		Drifted: []vo.DriftEntry{},
		Failed:  []vo.DriftEntry{},
	}
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		files, err := s.repo.ListActiveAfter(ctx, nil, bucket, after, batch)
		if err != nil {
			s.log.WithContext(ctx).Errorf("reconcile page failed: after=%d err=%v", after, err)
			return report, errCatalog("list active media files", err)
		}
		if len(files) == 0 {
			break
		}

		results := make([]inspection, len(files))
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i, file := range files {
			g.Go(func() error {
				results[i] = s.inspect(ctx, file)
				return nil
			})
		}
		_ = g.Wait()

		for i, file := range files {
			s.apply(ctx, report, file, results[i], opts.Refresh)
		}
		report.Scanned += len(files)
		after = files[len(files)-1].MediaFileID
		if len(files) < batch {
			break
		}
	}

	s.metrics.recordFinding(ctx, "missing", len(report.Missing))
	s.metrics.recordFinding(ctx, "drifted", len(report.Drifted))
	s.metrics.recordFinding(ctx, "failed", len(report.Failed))
	s.log.WithContext(ctx).Infof("Reconcile: bucket=%q scanned=%d missing=%d drifted=%d failed=%d refreshed=%d",
		bucket, report.Scanned, len(report.Missing), len(report.Drifted), len(report.Failed), report.Refreshed)
	return report, nil
}

func (s *ReconcileService) inspect(ctx context.Context, file *po.MediaFile) inspection {
	info, err := s.inspector.HeadObject(ctx, file.Bucket, file.ObjectKey, file.VersionID)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return inspection{missing: true}
		}
		return inspection{err: err}
	}
	return inspection{info: info, fields: driftFields(file, info)}
}

func (s *ReconcileService) apply(ctx context.Context, report *vo.ReconcileReport, file *po.MediaFile, res inspection, refresh bool) {
	entry := vo.DriftEntry{
		MediaFileUUID: file.MediaFileUUID,
		Bucket:        file.Bucket,
		ObjectKey:     file.ObjectKey,
	}
	switch {
	case res.err != nil:
		entry.Error = res.err.Error()
		report.Failed = append(report.Failed, entry)
	case res.missing:
		report.Missing = append(report.Missing, entry)
		s.log.WithContext(ctx).Warnf("object missing for active media file: uuid=%s bucket=%s key=%s",
			file.MediaFileUUID, file.Bucket, file.ObjectKey)
	case len(res.fields) > 0:
		entry.Fields = res.fields
		report.Drifted = append(report.Drifted, entry)
		if !refresh {
			return
		}
		if err := s.repo.UpdateObservedMetadata(ctx, nil, file.MediaFileUUID, observedFrom(res.info)); err != nil {
			s.log.WithContext(ctx).Errorf("refresh observed metadata failed: uuid=%s err=%v", file.MediaFileUUID, err)
			entry.Error = err.Error()
			report.Failed = append(report.Failed, entry)
			return
		}
		report.Refreshed++
	}
}

// driftFields 列出缓存值与观测值不一致的字段。
func driftFields(file *po.MediaFile, info *objectstore.ObjectInfo) []string {
	var fields []string
	if info.ETag != "" && objectstore.Deref(file.ETag) != info.ETag {
		fields = append(fields, "etag")
	}
	if file.ContentLength == nil || *file.ContentLength != info.ContentLength {
		fields = append(fields, "contentLength")
	}
	if info.ContentType != "" && !strings.EqualFold(objectstore.Deref(file.ContentType), info.ContentType) {
		fields = append(fields, "contentType")
	}
	return fields
}

func observedFrom(info *objectstore.ObjectInfo) repositories.ObservedMetadata {
	meta := repositories.ObservedMetadata{}
	if info.ContentType != "" {
		ct := info.ContentType
		meta.ContentType = &ct
	}
	size := info.ContentLength
	meta.ContentLength = &size
	if info.ETag != "" {
		etag := info.ETag
		meta.ETag = &etag
	}
	if !info.LastModified.IsZero() {
		modified := info.LastModified.UTC()
		meta.LastModified = &modified
	}
	if info.Checksum != "" {
		checksum := info.Checksum
		meta.Checksum = &checksum
	}
	return meta
}
