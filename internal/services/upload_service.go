package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	flowPresigned = "presigned"
	flowDirect    = "direct"

	defaultUploadTTL         = 900 * time.Second
	defaultUploadConcurrency = 4
)

// UploadService 编排两种上传协议：
//   - Flow A：先签发 PUT 地址，客户端直传后再调用 ConfirmAfterUpload 登记；
//   - Flow B：服务端直接写入对象并登记，批内条目彼此独立，单项失败不影响其余条目。
type UploadService struct {
	repo        MediaFileRepo
	txManager   txmanager.Manager
	store       objectstore.Store
	enricher    *URLEnricher
	metrics     *Metrics
	uploadTTL   time.Duration
	concurrency int
	maxBytes    int64
	now         func() time.Time
	log         *log.Helper
}

// NewUploadService 创建 UploadService。
func NewUploadService(repo MediaFileRepo, tx txmanager.Manager, store objectstore.Store, enricher *URLEnricher, metrics *Metrics, cfg configloader.StorageConfig, logger log.Logger) (*UploadService, error) {
	switch {
	case repo == nil:
		return nil, errors.New("upload service: repository is required")
	case tx == nil:
		return nil, errors.New("upload service: tx manager is required")
	case store == nil:
		return nil, errors.New("upload service: object store is required")
	case enricher == nil:
		return nil, errors.New("upload service: url enricher is required")
	}

	ttl := cfg.UploadURLTTL.Duration
	if ttl <= 0 {
		ttl = defaultUploadTTL
	}
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &UploadService{
		repo:        repo,
		txManager:   tx,
		store:       store,
		enricher:    enricher,
		metrics:     metrics,
		uploadTTL:   ttl,
		concurrency: concurrency,
		maxBytes:    cfg.MaxUploadBytes,
		now:         time.Now,
		log:         log.NewHelper(logger),
	}, nil
}

// GenerateUploadURL 校验位置可用后签发限时 PUT 地址，不写目录。
func (s *UploadService) GenerateUploadURL(ctx context.Context, item UploadRequestItem) (*vo.UploadTicket, error) {
	bucket := s.resolveBucket(item.Bucket)
	key := strings.TrimSpace(item.ObjectKey)
	if bucket == "" {
		return nil, errInvalid("bucket is required")
	}
	if key == "" {
		return nil, errInvalid("objectKey is required")
	}
	if err := ensureLocationAvailable(ctx, s.repo, nil, bucket, key, nil); err != nil {
		return nil, err
	}

	contentType := objectstore.ContentTypeOrDefault(item.ContentType)
	url, expires, err := s.store.PresignUpload(ctx, bucket, key, contentType, s.uploadTTL)
	if err != nil {
		s.log.WithContext(ctx).Errorf("presign upload failed: bucket=%s key=%s err=%v", bucket, key, err)
		return nil, errObjectStore("presign upload", err)
	}
	return &vo.UploadTicket{
		Bucket:      bucket,
		ObjectKey:   key,
		ContentType: contentType,
		UploadURL:   url,
		ExpiresAt:   expires,
	}, nil
}

// GenerateUploadURLs 批量签发 PUT 地址，逐项尽力而为，结果保持输入顺序。
func (s *UploadService) GenerateUploadURLs(ctx context.Context, items []UploadRequestItem) (*vo.BatchOutcome[*vo.UploadTicket], error) {
	if len(items) == 0 {
		return nil, errInvalid("at least one item is required")
	}

	errs := make([]error, len(items))
	dup := newDuplicateTracker()
	for i, item := range items {
		errs[i] = dup.check(i, s.resolveBucket(item.Bucket), item.ObjectKey)
	}

	tickets := make([]*vo.UploadTicket, len(items))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, item := range items {
		if errs[i] != nil {
			continue
		}
		g.Go(func() error {
			tickets[i], errs[i] = s.GenerateUploadURL(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	outcome := &vo.BatchOutcome[*vo.UploadTicket]{
		Successful: make([]*vo.UploadTicket, 0, len(items)),
		Failed:     make([]vo.BatchFailure, 0),
	}
	for i, item := range items {
		if errs[i] != nil {
			outcome.Failed = append(outcome.Failed, batchFailure(i, item.ObjectKey, nil, errs[i]))
			continue
		}
		outcome.Successful = append(outcome.Successful, tickets[i])
	}
	return outcome, nil
}

// ConfirmAfterUpload 在客户端直传完成后登记记录。
// 以 HEAD 观测到的元数据为准，对象不存在时返回 NotFound。
func (s *UploadService) ConfirmAfterUpload(ctx context.Context, input CreateMediaFileInput) (*vo.MediaFileView, error) {
	input.Bucket = s.resolveBucket(input.Bucket)
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}
	input = input.normalize()

	if err := ensureLocationAvailable(ctx, s.repo, nil, input.Bucket, input.ObjectKey, nil); err != nil {
		return nil, err
	}

	info, err := s.store.HeadObject(ctx, input.Bucket, input.ObjectKey, input.VersionID)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return nil, kerrors.NotFound(ReasonObjectNotFound,
				fmt.Sprintf("object %s/%s not found; upload it before confirming", input.Bucket, input.ObjectKey))
		}
		s.log.WithContext(ctx).Errorf("head object failed: bucket=%s key=%s err=%v", input.Bucket, input.ObjectKey, err)
		return nil, errObjectStore("head object", err)
	}

	input = s.applyObserved(input, info)
	created, err := registerMediaFile(ctx, s.txManager, s.repo, input)
	s.metrics.recordUpload(ctx, flowPresigned, err, 0)
	if err != nil {
		if !IsConflict(err) {
			s.log.WithContext(ctx).Errorf("confirm upload failed: bucket=%s key=%s err=%v", input.Bucket, input.ObjectKey, err)
		}
		return nil, err
	}

	s.log.WithContext(ctx).Infof("ConfirmUpload: uuid=%s bucket=%s key=%s size=%d",
		created.MediaFileUUID, created.Bucket, created.ObjectKey, info.ContentLength)
	return s.enricher.Enrich(ctx, created)
}

// UploadAndRegister 执行 Flow B：逐项写入对象并登记。
// 同批内重复位置的后续条目在写入前即失败；目录写入失败时对象已存储但未登记，错误信息会注明。
func (s *UploadService) UploadAndRegister(ctx context.Context, items []UploadItem) (*vo.BatchOutcome[*vo.MediaFileView], error) {
	if len(items) == 0 {
		return nil, errInvalid("at least one file is required")
	}

	records := make([]CreateMediaFileInput, len(items))
	errs := make([]error, len(items))
	dup := newDuplicateTracker()
	for i, item := range items {
		rec := item.Record
		rec.Bucket = s.resolveBucket(rec.Bucket)
		if err := s.validateUploadItem(rec, item.Content); err != nil {
			errs[i] = err
			continue
		}
		rec = rec.normalize()
		if err := dup.check(i, rec.Bucket, rec.ObjectKey); err != nil {
			errs[i] = err
			continue
		}
		records[i] = rec
	}

	views := make([]*vo.MediaFileView, len(items))
	registered := make([]*uuid.UUID, len(items))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, item := range items {
		if errs[i] != nil {
			continue
		}
		g.Go(func() error {
			views[i], registered[i], errs[i] = s.uploadOne(ctx, records[i], item)
			return nil
		})
	}
	_ = g.Wait()

	outcome := &vo.BatchOutcome[*vo.MediaFileView]{
		Successful: make([]*vo.MediaFileView, 0, len(items)),
		Failed:     make([]vo.BatchFailure, 0),
	}
	for i, item := range items {
		if errs[i] != nil {
			outcome.Failed = append(outcome.Failed, batchFailure(i, strings.TrimSpace(item.Record.ObjectKey), registered[i], errs[i]))
			continue
		}
		outcome.Successful = append(outcome.Successful, views[i])
	}

	s.log.WithContext(ctx).Infof("UploadAndRegister: total=%d succeeded=%d failed=%d",
		len(items), len(outcome.Successful), len(outcome.Failed))
	return outcome, nil
}

// uploadOne 处理 Flow B 的单个条目，返回视图、已登记的 uuid（若有）与错误。
func (s *UploadService) uploadOne(ctx context.Context, rec CreateMediaFileInput, item UploadItem) (*vo.MediaFileView, *uuid.UUID, error) {
	if err := ensureLocationAvailable(ctx, s.repo, nil, rec.Bucket, rec.ObjectKey, nil); err != nil {
		s.metrics.recordUpload(ctx, flowDirect, err, 0)
		return nil, nil, err
	}

	contentType := objectstore.ContentTypeOrDefault(objectstore.Deref(rec.ContentType))
	put, err := s.store.PutObject(ctx, objectstore.PutInput{
		Bucket:      rec.Bucket,
		Key:         rec.ObjectKey,
		Body:        item.Content,
		ContentType: contentType,
		Metadata:    item.Metadata,
		Tags:        item.Tags,
	})
	if err != nil {
		s.log.WithContext(ctx).Errorf("put object failed: bucket=%s key=%s err=%v", rec.Bucket, rec.ObjectKey, err)
		s.metrics.recordUpload(ctx, flowDirect, err, 0)
		return nil, nil, errObjectStore("put object", err)
	}

	size := int64(len(item.Content))
	now := s.now().UTC()
	rec.ContentType = &contentType
	rec.ContentLength = &size
	rec.LastModified = &now
	if put.ETag != "" {
		rec.ETag = &put.ETag
	}
	if put.VersionID != "" {
		rec.VersionID = &put.VersionID
	}

	created, err := registerMediaFile(ctx, s.txManager, s.repo, rec)
	s.metrics.recordUpload(ctx, flowDirect, err, len(item.Content))
	if err != nil {
		s.log.WithContext(ctx).Errorf("object stored but not registered: bucket=%s key=%s err=%v", rec.Bucket, rec.ObjectKey, err)
		ke := kerrors.FromError(err)
		return nil, nil, kerrors.New(int(ke.Code), ke.Reason,
			fmt.Sprintf("object stored at %s/%s but not registered: %s", rec.Bucket, rec.ObjectKey, ke.Message)).WithCause(err)
	}

	id := created.MediaFileUUID
	view, err := s.enricher.Enrich(ctx, created)
	if err != nil {
		return nil, &id, err
	}
	return view, &id, nil
}

func (s *UploadService) validateUploadItem(rec CreateMediaFileInput, content []byte) error {
	if err := validateCreateInput(rec); err != nil {
		return err
	}
	if len(content) == 0 {
		return errInvalid("file content must not be empty")
	}
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return errInvalid("file exceeds the %d byte upload limit", s.maxBytes)
	}
	return nil
}

// applyObserved 用 HEAD 结果覆盖调用方声明的元数据；缺失的观测值回退到输入值。
func (s *UploadService) applyObserved(input CreateMediaFileInput, info *objectstore.ObjectInfo) CreateMediaFileInput {
	if info.ContentType != "" {
		ct := info.ContentType
		input.ContentType = &ct
	}
	size := info.ContentLength
	input.ContentLength = &size
	if info.ETag != "" {
		etag := info.ETag
		input.ETag = &etag
	}
	if info.VersionID != "" {
		version := info.VersionID
		input.VersionID = &version
	}
	modified := info.LastModified.UTC()
	if info.LastModified.IsZero() {
		modified = s.now().UTC()
	}
	input.LastModified = &modified
	if info.Checksum != "" {
		checksum := info.Checksum
		input.Checksum = &checksum
	}
	return input
}

func (s *UploadService) resolveBucket(bucket string) string {
	if b := strings.TrimSpace(bucket); b != "" {
		return b
	}
	return s.store.DefaultBucket()
}

// duplicateTracker 识别同一批次内大小写不敏感的重复位置，首个出现者胜出。
type duplicateTracker struct {
	seen map[string]int
}

func newDuplicateTracker() *duplicateTracker {
	return &duplicateTracker{seen: make(map[string]int)}
}

func (d *duplicateTracker) check(index int, bucket, objectKey string) error {
	if strings.TrimSpace(objectKey) == "" {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(bucket)) + "\x00" + strings.ToLower(strings.TrimSpace(objectKey))
	if first, ok := d.seen[key]; ok {
		return kerrors.Conflict(ReasonLocationConflict,
			fmt.Sprintf("objectKey %s duplicates item %d in the same batch", strings.TrimSpace(objectKey), first))
	}
	d.seen[key] = index
	return nil
}

func batchFailure(index int, objectKey string, id *uuid.UUID, err error) vo.BatchFailure {
	msg, reason := describe(err)
	return vo.BatchFailure{
		Index:         index,
		ObjectKey:     objectKey,
		MediaFileUUID: id,
		Error:         msg,
		Reason:        reason,
	}
}
