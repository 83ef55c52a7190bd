package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// MediaFileRepo 定义目录（catalog.media_files）需要的持久化行为。
// 每个方法都接受可选的事务会话，nil 表示直接使用连接池。
type MediaFileRepo interface {
	Insert(ctx context.Context, sess txmanager.Session, input repositories.InsertMediaFileInput) (*po.MediaFile, error)
	FindByUUID(ctx context.Context, sess txmanager.Session, id uuid.UUID) (*po.MediaFile, error)
	FindByUUIDs(ctx context.Context, sess txmanager.Session, ids []uuid.UUID, forUpdate bool) ([]*po.MediaFile, error)
	FindMany(ctx context.Context, sess txmanager.Session, q repositories.MediaFileQuery) ([]*po.MediaFile, error)
	Count(ctx context.Context, sess txmanager.Session, filter repositories.MediaFileListFilter) (int64, error)
	UpdateByUUID(ctx context.Context, sess txmanager.Session, id uuid.UUID, input repositories.UpdateMediaFileInput) (*po.MediaFile, error)
	UpdateStatus(ctx context.Context, sess txmanager.Session, id uuid.UUID, from, to po.MediaFileStatus, at time.Time) (*po.MediaFile, error)
	UpdateStatusMany(ctx context.Context, sess txmanager.Session, ids []uuid.UUID, from, to po.MediaFileStatus, at time.Time) (int64, error)
	FindActiveByLocation(ctx context.Context, sess txmanager.Session, bucket, objectKey string, exclude *uuid.UUID) (*po.MediaFile, error)
	FindFirstActiveByReference(ctx context.Context, sess txmanager.Session, referenceID int64) (*po.MediaFile, error)
	CountActiveByReference(ctx context.Context, sess txmanager.Session, referenceID int64, secondReferenceID *int64) (int64, error)
	ListActiveAfter(ctx context.Context, sess txmanager.Session, bucket string, afterID int64, limit int) ([]*po.MediaFile, error)
	UpdateObservedMetadata(ctx context.Context, sess txmanager.Session, id uuid.UUID, meta repositories.ObservedMetadata) error
}

// MediaFileService 是媒体文件目录的用例集合：登记、查询、更新与软删除生命周期。
// 所有返回给调用方的记录都会经过 URLEnricher 附加新的下载地址。
type MediaFileService struct {
	repo      MediaFileRepo
	txManager txmanager.Manager
	enricher  *URLEnricher
	now       func() time.Time
	log       *log.Helper
}

// NewMediaFileService 构造目录服务。
func NewMediaFileService(repo MediaFileRepo, tx txmanager.Manager, enricher *URLEnricher, logger log.Logger) *MediaFileService {
	return &MediaFileService{
		repo:      repo,
		txManager: tx,
		enricher:  enricher,
		now:       time.Now,
		log:       log.NewHelper(logger),
	}
}

// Create 登记一条指向已存在（或稍后确认）对象的记录，不触达对象存储。
func (s *MediaFileService) Create(ctx context.Context, input CreateMediaFileInput) (*vo.MediaFileView, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}
	input = input.normalize()

	created, err := registerMediaFile(ctx, s.txManager, s.repo, input)
	if err != nil {
		if !IsConflict(err) {
			s.log.WithContext(ctx).Errorf("create media file failed: bucket=%s key=%s err=%v", input.Bucket, input.ObjectKey, err)
		}
		return nil, err
	}

	s.log.WithContext(ctx).Infof("CreateMediaFile: uuid=%s bucket=%s key=%s", created.MediaFileUUID, created.Bucket, created.ObjectKey)
	return s.enricher.Enrich(ctx, created)
}

// FindAll 按过滤、排序与可选分页列出记录。
// 行与总数在同一只读事务中读取，保证分页摘要与数据一致。
func (s *MediaFileService) FindAll(ctx context.Context, filter MediaFileFilter) (*vo.MediaFilePage, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	query := repositories.MediaFileQuery{
		Filter:     filter.toRepoFilter(),
		SortBy:     repositories.ParseMediaFileSortField(filter.SortBy),
		Descending: strings.EqualFold(strings.TrimSpace(filter.SortOrder), "desc"),
	}
	paginate := filter.Page != nil || filter.Limit != nil
	page, limit := 1, defaultPageLimit
	if filter.Page != nil {
		page = *filter.Page
	}
	if filter.Limit != nil {
		limit = min(*filter.Limit, maxPageLimit)
	}
	if paginate {
		query.Limit = limit
		query.Offset = (page - 1) * limit
	}

	var (
		files []*po.MediaFile
		total int64
	)
	err := s.txManager.WithinReadOnlyTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		var repoErr error
		if files, repoErr = s.repo.FindMany(txCtx, sess, query); repoErr != nil {
			return repoErr
		}
		total, repoErr = s.repo.Count(txCtx, sess, query.Filter)
		return repoErr
	})
	if err != nil {
		s.log.WithContext(ctx).Errorf("list media files failed: err=%v", err)
		return nil, errCatalog("list media files", err)
	}

	views, err := s.enricher.EnrichMany(ctx, files)
	if err != nil {
		return nil, err
	}

	summary := vo.PageSummary{
		TotalRecords: total,
		SortBy:       string(query.SortBy),
		SortOrder:    "asc",
	}
	if query.Descending {
		summary.SortOrder = "desc"
	}
	if query.Filter.Search != "" {
		term := query.Filter.Search
		summary.SearchTerm = &term
	}
	if paginate {
		summary.CurrentPage = page
		summary.RecordsPerPage = limit
		summary.TotalPages = int(math.Ceil(float64(total) / float64(limit)))
		if page < summary.TotalPages {
			next := page + 1
			summary.NextPage = &next
		}
		if page > 1 {
			prev := page - 1
			summary.PreviousPage = &prev
		}
	} else {
		summary.CurrentPage = 1
		summary.RecordsPerPage = int(total)
		if total > 0 {
			summary.TotalPages = 1
		}
	}

	return &vo.MediaFilePage{Items: views, Pagination: summary}, nil
}

// FindOne 按 uuid 读取单条记录（包含已软删除的记录）。
func (s *MediaFileService) FindOne(ctx context.Context, id uuid.UUID) (*vo.MediaFileView, error) {
	file, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.enricher.Enrich(ctx, file)
}

// Update 对记录做部分合并。位置变化时以合并后的有效位置复查唯一性（排除自身）。
func (s *MediaFileService) Update(ctx context.Context, id uuid.UUID, patch MediaFilePatch) (*vo.MediaFileView, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	patch = trimLocation(patch)

	var (
		updated   *po.MediaFile
		effective po.MediaFile
	)
	err := s.txManager.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		current, repoErr := s.repo.FindByUUID(txCtx, sess, id)
		if repoErr != nil {
			return repoErr
		}
		effective = patch.Apply(*current)
		if (patch.Bucket != nil || patch.ObjectKey != nil) && current.IsActive() {
			if err := ensureLocationAvailable(txCtx, s.repo, sess, effective.Bucket, effective.ObjectKey, &id); err != nil {
				return err
			}
		}
		updated, repoErr = s.repo.UpdateByUUID(txCtx, sess, id, patch.toRepoInput())
		return repoErr
	})
	if err != nil {
		var ke *kerrors.Error
		switch {
		case errors.As(err, &ke):
			return nil, ke
		case errors.Is(err, repositories.ErrMediaFileNotFound):
			return nil, errMediaFileNotFound(id)
		case errors.Is(err, repositories.ErrMediaFileConflict):
			return nil, errLocationConflict(effective.Bucket, effective.ObjectKey)
		}
		s.log.WithContext(ctx).Errorf("update media file failed: uuid=%s err=%v", id, err)
		return nil, errCatalog("update media file", err)
	}

	s.log.WithContext(ctx).Infof("UpdateMediaFile: uuid=%s", id)
	return s.enricher.Enrich(ctx, updated)
}

// Remove 软删除一条活跃记录；已处于删除状态时返回 Conflict。
func (s *MediaFileService) Remove(ctx context.Context, id uuid.UUID) (*vo.MediaFileView, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive() {
		return nil, errStateConflict("media file %s is already removed", id)
	}

	removed, err := s.repo.UpdateStatus(ctx, nil, id, po.MediaFileStatusActive, po.MediaFileStatusInactive, s.now().UTC())
	if err != nil {
		if errors.Is(err, repositories.ErrMediaFileStateChanged) {
			return nil, errStateConflict("media file %s is already removed", id)
		}
		s.log.WithContext(ctx).Errorf("remove media file failed: uuid=%s err=%v", id, err)
		return nil, errCatalog("remove media file", err)
	}

	s.log.WithContext(ctx).Infof("RemoveMediaFile: uuid=%s", id)
	return s.enricher.Enrich(ctx, removed)
}

// Recover 恢复一条已软删除的记录。若同一位置已被其他活跃记录占用则返回 Conflict。
func (s *MediaFileService) Recover(ctx context.Context, id uuid.UUID) (*vo.MediaFileView, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsActive() {
		return nil, errStateConflict("media file %s is already active", id)
	}

	var recovered *po.MediaFile
	err = s.txManager.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		if err := ensureLocationAvailable(txCtx, s.repo, sess, current.Bucket, current.ObjectKey, &id); err != nil {
			return err
		}
		file, repoErr := s.repo.UpdateStatus(txCtx, sess, id, po.MediaFileStatusInactive, po.MediaFileStatusActive, s.now().UTC())
		if repoErr != nil {
			return repoErr
		}
		recovered = file
		return nil
	})
	if err != nil {
		var ke *kerrors.Error
		switch {
		case errors.As(err, &ke):
			return nil, ke
		case errors.Is(err, repositories.ErrMediaFileStateChanged):
			return nil, errStateConflict("media file %s is already active", id)
		case errors.Is(err, repositories.ErrMediaFileConflict):
			return nil, errLocationConflict(current.Bucket, current.ObjectKey)
		}
		s.log.WithContext(ctx).Errorf("recover media file failed: uuid=%s err=%v", id, err)
		return nil, errCatalog("recover media file", err)
	}

	s.log.WithContext(ctx).Infof("RecoverMediaFile: uuid=%s", id)
	return s.enricher.Enrich(ctx, recovered)
}

// RemoveMany 原子地软删除一组记录：任一记录缺失或已删除时整批失败，不做部分修改。
// 返回去重后实际删除的 uuid（保持输入顺序）。
func (s *MediaFileService) RemoveMany(ctx context.Context, rawIDs []string) ([]uuid.UUID, error) {
	if len(rawIDs) == 0 {
		return nil, errInvalid("mediaFileUuids must not be empty")
	}
	ids := make([]uuid.UUID, 0, len(rawIDs))
	seen := make(map[uuid.UUID]struct{}, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, errInvalid("invalid media file uuid %q", raw)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	err := s.txManager.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		files, repoErr := s.repo.FindByUUIDs(txCtx, sess, ids, true)
		if repoErr != nil {
			return repoErr
		}
		found := make(map[uuid.UUID]*po.MediaFile, len(files))
		for _, f := range files {
			found[f.MediaFileUUID] = f
		}

		var missing, inactive []uuid.UUID
		for _, id := range ids {
			f, ok := found[id]
			switch {
			case !ok:
				missing = append(missing, id)
			case !f.IsActive():
				inactive = append(inactive, id)
			}
		}
		if len(missing) > 0 {
			return kerrors.NotFound(ReasonMediaFileNotFound, "media files not found: "+joinUUIDs(missing))
		}
		if len(inactive) > 0 {
			return errStateConflict("media files already removed: %s", joinUUIDs(inactive))
		}

		affected, repoErr := s.repo.UpdateStatusMany(txCtx, sess, ids, po.MediaFileStatusActive, po.MediaFileStatusInactive, s.now().UTC())
		if repoErr != nil {
			return repoErr
		}
		if affected != int64(len(ids)) {
			return errStateConflict("media files changed concurrently: expected %d, removed %d", len(ids), affected)
		}
		return nil
	})
	if err != nil {
		var ke *kerrors.Error
		if errors.As(err, &ke) {
			return nil, ke
		}
		s.log.WithContext(ctx).Errorf("remove media files failed: count=%d err=%v", len(ids), err)
		return nil, errCatalog("remove media files", err)
	}

	s.log.WithContext(ctx).Infof("RemoveMediaFiles: count=%d", len(ids))
	return ids, nil
}

// FindByReference 返回引用实体下唯一的活跃记录；不存在时返回 (nil, nil)。
func (s *MediaFileService) FindByReference(ctx context.Context, referenceID int64) (*vo.MediaFileView, error) {
	if referenceID <= 0 {
		return nil, errInvalid("referenceId must be positive")
	}
	file, err := s.repo.FindFirstActiveByReference(ctx, nil, referenceID)
	if err != nil {
		if errors.Is(err, repositories.ErrMediaFileNotFound) {
			return nil, nil
		}
		return nil, errCatalog("find media file by reference", err)
	}
	return s.enricher.Enrich(ctx, file)
}

// CountByReference 统计引用实体下的活跃记录数，可选按第二引用过滤。
func (s *MediaFileService) CountByReference(ctx context.Context, referenceID int64, secondReferenceID *int64) (int64, error) {
	if referenceID <= 0 {
		return 0, errInvalid("referenceId must be positive")
	}
	if secondReferenceID != nil && *secondReferenceID <= 0 {
		return 0, errInvalid("secondReferenceId must be positive")
	}
	total, err := s.repo.CountActiveByReference(ctx, nil, referenceID, secondReferenceID)
	if err != nil {
		return 0, errCatalog("count media files by reference", err)
	}
	return total, nil
}

func (s *MediaFileService) load(ctx context.Context, id uuid.UUID) (*po.MediaFile, error) {
	file, err := s.repo.FindByUUID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrMediaFileNotFound) {
			return nil, errMediaFileNotFound(id)
		}
		s.log.WithContext(ctx).Errorf("load media file failed: uuid=%s err=%v", id, err)
		return nil, errCatalog("load media file", err)
	}
	return file, nil
}

// registerMediaFile 在同一事务中复查位置可用性并写入活跃记录。
// 数据库唯一索引兜底并发写入，冲突同样映射为 Conflict。
func registerMediaFile(ctx context.Context, tx txmanager.Manager, repo MediaFileRepo, input CreateMediaFileInput) (*po.MediaFile, error) {
	repoInput := input.toRepoInput()
	repoInput.MediaFileUUID = uuid.New()

	var created *po.MediaFile
	err := tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		if err := ensureLocationAvailable(txCtx, repo, sess, input.Bucket, input.ObjectKey, nil); err != nil {
			return err
		}
		file, repoErr := repo.Insert(txCtx, sess, repoInput)
		if repoErr != nil {
			return repoErr
		}
		created = file
		return nil
	})
	if err != nil {
		var ke *kerrors.Error
		switch {
		case errors.As(err, &ke):
			return nil, ke
		case errors.Is(err, repositories.ErrMediaFileConflict):
			return nil, errLocationConflict(input.Bucket, input.ObjectKey)
		}
		return nil, errCatalog("register media file", err)
	}
	return created, nil
}

// ensureLocationAvailable 检查是否已有活跃记录占用 (bucket, objectKey)，大小写不敏感。
func ensureLocationAvailable(ctx context.Context, repo MediaFileRepo, sess txmanager.Session, bucket, objectKey string, exclude *uuid.UUID) error {
	_, err := repo.FindActiveByLocation(ctx, sess, bucket, objectKey, exclude)
	switch {
	case err == nil:
		return errLocationConflict(bucket, objectKey)
	case errors.Is(err, repositories.ErrMediaFileNotFound):
		return nil
	default:
		return errCatalog("check media file location", err)
	}
}

func trimLocation(p MediaFilePatch) MediaFilePatch {
	if p.Bucket != nil {
		b := strings.TrimSpace(*p.Bucket)
		p.Bucket = &b
	}
	if p.ObjectKey != nil {
		k := strings.TrimSpace(*p.ObjectKey)
		p.ObjectKey = &k
	}
	return p
}
