package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories/mappers"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrMediaFileNotFound 表示目标媒体文件记录不存在。
	ErrMediaFileNotFound = errors.New("media file not found")
	// ErrMediaFileConflict 表示 (bucket, object_key) 已被另一条活跃记录占用。
	ErrMediaFileConflict = errors.New("media file location already registered")
	// ErrMediaFileStateChanged 表示条件状态迁移未命中（记录已不处于期望状态）。
	ErrMediaFileStateChanged = errors.New("media file state changed concurrently")
)

// dbtx 抽象 pgxpool.Pool 与 pgx.Tx 的公共查询能力。
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MediaFileRepository 封装 catalog.media_files 表的访问逻辑。
type MediaFileRepository struct {
	db  *pgxpool.Pool
	log *log.Helper
}

// NewMediaFileRepository 构造 MediaFileRepository。
func NewMediaFileRepository(db *pgxpool.Pool, logger log.Logger) *MediaFileRepository {
	return &MediaFileRepository{
		db:  db,
		log: log.NewHelper(logger),
	}
}

// InsertMediaFileInput 描述新增目录记录所需字段，状态固定为 active。
type InsertMediaFileInput struct {
	MediaFileUUID     uuid.UUID
	MediaFileType     po.MediaFileType
	ReferenceType     po.ReferenceType
	ReferenceID       int64
	SecondReferenceID *int64
	Bucket            string
	ObjectKey         string
	VersionID         *string
	ContentType       *string
	ContentLength     *int64
	ETag              *string
	LastModified      *time.Time
	Checksum          *string
	Description       *string
	CreatedBy         *int64
}

// UpdateMediaFileInput 描述部分更新，nil 字段保持原值。
type UpdateMediaFileInput struct {
	MediaFileType     *po.MediaFileType
	ReferenceType     *po.ReferenceType
	ReferenceID       *int64
	SecondReferenceID *int64
	Bucket            *string
	ObjectKey         *string
	VersionID         *string
	ContentType       *string
	ContentLength     *int64
	ETag              *string
	LastModified      *time.Time
	Checksum          *string
	Description       *string
}

// ObservedMetadata 是从对象存储 HEAD 得到的元数据快照。
type ObservedMetadata struct {
	ContentType   *string
	ContentLength *int64
	ETag          *string
	LastModified  *time.Time
	Checksum      *string
}

func (r *MediaFileRepository) conn(sess txmanager.Session) dbtx {
	if sess != nil {
		if tx := sess.Tx(); tx != nil {
			return tx
		}
	}
	return r.db
}

// Insert 写入一条活跃记录；唯一索引冲突时返回 ErrMediaFileConflict。
func (r *MediaFileRepository) Insert(ctx context.Context, sess txmanager.Session, input InsertMediaFileInput) (*po.MediaFile, error) {
	query := `
		INSERT INTO catalog.media_files (
			media_file_uuid, media_file_type, reference_type, reference_id, second_reference_id,
			bucket, object_key, version_id, content_type, content_length, etag,
			last_modified, checksum, description, created_by, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'active')
		RETURNING ` + mappers.MediaFileColumns

	file, err := r.scanOne(r.conn(sess).QueryRow(ctx, query,
		mappers.ToPgUUID(input.MediaFileUUID),
		string(input.MediaFileType),
		string(input.ReferenceType),
		input.ReferenceID,
		mappers.ToPgInt8(input.SecondReferenceID),
		input.Bucket,
		input.ObjectKey,
		mappers.ToPgText(input.VersionID),
		mappers.ToPgText(input.ContentType),
		mappers.ToPgInt8(input.ContentLength),
		mappers.ToPgText(input.ETag),
		mappers.ToPgTimestamptz(input.LastModified),
		mappers.ToPgText(input.Checksum),
		mappers.ToPgText(input.Description),
		mappers.ToPgInt8(input.CreatedBy),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMediaFileConflict
		}
		r.log.WithContext(ctx).Errorf("insert media file failed: bucket=%s key=%s err=%v", input.Bucket, input.ObjectKey, err)
		return nil, fmt.Errorf("insert media file: %w", err)
	}
	return file, nil
}

// FindByUUID 按 uuid 查询记录（包含已软删除的记录）。
func (r *MediaFileRepository) FindByUUID(ctx context.Context, sess txmanager.Session, id uuid.UUID) (*po.MediaFile, error) {
	query := `SELECT ` + mappers.MediaFileColumns + ` FROM catalog.media_files WHERE media_file_uuid = $1`
	file, err := r.scanOne(r.conn(sess).QueryRow(ctx, query, mappers.ToPgUUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMediaFileNotFound
		}
		r.log.WithContext(ctx).Errorf("find media file failed: uuid=%s err=%v", id, err)
		return nil, fmt.Errorf("find media file: %w", err)
	}
	return file, nil
}

// FindByUUIDs 批量查询记录；forUpdate 为 true 时对命中行加行锁（需在事务内调用）。
func (r *MediaFileRepository) FindByUUIDs(ctx context.Context, sess txmanager.Session, ids []uuid.UUID, forUpdate bool) ([]*po.MediaFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + mappers.MediaFileColumns + `
		FROM catalog.media_files
		WHERE media_file_uuid = ANY($1::uuid[])
		ORDER BY media_file_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	files, err := r.scanMany(r.conn(sess).Query(ctx, query, uuidStrings(ids)))
	if err != nil {
		r.log.WithContext(ctx).Errorf("find media files failed: count=%d err=%v", len(ids), err)
		return nil, fmt.Errorf("find media files: %w", err)
	}
	return files, nil
}

// FindMany 按过滤条件、排序与分页返回记录列表。
func (r *MediaFileRepository) FindMany(ctx context.Context, sess txmanager.Session, q MediaFileQuery) ([]*po.MediaFile, error) {
	where, args := buildMediaFileWhere(q.Filter, 1)
	query := fmt.Sprintf(`SELECT %s FROM catalog.media_files %s %s`,
		mappers.MediaFileColumns, where, buildMediaFileOrder(q.SortBy, q.Descending))
	if q.Limit > 0 {
		argNum := len(args) + 1
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
		args = append(args, q.Limit, q.Offset)
	}

	files, err := r.scanMany(r.conn(sess).Query(ctx, query, args...))
	if err != nil {
		r.log.WithContext(ctx).Errorf("list media files failed: err=%v", err)
		return nil, fmt.Errorf("list media files: %w", err)
	}
	return files, nil
}

// Count 返回满足过滤条件的记录总数。
func (r *MediaFileRepository) Count(ctx context.Context, sess txmanager.Session, filter MediaFileListFilter) (int64, error) {
	where, args := buildMediaFileWhere(filter, 1)
	query := fmt.Sprintf(`SELECT count(*) FROM catalog.media_files %s`, where)

	var total int64
	if err := r.conn(sess).QueryRow(ctx, query, args...).Scan(&total); err != nil {
		r.log.WithContext(ctx).Errorf("count media files failed: err=%v", err)
		return 0, fmt.Errorf("count media files: %w", err)
	}
	return total, nil
}

// UpdateByUUID 对记录执行部分更新，不触碰 status/deleted_at。
func (r *MediaFileRepository) UpdateByUUID(ctx context.Context, sess txmanager.Session, id uuid.UUID, input UpdateMediaFileInput) (*po.MediaFile, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if input.MediaFileType != nil {
		add("media_file_type", string(*input.MediaFileType))
	}
	if input.ReferenceType != nil {
		add("reference_type", string(*input.ReferenceType))
	}
	if input.ReferenceID != nil {
		add("reference_id", *input.ReferenceID)
	}
	if input.SecondReferenceID != nil {
		add("second_reference_id", *input.SecondReferenceID)
	}
	if input.Bucket != nil {
		add("bucket", *input.Bucket)
	}
	if input.ObjectKey != nil {
		add("object_key", *input.ObjectKey)
	}
	if input.VersionID != nil {
		add("version_id", *input.VersionID)
	}
	if input.ContentType != nil {
		add("content_type", *input.ContentType)
	}
	if input.ContentLength != nil {
		add("content_length", *input.ContentLength)
	}
	if input.ETag != nil {
		add("etag", *input.ETag)
	}
	if input.LastModified != nil {
		add("last_modified", input.LastModified.UTC())
	}
	if input.Checksum != nil {
		add("checksum", *input.Checksum)
	}
	if input.Description != nil {
		add("description", *input.Description)
	}
	if len(sets) == 0 {
		return r.FindByUUID(ctx, sess, id)
	}

	args = append(args, mappers.ToPgUUID(id))
	query := fmt.Sprintf(`UPDATE catalog.media_files SET %s, updated_at = now() WHERE media_file_uuid = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), mappers.MediaFileColumns)

	file, err := r.scanOne(r.conn(sess).QueryRow(ctx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrMediaFileNotFound
		case isUniqueViolation(err):
			return nil, ErrMediaFileConflict
		}
		r.log.WithContext(ctx).Errorf("update media file failed: uuid=%s err=%v", id, err)
		return nil, fmt.Errorf("update media file: %w", err)
	}
	return file, nil
}

// UpdateStatus 条件迁移单条记录的状态：仅当当前状态为 from 时生效。
// 迁移到 inactive 时写入 deleted_at，迁移到 active 时清空 deleted_at。
func (r *MediaFileRepository) UpdateStatus(ctx context.Context, sess txmanager.Session, id uuid.UUID, from, to po.MediaFileStatus, at time.Time) (*po.MediaFile, error) {
	query := `
		UPDATE catalog.media_files
		SET status = $2,
		    deleted_at = CASE WHEN $2 = 'inactive' THEN $4::timestamptz ELSE NULL END,
		    updated_at = now()
		WHERE media_file_uuid = $1 AND status = $3
		RETURNING ` + mappers.MediaFileColumns

	file, err := r.scanOne(r.conn(sess).QueryRow(ctx, query, mappers.ToPgUUID(id), string(to), string(from), at.UTC()))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrMediaFileStateChanged
		case isUniqueViolation(err):
			return nil, ErrMediaFileConflict
		}
		r.log.WithContext(ctx).Errorf("update media file status failed: uuid=%s to=%s err=%v", id, to, err)
		return nil, fmt.Errorf("update media file status: %w", err)
	}
	return file, nil
}

// UpdateStatusMany 在同一语句中迁移多条记录的状态，返回受影响行数。
func (r *MediaFileRepository) UpdateStatusMany(ctx context.Context, sess txmanager.Session, ids []uuid.UUID, from, to po.MediaFileStatus, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE catalog.media_files
		SET status = $2,
		    deleted_at = CASE WHEN $2 = 'inactive' THEN $4::timestamptz ELSE NULL END,
		    updated_at = now()
		WHERE media_file_uuid = ANY($1::uuid[]) AND status = $3`

	tag, err := r.conn(sess).Exec(ctx, query, uuidStrings(ids), string(to), string(from), at.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrMediaFileConflict
		}
		r.log.WithContext(ctx).Errorf("update media files status failed: count=%d to=%s err=%v", len(ids), to, err)
		return 0, fmt.Errorf("update media files status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindActiveByLocation 大小写不敏感地查找占用 (bucket, objectKey) 的活跃记录。
// exclude 非空时忽略该 uuid（用于更新自身时的唯一性复查）。
func (r *MediaFileRepository) FindActiveByLocation(ctx context.Context, sess txmanager.Session, bucket, objectKey string, exclude *uuid.UUID) (*po.MediaFile, error) {
	query := `SELECT ` + mappers.MediaFileColumns + `
		FROM catalog.media_files
		WHERE lower(bucket) = lower($1)
		  AND lower(object_key) = lower($2)
		  AND status = 'active'
		  AND deleted_at IS NULL
		  AND ($3::uuid IS NULL OR media_file_uuid <> $3::uuid)
		LIMIT 1`

	var excluded any
	if exclude != nil {
		excluded = mappers.ToPgUUID(*exclude)
	}
	file, err := r.scanOne(r.conn(sess).QueryRow(ctx, query, bucket, objectKey, excluded))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMediaFileNotFound
		}
		r.log.WithContext(ctx).Errorf("find media file by location failed: bucket=%s key=%s err=%v", bucket, objectKey, err)
		return nil, fmt.Errorf("find media file by location: %w", err)
	}
	return file, nil
}

// FindFirstActiveByReference 返回引用实体下序号最小的活跃记录。
func (r *MediaFileRepository) FindFirstActiveByReference(ctx context.Context, sess txmanager.Session, referenceID int64) (*po.MediaFile, error) {
	query := `SELECT ` + mappers.MediaFileColumns + `
		FROM catalog.media_files
		WHERE reference_id = $1 AND status = 'active' AND deleted_at IS NULL
		ORDER BY media_file_id
		LIMIT 1`

	file, err := r.scanOne(r.conn(sess).QueryRow(ctx, query, referenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMediaFileNotFound
		}
		r.log.WithContext(ctx).Errorf("find media file by reference failed: reference_id=%d err=%v", referenceID, err)
		return nil, fmt.Errorf("find media file by reference: %w", err)
	}
	return file, nil
}

// CountActiveByReference 统计引用实体下的活跃记录数。
func (r *MediaFileRepository) CountActiveByReference(ctx context.Context, sess txmanager.Session, referenceID int64, secondReferenceID *int64) (int64, error) {
	query := `
		SELECT count(*)
		FROM catalog.media_files
		WHERE reference_id = $1
		  AND ($2::bigint IS NULL OR second_reference_id = $2::bigint)
		  AND status = 'active'
		  AND deleted_at IS NULL`

	var total int64
	if err := r.conn(sess).QueryRow(ctx, query, referenceID, mappers.ToPgInt8(secondReferenceID)).Scan(&total); err != nil {
		r.log.WithContext(ctx).Errorf("count media files by reference failed: reference_id=%d err=%v", referenceID, err)
		return 0, fmt.Errorf("count media files by reference: %w", err)
	}
	return total, nil
}

// ListActiveAfter 以 media_file_id 为游标分页读取活跃记录，bucket 为空时不过滤。
func (r *MediaFileRepository) ListActiveAfter(ctx context.Context, sess txmanager.Session, bucket string, afterID int64, limit int) ([]*po.MediaFile, error) {
	query := `SELECT ` + mappers.MediaFileColumns + `
		FROM catalog.media_files
		WHERE media_file_id > $1
		  AND status = 'active'
		  AND deleted_at IS NULL
		  AND ($2::text = '' OR lower(bucket) = lower($2::text))
		ORDER BY media_file_id
		LIMIT $3`

	files, err := r.scanMany(r.conn(sess).Query(ctx, query, afterID, bucket, limit))
	if err != nil {
		r.log.WithContext(ctx).Errorf("list active media files failed: after=%d err=%v", afterID, err)
		return nil, fmt.Errorf("list active media files: %w", err)
	}
	return files, nil
}

// UpdateObservedMetadata 用对象存储的最新观测值覆盖缓存字段。
func (r *MediaFileRepository) UpdateObservedMetadata(ctx context.Context, sess txmanager.Session, id uuid.UUID, meta ObservedMetadata) error {
	query := `
		UPDATE catalog.media_files
		SET content_type = $2,
		    content_length = $3,
		    etag = $4,
		    last_modified = $5,
		    checksum = COALESCE($6, checksum),
		    updated_at = now()
		WHERE media_file_uuid = $1`

	tag, err := r.conn(sess).Exec(ctx, query,
		mappers.ToPgUUID(id),
		mappers.ToPgText(meta.ContentType),
		mappers.ToPgInt8(meta.ContentLength),
		mappers.ToPgText(meta.ETag),
		mappers.ToPgTimestamptz(meta.LastModified),
		mappers.ToPgText(meta.Checksum),
	)
	if err != nil {
		r.log.WithContext(ctx).Errorf("update observed metadata failed: uuid=%s err=%v", id, err)
		return fmt.Errorf("update observed metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMediaFileNotFound
	}
	return nil
}

func (r *MediaFileRepository) scanOne(row pgx.Row) (*po.MediaFile, error) {
	var rec mappers.MediaFileRow
	if err := row.Scan(rec.ScanTargets()...); err != nil {
		return nil, err
	}
	return mappers.MediaFileFromRow(rec), nil
}

func (r *MediaFileRepository) scanMany(rows pgx.Rows, err error) ([]*po.MediaFile, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*po.MediaFile
	for rows.Next() {
		var rec mappers.MediaFileRow
		if err := rows.Scan(rec.ScanTargets()...); err != nil {
			return nil, err
		}
		files = append(files, mappers.MediaFileFromRow(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
