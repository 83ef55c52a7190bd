// Package mappers 负责 catalog.media_files 行结构与 po 实体之间的转换。
package mappers

import (
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// MediaFileRow 与 MediaFileColumns 的列顺序一一对应。
type MediaFileRow struct {
	MediaFileID       int64
	MediaFileUUID     pgtype.UUID
	MediaFileType     string
	ReferenceType     string
	ReferenceID       int64
	SecondReferenceID pgtype.Int8
	Bucket            string
	ObjectKey         string
	VersionID         pgtype.Text
	ContentType       pgtype.Text
	ContentLength     pgtype.Int8
	ETag              pgtype.Text
	LastModified      pgtype.Timestamptz
	Checksum          pgtype.Text
	Description       pgtype.Text
	CreatedBy         pgtype.Int8
	Status            string
	CreatedAt         pgtype.Timestamptz
	UpdatedAt         pgtype.Timestamptz
	DeletedAt         pgtype.Timestamptz
}

// MediaFileColumns 是所有查询共享的列清单。
const MediaFileColumns = `media_file_id, media_file_uuid, media_file_type, reference_type, reference_id,
	second_reference_id, bucket, object_key, version_id, content_type, content_length, etag,
	last_modified, checksum, description, created_by, status, created_at, updated_at, deleted_at`

// ScanTargets 返回 rows.Scan 所需的目标指针。
func (r *MediaFileRow) ScanTargets() []any {
	return []any{
		&r.MediaFileID,
		&r.MediaFileUUID,
		&r.MediaFileType,
		&r.ReferenceType,
		&r.ReferenceID,
		&r.SecondReferenceID,
		&r.Bucket,
		&r.ObjectKey,
		&r.VersionID,
		&r.ContentType,
		&r.ContentLength,
		&r.ETag,
		&r.LastModified,
		&r.Checksum,
		&r.Description,
		&r.CreatedBy,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.DeletedAt,
	}
}

// MediaFileFromRow 将数据库行转换为领域实体。
func MediaFileFromRow(row MediaFileRow) *po.MediaFile {
	return &po.MediaFile{
		MediaFileID:       row.MediaFileID,
		MediaFileUUID:     uuid.UUID(row.MediaFileUUID.Bytes),
		MediaFileType:     po.MediaFileType(row.MediaFileType),
		ReferenceType:     po.ReferenceType(row.ReferenceType),
		ReferenceID:       row.ReferenceID,
		SecondReferenceID: int8Ptr(row.SecondReferenceID),
		Bucket:            row.Bucket,
		ObjectKey:         row.ObjectKey,
		VersionID:         textPtr(row.VersionID),
		ContentType:       textPtr(row.ContentType),
		ContentLength:     int8Ptr(row.ContentLength),
		ETag:              textPtr(row.ETag),
		LastModified:      timestampPtr(row.LastModified),
		Checksum:          textPtr(row.Checksum),
		Description:       textPtr(row.Description),
		CreatedBy:         int8Ptr(row.CreatedBy),
		Status:            po.MediaFileStatus(row.Status),
		CreatedAt:         mustTimestamp(row.CreatedAt),
		UpdatedAt:         mustTimestamp(row.UpdatedAt),
		DeletedAt:         timestampPtr(row.DeletedAt),
	}
}

// ToPgUUID 将 uuid.UUID 转换为 pgtype.UUID。
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// ToPgText 将可空字符串转换为 pgtype.Text。
func ToPgText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

// ToPgInt8 将可空 int64 转换为 pgtype.Int8。
func ToPgInt8(value *int64) pgtype.Int8 {
	if value == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *value, Valid: true}
}

// ToPgTimestamptz 将可空时间转换为 UTC 的 pgtype.Timestamptz。
func ToPgTimestamptz(value *time.Time) pgtype.Timestamptz {
	if value == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{
		Time:  value.UTC(),
		Valid: true,
	}
}

func mustTimestamp(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

func timestampPtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func int8Ptr(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}
