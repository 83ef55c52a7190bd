// Package po 定义持久化对象（Persistent Objects），与 catalog schema 中的表一一对应。
package po

import (
	"time"

	"github.com/google/uuid"
)

// MediaFileStatus 表示媒体文件记录的生命周期状态。
type MediaFileStatus string

const (
	MediaFileStatusActive   MediaFileStatus = "active"
	MediaFileStatusInactive MediaFileStatus = "inactive"
)

// Valid 判断状态是否属于已知取值。
func (s MediaFileStatus) Valid() bool {
	switch s {
	case MediaFileStatusActive, MediaFileStatusInactive:
		return true
	}
	return false
}

// MediaFileType 描述文件内容的分类。
type MediaFileType string

const (
	MediaFileTypeImage    MediaFileType = "image"
	MediaFileTypeVideo    MediaFileType = "video"
	MediaFileTypeAudio    MediaFileType = "audio"
	MediaFileTypePDF      MediaFileType = "pdf"
	MediaFileTypeDocument MediaFileType = "document"
	MediaFileTypeOther    MediaFileType = "other"
)

// Valid 判断类型是否属于已知取值。
func (t MediaFileType) Valid() bool {
	switch t {
	case MediaFileTypeImage, MediaFileTypeVideo, MediaFileTypeAudio,
		MediaFileTypePDF, MediaFileTypeDocument, MediaFileTypeOther:
		return true
	}
	return false
}

// ReferenceType 描述文件所归属的业务实体类别。
type ReferenceType string

const (
	ReferenceTypeVehicle     ReferenceType = "vehicle"
	ReferenceTypeMaintenance ReferenceType = "maintenance"
	ReferenceTypeUser        ReferenceType = "user"
	ReferenceTypeDriver      ReferenceType = "driver"
	ReferenceTypeInspection  ReferenceType = "inspection"
	ReferenceTypeOther       ReferenceType = "other"
)

// Valid 判断引用类型是否属于已知取值。
func (t ReferenceType) Valid() bool {
	switch t {
	case ReferenceTypeVehicle, ReferenceTypeMaintenance, ReferenceTypeUser,
		ReferenceTypeDriver, ReferenceTypeInspection, ReferenceTypeOther:
		return true
	}
	return false
}

// MediaFile 对应 catalog.media_files 表中的一条记录。
//
// ContentType/ContentLength/ETag/LastModified/Checksum 是对象存储中观测值的缓存，
// 可能与对象实际状态存在偏差（由 reconcile 任务发现）。
// Status 为 inactive 时 DeletedAt 必然非空，反之亦然。
type MediaFile struct {
	MediaFileID       int64
	MediaFileUUID     uuid.UUID
	MediaFileType     MediaFileType
	ReferenceType     ReferenceType
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
	Status            MediaFileStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// IsActive 判断记录是否处于活跃且未软删除的状态。
func (m *MediaFile) IsActive() bool {
	return m != nil && m.Status == MediaFileStatusActive && m.DeletedAt == nil
}
