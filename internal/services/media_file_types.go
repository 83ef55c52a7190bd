package services

import (
	"math"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// CreateMediaFileInput 描述登记一条媒体文件记录所需的字段。
// 观测元数据（ContentType 之后的字段）均为可选。
type CreateMediaFileInput struct {
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

// MediaFilePatch 是部分更新：非 nil 字段覆盖原值，nil 字段保持不变。
// 状态与删除时间不在可更新范围内。
type MediaFilePatch struct {
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

// MediaFileFilter 是列表查询的输入。Page 与 Limit 均为 nil 时返回全部匹配记录。
type MediaFileFilter struct {
	Status            *po.MediaFileStatus
	MediaFileType     *po.MediaFileType
	ReferenceType     *po.ReferenceType
	ReferenceID       *int64
	SecondReferenceID *int64
	CreatedBy         *int64
	Search            string
	SortBy            string
	SortOrder         string
	Page              *int
	Limit             *int
}

// UploadRequestItem 描述一次预签名直传请求（Flow A 第一步）。
type UploadRequestItem struct {
	Bucket      string
	ObjectKey   string
	ContentType string
}

// UploadItem 是 Flow B 中的单个条目：记录字段、文件内容以及写入对象的元数据与标签。
type UploadItem struct {
	Record   CreateMediaFileInput
	Content  []byte
	Metadata map[string]string
	Tags     map[string]string
}

// IsEmpty 报告补丁是否不包含任何字段。
func (p MediaFilePatch) IsEmpty() bool {
	return p.MediaFileType == nil && p.ReferenceType == nil && p.ReferenceID == nil &&
		p.SecondReferenceID == nil && p.Bucket == nil && p.ObjectKey == nil &&
		p.VersionID == nil && p.ContentType == nil && p.ContentLength == nil &&
		p.ETag == nil && p.LastModified == nil && p.Checksum == nil && p.Description == nil
}

// Apply 返回把补丁合并到 current 之后的有效记录，不修改 current。
func (p MediaFilePatch) Apply(current po.MediaFile) po.MediaFile {
	merged := current
	if p.MediaFileType != nil {
		merged.MediaFileType = *p.MediaFileType
	}
	if p.ReferenceType != nil {
		merged.ReferenceType = *p.ReferenceType
	}
	if p.ReferenceID != nil {
		merged.ReferenceID = *p.ReferenceID
	}
	if p.SecondReferenceID != nil {
		merged.SecondReferenceID = p.SecondReferenceID
	}
	if p.Bucket != nil {
		merged.Bucket = *p.Bucket
	}
	if p.ObjectKey != nil {
		merged.ObjectKey = *p.ObjectKey
	}
	if p.VersionID != nil {
		merged.VersionID = p.VersionID
	}
	if p.ContentType != nil {
		merged.ContentType = p.ContentType
	}
	if p.ContentLength != nil {
		merged.ContentLength = p.ContentLength
	}
	if p.ETag != nil {
		merged.ETag = p.ETag
	}
	if p.LastModified != nil {
		merged.LastModified = p.LastModified
	}
	if p.Checksum != nil {
		merged.Checksum = p.Checksum
	}
	if p.Description != nil {
		merged.Description = p.Description
	}
	return merged
}

func (p MediaFilePatch) toRepoInput() repositories.UpdateMediaFileInput {
	return repositories.UpdateMediaFileInput{
		MediaFileType:     p.MediaFileType,
		ReferenceType:     p.ReferenceType,
		ReferenceID:       p.ReferenceID,
		SecondReferenceID: p.SecondReferenceID,
		Bucket:            p.Bucket,
		ObjectKey:         p.ObjectKey,
		VersionID:         p.VersionID,
		ContentType:       p.ContentType,
		ContentLength:     p.ContentLength,
		ETag:              p.ETag,
		LastModified:      p.LastModified,
		Checksum:          p.Checksum,
		Description:       p.Description,
	}
}

func (f MediaFileFilter) toRepoFilter() repositories.MediaFileListFilter {
	return repositories.MediaFileListFilter{
		Status:            f.Status,
		MediaFileType:     f.MediaFileType,
		ReferenceType:     f.ReferenceType,
		ReferenceID:       f.ReferenceID,
		SecondReferenceID: f.SecondReferenceID,
		CreatedBy:         f.CreatedBy,
		Search:            strings.TrimSpace(f.Search),
	}
}

func (in CreateMediaFileInput) toRepoInput() repositories.InsertMediaFileInput {
	return repositories.InsertMediaFileInput{
		MediaFileType:     in.MediaFileType,
		ReferenceType:     in.ReferenceType,
		ReferenceID:       in.ReferenceID,
		SecondReferenceID: in.SecondReferenceID,
		Bucket:            in.Bucket,
		ObjectKey:         in.ObjectKey,
		VersionID:         in.VersionID,
		ContentType:       in.ContentType,
		ContentLength:     in.ContentLength,
		ETag:              in.ETag,
		LastModified:      in.LastModified,
		Checksum:          in.Checksum,
		Description:       in.Description,
		CreatedBy:         in.CreatedBy,
	}
}

// normalize 去除位置字段的首尾空白。
func (in CreateMediaFileInput) normalize() CreateMediaFileInput {
	in.Bucket = strings.TrimSpace(in.Bucket)
	in.ObjectKey = strings.TrimSpace(in.ObjectKey)
	return in
}

func validateCreateInput(in CreateMediaFileInput) error {
	if in.ReferenceID <= 0 {
		return errInvalid("referenceId must be positive")
	}
	if strings.TrimSpace(in.Bucket) == "" {
		return errInvalid("bucket is required")
	}
	if strings.TrimSpace(in.ObjectKey) == "" {
		return errInvalid("objectKey is required")
	}
	if !in.MediaFileType.Valid() {
		return errInvalid("unsupported mediaFileType %q", in.MediaFileType)
	}
	if !in.ReferenceType.Valid() {
		return errInvalid("unsupported referenceType %q", in.ReferenceType)
	}
	if in.SecondReferenceID != nil && *in.SecondReferenceID <= 0 {
		return errInvalid("secondReferenceId must be positive")
	}
	if in.CreatedBy != nil && *in.CreatedBy <= 0 {
		return errInvalid("createdBy must be positive")
	}
	if in.ContentLength != nil && *in.ContentLength < 0 {
		return errInvalid("contentLength must be non-negative")
	}
	return nil
}

func validatePatch(p MediaFilePatch) error {
	if p.IsEmpty() {
		return errInvalid("no fields to update")
	}
	if p.MediaFileType != nil && !p.MediaFileType.Valid() {
		return errInvalid("unsupported mediaFileType %q", *p.MediaFileType)
	}
	if p.ReferenceType != nil && !p.ReferenceType.Valid() {
		return errInvalid("unsupported referenceType %q", *p.ReferenceType)
	}
	if p.ReferenceID != nil && *p.ReferenceID <= 0 {
		return errInvalid("referenceId must be positive")
	}
	if p.SecondReferenceID != nil && *p.SecondReferenceID <= 0 {
		return errInvalid("secondReferenceId must be positive")
	}
	if p.Bucket != nil && strings.TrimSpace(*p.Bucket) == "" {
		return errInvalid("bucket must not be empty")
	}
	if p.ObjectKey != nil && strings.TrimSpace(*p.ObjectKey) == "" {
		return errInvalid("objectKey must not be empty")
	}
	if p.ContentLength != nil && *p.ContentLength < 0 {
		return errInvalid("contentLength must be non-negative")
	}
	return nil
}

func validateFilter(f MediaFileFilter) error {
	if f.Status != nil && !f.Status.Valid() {
		return errInvalid("unsupported status %q", *f.Status)
	}
	if f.MediaFileType != nil && !f.MediaFileType.Valid() {
		return errInvalid("unsupported mediaFileType %q", *f.MediaFileType)
	}
	if f.ReferenceType != nil && !f.ReferenceType.Valid() {
		return errInvalid("unsupported referenceType %q", *f.ReferenceType)
	}
	if f.Page != nil && *f.Page < 1 {
		return errInvalid("page must be at least 1")
	}
	if f.Limit != nil && *f.Limit < 1 {
		return errInvalid("limit must be at least 1")
	}
	if f.Page != nil {
		limit := defaultPageLimit
		if f.Limit != nil {
			limit = min(*f.Limit, maxPageLimit)
		}
		// (page-1)*limit 必须能以非负 int 表示。
		if *f.Page-1 > math.MaxInt/limit {
			return errInvalid("page %d is out of range", *f.Page)
		}
	}
	return nil
}
