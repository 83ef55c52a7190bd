// Package dto 定义 HTTP 请求/响应体，以及与 services 输入之间的转换。
package dto

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/google/uuid"
)

// CreateMediaFileRequest 是 POST /v1/media-files 与 /v1/media-files/confirm 的请求体。
type CreateMediaFileRequest struct {
	MediaFileType     string     `json:"mediaFileType"`
	ReferenceType     string     `json:"referenceType"`
	ReferenceID       int64      `json:"referenceId"`
	SecondReferenceID *int64     `json:"secondReferenceId,omitempty"`
	Bucket            string     `json:"bucket"`
	ObjectKey         string     `json:"objectKey"`
	VersionID         *string    `json:"versionId,omitempty"`
	ContentType       *string    `json:"contentType,omitempty"`
	ContentLength     *int64     `json:"contentLength,omitempty"`
	ETag              *string    `json:"etag,omitempty"`
	LastModified      *time.Time `json:"lastModified,omitempty"`
	Checksum          *string    `json:"checksum,omitempty"`
	Description       *string    `json:"description,omitempty"`
	CreatedBy         *int64     `json:"createdBy,omitempty"`
}

// ToInput 转换为服务层输入；请求体未携带 createdBy 时使用 fallback。
func (r CreateMediaFileRequest) ToInput(fallbackCreatedBy *int64) services.CreateMediaFileInput {
	createdBy := r.CreatedBy
	if createdBy == nil {
		createdBy = fallbackCreatedBy
	}
	return services.CreateMediaFileInput{
		MediaFileType:     po.MediaFileType(strings.TrimSpace(r.MediaFileType)),
		ReferenceType:     po.ReferenceType(strings.TrimSpace(r.ReferenceType)),
		ReferenceID:       r.ReferenceID,
		SecondReferenceID: r.SecondReferenceID,
		Bucket:            r.Bucket,
		ObjectKey:         r.ObjectKey,
		VersionID:         r.VersionID,
		ContentType:       r.ContentType,
		ContentLength:     r.ContentLength,
		ETag:              r.ETag,
		LastModified:      r.LastModified,
		Checksum:          r.Checksum,
		Description:       r.Description,
		CreatedBy:         createdBy,
	}
}

// UpdateMediaFileRequest 是 PUT /v1/media-files/{uuid} 的请求体，所有字段可选。
type UpdateMediaFileRequest struct {
	MediaFileType     *string    `json:"mediaFileType,omitempty"`
	ReferenceType     *string    `json:"referenceType,omitempty"`
	ReferenceID       *int64     `json:"referenceId,omitempty"`
	SecondReferenceID *int64     `json:"secondReferenceId,omitempty"`
	Bucket            *string    `json:"bucket,omitempty"`
	ObjectKey         *string    `json:"objectKey,omitempty"`
	VersionID         *string    `json:"versionId,omitempty"`
	ContentType       *string    `json:"contentType,omitempty"`
	ContentLength     *int64     `json:"contentLength,omitempty"`
	ETag              *string    `json:"etag,omitempty"`
	LastModified      *time.Time `json:"lastModified,omitempty"`
	Checksum          *string    `json:"checksum,omitempty"`
	Description       *string    `json:"description,omitempty"`
}

// ToPatch 转换为服务层补丁。
func (r UpdateMediaFileRequest) ToPatch() services.MediaFilePatch {
	patch := services.MediaFilePatch{
		ReferenceID:       r.ReferenceID,
		SecondReferenceID: r.SecondReferenceID,
		Bucket:            r.Bucket,
		ObjectKey:         r.ObjectKey,
		VersionID:         r.VersionID,
		ContentType:       r.ContentType,
		ContentLength:     r.ContentLength,
		ETag:              r.ETag,
		LastModified:      r.LastModified,
		Checksum:          r.Checksum,
		Description:       r.Description,
	}
	if r.MediaFileType != nil {
		t := po.MediaFileType(strings.TrimSpace(*r.MediaFileType))
		patch.MediaFileType = &t
	}
	if r.ReferenceType != nil {
		t := po.ReferenceType(strings.TrimSpace(*r.ReferenceType))
		patch.ReferenceType = &t
	}
	return patch
}

// RemoveManyRequest 是批量软删除的请求体。
type RemoveManyRequest struct {
	MediaFileUUIDs []string `json:"mediaFileUuids"`
}

// RemoveManyResponse 返回被删除的 uuid 列表。
type RemoveManyResponse struct {
	Removed []uuid.UUID `json:"removed"`
}

// UploadURLRequest 是预签名直传请求中的单个条目。
type UploadURLRequest struct {
	Bucket      string `json:"bucket"`
	ObjectKey   string `json:"objectKey"`
	ContentType string `json:"contentType"`
}

// ToUploadRequestItems 转换为服务层输入。
func ToUploadRequestItems(reqs []UploadURLRequest) []services.UploadRequestItem {
	items := make([]services.UploadRequestItem, len(reqs))
	for i, r := range reqs {
		items[i] = services.UploadRequestItem{Bucket: r.Bucket, ObjectKey: r.ObjectKey, ContentType: r.ContentType}
	}
	return items
}

// UploadMetadata 是 multipart 上传中 metadata 数组的元素，与 files 按顺序对齐。
type UploadMetadata struct {
	CreateMediaFileRequest
	Metadata map[string]string `json:"metadata,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// CountResponse 是按引用计数的响应体。
type CountResponse struct {
	ReferenceID       int64  `json:"referenceId"`
	SecondReferenceID *int64 `json:"secondReferenceId,omitempty"`
	Count             int64  `json:"count"`
}

// ParseMediaFileUUID 解析路径中的 uuid。
func ParseMediaFileUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid media file uuid %q", raw)
	}
	return id, nil
}

// ParseReferenceID 解析路径或查询参数中的正整数引用 ID。
func ParseReferenceID(name, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return v, nil
}

// ParseListQuery 把查询字符串转换为列表过滤条件；枚举与范围由服务层校验。
func ParseListQuery(q url.Values) (services.MediaFileFilter, error) {
	filter := services.MediaFileFilter{
		Search:    q.Get("search"),
		SortBy:    strings.TrimSpace(q.Get("sortBy")),
		SortOrder: strings.TrimSpace(q.Get("sortOrder")),
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		s := po.MediaFileStatus(v)
		filter.Status = &s
	}
	if v := strings.TrimSpace(q.Get("mediaFileType")); v != "" {
		t := po.MediaFileType(v)
		filter.MediaFileType = &t
	}
	if v := strings.TrimSpace(q.Get("referenceType")); v != "" {
		t := po.ReferenceType(v)
		filter.ReferenceType = &t
	}

	var err error
	if filter.ReferenceID, err = optionalInt64(q, "referenceId"); err != nil {
		return filter, err
	}
	if filter.SecondReferenceID, err = optionalInt64(q, "secondReferenceId"); err != nil {
		return filter, err
	}
	if filter.CreatedBy, err = optionalInt64(q, "createdBy"); err != nil {
		return filter, err
	}
	if filter.Page, err = optionalInt(q, "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = optionalInt(q, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

// OptionalInt64 读取可选的 int64 查询参数。
func OptionalInt64(q url.Values, name string) (*int64, error) {
	return optionalInt64(q, name)
}

func optionalInt64(q url.Values, name string) (*int64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return &v, nil
}

func optionalInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return &v, nil
}
