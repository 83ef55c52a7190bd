// Package vo 定义视图对象（View Objects），用于向上层传递业务数据。
// VO 对象由 Service 层返回，经 controllers/dto 转换为 API 响应，隔离内部数据结构。
package vo

import (
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/google/uuid"
)

// MediaFileView 是带有临时下载地址的媒体文件视图。
// DownloadURL 每次读取时重新签发，从不持久化。
type MediaFileView struct {
	MediaFileID          int64      `json:"mediaFileId"`
	MediaFileUUID        uuid.UUID  `json:"mediaFileUuid"`
	MediaFileType        string     `json:"mediaFileType"`
	ReferenceType        string     `json:"referenceType"`
	ReferenceID          int64      `json:"referenceId"`
	SecondReferenceID    *int64     `json:"secondReferenceId,omitempty"`
	Bucket               string     `json:"bucket"`
	ObjectKey            string     `json:"objectKey"`
	VersionID            *string    `json:"versionId,omitempty"`
	ContentType          *string    `json:"contentType,omitempty"`
	ContentLength        *int64     `json:"contentLength,omitempty"`
	ETag                 *string    `json:"etag,omitempty"`
	LastModified         *time.Time `json:"lastModified,omitempty"`
	Checksum             *string    `json:"checksum,omitempty"`
	Description          *string    `json:"description,omitempty"`
	CreatedBy            *int64     `json:"createdBy,omitempty"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	DeletedAt            *time.Time `json:"deletedAt,omitempty"`
	DownloadURL          string     `json:"downloadUrl"`
	DownloadURLExpiresAt time.Time  `json:"downloadUrlExpiresAt"`
}

// NewMediaFileView 从持久化实体构造视图，下载地址由调用方填充。
func NewMediaFileView(file *po.MediaFile, downloadURL string, expiresAt time.Time) *MediaFileView {
	if file == nil {
		return nil
	}
	return &MediaFileView{
		MediaFileID:          file.MediaFileID,
		MediaFileUUID:        file.MediaFileUUID,
		MediaFileType:        string(file.MediaFileType),
		ReferenceType:        string(file.ReferenceType),
		ReferenceID:          file.ReferenceID,
		SecondReferenceID:    file.SecondReferenceID,
		Bucket:               file.Bucket,
		ObjectKey:            file.ObjectKey,
		VersionID:            file.VersionID,
		ContentType:          file.ContentType,
		ContentLength:        file.ContentLength,
		ETag:                 file.ETag,
		LastModified:         file.LastModified,
		Checksum:             file.Checksum,
		Description:          file.Description,
		CreatedBy:            file.CreatedBy,
		Status:               string(file.Status),
		CreatedAt:            file.CreatedAt,
		UpdatedAt:            file.UpdatedAt,
		DeletedAt:            file.DeletedAt,
		DownloadURL:          downloadURL,
		DownloadURLExpiresAt: expiresAt,
	}
}

// UploadTicket 描述一次直传所需的预签名 PUT 地址。
type UploadTicket struct {
	Bucket      string    `json:"bucket"`
	ObjectKey   string    `json:"objectKey"`
	ContentType string    `json:"contentType"`
	UploadURL   string    `json:"uploadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// BatchFailure 记录批处理中单个条目的失败原因。
// MediaFileUUID 仅在目录记录已经创建后才会填充。
type BatchFailure struct {
	Index         int        `json:"index"`
	ObjectKey     string     `json:"objectKey"`
	MediaFileUUID *uuid.UUID `json:"mediaFileUuid,omitempty"`
	Error         string     `json:"error"`
	Reason        string     `json:"reason,omitempty"`
}

// BatchOutcome 汇总尽力而为批处理的结果，两个切片均保持输入顺序。
type BatchOutcome[T any] struct {
	Successful []T            `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// PageSummary 描述列表查询的分页元信息。
type PageSummary struct {
	CurrentPage    int     `json:"currentPage"`
	NextPage       *int    `json:"nextPage"`
	PreviousPage   *int    `json:"previousPage"`
	TotalPages     int     `json:"totalPages"`
	TotalRecords   int64   `json:"totalRecords"`
	RecordsPerPage int     `json:"recordsPerPage"`
	SortBy         string  `json:"sortBy"`
	SortOrder      string  `json:"sortOrder"`
	SearchTerm     *string `json:"searchTerm"`
}

// MediaFilePage 是列表查询的返回值。
type MediaFilePage struct {
	Items      []*MediaFileView `json:"data"`
	Pagination PageSummary      `json:"pagination"`
}

// DriftEntry 描述一条与对象存储不一致的活跃记录。
type DriftEntry struct {
	MediaFileUUID uuid.UUID `json:"mediaFileUuid"`
	Bucket        string    `json:"bucket"`
	ObjectKey     string    `json:"objectKey"`
	Fields        []string  `json:"fields,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// ReconcileReport 汇总一次对账扫描的结果。
type ReconcileReport struct {
	Scanned   int          `json:"scanned"`
	Missing   []DriftEntry `json:"missing"`
	Drifted   []DriftEntry `json:"drifted"`
	Failed    []DriftEntry `json:"failed"`
	Refreshed int          `json:"refreshed"`
}
