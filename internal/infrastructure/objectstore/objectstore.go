// Package objectstore 定义对象存储适配器共享的数据结构与哨兵错误。
// 具体实现位于 gcs 与 s3 子包，服务层只依赖这里的类型。
package objectstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrObjectNotFound 表示对象（或指定版本）在存储中不存在。
var ErrObjectNotFound = errors.New("object not found")

// ErrBucketRequired 表示既未传入 bucket 也未配置默认 bucket。
var ErrBucketRequired = errors.New("bucket is required")

// DefaultContentType 是未声明内容类型时使用的 MIME。
const DefaultContentType = "application/octet-stream"

// ObjectInfo 是 HEAD 得到的对象元数据快照。
type ObjectInfo struct {
	ETag          string
	ContentLength int64
	ContentType   string
	VersionID     string
	LastModified  time.Time
	Checksum      string
}

// PutInput 描述一次直接写入。
type PutInput struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
	Tags        map[string]string
}

// PutResult 是写入成功后存储返回的标识。
type PutResult struct {
	ETag      string
	VersionID string
}

// ObjectRef 标识一个对象（可选版本）。
type ObjectRef struct {
	Key       string
	VersionID string
}

// DeleteError 描述批量删除中单个对象的失败。
type DeleteError struct {
	Key     string
	Code    string
	Message string
}

// DeleteResult 汇总批量删除结果。
type DeleteResult struct {
	Deleted []ObjectRef
	Errors  []DeleteError
}

// Store 是对象存储适配器的统一能力集合。
type Store interface {
	PresignUpload(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, time.Time, error)
	PresignDownload(ctx context.Context, bucket, key string, versionID *string, ttl time.Duration) (string, time.Time, error)
	PutObject(ctx context.Context, input PutInput) (*PutResult, error)
	HeadObject(ctx context.Context, bucket, key string, versionID *string) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, key string, versionID *string) error
	DeleteObjects(ctx context.Context, bucket string, refs []ObjectRef) (*DeleteResult, error)
	DefaultBucket() string
}

// ResolveBucket 返回显式 bucket，缺省时回退到默认 bucket。
func ResolveBucket(bucket, fallback string) (string, error) {
	if b := strings.TrimSpace(bucket); b != "" {
		return b, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrBucketRequired
}

// ContentTypeOrDefault 返回非空内容类型。
func ContentTypeOrDefault(contentType string) string {
	if ct := strings.TrimSpace(contentType); ct != "" {
		return ct
	}
	return DefaultContentType
}

// Deref 返回字符串指针的值，nil 时为空串。
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
