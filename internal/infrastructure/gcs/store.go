package gcs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/api/option"
)

// tagMetadataPrefix 标记由对象标签转换而来的自定义元数据（GCS 没有对象级标签）。
const tagMetadataPrefix = "tag-"

// Store 实现 objectstore.Store，对象版本以 GCS generation 表示。
type Store struct {
	client        *storage.Client
	signer        *URLSigner
	defaultBucket string
	log           *log.Helper
}

// NewStore 组装 GCS 适配器。client 由调用方管理生命周期。
func NewStore(client *storage.Client, signer *URLSigner, defaultBucket string, logger log.Logger) *Store {
	return &Store{
		client:        client,
		signer:        signer,
		defaultBucket: defaultBucket,
		log:           log.NewHelper(logger),
	}
}

// NewStoreFromConfig 根据配置创建客户端与签名器，返回的 cleanup 会关闭客户端。
func NewStoreFromConfig(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (*Store, func(), error) {
	var opts []option.ClientOption
	if cfg.GCS.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
	}
	if cfg.GCS.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.GCS.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcs client: %w", err)
	}
	signer, err := NewURLSigner(ctx, cfg.GCS.SignerServiceAccount, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.NewHelper(logger).Warnf("close gcs client: %v", err)
		}
	}
	return NewStore(client, signer, cfg.DefaultBucket, logger), cleanup, nil
}

// DefaultBucket 返回配置的默认 bucket。
func (s *Store) DefaultBucket() string {
	return s.defaultBucket
}

// PresignUpload 生成 PUT Signed URL。
func (s *Store) PresignUpload(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, time.Time, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.signer.SignedPutURL(ctx, b, key, objectstore.ContentTypeOrDefault(contentType), ttl)
}

// PresignDownload 生成 GET Signed URL。
func (s *Store) PresignDownload(ctx context.Context, bucket, key string, versionID *string, ttl time.Duration) (string, time.Time, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.signer.SignedGetURL(ctx, b, key, objectstore.Deref(versionID), ttl)
}

// PutObject 通过 Writer 上传对象；标签以 tag- 前缀写入自定义元数据。
func (s *Store) PutObject(ctx context.Context, input objectstore.PutInput) (*objectstore.PutResult, error) {
	b, err := objectstore.ResolveBucket(input.Bucket, s.defaultBucket)
	if err != nil {
		return nil, err
	}

	w := s.client.Bucket(b).Object(input.Key).NewWriter(ctx)
	w.ContentType = objectstore.ContentTypeOrDefault(input.ContentType)
	if len(input.Metadata) > 0 || len(input.Tags) > 0 {
		w.Metadata = make(map[string]string, len(input.Metadata)+len(input.Tags))
		for k, v := range input.Metadata {
			w.Metadata[k] = v
		}
		for k, v := range input.Tags {
			w.Metadata[tagMetadataPrefix+k] = v
		}
	}

	if _, err := w.Write(input.Body); err != nil {
		_ = w.Close()
		s.log.WithContext(ctx).Errorf("gcs write failed: bucket=%s key=%s err=%v", b, input.Key, err)
		return nil, fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		s.log.WithContext(ctx).Errorf("gcs finalize failed: bucket=%s key=%s err=%v", b, input.Key, err)
		return nil, fmt.Errorf("gcs finalize: %w", err)
	}

	attrs := w.Attrs()
	return &objectstore.PutResult{
		ETag:      attrs.Etag,
		VersionID: strconv.FormatInt(attrs.Generation, 10),
	}, nil
}

// HeadObject 读取对象属性；对象或指定 generation 不存在时返回 objectstore.ErrObjectNotFound。
func (s *Store) HeadObject(ctx context.Context, bucket, key string, versionID *string) (*objectstore.ObjectInfo, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return nil, err
	}
	obj, err := s.object(b, key, versionID)
	if err != nil {
		return nil, err
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, objectstore.ErrObjectNotFound
		}
		return nil, fmt.Errorf("gcs attrs: %w", err)
	}
	return &objectstore.ObjectInfo{
		ETag:          attrs.Etag,
		ContentLength: attrs.Size,
		ContentType:   attrs.ContentType,
		VersionID:     strconv.FormatInt(attrs.Generation, 10),
		LastModified:  attrs.Updated,
		Checksum:      checksumOf(attrs),
	}, nil
}

// DeleteObject 删除对象（或指定 generation）。
func (s *Store) DeleteObject(ctx context.Context, bucket, key string, versionID *string) error {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return err
	}
	obj, err := s.object(b, key, versionID)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return objectstore.ErrObjectNotFound
		}
		return fmt.Errorf("gcs delete: %w", err)
	}
	return nil
}

// DeleteObjects 逐个删除对象并汇总结果，单个失败不影响其余对象。
func (s *Store) DeleteObjects(ctx context.Context, bucket string, refs []objectstore.ObjectRef) (*objectstore.DeleteResult, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return nil, err
	}
	result := &objectstore.DeleteResult{}
	for _, ref := range refs {
		var version *string
		if ref.VersionID != "" {
			v := ref.VersionID
			version = &v
		}
		if err := s.DeleteObject(ctx, b, ref.Key, version); err != nil {
			code := "InternalError"
			if errors.Is(err, objectstore.ErrObjectNotFound) {
				code = "NoSuchKey"
			}
			result.Errors = append(result.Errors, objectstore.DeleteError{Key: ref.Key, Code: code, Message: err.Error()})
			continue
		}
		result.Deleted = append(result.Deleted, ref)
	}
	return result, nil
}

// object 返回对象句柄；generation 只能是正整数，其他版本号不可能对应任何对象，按未找到处理。
func (s *Store) object(bucket, key string, versionID *string) (*storage.ObjectHandle, error) {
	obj := s.client.Bucket(bucket).Object(key)
	if v := objectstore.Deref(versionID); v != "" {
		gen, err := strconv.ParseInt(v, 10, 64)
		if err != nil || gen <= 0 {
			return nil, fmt.Errorf("gcs generation %q: %w", v, objectstore.ErrObjectNotFound)
		}
		obj = obj.Generation(gen)
	}
	return obj, nil
}

func checksumOf(attrs *storage.ObjectAttrs) string {
	if len(attrs.MD5) > 0 {
		return "md5:" + hex.EncodeToString(attrs.MD5)
	}
	if attrs.CRC32C != 0 {
		return fmt.Sprintf("crc32c:%08x", attrs.CRC32C)
	}
	return ""
}
