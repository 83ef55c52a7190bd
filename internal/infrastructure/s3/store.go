// Package s3 提供基于 aws-sdk-go-v2 的 S3 兼容对象存储适配器（AWS S3、MinIO、R2 等）。
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/go-kratos/kratos/v2/log"
)

// maxDeleteBatch 是 DeleteObjects 单次请求允许的最大对象数。
const maxDeleteBatch = 1000

// Store 实现 objectstore.Store。
type Store struct {
	client        *awss3.Client
	presigner     *awss3.PresignClient
	defaultBucket string
	now           func() time.Time
	log           *log.Helper
}

// NewStore 基于已有客户端构造适配器。
func NewStore(client *awss3.Client, defaultBucket string, logger log.Logger) *Store {
	return &Store{
		client:        client,
		presigner:     awss3.NewPresignClient(client),
		defaultBucket: defaultBucket,
		now:           time.Now,
		log:           log.NewHelper(logger),
	}
}

// NewClient 根据配置创建 S3 客户端；未配置静态凭据时使用 AWS 默认凭据链。
func NewClient(ctx context.Context, cfg configloader.S3Config) (*awss3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewStoreFromConfig 组合 NewClient 与 NewStore。
func NewStoreFromConfig(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (*Store, error) {
	client, err := NewClient(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return NewStore(client, cfg.DefaultBucket, logger), nil
}

// DefaultBucket 返回配置的默认 bucket。
func (s *Store) DefaultBucket() string {
	return s.defaultBucket
}

// PresignUpload 生成 PUT 预签名地址，客户端上传时必须携带相同的 Content-Type。
func (s *Store) PresignUpload(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, time.Time, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}
	expires := s.now().Add(ttl)
	req, err := s.presigner.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(b),
		Key:         aws.String(key),
		ContentType: aws.String(objectstore.ContentTypeOrDefault(contentType)),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		s.log.WithContext(ctx).Errorf("presign put failed: bucket=%s key=%s err=%v", b, key, err)
		return "", time.Time{}, fmt.Errorf("presign put: %w", err)
	}
	return req.URL, expires, nil
}

// PresignDownload 生成 GET 预签名地址，versionID 非空时锁定到该版本。
func (s *Store) PresignDownload(ctx context.Context, bucket, key string, versionID *string, ttl time.Duration) (string, time.Time, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}
	expires := s.now().Add(ttl)
	req, err := s.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket:    aws.String(b),
		Key:       aws.String(key),
		VersionId: nonEmpty(versionID),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		s.log.WithContext(ctx).Errorf("presign get failed: bucket=%s key=%s err=%v", b, key, err)
		return "", time.Time{}, fmt.Errorf("presign get: %w", err)
	}
	return req.URL, expires, nil
}

// PutObject 直接写入对象，附带用户元数据与标签。
func (s *Store) PutObject(ctx context.Context, input objectstore.PutInput) (*objectstore.PutResult, error) {
	b, err := objectstore.ResolveBucket(input.Bucket, s.defaultBucket)
	if err != nil {
		return nil, err
	}
	req := &awss3.PutObjectInput{
		Bucket:        aws.String(b),
		Key:           aws.String(input.Key),
		Body:          bytes.NewReader(input.Body),
		ContentLength: aws.Int64(int64(len(input.Body))),
		ContentType:   aws.String(objectstore.ContentTypeOrDefault(input.ContentType)),
	}
	if len(input.Metadata) > 0 {
		req.Metadata = input.Metadata
	}
	if len(input.Tags) > 0 {
		tags := url.Values{}
		for k, v := range input.Tags {
			tags.Set(k, v)
		}
		req.Tagging = aws.String(tags.Encode())
	}

	out, err := s.client.PutObject(ctx, req)
	if err != nil {
		s.log.WithContext(ctx).Errorf("s3 put failed: bucket=%s key=%s err=%v", b, input.Key, err)
		return nil, fmt.Errorf("s3 put: %w", err)
	}
	return &objectstore.PutResult{
		ETag:      trimETag(aws.ToString(out.ETag)),
		VersionID: aws.ToString(out.VersionId),
	}, nil
}

// HeadObject 读取对象元数据；对象或版本不存在时返回 objectstore.ErrObjectNotFound。
func (s *Store) HeadObject(ctx context.Context, bucket, key string, versionID *string) (*objectstore.ObjectInfo, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket:       aws.String(b),
		Key:          aws.String(key),
		VersionId:    nonEmpty(versionID),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3 head: %w", err)
	}
	info := &objectstore.ObjectInfo{
		ETag:          trimETag(aws.ToString(out.ETag)),
		ContentLength: aws.ToInt64(out.ContentLength),
		ContentType:   aws.ToString(out.ContentType),
		VersionID:     aws.ToString(out.VersionId),
		Checksum:      checksumOf(out),
	}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.UTC()
	}
	return info, nil
}

// DeleteObject 删除对象（或指定版本）。S3 对不存在的 key 也返回成功。
func (s *Store) DeleteObject(ctx context.Context, bucket, key string, versionID *string) error {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket:    aws.String(b),
		Key:       aws.String(key),
		VersionId: nonEmpty(versionID),
	}); err != nil {
		if isNotFound(err) {
			return objectstore.ErrObjectNotFound
		}
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

// DeleteObjects 分批调用 DeleteObjects，汇总成功与失败条目。
func (s *Store) DeleteObjects(ctx context.Context, bucket string, refs []objectstore.ObjectRef) (*objectstore.DeleteResult, error) {
	b, err := objectstore.ResolveBucket(bucket, s.defaultBucket)
	if err != nil {
		return nil, err
	}
	result := &objectstore.DeleteResult{}
	for start := 0; start < len(refs); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(refs))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, ref := range refs[start:end] {
			id := types.ObjectIdentifier{Key: aws.String(ref.Key)}
			if ref.VersionID != "" {
				id.VersionId = aws.String(ref.VersionID)
			}
			ids = append(ids, id)
		}

		out, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(b),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(false)},
		})
		if err != nil {
			s.log.WithContext(ctx).Errorf("s3 delete objects failed: bucket=%s count=%d err=%v", b, len(ids), err)
			return result, fmt.Errorf("s3 delete objects: %w", err)
		}
		for _, d := range out.Deleted {
			result.Deleted = append(result.Deleted, objectstore.ObjectRef{
				Key:       aws.ToString(d.Key),
				VersionID: aws.ToString(d.VersionId),
			})
		}
		for _, e := range out.Errors {
			result.Errors = append(result.Errors, objectstore.DeleteError{
				Key:     aws.ToString(e.Key),
				Code:    aws.ToString(e.Code),
				Message: aws.ToString(e.Message),
			})
		}
	}
	return result, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchVersion", "NoSuchBucket":
			return true
		}
	}
	return false
}

func checksumOf(out *awss3.HeadObjectOutput) string {
	switch {
	case out.ChecksumSHA256 != nil:
		return "sha256:" + *out.ChecksumSHA256
	case out.ChecksumCRC32C != nil:
		return "crc32c:" + *out.ChecksumCRC32C
	case out.ChecksumCRC32 != nil:
		return "crc32:" + *out.ChecksumCRC32
	case out.ChecksumSHA1 != nil:
		return "sha1:" + *out.ChecksumSHA1
	}
	return ""
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
