// Package gcs 提供基于 Google Cloud Storage 的对象存储适配器。
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2/google"
)

// URLSigner 负责生成 V4 Signed URL（上传用 PUT，下载用 GET）。
type URLSigner struct {
	googleAccessID string
	privateKey     []byte
	now            func() time.Time
	log            *log.Helper
}

// Option 定义可选配置。
type Option func(*URLSigner)

// WithClock 覆盖时间获取函数，便于测试。
func WithClock(clock func() time.Time) Option {
	return func(s *URLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithServiceAccountKey 允许直接注入访问 ID 与私钥（测试友好）。
func WithServiceAccountKey(accessID string, privateKey []byte) Option {
	return func(s *URLSigner) {
		if accessID != "" {
			s.googleAccessID = accessID
		}
		if len(privateKey) > 0 {
			s.privateKey = append([]byte(nil), privateKey...)
		}
	}
}

// NewURLSigner 创建 URLSigner，未注入私钥时要求默认凭据为 service account JSON。
func NewURLSigner(ctx context.Context, accessID string, logger log.Logger, opts ...Option) (*URLSigner, error) {
	signer := &URLSigner{
		googleAccessID: accessID,
		now:            time.Now,
		log:            log.NewHelper(logger),
	}

	for _, opt := range opts {
		opt(signer)
	}

	if len(signer.privateKey) == 0 {
		privKey, detectedAccessID, err := loadServiceAccountKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs signer: %w", err)
		}
		signer.privateKey = privKey
		if signer.googleAccessID == "" {
			signer.googleAccessID = detectedAccessID
		} else if detectedAccessID != "" && detectedAccessID != signer.googleAccessID {
			signer.log.WithContext(ctx).Warnf("gcs signer access id mismatch: config=%s credentials=%s", signer.googleAccessID, detectedAccessID)
		}
	}

	if signer.googleAccessID == "" {
		return nil, errors.New("gcs signer: google access id is required")
	}
	if len(signer.privateKey) == 0 {
		return nil, errors.New("gcs signer: private key is required")
	}

	return signer, nil
}

// SignedPutURL 生成直传对象所需的 PUT Signed URL，contentType 会被签入请求头。
func (s *URLSigner) SignedPutURL(ctx context.Context, bucket, objectName, contentType string, ttl time.Duration) (string, time.Time, error) {
	opts := &storage.SignedURLOptions{
		Method:      http.MethodPut,
		ContentType: contentType,
	}
	return s.sign(ctx, bucket, objectName, ttl, opts)
}

// SignedGetURL 生成下载用的 GET Signed URL；generation 非空时锁定到该对象版本。
func (s *URLSigner) SignedGetURL(ctx context.Context, bucket, objectName, generation string, ttl time.Duration) (string, time.Time, error) {
	opts := &storage.SignedURLOptions{Method: http.MethodGet}
	if generation != "" {
		opts.QueryParameters = url.Values{"generation": {generation}}
	}
	return s.sign(ctx, bucket, objectName, ttl, opts)
}

func (s *URLSigner) sign(ctx context.Context, bucket, objectName string, ttl time.Duration, opts *storage.SignedURLOptions) (string, time.Time, error) {
	if bucket == "" {
		return "", time.Time{}, errors.New("bucket is required")
	}
	if objectName == "" {
		return "", time.Time{}, errors.New("object name is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}

	expires := s.now().Add(ttl)
	opts.Scheme = storage.SigningSchemeV4
	opts.Expires = expires
	opts.GoogleAccessID = s.googleAccessID
	opts.PrivateKey = s.privateKey

	signed, err := storage.SignedURL(bucket, objectName, opts)
	if err != nil {
		s.log.WithContext(ctx).Errorf("generate signed url failed: method=%s bucket=%s object=%s err=%v", opts.Method, bucket, objectName, err)
		return "", time.Time{}, fmt.Errorf("signed url: %w", err)
	}
	return signed, expires, nil
}

type serviceAccountKey struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

func loadServiceAccountKey(ctx context.Context) ([]byte, string, error) {
	creds, err := google.FindDefaultCredentials(ctx, storage.ScopeReadWrite)
	if err != nil {
		return nil, "", fmt.Errorf("find default credentials: %w", err)
	}
	if len(creds.JSON) == 0 {
		return nil, "", errors.New("service account JSON not found in default credentials")
	}

	var key serviceAccountKey
	if err := json.Unmarshal(creds.JSON, &key); err != nil {
		return nil, "", fmt.Errorf("parse service account json: %w", err)
	}
	if key.PrivateKey == "" {
		return nil, "", errors.New("service account private key is empty; use a service account JSON credential")
	}
	return []byte(key.PrivateKey), key.ClientEmail, nil
}
