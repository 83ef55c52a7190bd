package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type noopTxManager struct{}

type noopSession struct{}

func (noopSession) Tx() pgx.Tx               { return nil }
func (noopSession) Context() context.Context { return context.Background() }

func (noopTxManager) WithinTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return fn(ctx, noopSession{})
}

func (noopTxManager) WithinReadOnlyTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return fn(ctx, noopSession{})
}

// memRepo 是目录的内存实现，模拟唯一索引与条件状态迁移。
type memRepo struct {
	mu     sync.Mutex
	files  []*po.MediaFile
	nextID int64

	insertErrFor map[string]error
	listErr      error
	lastQuery    repositories.MediaFileQuery
	statusCalls  int
}

func newMemRepo() *memRepo {
	return &memRepo{insertErrFor: map[string]error{}}
}

func clone(f *po.MediaFile) *po.MediaFile {
	c := *f
	return &c
}

func sameLocation(f *po.MediaFile, bucket, key string) bool {
	return strings.EqualFold(f.Bucket, bucket) && strings.EqualFold(f.ObjectKey, key)
}

func (r *memRepo) activeAt(bucket, key string, exclude *uuid.UUID) *po.MediaFile {
	for _, f := range r.files {
		if exclude != nil && f.MediaFileUUID == *exclude {
			continue
		}
		if f.IsActive() && sameLocation(f, bucket, key) {
			return f
		}
	}
	return nil
}

func (r *memRepo) byUUID(id uuid.UUID) *po.MediaFile {
	for _, f := range r.files {
		if f.MediaFileUUID == id {
			return f
		}
	}
	return nil
}

func (r *memRepo) Insert(_ context.Context, _ txmanager.Session, in repositories.InsertMediaFileInput) (*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.insertErrFor[in.ObjectKey]; ok {
		return nil, err
	}
	if r.activeAt(in.Bucket, in.ObjectKey, nil) != nil {
		return nil, repositories.ErrMediaFileConflict
	}
	r.nextID++
	now := time.Now().UTC()
	f := &po.MediaFile{
		MediaFileID:       r.nextID,
		MediaFileUUID:     in.MediaFileUUID,
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
		Status:            po.MediaFileStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.files = append(r.files, f)
	return clone(f), nil
}

func (r *memRepo) FindByUUID(_ context.Context, _ txmanager.Session, id uuid.UUID) (*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.byUUID(id); f != nil {
		return clone(f), nil
	}
	return nil, repositories.ErrMediaFileNotFound
}

func (r *memRepo) FindByUUIDs(_ context.Context, _ txmanager.Session, ids []uuid.UUID, _ bool) ([]*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*po.MediaFile
	for _, id := range ids {
		if f := r.byUUID(id); f != nil {
			out = append(out, clone(f))
		}
	}
	return out, nil
}

func (r *memRepo) matches(f *po.MediaFile, filter repositories.MediaFileListFilter) bool {
	if filter.Status != nil {
		if f.Status != *filter.Status {
			return false
		}
	} else if f.DeletedAt != nil {
		return false
	}
	if filter.MediaFileType != nil && f.MediaFileType != *filter.MediaFileType {
		return false
	}
	if filter.ReferenceType != nil && f.ReferenceType != *filter.ReferenceType {
		return false
	}
	if filter.ReferenceID != nil && f.ReferenceID != *filter.ReferenceID {
		return false
	}
	if filter.SecondReferenceID != nil && (f.SecondReferenceID == nil || *f.SecondReferenceID != *filter.SecondReferenceID) {
		return false
	}
	if filter.CreatedBy != nil && (f.CreatedBy == nil || *f.CreatedBy != *filter.CreatedBy) {
		return false
	}
	if filter.Search != "" {
		term := strings.ToLower(filter.Search)
		hay := []string{f.Bucket, f.ObjectKey, objectstore.Deref(f.ContentType), objectstore.Deref(f.Description)}
		found := false
		for _, h := range hay {
			if strings.Contains(strings.ToLower(h), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *memRepo) FindMany(_ context.Context, _ txmanager.Session, q repositories.MediaFileQuery) ([]*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.lastQuery = q
	var out []*po.MediaFile
	for _, f := range r.files {
		if r.matches(f, q.Filter) {
			out = append(out, clone(f))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.SortBy == repositories.SortByReferenceID && a.ReferenceID != b.ReferenceID {
			if q.Descending {
				return a.ReferenceID > b.ReferenceID
			}
			return a.ReferenceID < b.ReferenceID
		}
		if q.SortBy == repositories.SortByMediaFileID && q.Descending {
			return a.MediaFileID > b.MediaFileID
		}
		return a.MediaFileID < b.MediaFileID
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memRepo) Count(_ context.Context, _ txmanager.Session, filter repositories.MediaFileListFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, f := range r.files {
		if r.matches(f, filter) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) UpdateByUUID(_ context.Context, _ txmanager.Session, id uuid.UUID, in repositories.UpdateMediaFileInput) (*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.byUUID(id)
	if f == nil {
		return nil, repositories.ErrMediaFileNotFound
	}
	next := *f
	if in.MediaFileType != nil {
		next.MediaFileType = *in.MediaFileType
	}
	if in.ReferenceType != nil {
		next.ReferenceType = *in.ReferenceType
	}
	if in.ReferenceID != nil {
		next.ReferenceID = *in.ReferenceID
	}
	if in.SecondReferenceID != nil {
		next.SecondReferenceID = in.SecondReferenceID
	}
	if in.Bucket != nil {
		next.Bucket = *in.Bucket
	}
	if in.ObjectKey != nil {
		next.ObjectKey = *in.ObjectKey
	}
	if in.ContentType != nil {
		next.ContentType = in.ContentType
	}
	if in.Description != nil {
		next.Description = in.Description
	}
	if in.ETag != nil {
		next.ETag = in.ETag
	}
	if next.IsActive() && r.activeAt(next.Bucket, next.ObjectKey, &id) != nil {
		return nil, repositories.ErrMediaFileConflict
	}
	next.UpdatedAt = time.Now().UTC()
	*f = next
	return clone(f), nil
}

func (r *memRepo) transition(f *po.MediaFile, to po.MediaFileStatus, at time.Time) {
	f.Status = to
	if to == po.MediaFileStatusInactive {
		ts := at
		f.DeletedAt = &ts
	} else {
		f.DeletedAt = nil
	}
	f.UpdatedAt = time.Now().UTC()
}

func (r *memRepo) UpdateStatus(_ context.Context, _ txmanager.Session, id uuid.UUID, from, to po.MediaFileStatus, at time.Time) (*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusCalls++
	f := r.byUUID(id)
	if f == nil || f.Status != from {
		return nil, repositories.ErrMediaFileStateChanged
	}
	if to == po.MediaFileStatusActive && r.activeAt(f.Bucket, f.ObjectKey, &id) != nil {
		return nil, repositories.ErrMediaFileConflict
	}
	r.transition(f, to, at)
	return clone(f), nil
}

func (r *memRepo) UpdateStatusMany(_ context.Context, _ txmanager.Session, ids []uuid.UUID, from, to po.MediaFileStatus, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusCalls++
	var n int64
	for _, id := range ids {
		if f := r.byUUID(id); f != nil && f.Status == from {
			r.transition(f, to, at)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) FindActiveByLocation(_ context.Context, _ txmanager.Session, bucket, key string, exclude *uuid.UUID) (*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.activeAt(bucket, key, exclude); f != nil {
		return clone(f), nil
	}
	return nil, repositories.ErrMediaFileNotFound
}

func (r *memRepo) FindFirstActiveByReference(_ context.Context, _ txmanager.Session, referenceID int64) (*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ReferenceID == referenceID && f.IsActive() {
			return clone(f), nil
		}
	}
	return nil, repositories.ErrMediaFileNotFound
}

func (r *memRepo) CountActiveByReference(_ context.Context, _ txmanager.Session, referenceID int64, second *int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, f := range r.files {
		if f.ReferenceID != referenceID || !f.IsActive() {
			continue
		}
		if second != nil && (f.SecondReferenceID == nil || *f.SecondReferenceID != *second) {
			continue
		}
		n++
	}
	return n, nil
}

func (r *memRepo) ListActiveAfter(_ context.Context, _ txmanager.Session, bucket string, afterID int64, limit int) ([]*po.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*po.MediaFile
	for _, f := range r.files {
		if f.MediaFileID <= afterID || !f.IsActive() {
			continue
		}
		if bucket != "" && !strings.EqualFold(bucket, f.Bucket) {
			continue
		}
		out = append(out, clone(f))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) UpdateObservedMetadata(_ context.Context, _ txmanager.Session, id uuid.UUID, meta repositories.ObservedMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.byUUID(id)
	if f == nil {
		return repositories.ErrMediaFileNotFound
	}
	f.ContentType = meta.ContentType
	f.ContentLength = meta.ContentLength
	f.ETag = meta.ETag
	f.LastModified = meta.LastModified
	if meta.Checksum != nil {
		f.Checksum = meta.Checksum
	}
	return nil
}

func (r *memRepo) get(id uuid.UUID) *po.MediaFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.byUUID(id); f != nil {
		return clone(f)
	}
	return nil
}

func (r *memRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

type storedObject struct {
	body        []byte
	contentType string
	etag        string
	version     string
	metadata    map[string]string
	tags        map[string]string
}

// memStore 是对象存储的内存实现。
type memStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]storedObject
	version int

	putErrFor   map[string]error
	headErr     error
	downloadErr error
	putDelay    time.Duration

	puts        atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		bucket:    "media",
		objects:   map[string]storedObject{},
		putErrFor: map[string]error{},
	}
}

func objectID(bucket, key string) string { return bucket + "/" + key }

func (s *memStore) DefaultBucket() string { return s.bucket }

func (s *memStore) PresignUpload(_ context.Context, bucket, key, contentType string, ttl time.Duration) (string, time.Time, error) {
	b, err := objectstore.ResolveBucket(bucket, s.bucket)
	if err != nil {
		return "", time.Time{}, err
	}
	return fmt.Sprintf("https://upload.example/%s/%s?ct=%s", b, key, contentType), time.Now().Add(ttl), nil
}

func (s *memStore) PresignDownload(_ context.Context, bucket, key string, versionID *string, ttl time.Duration) (string, time.Time, error) {
	if s.downloadErr != nil {
		return "", time.Time{}, s.downloadErr
	}
	url := fmt.Sprintf("https://download.example/%s/%s", bucket, key)
	if v := objectstore.Deref(versionID); v != "" {
		url += "?versionId=" + v
	}
	return url, time.Now().Add(ttl), nil
}

func (s *memStore) PutObject(_ context.Context, in objectstore.PutInput) (*objectstore.PutResult, error) {
	s.puts.Add(1)
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		prev := s.maxInflight.Load()
		if cur <= prev || s.maxInflight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.putDelay > 0 {
		time.Sleep(s.putDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.putErrFor[in.Key]; ok {
		return nil, err
	}
	s.version++
	obj := storedObject{
		body:        append([]byte(nil), in.Body...),
		contentType: in.ContentType,
		etag:        fmt.Sprintf("etag-%d", s.version),
		version:     fmt.Sprintf("v%d", s.version),
		metadata:    in.Metadata,
		tags:        in.Tags,
	}
	s.objects[objectID(in.Bucket, in.Key)] = obj
	return &objectstore.PutResult{ETag: obj.etag, VersionID: obj.version}, nil
}

func (s *memStore) HeadObject(_ context.Context, bucket, key string, _ *string) (*objectstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return nil, s.headErr
	}
	obj, ok := s.objects[objectID(bucket, key)]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	return &objectstore.ObjectInfo{
		ETag:          obj.etag,
		ContentLength: int64(len(obj.body)),
		ContentType:   obj.contentType,
		VersionID:     obj.version,
		LastModified:  time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC),
		Checksum:      "md5:abc",
	}, nil
}

func (s *memStore) DeleteObject(_ context.Context, bucket, key string, _ *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectID(bucket, key))
	return nil
}

func (s *memStore) DeleteObjects(ctx context.Context, bucket string, refs []objectstore.ObjectRef) (*objectstore.DeleteResult, error) {
	res := &objectstore.DeleteResult{}
	for _, ref := range refs {
		_ = s.DeleteObject(ctx, bucket, ref.Key, nil)
		res.Deleted = append(res.Deleted, ref)
	}
	return res, nil
}

func (s *memStore) seed(bucket, key, contentType string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.objects[objectID(bucket, key)] = storedObject{
		body:        body,
		contentType: contentType,
		etag:        fmt.Sprintf("etag-%d", s.version),
		version:     fmt.Sprintf("v%d", s.version),
	}
}

func (s *memStore) has(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectID(bucket, key)]
	return ok
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func storageConfig() configloader.StorageConfig {
	return configloader.StorageConfig{
		DefaultBucket:     "media",
		UploadURLTTL:      configloader.Duration{Duration: 15 * time.Minute},
		DownloadURLTTL:    configloader.Duration{Duration: 15 * time.Minute},
		UploadConcurrency: 2,
		MaxUploadBytes:    1 << 20,
	}
}

type fixture struct {
	repo     *memRepo
	store    *memStore
	registry *services.MediaFileService
	uploads  *services.UploadService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	store := newMemStore()
	enricher, err := services.NewURLEnricher(store, storageConfig(), testLogger())
	require.NoError(t, err)
	uploads, err := services.NewUploadService(repo, noopTxManager{}, store, enricher, nil, storageConfig(), testLogger())
	require.NoError(t, err)
	return &fixture{
		repo:     repo,
		store:    store,
		registry: services.NewMediaFileService(repo, noopTxManager{}, enricher, testLogger()),
		uploads:  uploads,
	}
}

func createInput(bucket, key string, referenceID int64) services.CreateMediaFileInput {
	return services.CreateMediaFileInput{
		MediaFileType: po.MediaFileTypeImage,
		ReferenceType: po.ReferenceTypeVehicle,
		ReferenceID:   referenceID,
		Bucket:        bucket,
		ObjectKey:     key,
	}
}

func ptr[T any](v T) *T { return &v }
