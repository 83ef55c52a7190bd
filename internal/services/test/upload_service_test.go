package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/stretchr/testify/require"
)

func TestGenerateUploadURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ticket, err := f.uploads.GenerateUploadURL(ctx, services.UploadRequestItem{ObjectKey: " vehicles/1/front.jpg "})
	require.NoError(t, err)
	require.Equal(t, "media", ticket.Bucket)
	require.Equal(t, "vehicles/1/front.jpg", ticket.ObjectKey)
	require.Equal(t, "application/octet-stream", ticket.ContentType)
	require.Contains(t, ticket.UploadURL, "media/vehicles/1/front.jpg")
	require.WithinDuration(t, time.Now().Add(15*time.Minute), ticket.ExpiresAt, 5*time.Second)
	require.Zero(t, f.repo.size(), "presign must not write the catalog")

	_, err = f.registry.Create(ctx, createInput("media", "vehicles/1/front.jpg", 1))
	require.NoError(t, err)
	_, err = f.uploads.GenerateUploadURL(ctx, services.UploadRequestItem{Bucket: "MEDIA", ObjectKey: "Vehicles/1/Front.jpg"})
	require.True(t, services.IsConflict(err), "err=%v", err)

	_, err = f.uploads.GenerateUploadURL(ctx, services.UploadRequestItem{})
	require.True(t, services.IsValidation(err))
}

func TestGenerateUploadURLs_BestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.registry.Create(ctx, createInput("media", "taken.png", 1))
	require.NoError(t, err)

	outcome, err := f.uploads.GenerateUploadURLs(ctx, []services.UploadRequestItem{
		{ObjectKey: "a.png", ContentType: "image/png"},
		{ObjectKey: "taken.png"},
		{ObjectKey: "A.PNG"},
		{ObjectKey: "b.png"},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Successful, 2)
	require.Equal(t, "a.png", outcome.Successful[0].ObjectKey)
	require.Equal(t, "image/png", outcome.Successful[0].ContentType)
	require.Equal(t, "b.png", outcome.Successful[1].ObjectKey)

	require.Len(t, outcome.Failed, 2)
	require.Equal(t, 1, outcome.Failed[0].Index)
	require.Equal(t, services.ReasonLocationConflict, outcome.Failed[0].Reason)
	require.Equal(t, 2, outcome.Failed[1].Index)
	require.Contains(t, outcome.Failed[1].Error, "same batch")
}

func TestConfirmAfterUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("object missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.uploads.ConfirmAfterUpload(ctx, createInput("media", "never-uploaded.png", 1))
		require.True(t, services.IsNotFound(err), "err=%v", err)
		require.Contains(t, err.Error(), "upload it before confirming")
		require.Zero(t, f.repo.size())
	})

	t.Run("observed metadata wins", func(t *testing.T) {
		f := newFixture(t)
		f.store.seed("media", "docs/report.pdf", "application/pdf", []byte("%PDF-1.7"))

		in := createInput("", "docs/report.pdf", 5)
		in.ContentType = ptr("text/plain")
		in.ContentLength = ptr(int64(999))
		in.Description = ptr("monthly report")
		view, err := f.uploads.ConfirmAfterUpload(ctx, in)
		require.NoError(t, err)
		require.Equal(t, "media", view.Bucket)
		require.Equal(t, "application/pdf", *view.ContentType)
		require.Equal(t, int64(8), *view.ContentLength)
		require.Equal(t, "etag-1", *view.ETag)
		require.Equal(t, "v1", *view.VersionID)
		require.Equal(t, "md5:abc", *view.Checksum)
		require.Equal(t, "monthly report", *view.Description)
		require.Equal(t, time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC), *view.LastModified)
		require.Contains(t, view.DownloadURL, "versionId=v1")

		_, err = f.uploads.ConfirmAfterUpload(ctx, in)
		require.True(t, services.IsConflict(err), "second confirm: %v", err)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.store.headErr = errBoom
		_, err := f.uploads.ConfirmAfterUpload(ctx, createInput("media", "x.png", 1))
		require.True(t, services.IsExternalFailure(err), "err=%v", err)
		require.Zero(t, f.repo.size())
	})
}

func TestUploadAndRegister_PartialFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.putErrFor["broken.bin"] = errBoom
	f.repo.insertErrFor["orphan.bin"] = errBoom

	item := func(key string, referenceID int64) services.UploadItem {
		return services.UploadItem{
			Record:   createInput("", key, referenceID),
			Content:  []byte("payload-" + key),
			Metadata: map[string]string{"origin": "test"},
			Tags:     map[string]string{"team": "ops"},
		}
	}
	items := []services.UploadItem{
		item("one.png", 1),
		item("ONE.png", 1),
		item("broken.bin", 1),
		item("invalid.png", 0),
		item("orphan.bin", 1),
		item("two.png", 1),
	}

	outcome, err := f.uploads.UploadAndRegister(ctx, items)
	require.NoError(t, err)

	require.Len(t, outcome.Successful, 2)
	require.Equal(t, "one.png", outcome.Successful[0].ObjectKey)
	require.Equal(t, "two.png", outcome.Successful[1].ObjectKey)
	require.Equal(t, int64(len("payload-one.png")), *outcome.Successful[0].ContentLength)
	require.NotEmpty(t, outcome.Successful[0].DownloadURL)

	require.Len(t, outcome.Failed, 4)
	indexes := []int{}
	for _, failed := range outcome.Failed {
		indexes = append(indexes, failed.Index)
	}
	require.Equal(t, []int{1, 2, 3, 4}, indexes)
	require.Equal(t, services.ReasonLocationConflict, outcome.Failed[0].Reason)
	require.Equal(t, services.ReasonObjectStoreFailure, outcome.Failed[1].Reason)
	require.Equal(t, services.ReasonInvalid, outcome.Failed[2].Reason)
	require.Equal(t, services.ReasonCatalogFailure, outcome.Failed[3].Reason)
	require.True(t, strings.Contains(outcome.Failed[3].Error, "stored") && strings.Contains(outcome.Failed[3].Error, "not registered"),
		"message=%s", outcome.Failed[3].Error)

	// 重复与非法条目在写入前失败；孤儿对象仍留在存储中。
	require.Equal(t, int32(4), f.store.puts.Load())
	require.True(t, f.store.has("media", "orphan.bin"))
	require.False(t, f.store.has("media", "ONE.png"))
	require.Equal(t, 2, f.repo.size())
}

func TestUploadAndRegister_BoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	f.store.putDelay = 20 * time.Millisecond

	items := make([]services.UploadItem, 8)
	for i := range items {
		items[i] = services.UploadItem{
			Record:  createInput("media", "bulk/"+string(rune('a'+i)), 1),
			Content: []byte{byte(i)},
		}
	}
	outcome, err := f.uploads.UploadAndRegister(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, outcome.Successful, 8)
	require.Empty(t, outcome.Failed)
	require.LessOrEqual(t, f.store.maxInflight.Load(), int32(storageConfig().UploadConcurrency))
	for i, view := range outcome.Successful {
		require.Equal(t, items[i].Record.ObjectKey, view.ObjectKey)
	}
}

func TestUploadAndRegister_Limits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.uploads.UploadAndRegister(ctx, nil)
	require.True(t, services.IsValidation(err))

	outcome, err := f.uploads.UploadAndRegister(ctx, []services.UploadItem{
		{Record: createInput("media", "empty.bin", 1)},
		{Record: createInput("media", "huge.bin", 1), Content: make([]byte, (1<<20)+1)},
	})
	require.NoError(t, err)
	require.Empty(t, outcome.Successful)
	require.Len(t, outcome.Failed, 2)
	require.Zero(t, f.store.puts.Load())
}
