package repositories_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/docker/go-connections/nat"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMediaFileRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _, _ := newRepository(ctx, t)

	created, err := repo.Insert(ctx, nil, insertInput("Media", "Vehicles/1/front.jpg", 1))
	require.NoError(t, err)
	require.NotZero(t, created.MediaFileID)
	require.Equal(t, po.MediaFileStatusActive, created.Status)
	require.Nil(t, created.DeletedAt)

	_, err = repo.Insert(ctx, nil, insertInput("media", "vehicles/1/FRONT.jpg", 2))
	require.ErrorIs(t, err, repositories.ErrMediaFileConflict)

	found, err := repo.FindActiveByLocation(ctx, nil, "MEDIA", "vehicles/1/front.JPG", nil)
	require.NoError(t, err)
	require.Equal(t, created.MediaFileUUID, found.MediaFileUUID)

	_, err = repo.FindActiveByLocation(ctx, nil, "media", "vehicles/1/front.jpg", &created.MediaFileUUID)
	require.ErrorIs(t, err, repositories.ErrMediaFileNotFound)

	removedAt := time.Now().UTC()
	removed, err := repo.UpdateStatus(ctx, nil, created.MediaFileUUID, po.MediaFileStatusActive, po.MediaFileStatusInactive, removedAt)
	require.NoError(t, err)
	require.Equal(t, po.MediaFileStatusInactive, removed.Status)
	require.NotNil(t, removed.DeletedAt)

	_, err = repo.UpdateStatus(ctx, nil, created.MediaFileUUID, po.MediaFileStatusActive, po.MediaFileStatusInactive, removedAt)
	require.ErrorIs(t, err, repositories.ErrMediaFileStateChanged)

	// 软删除后位置被释放，可以再次登记。
	replacement, err := repo.Insert(ctx, nil, insertInput("media", "vehicles/1/front.jpg", 1))
	require.NoError(t, err)

	// 原记录恢复会撞上唯一索引。
	_, err = repo.UpdateStatus(ctx, nil, created.MediaFileUUID, po.MediaFileStatusInactive, po.MediaFileStatusActive, time.Now())
	require.ErrorIs(t, err, repositories.ErrMediaFileConflict)

	stored, err := repo.FindByUUID(ctx, nil, created.MediaFileUUID)
	require.NoError(t, err)
	require.False(t, stored.IsActive())

	_, err = repo.FindByUUID(ctx, nil, uuid.New())
	require.ErrorIs(t, err, repositories.ErrMediaFileNotFound)

	desc := "replaced"
	newKey := "vehicles/1/rear.jpg"
	updated, err := repo.UpdateByUUID(ctx, nil, replacement.MediaFileUUID, repositories.UpdateMediaFileInput{
		ObjectKey:   &newKey,
		Description: &desc,
	})
	require.NoError(t, err)
	require.Equal(t, newKey, updated.ObjectKey)
	require.Equal(t, desc, *updated.Description)
	require.Equal(t, "media", updated.Bucket)
	require.False(t, updated.UpdatedAt.Before(replacement.UpdatedAt))
}

func TestMediaFileRepository_SortTiesFollowOrdinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _, _ := newRepository(ctx, t)

	// 引用交错插入，使同值分组内的 media_file_id 不连续。
	for i := 0; i < 6; i++ {
		_, err := repo.Insert(ctx, nil, insertInput("media", fmt.Sprintf("fleet/unit_%d.jpg", i), int64(7+i%2)))
		require.NoError(t, err)
	}

	for _, descending := range []bool{false, true} {
		files, err := repo.FindMany(ctx, nil, repositories.MediaFileQuery{
			SortBy:     repositories.SortByReferenceID,
			Descending: descending,
		})
		require.NoError(t, err)
		require.Len(t, files, 6)

		wantFirst := int64(7)
		if descending {
			wantFirst = 8
		}
		require.Equal(t, wantFirst, files[0].ReferenceID)
		for i := 1; i < len(files); i++ {
			prev, cur := files[i-1], files[i]
			if prev.ReferenceID == cur.ReferenceID {
				require.Less(t, prev.MediaFileID, cur.MediaFileID, "descending=%v index=%d", descending, i)
			}
		}
		require.NotEqual(t, files[2].ReferenceID, files[3].ReferenceID)
	}
}

func TestMediaFileRepository_QueriesAndBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, tx, _ := newRepository(ctx, t)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		in := insertInput("media", fmt.Sprintf("docs/report_%d.pdf", i), int64(10+i%2))
		in.MediaFileType = po.MediaFileTypePDF
		second := int64(i + 1)
		in.SecondReferenceID = &second
		file, err := repo.Insert(ctx, nil, in)
		require.NoError(t, err)
		ids = append(ids, file.MediaFileUUID)
	}
	_, err := repo.Insert(ctx, nil, insertInput("archive", "misc/100%_done.png", 10))
	require.NoError(t, err)

	pdf := po.MediaFileTypePDF
	page, err := repo.FindMany(ctx, nil, repositories.MediaFileQuery{
		Filter:     repositories.MediaFileListFilter{MediaFileType: &pdf},
		SortBy:     repositories.SortBySecondReferenceID,
		Descending: true,
		Limit:      2,
		Offset:     1,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(4), *page[0].SecondReferenceID)
	require.Equal(t, int64(3), *page[1].SecondReferenceID)

	total, err := repo.Count(ctx, nil, repositories.MediaFileListFilter{MediaFileType: &pdf})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)

	// 通配符按字面量匹配。
	matches, err := repo.FindMany(ctx, nil, repositories.MediaFileQuery{Filter: repositories.MediaFileListFilter{Search: "100%"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "archive", matches[0].Bucket)

	first, err := repo.FindFirstActiveByReference(ctx, nil, 10)
	require.NoError(t, err)
	require.Equal(t, ids[0], first.MediaFileUUID)

	count, err := repo.CountActiveByReference(ctx, nil, 10, nil)
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
	second := int64(3)
	count, err = repo.CountActiveByReference(ctx, nil, 10, &second)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// 批量软删除在事务内加锁后一次完成。
	err = tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		locked, err := repo.FindByUUIDs(txCtx, sess, ids[:3], true)
		if err != nil {
			return err
		}
		require.Len(t, locked, 3)
		affected, err := repo.UpdateStatusMany(txCtx, sess, ids[:3], po.MediaFileStatusActive, po.MediaFileStatusInactive, time.Now())
		if err != nil {
			return err
		}
		require.Equal(t, int64(3), affected)
		return nil
	})
	require.NoError(t, err)

	inactive := po.MediaFileStatusInactive
	total, err = repo.Count(ctx, nil, repositories.MediaFileListFilter{Status: &inactive})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	total, err = repo.Count(ctx, nil, repositories.MediaFileListFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(3), total, "default listing hides soft-deleted rows")

	affected, err := repo.UpdateStatusMany(ctx, nil, ids[:3], po.MediaFileStatusActive, po.MediaFileStatusInactive, time.Now())
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestMediaFileRepository_ReconcilePaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, _, _ := newRepository(ctx, t)

	for i := 0; i < 5; i++ {
		_, err := repo.Insert(ctx, nil, insertInput("media", fmt.Sprintf("scan/%d.bin", i), 1))
		require.NoError(t, err)
	}
	_, err := repo.Insert(ctx, nil, insertInput("other", "scan/x.bin", 1))
	require.NoError(t, err)

	var seen []*po.MediaFile
	var after int64
	for {
		batch, err := repo.ListActiveAfter(ctx, nil, "MEDIA", after, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		seen = append(seen, batch...)
		after = batch[len(batch)-1].MediaFileID
	}
	require.Len(t, seen, 5)

	all, err := repo.ListActiveAfter(ctx, nil, "", 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 6)

	ct := "application/octet-stream"
	size := int64(42)
	etag := "etag-42"
	modified := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateObservedMetadata(ctx, nil, seen[0].MediaFileUUID, repositories.ObservedMetadata{
		ContentType:   &ct,
		ContentLength: &size,
		ETag:          &etag,
		LastModified:  &modified,
	}))
	refreshed, err := repo.FindByUUID(ctx, nil, seen[0].MediaFileUUID)
	require.NoError(t, err)
	require.Equal(t, ct, *refreshed.ContentType)
	require.Equal(t, size, *refreshed.ContentLength)
	require.Equal(t, etag, *refreshed.ETag)
	require.True(t, modified.Equal(*refreshed.LastModified))

	err = repo.UpdateObservedMetadata(ctx, nil, uuid.New(), repositories.ObservedMetadata{})
	require.ErrorIs(t, err, repositories.ErrMediaFileNotFound)
}

func insertInput(bucket, key string, referenceID int64) repositories.InsertMediaFileInput {
	createdBy := int64(7)
	return repositories.InsertMediaFileInput{
		MediaFileUUID: uuid.New(),
		MediaFileType: po.MediaFileTypeImage,
		ReferenceType: po.ReferenceTypeVehicle,
		ReferenceID:   referenceID,
		Bucket:        bucket,
		ObjectKey:     key,
		CreatedBy:     &createdBy,
	}
}

func newRepository(ctx context.Context, t *testing.T) (*repositories.MediaFileRepository, txmanager.Manager, *pgxpool.Pool) {
	t.Helper()

	dsn, terminate := startPostgres(ctx, t)
	t.Cleanup(terminate)

	logger := log.NewStdLogger(io.Discard)
	_, err := database.Migrate(dsn, logger)
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tx, err := database.NewTxManager(pool, txmanager.Config{}, logger)
	require.NoError(t, err)
	return repositories.NewMediaFileRepository(pool, logger), tx, pool
}

func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "storage",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/storage?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("skip media file repository integration: failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/storage?sslmode=disable", host, port.Port())
	cleanup := func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	}
	return dsn, cleanup
}
