package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type pgFixture struct {
	pool     *pgxpool.Pool
	store    *memStore
	registry *services.MediaFileService
	uploads  *services.UploadService
}

func TestUploadServiceIntegration_ConfirmAndDirectUpload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newPostgresFixture(ctx, t)

	f.store.seed("media", "vehicles/9/front.jpg", "image/jpeg", []byte("jpeg-bytes"))
	confirmed, err := f.uploads.ConfirmAfterUpload(ctx, createInput("", "vehicles/9/front.jpg", 9))
	require.NoError(t, err)
	require.Equal(t, "media", confirmed.Bucket)
	require.Equal(t, int64(len("jpeg-bytes")), *confirmed.ContentLength)
	require.Equal(t, "image/jpeg", *confirmed.ContentType)
	require.NotEmpty(t, confirmed.DownloadURL)

	// 位置比较大小写不敏感。
	_, err = f.uploads.ConfirmAfterUpload(ctx, createInput("MEDIA", "Vehicles/9/FRONT.jpg", 9))
	require.True(t, services.IsConflict(err))

	_, err = f.uploads.ConfirmAfterUpload(ctx, createInput("media", "vehicles/9/never-uploaded.jpg", 9))
	require.True(t, services.IsNotFound(err))

	outcome, err := f.uploads.UploadAndRegister(ctx, []services.UploadItem{
		{Record: createInput("", "vehicles/9/rear.jpg", 9), Content: []byte("rear")},
		{Record: createInput("", "vehicles/9/front.jpg", 9), Content: []byte("dup-of-registered")},
		{Record: createInput("", "VEHICLES/9/REAR.JPG", 9), Content: []byte("dup-in-batch")},
		{Record: createInput("", "vehicles/9/side.jpg", 9), Content: []byte("side")},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Successful, 2)
	require.Equal(t, "vehicles/9/rear.jpg", outcome.Successful[0].ObjectKey)
	require.Equal(t, "vehicles/9/side.jpg", outcome.Successful[1].ObjectKey)
	require.Len(t, outcome.Failed, 2)
	require.Equal(t, 1, outcome.Failed[0].Index)
	require.Equal(t, services.ReasonLocationConflict, outcome.Failed[0].Reason)
	require.Equal(t, 2, outcome.Failed[1].Index)

	// 已登记位置的条目在写入对象前即被拒绝，不会覆盖原对象。
	info, err := f.store.HeadObject(ctx, "media", "vehicles/9/front.jpg", nil)
	require.NoError(t, err)
	require.Equal(t, int64(len("jpeg-bytes")), info.ContentLength)

	count, err := f.registry.CountByReference(ctx, 9, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestUploadServiceIntegration_ConcurrentRegistrationSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newPostgresFixture(ctx, t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []*vo.MediaFileView
		conflicts int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 不同大小写写法指向同一位置。
			key := "inspections/1/report.pdf"
			if i%2 == 1 {
				key = "Inspections/1/REPORT.pdf"
			}
			in := createInput("media", key, 1)
			in.MediaFileType = po.MediaFileTypePDF
			view, err := f.registry.Create(ctx, in)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, view)
			case services.IsConflict(err):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, winners, 1)
	require.Equal(t, workers-1, conflicts)

	var active int64
	require.NoError(t, f.pool.QueryRow(ctx,
		`SELECT count(*) FROM catalog.media_files WHERE lower(object_key) = 'inspections/1/report.pdf' AND status = 'active'`,
	).Scan(&active))
	require.Equal(t, int64(1), active)
}

func TestUploadServiceIntegration_RemoveManyIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newPostgresFixture(ctx, t)

	var ids []string
	for i := 0; i < 3; i++ {
		view, err := f.registry.Create(ctx, createInput("media", fmt.Sprintf("drivers/4/license_%d.png", i), 4))
		require.NoError(t, err)
		ids = append(ids, view.MediaFileUUID.String())
	}

	// 包含不存在的 uuid 时整批回滚。
	_, err := f.registry.RemoveMany(ctx, append([]string{ids[0]}, uuid.NewString()))
	require.True(t, services.IsNotFound(err))
	count, err := f.registry.CountByReference(ctx, 4, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	removed, err := f.registry.RemoveMany(ctx, []string{ids[0], ids[1], ids[0]})
	require.NoError(t, err)
	require.Len(t, removed, 2)

	_, err = f.registry.RemoveMany(ctx, []string{ids[1], ids[2]})
	require.True(t, services.IsConflict(err))

	count, err = f.registry.CountByReference(ctx, 4, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	recovered, err := f.registry.Recover(ctx, uuid.MustParse(ids[0]))
	require.NoError(t, err)
	require.Equal(t, string(po.MediaFileStatusActive), recovered.Status)
	require.Nil(t, recovered.DeletedAt)
}

func newPostgresFixture(ctx context.Context, t *testing.T) *pgFixture {
	t.Helper()

	dsn, terminate := startPostgres(ctx, t)
	t.Cleanup(terminate)

	logger := testLogger()
	_, err := database.Migrate(dsn, logger)
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tx, err := database.NewTxManager(pool, txmanager.Config{}, logger)
	require.NoError(t, err)

	repo := repositories.NewMediaFileRepository(pool, logger)
	store := newMemStore()
	enricher, err := services.NewURLEnricher(store, storageConfig(), logger)
	require.NoError(t, err)
	uploads, err := services.NewUploadService(repo, tx, store, enricher, services.NewMetrics(logger), storageConfig(), logger)
	require.NoError(t, err)

	return &pgFixture{
		pool:     pool,
		store:    store,
		registry: services.NewMediaFileService(repo, tx, enricher, logger),
		uploads:  uploads,
	}
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
		t.Skipf("skip upload service integration: failed to start postgres container: %v", err)
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
