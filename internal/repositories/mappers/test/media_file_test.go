package mappers_test

import (
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
	"github.com/bionicotaku/lingo-services-storage/internal/repositories/mappers"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaFileFromRow(t *testing.T) {
	now := time.Now().UTC()
	fileUUID := uuid.New()

	tests := []struct {
		name  string
		input mappers.MediaFileRow
		check func(t *testing.T, file *po.MediaFile)
	}{
		{
			name: "完整字段映射",
			input: mappers.MediaFileRow{
				MediaFileID:       9,
				MediaFileUUID:     pgtype.UUID{Bytes: fileUUID, Valid: true},
				MediaFileType:     "video",
				ReferenceType:     "inspection",
				ReferenceID:       100,
				SecondReferenceID: pgtype.Int8{Int64: 5, Valid: true},
				Bucket:            "media",
				ObjectKey:         "inspections/100/clip.mp4",
				VersionID:         pgtype.Text{String: "v1", Valid: true},
				ContentType:       pgtype.Text{String: "video/mp4", Valid: true},
				ContentLength:     pgtype.Int8{Int64: 4096, Valid: true},
				ETag:              pgtype.Text{String: "etag", Valid: true},
				LastModified:      pgtype.Timestamptz{Time: now, Valid: true},
				Description:       pgtype.Text{String: "检查录像", Valid: true},
				CreatedBy:         pgtype.Int8{Int64: 8, Valid: true},
				Status:            "active",
				CreatedAt:         pgtype.Timestamptz{Time: now, Valid: true},
				UpdatedAt:         pgtype.Timestamptz{Time: now.Add(time.Second), Valid: true},
			},
			check: func(t *testing.T, file *po.MediaFile) {
				assert.Equal(t, int64(9), file.MediaFileID)
				assert.Equal(t, fileUUID, file.MediaFileUUID)
				assert.Equal(t, po.MediaFileTypeVideo, file.MediaFileType)
				assert.Equal(t, po.ReferenceTypeInspection, file.ReferenceType)
				require.NotNil(t, file.SecondReferenceID)
				assert.Equal(t, int64(5), *file.SecondReferenceID)
				require.NotNil(t, file.ContentLength)
				assert.Equal(t, int64(4096), *file.ContentLength)
				require.NotNil(t, file.LastModified)
				assert.True(t, now.Equal(*file.LastModified))
				assert.Equal(t, "检查录像", *file.Description)
				assert.Nil(t, file.Checksum)
				assert.Nil(t, file.DeletedAt)
				assert.True(t, file.IsActive())
			},
		},
		{
			name: "可空字段全部为空",
			input: mappers.MediaFileRow{
				MediaFileUUID: pgtype.UUID{Bytes: fileUUID, Valid: true},
				MediaFileType: "other",
				ReferenceType: "user",
				ReferenceID:   1,
				Bucket:        "media",
				ObjectKey:     "u/1",
				Status:        "inactive",
				CreatedAt:     pgtype.Timestamptz{Time: now, Valid: true},
				UpdatedAt:     pgtype.Timestamptz{Time: now, Valid: true},
				DeletedAt:     pgtype.Timestamptz{Time: now, Valid: true},
			},
			check: func(t *testing.T, file *po.MediaFile) {
				assert.Nil(t, file.SecondReferenceID)
				assert.Nil(t, file.VersionID)
				assert.Nil(t, file.ContentType)
				assert.Nil(t, file.ContentLength)
				assert.Nil(t, file.ETag)
				assert.Nil(t, file.LastModified)
				assert.Nil(t, file.CreatedBy)
				require.NotNil(t, file.DeletedAt)
				assert.Equal(t, po.MediaFileStatusInactive, file.Status)
				assert.False(t, file.IsActive())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, mappers.MediaFileFromRow(tt.input))
		})
	}
}

func TestMediaFileRow_ScanTargets(t *testing.T) {
	var row mappers.MediaFileRow
	// 目标数量必须与列清单保持一致。
	assert.Len(t, row.ScanTargets(), 20)
}

func TestToPgHelpers(t *testing.T) {
	assert.False(t, mappers.ToPgText(nil).Valid)
	value := "x"
	text := mappers.ToPgText(&value)
	assert.True(t, text.Valid)
	assert.Equal(t, "x", text.String)

	assert.False(t, mappers.ToPgInt8(nil).Valid)
	n := int64(3)
	assert.Equal(t, pgtype.Int8{Int64: 3, Valid: true}, mappers.ToPgInt8(&n))

	assert.False(t, mappers.ToPgTimestamptz(nil).Valid)
	local := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.FixedZone("UTC+8", 8*3600))
	ts := mappers.ToPgTimestamptz(&local)
	require.True(t, ts.Valid)
	assert.Equal(t, time.UTC, ts.Time.Location())
	assert.True(t, local.Equal(ts.Time))

	id := uuid.New()
	pg := mappers.ToPgUUID(id)
	assert.True(t, pg.Valid)
	assert.Equal(t, [16]byte(id), pg.Bytes)
}
