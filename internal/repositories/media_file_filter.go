package repositories

import (
	"fmt"
	"strings"

	"github.com/bionicotaku/lingo-services-storage/internal/models/po"
)

// MediaFileSortField 是列表查询允许的排序字段（封闭枚举）。
type MediaFileSortField string

const (
	SortByMediaFileID       MediaFileSortField = "mediaFileId"
	SortByMediaFileUUID     MediaFileSortField = "mediaFileUuid"
	SortByContentType       MediaFileSortField = "contentType"
	SortByContentLength     MediaFileSortField = "contentLength"
	SortByLastModified      MediaFileSortField = "lastModified"
	SortByMediaFileType     MediaFileSortField = "mediaFileType"
	SortByReferenceType     MediaFileSortField = "referenceType"
	SortByReferenceID       MediaFileSortField = "referenceId"
	SortBySecondReferenceID MediaFileSortField = "secondReferenceId"
)

var sortColumns = map[MediaFileSortField]string{
	SortByMediaFileID:       "media_file_id",
	SortByMediaFileUUID:     "media_file_uuid",
	SortByContentType:       "content_type",
	SortByContentLength:     "content_length",
	SortByLastModified:      "last_modified",
	SortByMediaFileType:     "media_file_type",
	SortByReferenceType:     "reference_type",
	SortByReferenceID:       "reference_id",
	SortBySecondReferenceID: "second_reference_id",
}

// ParseMediaFileSortField 解析外部传入的排序字段，未知值回退到 mediaFileId。
func ParseMediaFileSortField(raw string) MediaFileSortField {
	field := MediaFileSortField(strings.TrimSpace(raw))
	if _, ok := sortColumns[field]; ok {
		return field
	}
	return SortByMediaFileID
}

// Column 返回排序字段对应的列名。
func (f MediaFileSortField) Column() string {
	if col, ok := sortColumns[f]; ok {
		return col
	}
	return sortColumns[SortByMediaFileID]
}

// MediaFileListFilter 描述列表查询的过滤条件。
// Status 为空时隐式排除已软删除的记录；显式指定 Status 时按状态精确匹配。
type MediaFileListFilter struct {
	Status            *po.MediaFileStatus
	MediaFileType     *po.MediaFileType
	ReferenceType     *po.ReferenceType
	ReferenceID       *int64
	SecondReferenceID *int64
	CreatedBy         *int64
	Search            string
}

// MediaFileQuery 组合过滤、排序与分页参数。Limit 为 0 时不分页。
type MediaFileQuery struct {
	Filter     MediaFileListFilter
	SortBy     MediaFileSortField
	Descending bool
	Limit      int
	Offset     int
}

func buildMediaFileWhere(filter MediaFileListFilter, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(*filter.Status))
		argNum++
	} else {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filter.MediaFileType != nil {
		conditions = append(conditions, fmt.Sprintf("media_file_type = $%d", argNum))
		args = append(args, string(*filter.MediaFileType))
		argNum++
	}
	if filter.ReferenceType != nil {
		conditions = append(conditions, fmt.Sprintf("reference_type = $%d", argNum))
		args = append(args, string(*filter.ReferenceType))
		argNum++
	}
	if filter.ReferenceID != nil {
		conditions = append(conditions, fmt.Sprintf("reference_id = $%d", argNum))
		args = append(args, *filter.ReferenceID)
		argNum++
	}
	if filter.SecondReferenceID != nil {
		conditions = append(conditions, fmt.Sprintf("second_reference_id = $%d", argNum))
		args = append(args, *filter.SecondReferenceID)
		argNum++
	}
	if filter.CreatedBy != nil {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", argNum))
		args = append(args, *filter.CreatedBy)
		argNum++
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(bucket ILIKE $%[1]d OR object_key ILIKE $%[1]d OR content_type ILIKE $%[1]d OR description ILIKE $%[1]d)",
			argNum,
		))
		args = append(args, "%"+escapeLike(term)+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func buildMediaFileOrder(sortBy MediaFileSortField, descending bool) string {
	direction := "ASC"
	if descending {
		direction = "DESC"
	}
	column := sortBy.Column()
	if column == "media_file_id" {
		return "ORDER BY media_file_id " + direction
	}
	return fmt.Sprintf("ORDER BY %s %s, media_file_id ASC", column, direction)
}

// escapeLike 转义 LIKE 模式中的通配符，使搜索词按字面量匹配。
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
