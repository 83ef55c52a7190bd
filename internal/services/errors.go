package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/google/uuid"
)

// 错误原因（machine reason），随 Kratos 错误一起返回给调用方。
const (
	ReasonMediaFileNotFound  = "MEDIA_FILE_NOT_FOUND"
	ReasonObjectNotFound     = "OBJECT_NOT_FOUND"
	ReasonLocationConflict   = "MEDIA_FILE_LOCATION_CONFLICT"
	ReasonStateConflict      = "MEDIA_FILE_STATE_CONFLICT"
	ReasonInvalid            = "MEDIA_FILE_INVALID"
	ReasonCatalogFailure     = "CATALOG_FAILURE"
	ReasonObjectStoreFailure = "OBJECT_STORE_FAILURE"
)

func errInvalid(format string, args ...any) *kerrors.Error {
	return kerrors.BadRequest(ReasonInvalid, fmt.Sprintf(format, args...))
}

func errMediaFileNotFound(id uuid.UUID) *kerrors.Error {
	return kerrors.NotFound(ReasonMediaFileNotFound, fmt.Sprintf("media file %s not found", id))
}

func errLocationConflict(bucket, objectKey string) *kerrors.Error {
	return kerrors.Conflict(ReasonLocationConflict,
		fmt.Sprintf("an active media file already exists at bucket=%s objectKey=%s", bucket, objectKey))
}

func errStateConflict(format string, args ...any) *kerrors.Error {
	return kerrors.Conflict(ReasonStateConflict, fmt.Sprintf(format, args...))
}

// errCatalog 包装目录（数据库）失败，底层错误只作为 cause 保留。
func errCatalog(op string, err error) *kerrors.Error {
	return kerrors.New(http.StatusBadGateway, ReasonCatalogFailure, op+" failed").WithCause(fmt.Errorf("%s: %w", op, err))
}

// errObjectStore 包装对象存储失败。
func errObjectStore(op string, err error) *kerrors.Error {
	return kerrors.New(http.StatusBadGateway, ReasonObjectStoreFailure, op+" failed").WithCause(fmt.Errorf("%s: %w", op, err))
}

// IsNotFound 判断错误是否为 NotFound 类别。
func IsNotFound(err error) bool {
	return err != nil && kerrors.IsNotFound(err)
}

// IsConflict 判断错误是否为 Conflict 类别。
func IsConflict(err error) bool {
	return err != nil && kerrors.IsConflict(err)
}

// IsValidation 判断错误是否为输入校验失败。
func IsValidation(err error) bool {
	return err != nil && kerrors.IsBadRequest(err)
}

// IsExternalFailure 判断错误是否来自目录或对象存储的外部失败。
func IsExternalFailure(err error) bool {
	return err != nil && kerrors.Code(err) == http.StatusBadGateway
}

// describe 返回适合写入批处理结果的错误消息与原因。
func describe(err error) (string, string) {
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		return ke.Message, ke.Reason
	}
	return err.Error(), ""
}

func joinUUIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}
