package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/bionicotaku/lingo-services-storage/internal/controllers/dto"
	handlermd "github.com/bionicotaku/lingo-services-storage/internal/metadata"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
)

// MediaFileRegistry 是 MediaFileHandler 依赖的目录操作集合，由 *services.MediaFileService 实现。
type MediaFileRegistry interface {
	Create(ctx context.Context, input services.CreateMediaFileInput) (*vo.MediaFileView, error)
	FindAll(ctx context.Context, filter services.MediaFileFilter) (*vo.MediaFilePage, error)
	FindOne(ctx context.Context, id uuid.UUID) (*vo.MediaFileView, error)
	Update(ctx context.Context, id uuid.UUID, patch services.MediaFilePatch) (*vo.MediaFileView, error)
	Remove(ctx context.Context, id uuid.UUID) (*vo.MediaFileView, error)
	Recover(ctx context.Context, id uuid.UUID) (*vo.MediaFileView, error)
	RemoveMany(ctx context.Context, rawIDs []string) ([]uuid.UUID, error)
	FindByReference(ctx context.Context, referenceID int64) (*vo.MediaFileView, error)
	CountByReference(ctx context.Context, referenceID int64, secondReferenceID *int64) (int64, error)
}

const (
	OperationMediaFileCreate           = "/storage.v1.MediaFiles/Create"
	OperationMediaFileFindAll          = "/storage.v1.MediaFiles/FindAll"
	OperationMediaFileFindOne          = "/storage.v1.MediaFiles/FindOne"
	OperationMediaFileUpdate           = "/storage.v1.MediaFiles/Update"
	OperationMediaFileRemove           = "/storage.v1.MediaFiles/Remove"
	OperationMediaFileRecover          = "/storage.v1.MediaFiles/Recover"
	OperationMediaFileRemoveMany       = "/storage.v1.MediaFiles/RemoveMany"
	OperationMediaFileFindByReference  = "/storage.v1.MediaFiles/FindByReference"
	OperationMediaFileCountByReference = "/storage.v1.MediaFiles/CountByReference"
)

// MediaFileHandler 暴露目录的 CRUD 与按引用查询接口。
type MediaFileHandler struct {
	*BaseHandler
	svc MediaFileRegistry
}

// NewMediaFileHandler 构造 MediaFileHandler。
func NewMediaFileHandler(base *BaseHandler, svc MediaFileRegistry) *MediaFileHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &MediaFileHandler{BaseHandler: base, svc: svc}
}

// RegisterRoutes 在 HTTP Server 上注册路由。
func (h *MediaFileHandler) RegisterRoutes(srv *khttp.Server) {
	r := srv.Route("/")
	r.POST("/v1/media-files", h.create)
	r.GET("/v1/media-files", h.findAll)
	r.DELETE("/v1/media-files/batch/delete", h.removeMany)
	r.GET("/v1/media-files/{uuid}", h.findOne)
	r.PUT("/v1/media-files/{uuid}", h.update)
	r.DELETE("/v1/media-files/{uuid}", h.remove)
	r.POST("/v1/media-files/{uuid}/recover", h.recover)
	r.GET("/v1/references/{referenceId}/media-file", h.findByReference)
	r.GET("/v1/references/{referenceId}/media-files/count", h.countByReference)
}

func (h *MediaFileHandler) create(ctx khttp.Context) error {
	var in dto.CreateMediaFileRequest
	if err := ctx.Bind(&in); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	khttp.SetOperation(ctx, OperationMediaFileCreate)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, createdBy, err := h.callerContext(c)
		if err != nil {
			return nil, err
		}
		c, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.svc.Create(c, req.(*dto.CreateMediaFileRequest).ToInput(createdBy))
	})
	out, err := handler(ctx, &in)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusCreated, out)
}

func (h *MediaFileHandler) findAll(ctx khttp.Context) error {
	filter, err := dto.ParseListQuery(ctx.Query())
	if err != nil {
		return badRequest("%v", err)
	}
	khttp.SetOperation(ctx, OperationMediaFileFindAll)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, HandlerTypeQuery)
		defer cancel()
		return h.svc.FindAll(c, req.(services.MediaFileFilter))
	})
	out, err := handler(ctx, filter)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

func (h *MediaFileHandler) findOne(ctx khttp.Context) error {
	return h.byUUID(ctx, OperationMediaFileFindOne, HandlerTypeQuery, h.svc.FindOne)
}

func (h *MediaFileHandler) remove(ctx khttp.Context) error {
	return h.byUUID(ctx, OperationMediaFileRemove, HandlerTypeCommand, h.svc.Remove)
}

func (h *MediaFileHandler) recover(ctx khttp.Context) error {
	return h.byUUID(ctx, OperationMediaFileRecover, HandlerTypeCommand, h.svc.Recover)
}

func (h *MediaFileHandler) byUUID(ctx khttp.Context, operation string, kind HandlerType, call func(context.Context, uuid.UUID) (*vo.MediaFileView, error)) error {
	id, err := dto.ParseMediaFileUUID(ctx.Vars().Get("uuid"))
	if err != nil {
		return badRequest("%v", err)
	}
	khttp.SetOperation(ctx, operation)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, kind)
		defer cancel()
		return call(c, req.(uuid.UUID))
	})
	out, err := handler(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

func (h *MediaFileHandler) update(ctx khttp.Context) error {
	id, err := dto.ParseMediaFileUUID(ctx.Vars().Get("uuid"))
	if err != nil {
		return badRequest("%v", err)
	}
	var in dto.UpdateMediaFileRequest
	if err := ctx.Bind(&in); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	khttp.SetOperation(ctx, OperationMediaFileUpdate)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.svc.Update(c, id, req.(*dto.UpdateMediaFileRequest).ToPatch())
	})
	out, err := handler(ctx, &in)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

func (h *MediaFileHandler) removeMany(ctx khttp.Context) error {
	var in dto.RemoveManyRequest
	if err := ctx.Bind(&in); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	khttp.SetOperation(ctx, OperationMediaFileRemoveMany)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		removed, err := h.svc.RemoveMany(c, req.(*dto.RemoveManyRequest).MediaFileUUIDs)
		if err != nil {
			return nil, err
		}
		return &dto.RemoveManyResponse{Removed: removed}, nil
	})
	out, err := handler(ctx, &in)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

func (h *MediaFileHandler) findByReference(ctx khttp.Context) error {
	referenceID, err := dto.ParseReferenceID("referenceId", ctx.Vars().Get("referenceId"))
	if err != nil {
		return badRequest("%v", err)
	}
	khttp.SetOperation(ctx, OperationMediaFileFindByReference)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, HandlerTypeQuery)
		defer cancel()
		view, err := h.svc.FindByReference(c, req.(int64))
		if err != nil {
			return nil, err
		}
		if view == nil {
			return nil, kerrors.NotFound(services.ReasonMediaFileNotFound, "no active media file for the reference")
		}
		return view, nil
	})
	out, err := handler(ctx, referenceID)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

func (h *MediaFileHandler) countByReference(ctx khttp.Context) error {
	referenceID, err := dto.ParseReferenceID("referenceId", ctx.Vars().Get("referenceId"))
	if err != nil {
		return badRequest("%v", err)
	}
	secondReferenceID, err := dto.OptionalInt64(ctx.Query(), "secondReferenceId")
	if err != nil {
		return badRequest("%v", err)
	}
	khttp.SetOperation(ctx, OperationMediaFileCountByReference)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, HandlerTypeQuery)
		defer cancel()
		count, err := h.svc.CountByReference(c, req.(int64), secondReferenceID)
		if err != nil {
			return nil, err
		}
		return &dto.CountResponse{ReferenceID: referenceID, SecondReferenceID: secondReferenceID, Count: count}, nil
	})
	out, err := handler(ctx, referenceID)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

// callerContext 解析透传的 x-md-* Header 并注入 Context，同时返回 created_by。
// 用户 Header 非法时返回 400。
func (h *BaseHandler) callerContext(ctx context.Context) (context.Context, *int64, error) {
	meta := h.ExtractMetadata(ctx)
	createdBy, err := meta.CreatedBy()
	if err != nil {
		return ctx, nil, badRequest("invalid %s header: %v", headerUserID, err)
	}
	return handlermd.Inject(ctx, meta), createdBy, nil
}

func badRequest(format string, args ...any) error {
	return kerrors.Newf(http.StatusBadRequest, services.ReasonInvalid, format, args...)
}

// toHTTPError 保留服务层的 Kratos 错误，其余错误统一映射为 500。
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		return ke
	}
	return kerrors.InternalServer("INTERNAL", "internal error").WithCause(err)
}
