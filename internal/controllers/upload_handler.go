package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/bionicotaku/lingo-services-storage/internal/controllers/dto"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-storage/internal/models/vo"
	"github.com/bionicotaku/lingo-services-storage/internal/services"

	"github.com/go-kratos/kratos/v2/encoding"
	"github.com/go-kratos/kratos/v2/encoding/json"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// UploadOrchestrator 是 UploadHandler 依赖的上传编排能力，由 *services.UploadService 实现。
type UploadOrchestrator interface {
	GenerateUploadURLs(ctx context.Context, items []services.UploadRequestItem) (*vo.BatchOutcome[*vo.UploadTicket], error)
	ConfirmAfterUpload(ctx context.Context, input services.CreateMediaFileInput) (*vo.MediaFileView, error)
	UploadAndRegister(ctx context.Context, items []services.UploadItem) (*vo.BatchOutcome[*vo.MediaFileView], error)
}

const (
	OperationUploadGenerateURLs = "/storage.v1.Uploads/GenerateUploadURLs"
	OperationUploadConfirm      = "/storage.v1.Uploads/ConfirmAfterUpload"
	OperationUploadAndRegister  = "/storage.v1.Uploads/UploadAndRegister"

	multipartFilesField    = "files"
	multipartMetadataField = "metadata"
	multipartMemory        = 32 << 20
	// multipartOverhead 覆盖 metadata 字段与分隔头。
	multipartOverhead = 1 << 20
)

// UploadHandler 暴露两种上传流程：预签名直传 + 确认，以及服务端代传。
type UploadHandler struct {
	*BaseHandler
	svc          UploadOrchestrator
	maxBytes     int64
	maxBodyBytes int64
}

// NewUploadHandler 构造 UploadHandler。
// maxBytes 限制单个 multipart 文件的读取量，maxBodyBytes 限制整个请求体，超限直接返回 413。
func NewUploadHandler(base *BaseHandler, svc UploadOrchestrator, cfg configloader.StorageConfig) *UploadHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	body := cfg.MaxRequestBytes
	if body <= 0 {
		body = cfg.MaxUploadBytes
	}
	if body > 0 {
		body += multipartOverhead
	}
	return &UploadHandler{BaseHandler: base, svc: svc, maxBytes: cfg.MaxUploadBytes, maxBodyBytes: body}
}

// RegisterRoutes 在 HTTP Server 上注册路由。
func (h *UploadHandler) RegisterRoutes(srv *khttp.Server) {
	r := srv.Route("/")
	r.POST("/v1/media-files/upload-urls", h.generateUploadURLs)
	r.POST("/v1/media-files/confirm", h.confirm)
	r.POST("/v1/media-files/upload", h.uploadAndRegister)
}

func (h *UploadHandler) generateUploadURLs(ctx khttp.Context) error {
	var in []dto.UploadURLRequest
	if err := ctx.Bind(&in); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	khttp.SetOperation(ctx, OperationUploadGenerateURLs)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.svc.GenerateUploadURLs(c, dto.ToUploadRequestItems(req.([]dto.UploadURLRequest)))
	})
	out, err := handler(ctx, in)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

func (h *UploadHandler) confirm(ctx khttp.Context) error {
	var in dto.CreateMediaFileRequest
	if err := ctx.Bind(&in); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	khttp.SetOperation(ctx, OperationUploadConfirm)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, createdBy, err := h.callerContext(c)
		if err != nil {
			return nil, err
		}
		c, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.svc.ConfirmAfterUpload(c, req.(*dto.CreateMediaFileRequest).ToInput(createdBy))
	})
	out, err := handler(ctx, &in)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusCreated, out)
}

func (h *UploadHandler) uploadAndRegister(ctx khttp.Context) error {
	parts, err := h.readMultipart(ctx.Response(), ctx.Request())
	if err != nil {
		return err
	}
	khttp.SetOperation(ctx, OperationUploadAndRegister)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		c, createdBy, err := h.callerContext(c)
		if err != nil {
			return nil, err
		}
		items := req.([]uploadPart)
		inputs := make([]services.UploadItem, len(items))
		for i, part := range items {
			inputs[i] = part.toItem(createdBy)
		}
		c, cancel := h.WithTimeout(c, HandlerTypeUpload)
		defer cancel()
		return h.svc.UploadAndRegister(c, inputs)
	})
	out, err := handler(ctx, parts)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Result(http.StatusOK, out)
}

// uploadPart 是一个 multipart 文件及其按顺序对齐的 metadata。
type uploadPart struct {
	meta        dto.UploadMetadata
	filename    string
	contentType string
	content     []byte
}

func (p uploadPart) toItem(createdBy *int64) services.UploadItem {
	meta := p.meta
	if strings.TrimSpace(meta.ObjectKey) == "" {
		meta.ObjectKey = p.filename
	}
	if meta.ContentType == nil && p.contentType != "" {
		ct := p.contentType
		meta.ContentType = &ct
	}
	return services.UploadItem{
		Record:   meta.ToInput(createdBy),
		Content:  p.content,
		Metadata: meta.Metadata,
		Tags:     meta.Tags,
	}
}

// readMultipart 解析 files 与 metadata 字段；metadata 是与 files 等长的 JSON 数组。
func (h *UploadHandler) readMultipart(w http.ResponseWriter, r *http.Request) ([]uploadPart, error) {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, kerrors.Newf(http.StatusRequestEntityTooLarge, services.ReasonInvalid,
				"multipart body exceeds the %d byte request limit", tooLarge.Limit)
		}
		return nil, badRequest("invalid multipart body: %v", err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	files := r.MultipartForm.File[multipartFilesField]
	if len(files) == 0 {
		return nil, badRequest("multipart body must contain at least one %q part", multipartFilesField)
	}

	metas := make([]dto.UploadMetadata, 0, len(files))
	if raw := r.MultipartForm.Value[multipartMetadataField]; len(raw) > 0 && strings.TrimSpace(raw[0]) != "" {
		codec := encoding.GetCodec(json.Name)
		if err := codec.Unmarshal([]byte(raw[0]), &metas); err != nil {
			return nil, badRequest("invalid %q field: %v", multipartMetadataField, err)
		}
	}
	if len(metas) != len(files) {
		return nil, badRequest("%q has %d entries but %d files were sent", multipartMetadataField, len(metas), len(files))
	}

	parts := make([]uploadPart, len(files))
	for i, fh := range files {
		content, err := h.readFile(fh)
		if err != nil {
			return nil, badRequest("read file %d (%s): %v", i, fh.Filename, err)
		}
		parts[i] = uploadPart{
			meta:        metas[i],
			filename:    fh.Filename,
			contentType: fh.Header.Get("Content-Type"),
			content:     content,
		}
	}
	return parts, nil
}

// readFile 最多读取 maxBytes+1 字节，超限由服务层按条目判定失败。
func (h *UploadHandler) readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var reader io.Reader = f
	if h.maxBytes > 0 {
		reader = io.LimitReader(f, h.maxBytes+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return content, nil
}
