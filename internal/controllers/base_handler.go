package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"
	handlermd "github.com/bionicotaku/lingo-services-storage/internal/metadata"

	"github.com/go-kratos/kratos/v2/metadata"
)

// HandlerType 表示 Handler 的语义类别，用于选择超时策略。
type HandlerType int

const (
	// HandlerTypeDefault 表示未显式区分的 Handler。
	HandlerTypeDefault HandlerType = iota
	// HandlerTypeCommand 表示写目录的命令 Handler。
	HandlerTypeCommand
	// HandlerTypeQuery 表示只读查询 Handler。
	HandlerTypeQuery
	// HandlerTypeUpload 表示需要搬运对象内容的上传 Handler。
	HandlerTypeUpload
)

// HandlerTimeouts 聚合不同类型 Handler 的超时策略。
type HandlerTimeouts struct {
	Default time.Duration
	Command time.Duration
	Query   time.Duration
	Upload  time.Duration
}

const (
	fallbackDefaultTimeout = 5 * time.Second
	fallbackQueryTimeout   = 3 * time.Second
	fallbackUploadTimeout  = 60 * time.Second
	headerUserID           = "x-md-global-user-id"
	headerRequestID        = "x-md-request-id"
)

// NewHandlerTimeouts 从服务端配置构造超时策略。
func NewHandlerTimeouts(cfg configloader.ServerConfig) HandlerTimeouts {
	return HandlerTimeouts{
		Default: cfg.Handlers.DefaultTimeout.Duration,
		Command: cfg.Handlers.CommandTimeout.Duration,
		Query:   cfg.Handlers.QueryTimeout.Duration,
		Upload:  cfg.Handlers.UploadTimeout.Duration,
	}
}

// BaseHandler 提供公共的超时、Metadata 解析能力，供具体 Handler 内嵌复用。
type BaseHandler struct {
	timeouts HandlerTimeouts
}

// NewBaseHandler 构造基础 Handler，并为缺省值填充合理的回退策略。
func NewBaseHandler(timeouts HandlerTimeouts) *BaseHandler {
	if timeouts.Default <= 0 {
		if timeouts.Command > 0 {
			timeouts.Default = timeouts.Command
		} else if timeouts.Query > 0 {
			timeouts.Default = timeouts.Query
		} else {
			timeouts.Default = fallbackDefaultTimeout
		}
	}
	if timeouts.Command <= 0 {
		timeouts.Command = timeouts.Default
	}
	if timeouts.Query <= 0 {
		if timeouts.Default > 0 {
			timeouts.Query = timeouts.Default
		} else {
			timeouts.Query = fallbackQueryTimeout
		}
	}
	if timeouts.Upload <= 0 {
		timeouts.Upload = fallbackUploadTimeout
	}
	return &BaseHandler{timeouts: timeouts}
}

// WithTimeout 根据 Handler 类型包装上下文，返回绑定超时的新 Context 与取消函数。
func (h *BaseHandler) WithTimeout(ctx context.Context, kind HandlerType) (context.Context, context.CancelFunc) {
	if h == nil {
		return context.WithTimeout(ctx, fallbackDefaultTimeout)
	}
	var timeout time.Duration
	switch kind {
	case HandlerTypeCommand:
		timeout = h.timeouts.Command
	case HandlerTypeQuery:
		timeout = h.timeouts.Query
	case HandlerTypeUpload:
		timeout = h.timeouts.Upload
	default:
		timeout = h.timeouts.Default
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// ExtractMetadata 读取 metadata 中间件透传的 x-md-* Header。
func (h *BaseHandler) ExtractMetadata(ctx context.Context) handlermd.HandlerMetadata {
	md, ok := metadata.FromServerContext(ctx)
	if !ok {
		return handlermd.HandlerMetadata{}
	}
	return handlermd.HandlerMetadata{
		UserID:    firstMetadata(md, headerUserID),
		RequestID: firstMetadata(md, headerRequestID),
	}
}

func firstMetadata(md metadata.Metadata, key string) string {
	if len(md) == 0 {
		return ""
	}
	return strings.TrimSpace(md.Get(strings.ToLower(key)))
}
