package controllers_test

import (
	"context"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-storage/internal/controllers"
	"github.com/bionicotaku/lingo-services-storage/internal/infrastructure/configloader"

	"github.com/go-kratos/kratos/v2/metadata"
	"github.com/stretchr/testify/require"
)

func TestBaseHandlerExtractMetadata(t *testing.T) {
	ctx := metadata.NewServerContext(context.Background(), metadata.New(map[string][]string{
		"x-md-global-user-id": {" 42 "},
		"x-md-request-id":     {"req-1"},
	}))

	handler := controllers.NewBaseHandler(controllers.HandlerTimeouts{})
	meta := handler.ExtractMetadata(ctx)
	require.Equal(t, "42", meta.UserID)
	require.Equal(t, "req-1", meta.RequestID)

	createdBy, err := meta.CreatedBy()
	require.NoError(t, err)
	require.Equal(t, int64(42), *createdBy)

	empty := handler.ExtractMetadata(context.Background())
	require.True(t, empty.IsZero())
}

func TestBaseHandlerWithTimeout(t *testing.T) {
	handler := controllers.NewBaseHandler(controllers.NewHandlerTimeouts(configloader.ServerConfig{
		Handlers: configloader.HandlerConfig{
			CommandTimeout: configloader.Duration{Duration: 200 * time.Millisecond},
		},
	}))

	ctx, cancel := handler.WithTimeout(context.Background(), controllers.HandlerTypeCommand)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	remaining := time.Until(deadline)
	require.True(t, remaining > 150*time.Millisecond && remaining <= 200*time.Millisecond, "remaining=%v", remaining)

	uploadCtx, cancelUpload := handler.WithTimeout(context.Background(), controllers.HandlerTypeUpload)
	defer cancelUpload()
	deadline, ok = uploadCtx.Deadline()
	require.True(t, ok)
	require.Greater(t, time.Until(deadline), 30*time.Second)
}
