package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReadinessChecker 通过 Ping 判断数据库是否可用，供 /readyz 使用。
type ReadinessChecker struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewReadinessChecker 创建数据库就绪检查。
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool, timeout: 2 * time.Second}
}

// Ready 返回 nil 表示数据库可用。
func (c *ReadinessChecker) Ready(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.pool.Ping(pingCtx)
}
