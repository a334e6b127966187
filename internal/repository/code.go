package repository

import "context"

// CodeStore 保存访问码到会话 ID 的预留关系，通常由 Redis 实现。
// code 参数均为已规范化 (大写) 的访问码。
type CodeStore interface {
	// Reserve 原子地预留访问码；已被占用时返回 false。
	Reserve(ctx context.Context, code, sessionID string) (bool, error)

	// Lookup 返回持有访问码的会话 ID，未被持有时返回 ErrCodeNotFound。
	Lookup(ctx context.Context, code string) (string, error)

	// Release 仅当访问码仍由 sessionID 持有时释放它。
	Release(ctx context.Context, code, sessionID string) error
}
