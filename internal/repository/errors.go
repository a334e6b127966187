package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrConflict 表示条件更新没有匹配到任何记录 (状态已被其他请求改变)
	ErrConflict = errors.New("repository: conditional update matched no row")
)

// 特定资源的错误
var (
	ErrSessionNotFound     = ErrNotFound
	ErrParticipantNotFound = ErrNotFound
	ErrSubmissionNotFound  = ErrNotFound
	ErrCodeNotFound        = ErrNotFound
)
